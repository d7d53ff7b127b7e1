package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrConversion marks a converter that rejected its input. Fails the
// single record, never the batch.
var ErrConversion = errors.New("field conversion failed")

// Converter is a named, pure value conversion applied by a field mapping.
type Converter func(value any) (any, error)

// Registry is a collection of named converters.
type Registry struct {
	converters sync.Map // map[string]Converter
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a converter to the registry.
func (r *Registry) Register(name string, c Converter) {
	r.converters.Store(name, c)
}

// Get returns a converter from the registry.
func (r *Registry) Get(name string) (Converter, error) {
	if value, ok := r.converters.Load(name); ok {
		return value.(Converter), nil
	}
	return nil, fmt.Errorf("converter %s not found", name)
}

// DefaultRegistry returns a registry with all built-in converters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterBuiltins()
	return r
}

// RegisterBuiltins registers all built-in converters.
func (r *Registry) RegisterBuiltins() {
	r.Register("string", toString)
	r.Register("number", toNumber)
	r.Register("bool", toBool)
	r.Register("upper", func(v any) (any, error) {
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s.(string)), nil
	})
	r.Register("lower", func(v any) (any, error) {
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s.(string)), nil
	})
	r.Register("rfc3339", toRFC3339)
}

func toString(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to string", v)
	}
}

func toNumber(v any) (any, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to number", val)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to number", v)
	}
}

func toBool(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to bool", val)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to bool", v)
	}
}

// toRFC3339 converts epoch seconds into an RFC3339 UTC timestamp.
func toRFC3339(v any) (any, error) {
	var secs int64
	switch val := v.(type) {
	case float64:
		secs = int64(val)
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to timestamp", val)
		}
		secs = n
	default:
		return nil, fmt.Errorf("cannot convert %T to timestamp", v)
	}
	return time.Unix(secs, 0).UTC().Format(time.RFC3339), nil
}
