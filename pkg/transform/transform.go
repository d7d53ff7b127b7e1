// Package transform maps decoded change records onto destination payloads
// by interpreting the ordered field-mapping list of the active
// transformation policy.
package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/unitsync/unitsync/pkg/rules"
	"github.com/unitsync/unitsync/pkg/store"
	"github.com/unitsync/unitsync/pkg/stream"
)

// Transformer interprets a TransformationConfig against change records.
// Stateless apart from its converter registry; safe for concurrent use.
type Transformer struct {
	registry *Registry
	logger   *zap.Logger
}

func New(registry *Registry, logger *zap.Logger) *Transformer {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{registry: registry, logger: logger}
}

// Apply maps a change record onto its destination payload.
//
// REMOVE yields a key-only record (delete-by-key). INSERT/MODIFY start
// from the policy defaults, then apply field mappings in order, reading
// each source field from the after image with before-image fallback for
// partial-attribute updates. A nil, nil return means the destination key
// cannot be derived: the record is structurally ineligible and must be
// skipped, not failed.
func (t *Transformer) Apply(rec *stream.ChangeRecord, cfg *rules.TransformationConfig) (*store.Record, error) {
	key, ok := t.deriveKey(rec, cfg)
	if !ok {
		t.logger.Debug("destination key not derivable, skipping record",
			zap.String("record", rec.ID))
		return nil, nil
	}

	dst := &store.Record{
		Key:           key,
		KeyAttribute:  cfg.KeyAttribute,
		SequenceToken: rec.SequenceToken,
	}
	if rec.Operation == stream.OpRemove {
		return dst, nil
	}

	attrs := make(map[string]any, len(cfg.Defaults)+len(cfg.FieldMappings))
	for field, value := range cfg.Defaults {
		attrs[field] = value
	}
	for _, m := range cfg.FieldMappings {
		value, found := lookupField(rec, m.Source)
		if !found {
			// Leave the destination field at its default, or absent.
			continue
		}
		if m.Converter != "" {
			converter, err := t.registry.Get(m.Converter)
			if err != nil {
				return nil, fmt.Errorf("%w: field %s: %s", ErrConversion, m.Source, err)
			}
			if value, err = converter(value); err != nil {
				return nil, fmt.Errorf("%w: field %s via %s: %s", ErrConversion, m.Source, m.Converter, err)
			}
		}
		attrs[m.Destination] = value
	}

	dst.Attributes = attrs
	return dst, nil
}

// deriveKey joins the policy's key fields into the destination key. With
// no key fields configured it falls back to the record's primary-key
// values in attribute-name order, which keeps the derivation
// deterministic.
func (t *Transformer) deriveKey(rec *stream.ChangeRecord, cfg *rules.TransformationConfig) (string, bool) {
	var parts []string

	if len(cfg.KeyFields) == 0 {
		names := make([]string, 0, len(rec.Keys))
		for name := range rec.Keys {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			part, ok := keyString(rec.Keys[name])
			if !ok {
				return "", false
			}
			parts = append(parts, part)
		}
	} else {
		for _, field := range cfg.KeyFields {
			value, found := lookupKeyField(rec, field)
			if !found {
				return "", false
			}
			part, ok := keyString(value)
			if !ok {
				return "", false
			}
			parts = append(parts, part)
		}
	}

	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, cfg.KeySeparator), true
}

// lookupField reads a source field from the after image, falling back to
// the before image only when the field is absent from the after image.
func lookupField(rec *stream.ChangeRecord, field string) (any, bool) {
	if v, ok := rec.After[field]; ok {
		return v, true
	}
	if v, ok := rec.Before[field]; ok {
		return v, true
	}
	return nil, false
}

// lookupKeyField additionally consults the primary-key attributes, which
// REMOVE records carry even without an after image.
func lookupKeyField(rec *stream.ChangeRecord, field string) (any, bool) {
	if v, ok := rec.Keys[field]; ok {
		return v, true
	}
	return lookupField(rec, field)
}

func keyString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, val != ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return "", false
	}
}
