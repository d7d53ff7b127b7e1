package rules

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	defaultKeySeparator = "|"
	defaultKeyAttribute = "PK"
	defaultTTLSeconds   = 60
)

// FieldMapping projects one source field onto one destination field,
// optionally through a named converter.
type FieldMapping struct {
	Source      string `mapstructure:"source"`
	Destination string `mapstructure:"destination"`
	Converter   string `mapstructure:"converter"`
}

// TransformationConfig is an immutable snapshot of the mapping rules the
// Transformer interprets. Snapshots are replaced wholesale by the Provider;
// nothing mutates one after Parse returns it.
type TransformationConfig struct {
	// Version is assigned by the configuration service, not the document.
	Version string `mapstructure:"-"`

	// KeyFields are joined in order with KeySeparator to derive the
	// destination key. Empty means: use the record's primary-key values in
	// attribute-name order.
	KeyFields    []string `mapstructure:"keyFields"`
	KeySeparator string   `mapstructure:"keySeparator"`
	// KeyAttribute is the destination key attribute name.
	KeyAttribute string `mapstructure:"keyAttribute"`

	// FieldMappings are applied in declared order; when several mappings
	// target the same destination field, the last one wins.
	FieldMappings []FieldMapping `mapstructure:"fieldMappings"`
	// Defaults seed destination fields before mappings are applied.
	Defaults map[string]any `mapstructure:"defaults"`

	TTLSeconds int `mapstructure:"ttlSeconds"`
}

// TTL is how long this snapshot may be reused before a refresh is attempted.
func (c *TransformationConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return defaultTTLSeconds * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Parse decodes a transformation policy document (YAML or JSON) into a
// validated TransformationConfig carrying the given service version.
func Parse(content []byte, version string) (*TransformationConfig, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}

	var cfg TransformationConfig
	if err := mapstructure.Decode(doc, &cfg); err != nil {
		return nil, fmt.Errorf("decode policy document: %w", err)
	}

	if cfg.KeySeparator == "" {
		cfg.KeySeparator = defaultKeySeparator
	}
	if cfg.KeyAttribute == "" {
		cfg.KeyAttribute = defaultKeyAttribute
	}
	for i, m := range cfg.FieldMappings {
		if m.Source == "" || m.Destination == "" {
			return nil, fmt.Errorf("policy document: fieldMappings[%d] needs source and destination", i)
		}
	}

	cfg.Version = version
	return &cfg, nil
}
