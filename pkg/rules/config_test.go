package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAML(t *testing.T) {
	doc := []byte(`
keyFields: [customerId, unitId]
keySeparator: "|"
keyAttribute: PK
fieldMappings:
  - source: status
    destination: defectStatus
  - source: severity
    destination: severity
    converter: number
defaults:
  defectStatus: unknown
ttlSeconds: 30
`)

	cfg, err := Parse(doc, "7")
	require.NoError(t, err)

	assert.Equal(t, "7", cfg.Version)
	assert.Equal(t, []string{"customerId", "unitId"}, cfg.KeyFields)
	assert.Equal(t, "|", cfg.KeySeparator)
	assert.Equal(t, "PK", cfg.KeyAttribute)
	require.Len(t, cfg.FieldMappings, 2)
	assert.Equal(t, "status", cfg.FieldMappings[0].Source)
	assert.Equal(t, "defectStatus", cfg.FieldMappings[0].Destination)
	assert.Equal(t, "number", cfg.FieldMappings[1].Converter)
	assert.Equal(t, "unknown", cfg.Defaults["defectStatus"])
	assert.Equal(t, 30*time.Second, cfg.TTL())
}

func TestParseJSON(t *testing.T) {
	// JSON is a YAML subset; AppConfig profiles may use either.
	doc := []byte(`{"fieldMappings":[{"source":"status","destination":"defectStatus"}]}`)

	cfg, err := Parse(doc, "1")
	require.NoError(t, err)
	require.Len(t, cfg.FieldMappings, 1)
	assert.Equal(t, "defectStatus", cfg.FieldMappings[0].Destination)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`fieldMappings: []`), "1")
	require.NoError(t, err)

	assert.Equal(t, "|", cfg.KeySeparator)
	assert.Equal(t, "PK", cfg.KeyAttribute)
	assert.Equal(t, 60*time.Second, cfg.TTL())
}

func TestParseRejectsIncompleteMapping(t *testing.T) {
	doc := []byte(`
fieldMappings:
  - source: status
`)
	_, err := Parse(doc, "1")
	require.Error(t, err)
}

func TestParseRejectsMalformedDocument(t *testing.T) {
	_, err := Parse([]byte("fieldMappings: [::"), "1")
	require.Error(t, err)
}
