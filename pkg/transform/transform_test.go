package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitsync/unitsync/pkg/rules"
	"github.com/unitsync/unitsync/pkg/stream"
)

func mappingConfig() *rules.TransformationConfig {
	cfg, err := rules.Parse([]byte(`
keyFields: [unitId]
fieldMappings:
  - source: status
    destination: defectStatus
`), "1")
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestApplyInsert(t *testing.T) {
	tr := New(nil, nil)
	rec := &stream.ChangeRecord{
		ID:            "evt-1",
		Operation:     stream.OpInsert,
		Keys:          map[string]any{"id": "u1"},
		After:         map[string]any{"status": "open", "unitId": "u1"},
		SequenceToken: "100",
	}

	dst, err := tr.Apply(rec, mappingConfig())
	require.NoError(t, err)
	require.NotNil(t, dst)

	assert.Equal(t, "u1", dst.Key)
	assert.Equal(t, "PK", dst.KeyAttribute)
	assert.Equal(t, "100", dst.SequenceToken)
	assert.Equal(t, map[string]any{"defectStatus": "open"}, dst.Attributes)
}

func TestApplyRemoveIsKeyOnly(t *testing.T) {
	tr := New(nil, nil)
	rec := &stream.ChangeRecord{
		ID:            "evt-2",
		Operation:     stream.OpRemove,
		Keys:          map[string]any{"id": "u2"},
		Before:        map[string]any{"unitId": "u2", "status": "closed"},
		SequenceToken: "101",
	}

	dst, err := tr.Apply(rec, mappingConfig())
	require.NoError(t, err)
	require.NotNil(t, dst)

	assert.Equal(t, "u2", dst.Key)
	assert.Empty(t, dst.Attributes, "delete payload carries only the key")
}

func TestApplySkipsWhenKeyNotDerivable(t *testing.T) {
	tr := New(nil, nil)
	rec := &stream.ChangeRecord{
		ID:        "evt-3",
		Operation: stream.OpModify,
		Keys:      map[string]any{"id": "u3"},
		Before:    map[string]any{"status": "open"},
		After:     map[string]any{"status": "closed"},
	}

	dst, err := tr.Apply(rec, mappingConfig())
	require.NoError(t, err, "a non-derivable key is a defined no-op, not an error")
	assert.Nil(t, dst)
}

func TestApplyCompositeKey(t *testing.T) {
	cfg, err := rules.Parse([]byte(`
keyFields: [customerId, unitId]
keySeparator: "|"
`), "1")
	require.NoError(t, err)

	tr := New(nil, nil)
	rec := &stream.ChangeRecord{
		Operation: stream.OpInsert,
		Keys:      map[string]any{"id": "u1"},
		After:     map[string]any{"customerId": "c9", "unitId": "u1"},
	}

	dst, err := tr.Apply(rec, cfg)
	require.NoError(t, err)
	require.NotNil(t, dst)
	assert.Equal(t, "c9|u1", dst.Key)
}

func TestApplyDefaultKeyDerivation(t *testing.T) {
	cfg, err := rules.Parse([]byte(`fieldMappings: []`), "1")
	require.NoError(t, err)

	tr := New(nil, nil)
	rec := &stream.ChangeRecord{
		Operation: stream.OpInsert,
		Keys:      map[string]any{"sk": "b", "pk": "a"},
		After:     map[string]any{"pk": "a", "sk": "b"},
	}

	dst, err := tr.Apply(rec, cfg)
	require.NoError(t, err)
	require.NotNil(t, dst)
	assert.Equal(t, "a|b", dst.Key, "key parts follow attribute-name order")
}

func TestApplyMappingOrderAndDefaults(t *testing.T) {
	cfg, err := rules.Parse([]byte(`
keyFields: [unitId]
fieldMappings:
  - source: legacyStatus
    destination: defectStatus
  - source: status
    destination: defectStatus
defaults:
  defectStatus: unknown
  region: emea
`), "1")
	require.NoError(t, err)

	tr := New(nil, nil)

	// Both sources present: the later mapping wins.
	dst, err := tr.Apply(&stream.ChangeRecord{
		Operation: stream.OpModify,
		Keys:      map[string]any{"id": "u1"},
		Before:    map[string]any{"unitId": "u1"},
		After:     map[string]any{"unitId": "u1", "legacyStatus": "OPEN", "status": "open"},
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "open", dst.Attributes["defectStatus"])

	// Neither source present: the default stays.
	dst, err = tr.Apply(&stream.ChangeRecord{
		Operation: stream.OpInsert,
		Keys:      map[string]any{"id": "u1"},
		After:     map[string]any{"unitId": "u1"},
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "unknown", dst.Attributes["defectStatus"])
	assert.Equal(t, "emea", dst.Attributes["region"], "unmapped defaults are carried over")
}

func TestApplyBeforeImageFallback(t *testing.T) {
	tr := New(nil, nil)

	// Partial-attribute update: status only present in the before image.
	dst, err := tr.Apply(&stream.ChangeRecord{
		Operation: stream.OpModify,
		Keys:      map[string]any{"id": "u1"},
		Before:    map[string]any{"unitId": "u1", "status": "open"},
		After:     map[string]any{"unitId": "u1", "severity": float64(2)},
	}, mappingConfig())
	require.NoError(t, err)
	assert.Equal(t, "open", dst.Attributes["defectStatus"])
}

func TestApplyDropsUnmappedFields(t *testing.T) {
	tr := New(nil, nil)

	dst, err := tr.Apply(&stream.ChangeRecord{
		Operation: stream.OpInsert,
		Keys:      map[string]any{"id": "u1"},
		After:     map[string]any{"unitId": "u1", "status": "open", "internalNote": "x"},
	}, mappingConfig())
	require.NoError(t, err)
	_, present := dst.Attributes["internalNote"]
	assert.False(t, present)
}

func TestApplyConverterFailure(t *testing.T) {
	cfg, err := rules.Parse([]byte(`
keyFields: [unitId]
fieldMappings:
  - source: severity
    destination: severity
    converter: number
`), "1")
	require.NoError(t, err)

	tr := New(nil, nil)
	_, err = tr.Apply(&stream.ChangeRecord{
		Operation: stream.OpInsert,
		Keys:      map[string]any{"id": "u1"},
		After:     map[string]any{"unitId": "u1", "severity": "high"},
	}, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConversion)
}

func TestApplyUnknownConverter(t *testing.T) {
	cfg, err := rules.Parse([]byte(`
keyFields: [unitId]
fieldMappings:
  - source: status
    destination: defectStatus
    converter: nope
`), "1")
	require.NoError(t, err)

	tr := New(nil, nil)
	_, err = tr.Apply(&stream.ChangeRecord{
		Operation: stream.OpInsert,
		Keys:      map[string]any{"id": "u1"},
		After:     map[string]any{"unitId": "u1", "status": "open"},
	}, cfg)
	assert.ErrorIs(t, err, ErrConversion)
}
