package sync

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureReportTranslation(t *testing.T) {
	result := &BatchResult{
		ConfigVersion: "7",
		Outcomes: []Outcome{
			{RecordID: "evt-1", Status: StatusOK},
			{RecordID: "evt-2", Status: StatusFailed, Err: errors.New("boom")},
			{RecordID: "evt-3", Status: StatusSkipped},
			{RecordID: "evt-4", Status: StatusFailed, Err: errors.New("boom again")},
		},
	}

	assert.Equal(t, []string{"evt-2", "evt-4"}, result.Failed())

	report := result.FailureReport()
	require.Len(t, report.BatchItemFailures, 2)
	assert.Equal(t, "evt-2", report.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, "evt-4", report.BatchItemFailures[1].ItemIdentifier)

	out, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"batchItemFailures":[{"itemIdentifier":"evt-2"},{"itemIdentifier":"evt-4"}]}`,
		string(out))
}

func TestFailureReportEmpty(t *testing.T) {
	result := &BatchResult{Outcomes: []Outcome{{RecordID: "evt-1", Status: StatusOK}}}

	out, err := json.Marshal(result.FailureReport())
	require.NoError(t, err)
	// The runner expects an empty collection, not null.
	assert.JSONEq(t, `{"batchItemFailures":[]}`, string(out))
}
