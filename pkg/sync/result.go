package sync

// Status is the terminal state of one record within a batch.
type Status string

const (
	StatusOK      Status = "OK"
	StatusSkipped Status = "SKIPPED"
	StatusFailed  Status = "FAILED"
)

// Outcome is the per-record result. Skips count as success for retry
// purposes: a structurally ineligible record must not be redelivered.
type Outcome struct {
	RecordID string
	Status   Status
	Err      error
}

// BatchResult aggregates per-record outcomes of one ProcessBatch call.
// Every record in the input batch is represented exactly once.
type BatchResult struct {
	// ConfigVersion is the transformation policy version every record in
	// this batch was processed under. Empty when no snapshot was available.
	ConfigVersion string
	Outcomes      []Outcome
}

// Failed returns the identifiers of records that must be redelivered.
func (r *BatchResult) Failed() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			ids = append(ids, o.RecordID)
		}
	}
	return ids
}

// ItemFailure names one record the batch runner must redeliver.
type ItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// FailureReport is the partial-batch-failure response shape: records
// absent from it were handled (written or intentionally skipped) and must
// not be redelivered.
type FailureReport struct {
	BatchItemFailures []ItemFailure `json:"batchItemFailures"`
}

// FailureReport translates the batch result into the runner's
// partial-batch-failure shape. Pure aggregation, independent of how the
// outcomes were produced.
func (r *BatchResult) FailureReport() *FailureReport {
	report := &FailureReport{BatchItemFailures: []ItemFailure{}}
	for _, id := range r.Failed() {
		report.BatchItemFailures = append(report.BatchItemFailures, ItemFailure{ItemIdentifier: id})
	}
	return report
}
