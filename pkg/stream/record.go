package stream

// Operation represents the type of change carried by a stream record.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpModify Operation = "MODIFY"
	OpRemove Operation = "REMOVE"
)

// ChangeRecord is one decoded change-stream entry.
//
// Exactly one of the following shapes holds: INSERT carries only After,
// REMOVE carries only Before, MODIFY carries both.
type ChangeRecord struct {
	// ID identifies the record within its batch; the batch runner uses it
	// to redeliver failed records.
	ID        string
	Operation Operation
	// Keys holds the source primary-key attributes. Never empty.
	Keys   map[string]any
	Before map[string]any
	After  map[string]any
	// SequenceToken is opaque and monotonically increasing per source
	// partition. Comparable within a partition only.
	SequenceToken string
}
