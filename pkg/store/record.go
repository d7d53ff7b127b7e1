package store

import (
	"context"
	"errors"
	"strings"
)

// ErrWriteFailed means the destination store rejected a write after the
// internal retry budget was exhausted. The record fails and is redelivered.
var ErrWriteFailed = errors.New("destination write failed")

// Bookkeeping attributes written alongside each projected record.
const (
	// SeqAttribute holds the last-applied sequence token, zero-padded so
	// both Go and condition-expression comparison are plain string compares.
	SeqAttribute       = "syncSeq"
	UpdatedAtAttribute = "updatedAt"
	DeletedAtAttribute = "deletedAt"
)

// paddedTokenLen fits DynamoDB stream sequence numbers, which are numeric
// strings of up to 38 digits.
const paddedTokenLen = 40

// Record is one destination write payload. It is owned by the Store for
// the duration of a single write attempt and not retained afterward.
type Record struct {
	// Key is the derived destination key value; KeyAttribute names the
	// attribute it is stored under.
	Key          string
	KeyAttribute string
	// Attributes holds the mapped fields. Empty for delete payloads.
	Attributes map[string]any
	// SequenceToken orders writes per key. Empty disables the ordering
	// guard for this write.
	SequenceToken string
}

// Store applies transformed payloads to the destination, idempotently.
// Upsert replaces by key; Delete is a no-op when the key is absent. A
// write carrying a sequence token older than the stored one is skipped
// and reported as success.
type Store interface {
	Upsert(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, rec *Record) error
}

// PadSequenceToken left-pads a numeric token with zeros so lexicographic
// comparison matches numeric comparison. Tokens are only comparable
// within one source partition.
func PadSequenceToken(token string) string {
	if len(token) >= paddedTokenLen {
		return token
	}
	return strings.Repeat("0", paddedTokenLen-len(token)) + token
}
