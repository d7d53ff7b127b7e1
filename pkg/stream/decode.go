package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
)

// ErrDecode marks a malformed raw stream record. The record fails, the
// batch continues.
var ErrDecode = errors.New("decode change record")

// RawRecord is the wire representation of a single change-stream record,
// as delivered by the batch runner.
type RawRecord struct {
	EventID   string    `json:"eventID"`
	EventName string    `json:"eventName"`
	Change    RawChange `json:"dynamodb"`
}

// RawChange carries the attribute-typed key set and before/after images.
type RawChange struct {
	Keys           map[string]*dynamodb.AttributeValue `json:"Keys"`
	NewImage       map[string]*dynamodb.AttributeValue `json:"NewImage,omitempty"`
	OldImage       map[string]*dynamodb.AttributeValue `json:"OldImage,omitempty"`
	SequenceNumber string                              `json:"SequenceNumber"`
}

type batchEnvelope struct {
	Records []RawRecord `json:"Records"`
}

// ParseBatch unmarshals a raw batch payload into its individual records.
// It validates only the envelope; per-record validation happens in Decode.
func ParseBatch(raw []byte) ([]RawRecord, error) {
	var env batchEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal batch envelope: %w", err)
	}
	return env.Records, nil
}

// PartitionKey returns a canonical string over the record's primary-key
// attributes. Records with equal source keys yield equal partition keys,
// so the orchestrator can route them to the same ordered worker.
func (r *RawRecord) PartitionKey() string {
	names := make([]string, 0, len(r.Change.Keys))
	for name := range r.Change.Keys {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		av := r.Change.Keys[name]
		b.WriteString(name)
		b.WriteByte('=')
		switch {
		case av == nil:
		case av.S != nil:
			b.WriteString(aws.StringValue(av.S))
		case av.N != nil:
			b.WriteString(aws.StringValue(av.N))
		case av.B != nil:
			b.Write(av.B)
		default:
			b.WriteString(av.String())
		}
		b.WriteByte(';')
	}
	return b.String()
}

// Decode converts a raw stream record into a typed ChangeRecord.
//
// It is pure and deterministic: no I/O, same input always yields the same
// output. Fails with an ErrDecode-wrapped error when the record lacks key
// attributes, carries an unknown operation marker, or violates the
// operation/image invariant.
func Decode(raw *RawRecord) (*ChangeRecord, error) {
	op := Operation(raw.EventName)
	switch op {
	case OpInsert, OpModify, OpRemove:
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrDecode, raw.EventName)
	}

	if len(raw.Change.Keys) == 0 {
		return nil, fmt.Errorf("%w: record has no key attributes", ErrDecode)
	}

	hasNew, hasOld := len(raw.Change.NewImage) > 0, len(raw.Change.OldImage) > 0
	switch op {
	case OpInsert:
		if !hasNew || hasOld {
			return nil, fmt.Errorf("%w: INSERT must carry only a new image", ErrDecode)
		}
	case OpRemove:
		if !hasOld || hasNew {
			return nil, fmt.Errorf("%w: REMOVE must carry only an old image", ErrDecode)
		}
	case OpModify:
		if !hasNew || !hasOld {
			return nil, fmt.Errorf("%w: MODIFY must carry both images", ErrDecode)
		}
	}

	keys, err := unmarshalImage(raw.Change.Keys)
	if err != nil {
		return nil, fmt.Errorf("%w: keys: %s", ErrDecode, err)
	}
	before, err := unmarshalImage(raw.Change.OldImage)
	if err != nil {
		return nil, fmt.Errorf("%w: old image: %s", ErrDecode, err)
	}
	after, err := unmarshalImage(raw.Change.NewImage)
	if err != nil {
		return nil, fmt.Errorf("%w: new image: %s", ErrDecode, err)
	}

	id := raw.EventID
	if id == "" {
		id = raw.Change.SequenceNumber
	}

	return &ChangeRecord{
		ID:            id,
		Operation:     op,
		Keys:          keys,
		Before:        before,
		After:         after,
		SequenceToken: raw.Change.SequenceNumber,
	}, nil
}

func unmarshalImage(image map[string]*dynamodb.AttributeValue) (map[string]any, error) {
	if len(image) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(image))
	if err := dynamodbattribute.UnmarshalMap(image, &out); err != nil {
		return nil, err
	}
	return out, nil
}
