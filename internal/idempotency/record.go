package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RecordState tags the lifecycle stage of a stored idempotency record.
type RecordState string

const (
	// StateProcessing marks a key whose first request is still executing.
	StateProcessing RecordState = "PROCESSING"
	// StateCompleted marks a key whose result has been memoized.
	StateCompleted RecordState = "COMPLETED"
)

// ErrCorruptRecord indicates a stored value could not be decoded into a
// known record shape. It is surfaced distinctly so a deserialization bug
// is never mistaken for an absent key.
var ErrCorruptRecord = errors.New("corrupt idempotency record")

// Record is the tagged value persisted per idempotency key. Payload is
// present only for completed records and holds the serialized result.
type Record struct {
	State   RecordState     `json:"state"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes the record for storage.
func (r Record) Encode() (string, error) {
	switch r.State {
	case StateProcessing, StateCompleted:
	default:
		return "", fmt.Errorf("encode record: unknown state %q", r.State)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(raw), nil
}

// DecodeRecord parses a stored value. Unknown states and malformed JSON
// both yield ErrCorruptRecord.
func DecodeRecord(raw string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	switch rec.State {
	case StateProcessing, StateCompleted:
		return rec, nil
	default:
		return Record{}, fmt.Errorf("%w: unknown state %q", ErrCorruptRecord, rec.State)
	}
}
