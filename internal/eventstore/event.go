package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source marks where an event enters the apply path: the online command path
// or a replay of the event log.
type Source int

const (
	SourceOnline Source = iota
	SourceRestore
)

func (s Source) String() string {
	if s == SourceRestore {
		return "restore"
	}
	return "online"
}

// Event is one immutable fact about a single aggregate. Version starts at 1
// and increases by exactly 1 per applied event. The envelope is what goes on
// the wire; Payload carries the kind-specific fields.
type Event struct {
	AggregateType string          `json:"aggregateType"`
	AggregateID   uuid.UUID       `json:"aggregateId"`
	Version       int64           `json:"version"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent builds an envelope, marshalling payload to JSON.
func NewEvent(aggregateType string, aggregateID uuid.UUID, version int64, kind string, payload any, ts time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       version,
		Kind:          kind,
		Payload:       raw,
		Timestamp:     ts,
	}, nil
}

func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// CanApply decides whether an event at incoming may be applied to a snapshot
// at current (0 when no snapshot exists). An incoming version at or below the
// current one is a duplicate and is skipped without error; exactly current+1
// applies; anything beyond is a gap and fatal.
func CanApply(aggregateType string, aggregateID uuid.UUID, current, incoming int64) (bool, error) {
	switch {
	case incoming <= current:
		return false, nil
	case incoming == current+1:
		return true, nil
	default:
		return false, &ConsistencyError{
			AggregateType:   aggregateType,
			AggregateID:     aggregateID,
			CurrentVersion:  current,
			IncomingVersion: incoming,
		}
	}
}
