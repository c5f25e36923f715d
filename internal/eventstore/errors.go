package eventstore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrAggregateNotFound is returned when a command targets an aggregate
	// that has no snapshot.
	ErrAggregateNotFound = errors.New("aggregate not found")
	// ErrConcurrencyConflict is returned when an expected-version check fails
	// or a concurrent writer won the append race. Callers should reload and
	// decide whether to retry.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// ConsistencyError reports a version gap between the current snapshot and an
// incoming event. This never happens under per-aggregate ordered delivery, so
// it is fatal for the consumer that sees it.
type ConsistencyError struct {
	AggregateType   string
	AggregateID     uuid.UUID
	CurrentVersion  int64
	IncomingVersion int64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("version gap for %s %s: snapshot at %d, incoming event at %d",
		e.AggregateType, e.AggregateID, e.CurrentVersion, e.IncomingVersion)
}

// PreconditionError is a business-rule rejection. Key identifies the violated
// rule for the caller; no event is emitted.
type PreconditionError struct {
	Key string
}

func (e *PreconditionError) Error() string { return e.Key }

// AccessDeniedError rejects a command issued against an aggregate the caller
// does not own.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string { return e.Reason }
