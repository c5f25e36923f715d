// Package job implements the event-sourced job aggregate: commands in,
// at most one event out, snapshots and a list projection derived from the
// event stream.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AggregateType partitions the event log and the event topic.
const AggregateType = "JOB"

type State string

const (
	StateQueued     State = "QUEUED"
	StateRejected   State = "REJECTED"
	StateStarted    State = "STARTED"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateResultRead State = "RESULT_READ"
)

// Active reports whether the job still occupies one of its user's admission
// slots.
func (s State) Active() bool {
	return s == StateQueued || s == StateStarted
}

// JsonSerializedObject is an opaque, typed JSON blob handed through the job
// lifecycle (the context the job runs in, the command it executes, the result
// it produces). The core never looks inside.
type JsonSerializedObject struct {
	Type string          `json:"type"`
	JSON json.RawMessage `json:"json"`
}

// Event kinds on the job stream.
const (
	KindJobQueued     = "JobQueuedEvent"
	KindJobRejected   = "JobRejectedEvent"
	KindJobStarted    = "JobStartedEvent"
	KindJobCompleted  = "JobCompletedEvent"
	KindJobFailed     = "JobFailedEvent"
	KindJobResultRead = "JobResultReadEvent"
)

// Payloads. Aggregate id, version and timestamp live on the envelope.

type JobQueuedEvent struct {
	JobType string               `json:"jobType"`
	UserID  uuid.UUID            `json:"userIdentifier"`
	Context JsonSerializedObject `json:"serializedContext"`
	Command JsonSerializedObject `json:"serializedCommand"`
}

type JobRejectedEvent struct {
	JobType string               `json:"jobType"`
	UserID  uuid.UUID            `json:"userIdentifier"`
	Context JsonSerializedObject `json:"serializedContext"`
}

type JobStartedEvent struct{}

type JobCompletedEvent struct {
	Result JsonSerializedObject `json:"serializedResult"`
}

type JobFailedEvent struct{}

type JobResultReadEvent struct{}

// Commands. Each produces zero or one event.

type EnqueueJobCommand struct {
	JobType string
	JobID   uuid.UUID
	UserID  uuid.UUID
	Context JsonSerializedObject
	Command JsonSerializedObject
}

type StartJobCommand struct {
	JobID uuid.UUID
}

type CompleteJobCommand struct {
	JobID  uuid.UUID
	Result JsonSerializedObject
}

type FailJobCommand struct {
	JobID uuid.UUID
}

// MarkJobResultReadCommand carries the requesting user so ownership can be
// checked against the snapshot.
type MarkJobResultReadCommand struct {
	JobID  uuid.UUID
	UserID uuid.UUID
}

// Result reports what a dispatch did. Emitted is false when the command was a
// duplicate or an invalid transition that the per-command policy drops.
type Result struct {
	JobID   uuid.UUID
	Version int64
	Emitted bool
}

// Clock is injectable so tests can pin event timestamps.
type Clock func() time.Time
