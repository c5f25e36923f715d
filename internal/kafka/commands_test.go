package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/job"
)

func newTestListener(t *testing.T) (*CommandListener, *job.SnapshotStore) {
	t.Helper()
	db := newTestDB(t)
	log := newTestLogger(t)
	eventLog := eventstore.NewEventLog(db, log)
	snapshots := job.NewSnapshotStore(db, log)
	bus := eventstore.NewLocalEventBus(db, eventLog, log)
	bus.Register(snapshots)
	dispatcher := job.NewDispatcher(bus, snapshots, log, 3)
	return NewCommandListener(log, dispatcher), snapshots
}

func commandMessage(t *testing.T, env commandEnvelope) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "commands", Value: value}
}

func TestHandle_EnqueueCommand(t *testing.T) {
	listener, snapshots := newTestListener(t)
	jobID, userID := uuid.New(), uuid.New()

	msg := commandMessage(t, commandEnvelope{
		Type:    "EnqueueJobCommand",
		JobType: "summarize",
		JobID:   jobID,
		UserID:  userID,
		Context: job.JsonSerializedObject{Type: "Ctx", JSON: json.RawMessage(`{}`)},
		Command: job.JsonSerializedObject{Type: "Cmd", JSON: json.RawMessage(`{}`)},
	})
	if err := listener.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle enqueue: %v", err)
	}

	snap, err := snapshots.Find(context.Background(), nil, jobID)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap == nil || job.State(snap.State) != job.StateQueued || snap.UserID != userID {
		t.Fatalf("expected queued snapshot, got %+v", snap)
	}
}

func TestHandle_LifecycleOverMessages(t *testing.T) {
	listener, snapshots := newTestListener(t)
	jobID := uuid.New()

	messages := []commandEnvelope{
		{Type: "EnqueueJobCommand", JobType: "summarize", JobID: jobID, UserID: uuid.New()},
		{Type: "StartJobCommand", JobID: jobID},
		{Type: "CompleteJobCommand", JobID: jobID, Result: job.JsonSerializedObject{Type: "R", JSON: json.RawMessage(`{"ok":true}`)}},
	}
	for _, env := range messages {
		if err := listener.Handle(context.Background(), commandMessage(t, env)); err != nil {
			t.Fatalf("handle %s: %v", env.Type, err)
		}
	}

	snap, err := snapshots.Find(context.Background(), nil, jobID)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap == nil || job.State(snap.State) != job.StateCompleted || snap.Version != 3 {
		t.Fatalf("expected COMPLETED v3, got %+v", snap)
	}
}

func TestHandle_RedeliveredCommandIsAcked(t *testing.T) {
	listener, snapshots := newTestListener(t)
	jobID := uuid.New()
	enqueue := commandEnvelope{Type: "EnqueueJobCommand", JobType: "summarize", JobID: jobID, UserID: uuid.New()}

	for i := 0; i < 2; i++ {
		if err := listener.Handle(context.Background(), commandMessage(t, enqueue)); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	snap, err := snapshots.Find(context.Background(), nil, jobID)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("redelivery advanced the aggregate to v%d", snap.Version)
	}
}

func TestHandle_MalformedMessageIsDropped(t *testing.T) {
	listener, _ := newTestListener(t)
	msg := &sarama.ConsumerMessage{Topic: "commands", Value: []byte("not json")}
	if err := listener.Handle(context.Background(), msg); err != nil {
		t.Fatalf("malformed message must be acked, got %v", err)
	}
}

func TestHandle_UnknownTypeIsDropped(t *testing.T) {
	listener, _ := newTestListener(t)
	msg := commandMessage(t, commandEnvelope{Type: "TeleportJobCommand", JobID: uuid.New()})
	if err := listener.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unknown command type must be acked, got %v", err)
	}
}

func TestHandle_UndeliverableCommandIsDropped(t *testing.T) {
	listener, _ := newTestListener(t)
	// Start for a job that was never enqueued can never succeed; it must be
	// acked so it does not wedge the partition.
	msg := commandMessage(t, commandEnvelope{Type: "StartJobCommand", JobID: uuid.New()})
	if err := listener.Handle(context.Background(), msg); err != nil {
		t.Fatalf("undeliverable command must be acked, got %v", err)
	}
}
