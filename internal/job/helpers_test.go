package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/logger"
	"github.com/yungbote/jobstream-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&types.EventRecord{}, &types.JobSnapshot{}, &types.JobProjection{}, &types.JobList{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

// testEnv wires the full command path the way the app does, on sqlite.
type testEnv struct {
	db         *gorm.DB
	eventLog   eventstore.EventLog
	bus        *eventstore.LocalEventBus
	snapshots  *SnapshotStore
	dispatcher *Dispatcher
	now        time.Time
}

func newTestEnv(t *testing.T, maxActivePerUser int) *testEnv {
	t.Helper()
	db := newTestDB(t)
	log := newTestLogger(t)
	eventLog := eventstore.NewEventLog(db, log)
	snapshots := NewSnapshotStore(db, log)
	bus := eventstore.NewLocalEventBus(db, eventLog, log)
	bus.Register(snapshots)
	dispatcher := NewDispatcher(bus, snapshots, log, maxActivePerUser)
	env := &testEnv{
		db:         db,
		eventLog:   eventLog,
		bus:        bus,
		snapshots:  snapshots,
		dispatcher: dispatcher,
		now:        time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC),
	}
	dispatcher.now = func() time.Time { return env.now }
	return env
}

func obj(typeName, rawJSON string) JsonSerializedObject {
	return JsonSerializedObject{Type: typeName, JSON: json.RawMessage(rawJSON)}
}

func (e *testEnv) enqueue(t *testing.T, jobID, userID uuid.UUID) Result {
	t.Helper()
	result, err := e.dispatcher.Dispatch(context.Background(), EnqueueJobCommand{
		JobType: "summarize",
		JobID:   jobID,
		UserID:  userID,
		Context: obj("SummarizeContext", `{"documentId":"doc-1"}`),
		Command: obj("SummarizeCommand", `{"maxWords":100}`),
	})
	if err != nil {
		t.Fatalf("enqueue job %s: %v", jobID, err)
	}
	return result
}

func (e *testEnv) dispatch(t *testing.T, cmd any) Result {
	t.Helper()
	result, err := e.dispatcher.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("dispatch %T: %v", cmd, err)
	}
	return result
}

func (e *testEnv) events(t *testing.T, jobID uuid.UUID) []eventstore.Event {
	t.Helper()
	events, err := e.eventLog.ListForAggregate(context.Background(), nil, AggregateType, jobID)
	if err != nil {
		t.Fatalf("list events for %s: %v", jobID, err)
	}
	return events
}

func (e *testEnv) snapshot(t *testing.T, jobID uuid.UUID) *types.JobSnapshot {
	t.Helper()
	snap, err := e.snapshots.Find(context.Background(), nil, jobID)
	if err != nil {
		t.Fatalf("load snapshot %s: %v", jobID, err)
	}
	if snap == nil {
		t.Fatalf("expected snapshot for %s", jobID)
	}
	return snap
}
