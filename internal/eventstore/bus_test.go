package eventstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

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
	if err := db.AutoMigrate(&types.EventRecord{}); err != nil {
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

// memStore keeps aggregate versions in memory so bus behavior can be tested
// without a real snapshot table.
type memStore struct {
	aggregateType string
	versions      map[uuid.UUID]int64
	applied       []Event
}

func newMemStore(aggregateType string) *memStore {
	return &memStore{aggregateType: aggregateType, versions: map[uuid.UUID]int64{}}
}

func (m *memStore) AggregateType() string { return m.aggregateType }

func (m *memStore) CurrentVersion(_ context.Context, _ *gorm.DB, id uuid.UUID) (int64, error) {
	return m.versions[id], nil
}

func (m *memStore) HandleEvent(_ context.Context, _ *gorm.DB, evt Event, _ Source) error {
	m.versions[evt.AggregateID] = evt.Version
	m.applied = append(m.applied, evt)
	return nil
}

func newTestBus(t *testing.T, store SnapshotStore) (*LocalEventBus, EventLog) {
	t.Helper()
	db := newTestDB(t)
	log := newTestLogger(t)
	eventLog := NewEventLog(db, log)
	bus := NewLocalEventBus(db, eventLog, log)
	bus.Register(store)
	return bus, eventLog
}

func expected(v int64) *int64 { return &v }

func testBuilder(aggregateType string, id uuid.UUID, kind string) EventBuilder {
	return func(version int64) (Event, error) {
		return NewEvent(aggregateType, id, version, kind, struct{}{}, time.Now().UTC())
	}
}

func TestEmit_AssignsSequentialVersions(t *testing.T) {
	store := newMemStore("TEST")
	bus, eventLog := newTestBus(t, store)
	id := uuid.New()

	first, err := bus.Emit(context.Background(), "TEST", id, expected(0), testBuilder("TEST", id, "CreatedEvent"))
	if err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("expected version 1, got %d", first.Version)
	}

	second, err := bus.Emit(context.Background(), "TEST", id, expected(1), testBuilder("TEST", id, "UpdatedEvent"))
	if err != nil {
		t.Fatalf("second emit: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}

	events, err := eventLog.ListForAggregate(context.Background(), nil, "TEST", id)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events in log, got %d", len(events))
	}
	if events[0].Kind != "CreatedEvent" || events[1].Kind != "UpdatedEvent" {
		t.Fatalf("unexpected kinds: %s, %s", events[0].Kind, events[1].Kind)
	}
	if len(store.applied) != 2 {
		t.Fatalf("expected snapshot store to see 2 events, got %d", len(store.applied))
	}
}

func TestEmit_ExpectedVersionMismatchConflicts(t *testing.T) {
	store := newMemStore("TEST")
	bus, eventLog := newTestBus(t, store)
	id := uuid.New()

	if _, err := bus.Emit(context.Background(), "TEST", id, expected(0), testBuilder("TEST", id, "CreatedEvent")); err != nil {
		t.Fatalf("first emit: %v", err)
	}

	_, err := bus.Emit(context.Background(), "TEST", id, expected(0), testBuilder("TEST", id, "UpdatedEvent"))
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}

	events, err := eventLog.ListForAggregate(context.Background(), nil, "TEST", id)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("conflicting emit must not append, log has %d events", len(events))
	}
}

func TestEmit_LostAppendRaceConflicts(t *testing.T) {
	store := newMemStore("TEST")
	bus, eventLog := newTestBus(t, store)
	id := uuid.New()

	// Another writer got the v1 row in first; the in-memory store has not seen
	// it, which is exactly the race the unique index closes.
	raced, err := NewEvent("TEST", id, 1, "CreatedEvent", struct{}{}, time.Now().UTC())
	if err != nil {
		t.Fatalf("build raced event: %v", err)
	}
	if err := eventLog.Append(context.Background(), nil, raced); err != nil {
		t.Fatalf("append raced event: %v", err)
	}

	_, err = bus.Emit(context.Background(), "TEST", id, expected(0), testBuilder("TEST", id, "CreatedEvent"))
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict from duplicate append, got %v", err)
	}
	if store.versions[id] != 0 {
		t.Fatalf("rolled-back emit must not touch the snapshot, version is %d", store.versions[id])
	}
}

func TestEmit_SubscriberFanOut(t *testing.T) {
	store := newMemStore("TEST")
	bus, _ := newTestBus(t, store)
	id := uuid.New()

	var seen []Event
	bus.Subscribe(func(_ context.Context, evt Event) error {
		seen = append(seen, evt)
		return nil
	})
	bus.Subscribe(func(_ context.Context, evt Event) error {
		return fmt.Errorf("subscriber blew up on %s", evt.Kind)
	})

	evt, err := bus.Emit(context.Background(), "TEST", id, expected(0), testBuilder("TEST", id, "CreatedEvent"))
	if err != nil {
		t.Fatalf("emit must not fail on subscriber errors: %v", err)
	}
	if len(seen) != 1 || seen[0].Version != evt.Version || seen[0].Kind != "CreatedEvent" {
		t.Fatalf("subscriber did not receive the committed event: %+v", seen)
	}
}

func TestEmit_NoSubscriberOnConflict(t *testing.T) {
	store := newMemStore("TEST")
	bus, _ := newTestBus(t, store)
	id := uuid.New()

	calls := 0
	bus.Subscribe(func(context.Context, Event) error {
		calls++
		return nil
	})

	if _, err := bus.Emit(context.Background(), "TEST", id, expected(5), testBuilder("TEST", id, "CreatedEvent")); err == nil {
		t.Fatalf("expected conflict")
	}
	if calls != 0 {
		t.Fatalf("subscribers must only see committed events, got %d calls", calls)
	}
}

func TestEmit_UnregisteredAggregateType(t *testing.T) {
	store := newMemStore("TEST")
	bus, _ := newTestBus(t, store)
	id := uuid.New()

	if _, err := bus.Emit(context.Background(), "OTHER", id, expected(0), testBuilder("OTHER", id, "CreatedEvent")); err == nil {
		t.Fatalf("expected error for unregistered aggregate type")
	}
}

func TestEmit_RejectsMismatchingEnvelope(t *testing.T) {
	store := newMemStore("TEST")
	bus, _ := newTestBus(t, store)
	id := uuid.New()

	_, err := bus.Emit(context.Background(), "TEST", id, expected(0), func(version int64) (Event, error) {
		return NewEvent("TEST", uuid.New(), version, "CreatedEvent", struct{}{}, time.Now().UTC())
	})
	if err == nil {
		t.Fatalf("expected error for envelope with wrong aggregate id")
	}
}
