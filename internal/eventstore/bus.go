package eventstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/jobstream-backend/internal/logger"
)

// Subscriber receives every successfully committed event in-process. Errors
// are logged and never roll anything back; read models behind subscribers are
// eventually consistent.
type Subscriber func(ctx context.Context, evt Event) error

// EventBuilder produces the event to emit, given the version it will carry.
type EventBuilder func(version int64) (Event, error)

// LocalEventBus orchestrates a single command emission: version check, durable
// append and snapshot apply in one transaction, then in-process fan-out.
type LocalEventBus struct {
	db       *gorm.DB
	eventLog EventLog
	log      *logger.Logger

	mu     sync.RWMutex
	stores map[string]SnapshotStore
	subs   []Subscriber
}

func NewLocalEventBus(db *gorm.DB, eventLog EventLog, baseLog *logger.Logger) *LocalEventBus {
	return &LocalEventBus{
		db:       db,
		eventLog: eventLog,
		log:      baseLog.With("service", "LocalEventBus"),
		stores:   map[string]SnapshotStore{},
	}
}

// Register adds the snapshot store responsible for an aggregate type.
func (b *LocalEventBus) Register(store SnapshotStore) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stores[store.AggregateType()] = store
}

// Subscribe adds an in-process subscriber. Subscribers run after commit, in
// registration order.
func (b *LocalEventBus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Emit records exactly one event for the aggregate. When expectedVersion is
// non-nil it is compared against the current snapshot version and a mismatch
// aborts with ErrConcurrencyConflict before anything is written. The append
// and the snapshot write happen in one transaction; a lost append race also
// surfaces as ErrConcurrencyConflict.
func (b *LocalEventBus) Emit(ctx context.Context, aggregateType string, aggregateID uuid.UUID, expectedVersion *int64, build EventBuilder) (Event, error) {
	b.mu.RLock()
	store, ok := b.stores[aggregateType]
	subs := b.subs
	b.mu.RUnlock()
	if !ok {
		return Event{}, fmt.Errorf("no snapshot store registered for aggregate type %q", aggregateType)
	}

	var emitted Event
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := store.CurrentVersion(ctx, tx, aggregateID)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != current {
			return fmt.Errorf("aggregate %s at version %d, expected %d: %w",
				aggregateID, current, *expectedVersion, ErrConcurrencyConflict)
		}
		evt, err := build(current + 1)
		if err != nil {
			return err
		}
		if evt.AggregateType != aggregateType || evt.AggregateID != aggregateID || evt.Version != current+1 {
			return fmt.Errorf("event builder returned mismatching envelope for %s %s", aggregateType, aggregateID)
		}
		if err := b.eventLog.Append(ctx, tx, evt); err != nil {
			return err
		}
		if err := store.HandleEvent(ctx, tx, evt, SourceOnline); err != nil {
			return err
		}
		emitted = evt
		return nil
	})
	if err != nil {
		return Event{}, err
	}

	for _, sub := range subs {
		if err := sub(ctx, emitted); err != nil {
			b.log.Error("Event subscriber failed",
				"aggregate_type", emitted.AggregateType,
				"aggregate_id", emitted.AggregateID,
				"kind", emitted.Kind,
				"version", emitted.Version,
				"error", err)
		}
	}
	return emitted, nil
}
