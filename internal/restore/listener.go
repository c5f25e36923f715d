// Package restore rebuilds snapshot stores by replaying the event topic.
// Used to cold-build a fresh instance and to catch up after a crash; the
// version guard in every snapshot store is what makes replaying from offset
// zero safe at any time.
package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/kafka"
	"github.com/yungbote/jobstream-backend/internal/logger"
)

// Listener feeds every event on the topic through the registered snapshot
// stores' apply path and then through the subscribed read models. Transient
// persistence errors (e.g. a duplicate-key race against a concurrently
// running online writer) are retried with randomized backoff; version gaps
// halt consumption, they indicate broken ordering.
type Listener struct {
	log        *logger.Logger
	stores     map[string]eventstore.SnapshotStore
	subs       []eventstore.Subscriber
	maxRetries uint64
}

func NewListener(baseLog *logger.Logger, stores ...eventstore.SnapshotStore) *Listener {
	m := make(map[string]eventstore.SnapshotStore, len(stores))
	for _, s := range stores {
		m[s.AggregateType()] = s
	}
	return &Listener{
		log:        baseLog.With("service", "RestoreListener"),
		stores:     m,
		maxRetries: 10,
	}
}

// Subscribe adds a read-model subscriber fed every applied event, so
// projections are rebuilt alongside snapshots during replay. Unlike the
// online bus, a subscriber failure here halts the claim: replay is the only
// path that repopulates the read model, so it must not skip anything.
func (l *Listener) Subscribe(sub eventstore.Subscriber) {
	l.subs = append(l.subs, sub)
}

// Run consumes the event topic from the earliest retained offset in its own
// consumer group (committed offsets make interrupted restores incremental).
func (l *Listener) Run(ctx context.Context, brokers []string, group, topic string) error {
	return kafka.StartConsumerGroup(ctx, brokers, group, topic, true, l.Handle, l.log)
}

// Handle applies one event message. It never skips an event: either the
// apply succeeds (or is a recognized duplicate) or the error halts the claim.
func (l *Listener) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt eventstore.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("unmarshal event at offset %d: %w", msg.Offset, err)
	}

	store, ok := l.stores[evt.AggregateType]
	if !ok {
		l.log.Warn("No snapshot store for aggregate type, skipping",
			"aggregate_type", evt.AggregateType, "offset", msg.Offset)
		return nil
	}

	op := func() error {
		err := l.apply(ctx, store, evt)
		if err == nil {
			return nil
		}
		var gap *eventstore.ConsistencyError
		if errors.As(err, &gap) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, l.maxRetries), ctx)); err != nil {
		l.log.Error("Halting restore, event could not be applied",
			"aggregate_type", evt.AggregateType,
			"aggregate_id", evt.AggregateID,
			"kind", evt.Kind,
			"version", evt.Version,
			"error", err)
		return err
	}
	return nil
}

// apply runs the snapshot store first, then the subscribers. A retry after a
// subscriber failure redoes the store apply, which the version guard turns
// into a no-op.
func (l *Listener) apply(ctx context.Context, store eventstore.SnapshotStore, evt eventstore.Event) error {
	if err := store.HandleEvent(ctx, nil, evt, eventstore.SourceRestore); err != nil {
		return err
	}
	for _, sub := range l.subs {
		if err := sub(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
