package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/jobstream-backend/internal/logger"
	"github.com/yungbote/jobstream-backend/internal/types"
)

// EventLog is the durable append-only store of events. The unique index on
// (aggregate_type, aggregate_id, version) is what turns a lost append race
// into ErrConcurrencyConflict instead of a duplicate row.
type EventLog interface {
	Append(ctx context.Context, tx *gorm.DB, evt Event) error
	ListForAggregate(ctx context.Context, tx *gorm.DB, aggregateType string, aggregateID uuid.UUID) ([]Event, error)
	FetchUndispatched(ctx context.Context, limit int) ([]types.EventRecord, error)
	MarkDispatched(ctx context.Context, ids []uint64) error
}

type eventLog struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventLog(db *gorm.DB, baseLog *logger.Logger) EventLog {
	return &eventLog{db: db, log: baseLog.With("repo", "EventLog")}
}

func (l *eventLog) Append(ctx context.Context, tx *gorm.DB, evt Event) error {
	transaction := tx
	if transaction == nil {
		transaction = l.db
	}
	record := types.EventRecord{
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		Version:       evt.Version,
		Kind:          evt.Kind,
		Payload:       datatypes.JSON(evt.Payload),
		Timestamp:     evt.Timestamp,
	}
	if err := transaction.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("append %s v%d for %s: %w", evt.Kind, evt.Version, evt.AggregateID, ErrConcurrencyConflict)
		}
		return fmt.Errorf("append %s v%d for %s: %w", evt.Kind, evt.Version, evt.AggregateID, err)
	}
	return nil
}

func (l *eventLog) ListForAggregate(ctx context.Context, tx *gorm.DB, aggregateType string, aggregateID uuid.UUID) ([]Event, error) {
	transaction := tx
	if transaction == nil {
		transaction = l.db
	}
	var records []types.EventRecord
	err := transaction.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Order("version ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(records))
	for _, r := range records {
		events = append(events, RecordToEvent(r))
	}
	return events, nil
}

func (l *eventLog) FetchUndispatched(ctx context.Context, limit int) ([]types.EventRecord, error) {
	var records []types.EventRecord
	err := l.db.WithContext(ctx).
		Where("dispatched = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (l *eventLog) MarkDispatched(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return l.db.WithContext(ctx).
		Model(&types.EventRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"dispatched":    true,
			"dispatched_at": now,
		}).Error
}

// RecordToEvent converts a log row back into the wire envelope.
func RecordToEvent(r types.EventRecord) Event {
	return Event{
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		Version:       r.Version,
		Kind:          r.Kind,
		Payload:       []byte(r.Payload),
		Timestamp:     r.Timestamp,
	}
}
