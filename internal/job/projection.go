package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/logger"
	"github.com/yungbote/jobstream-backend/internal/realtime"
	"github.com/yungbote/jobstream-backend/internal/types"
)

// Projection maintains the job list read model from the event stream and
// notifies the realtime bus after each update. It is an event-bus subscriber;
// failures here never affect the command path.
type Projection struct {
	db       *gorm.DB
	log      *logger.Logger
	notifier realtime.Bus
}

func NewProjection(db *gorm.DB, baseLog *logger.Logger, notifier realtime.Bus) *Projection {
	if notifier == nil {
		notifier = realtime.NoopBus{}
	}
	return &Projection{db: db, log: baseLog.With("service", "JobProjection"), notifier: notifier}
}

// OnEvent folds one job event into the projection row. Guarded by the same
// version check as the snapshot store, so redelivery is a no-op.
func (p *Projection) OnEvent(ctx context.Context, evt eventstore.Event) error {
	if evt.AggregateType != AggregateType {
		return nil
	}
	var row types.JobProjection
	err := p.db.WithContext(ctx).Where("id = ?", evt.AggregateID).First(&row).Error
	exists := true
	if errors.Is(err, gorm.ErrRecordNotFound) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("load job projection %s: %w", evt.AggregateID, err)
	}

	var current int64
	if exists {
		current = row.Version
	}
	apply, err := eventstore.CanApply(evt.AggregateType, evt.AggregateID, current, evt.Version)
	if err != nil {
		return err
	}
	if !apply {
		return nil
	}

	switch evt.Kind {
	case KindJobQueued:
		var payload JobQueuedEvent
		if err := evt.DecodePayload(&payload); err != nil {
			return err
		}
		row = types.JobProjection{
			ID:             evt.AggregateID,
			UserID:         payload.UserID,
			JobType:        payload.JobType,
			State:          string(StateQueued),
			CreatedAt:      evt.Timestamp,
			LastModifiedAt: evt.Timestamp,
		}
	case KindJobRejected:
		var payload JobRejectedEvent
		if err := evt.DecodePayload(&payload); err != nil {
			return err
		}
		row = types.JobProjection{
			ID:             evt.AggregateID,
			UserID:         payload.UserID,
			JobType:        payload.JobType,
			State:          string(StateRejected),
			CreatedAt:      evt.Timestamp,
			LastModifiedAt: evt.Timestamp,
		}
	case KindJobStarted:
		row.State = string(StateStarted)
		row.LastModifiedAt = evt.Timestamp
	case KindJobCompleted:
		var payload JobCompletedEvent
		if err := evt.DecodePayload(&payload); err != nil {
			return err
		}
		row.State = string(StateCompleted)
		row.ResultType = payload.Result.Type
		row.Result = datatypes.JSON(payload.Result.JSON)
		row.LastModifiedAt = evt.Timestamp
	case KindJobFailed:
		row.State = string(StateFailed)
		row.LastModifiedAt = evt.Timestamp
	case KindJobResultRead:
		row.State = string(StateResultRead)
		row.Read = true
		row.LastModifiedAt = evt.Timestamp
	default:
		return fmt.Errorf("unknown job event kind %q", evt.Kind)
	}
	row.Version = evt.Version

	if exists {
		err = p.db.WithContext(ctx).Save(&row).Error
	} else {
		err = p.db.WithContext(ctx).Create(&row).Error
	}
	if err != nil {
		return fmt.Errorf("persist job projection %s: %w", evt.AggregateID, err)
	}

	if nerr := p.notifier.PublishJobUpdated(ctx, realtime.JobUpdate{
		UserID:    row.UserID,
		JobID:     row.ID,
		State:     row.State,
		UpdatedAt: row.LastModifiedAt,
	}); nerr != nil {
		p.log.Warn("Failed to publish job update notification", "job_id", row.ID, "error", nerr)
	}
	return nil
}

// ListForUser returns the user's jobs, newest change first, plus the job
// list's last-seen marker (nil when the user never looked).
func (p *Projection) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.JobProjection, *time.Time, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []types.JobProjection
	err := p.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_modified_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, nil, fmt.Errorf("list jobs for user: %w", err)
	}

	var list types.JobList
	err = p.db.WithContext(ctx).Where("user_id = ?", userID).First(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rows, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load job list for user: %w", err)
	}
	return rows, &list.LastSeen, nil
}

// MarkListSeen records when the user last looked at their job list.
func (p *Projection) MarkListSeen(ctx context.Context, userID uuid.UUID, at time.Time) error {
	list := types.JobList{UserID: userID, LastSeen: at}
	return p.db.WithContext(ctx).Save(&list).Error
}
