package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/logger"
	"github.com/yungbote/jobstream-backend/internal/types"
)

// SnapshotStore materializes job aggregates into the job_snapshots table.
// All writes go through HandleEvent; nothing else mutates a snapshot.
type SnapshotStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSnapshotStore(db *gorm.DB, baseLog *logger.Logger) *SnapshotStore {
	return &SnapshotStore{db: db, log: baseLog.With("repo", "JobSnapshotStore")}
}

func (s *SnapshotStore) AggregateType() string { return AggregateType }

// Find returns the current snapshot or nil when the aggregate does not exist.
func (s *SnapshotStore) Find(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobSnapshot, error) {
	transaction := tx
	if transaction == nil {
		transaction = s.db
	}
	var snap types.JobSnapshot
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// FindOrFail is Find for commands that require an existing aggregate.
func (s *SnapshotStore) FindOrFail(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobSnapshot, error) {
	snap, err := s.Find(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("job %s: %w", id, eventstore.ErrAggregateNotFound)
	}
	return snap, nil
}

func (s *SnapshotStore) CurrentVersion(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	snap, err := s.Find(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return 0, nil
	}
	return snap.Version, nil
}

// CountActiveForUser is the cross-aggregate read behind admission control.
// Allowed on the command path only, never during event application.
func (s *SnapshotStore) CountActiveForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&types.JobSnapshot{}).
		Where("user_id = ? AND state IN ?", userID, []string{string(StateQueued), string(StateStarted)}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count active jobs for user: %w", err)
	}
	return count, nil
}

// HandleEvent applies one event to the snapshot, guarded by the version
// check: duplicates are skipped silently, gaps are fatal.
func (s *SnapshotStore) HandleEvent(ctx context.Context, tx *gorm.DB, evt eventstore.Event, source eventstore.Source) error {
	transaction := tx
	if transaction == nil {
		transaction = s.db
	}
	snap, err := s.Find(ctx, transaction, evt.AggregateID)
	if err != nil {
		return err
	}
	var current int64
	if snap != nil {
		current = snap.Version
	}
	apply, err := eventstore.CanApply(evt.AggregateType, evt.AggregateID, current, evt.Version)
	if err != nil {
		return err
	}
	if !apply {
		s.log.Debug("Skipping already applied event",
			"job_id", evt.AggregateID, "kind", evt.Kind, "version", evt.Version, "source", source.String())
		return nil
	}
	next, err := s.applyEvent(snap, evt)
	if err != nil {
		return err
	}
	if snap == nil {
		if err := transaction.WithContext(ctx).Create(next).Error; err != nil {
			return fmt.Errorf("create job snapshot %s: %w", evt.AggregateID, err)
		}
		return nil
	}
	if err := transaction.WithContext(ctx).Save(next).Error; err != nil {
		return fmt.Errorf("save job snapshot %s: %w", evt.AggregateID, err)
	}
	return nil
}

// applyEvent folds one event into the snapshot. Pure except for allocation;
// persistence happens in HandleEvent.
func (s *SnapshotStore) applyEvent(snap *types.JobSnapshot, evt eventstore.Event) (*types.JobSnapshot, error) {
	switch evt.Kind {
	case KindJobQueued:
		var payload JobQueuedEvent
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		return &types.JobSnapshot{
			ID:             evt.AggregateID,
			Version:        evt.Version,
			State:          string(StateQueued),
			JobType:        payload.JobType,
			UserID:         payload.UserID,
			ContextType:    payload.Context.Type,
			Context:        datatypes.JSON(payload.Context.JSON),
			CommandType:    payload.Command.Type,
			Command:        datatypes.JSON(payload.Command.JSON),
			CreatedAt:      evt.Timestamp,
			LastModifiedAt: evt.Timestamp,
		}, nil
	case KindJobRejected:
		var payload JobRejectedEvent
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		return &types.JobSnapshot{
			ID:             evt.AggregateID,
			Version:        evt.Version,
			State:          string(StateRejected),
			JobType:        payload.JobType,
			UserID:         payload.UserID,
			ContextType:    payload.Context.Type,
			Context:        datatypes.JSON(payload.Context.JSON),
			CreatedAt:      evt.Timestamp,
			LastModifiedAt: evt.Timestamp,
		}, nil
	case KindJobStarted:
		return s.transition(snap, evt, StateStarted)
	case KindJobCompleted:
		var payload JobCompletedEvent
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		next, err := s.transition(snap, evt, StateCompleted)
		if err != nil {
			return nil, err
		}
		next.ResultType = payload.Result.Type
		next.Result = datatypes.JSON(payload.Result.JSON)
		return next, nil
	case KindJobFailed:
		return s.transition(snap, evt, StateFailed)
	case KindJobResultRead:
		return s.transition(snap, evt, StateResultRead)
	default:
		return nil, fmt.Errorf("unknown job event kind %q", evt.Kind)
	}
}

func (s *SnapshotStore) transition(snap *types.JobSnapshot, evt eventstore.Event, to State) (*types.JobSnapshot, error) {
	if snap == nil {
		// Cannot happen: a non-creating event at version 1 fails the version
		// guard, at version >1 with no snapshot it is a gap.
		return nil, &eventstore.ConsistencyError{
			AggregateType:   evt.AggregateType,
			AggregateID:     evt.AggregateID,
			CurrentVersion:  0,
			IncomingVersion: evt.Version,
		}
	}
	next := *snap
	next.Version = evt.Version
	next.State = string(to)
	next.LastModifiedAt = evt.Timestamp
	return &next, nil
}

var _ eventstore.SnapshotStore = (*SnapshotStore)(nil)

// Rebuild folds a full event history into the store from scratch, used by
// tests and cold rebuilds to verify replay determinism.
func (s *SnapshotStore) Rebuild(ctx context.Context, events []eventstore.Event) error {
	for _, evt := range events {
		if err := s.HandleEvent(ctx, nil, evt, eventstore.SourceRestore); err != nil {
			return err
		}
	}
	return nil
}
