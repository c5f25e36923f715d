package job

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
)

// OnlyCompletedJobsCanBeMarkedAsRead identifies the precondition violated
// when marking a job that has not completed.
const OnlyCompletedJobsCanBeMarkedAsRead = "only completed jobs can be marked as read"

func (d *Dispatcher) handleEnqueue(ctx context.Context, cmd EnqueueJobCommand) (Result, error) {
	snap, err := d.snapshots.Find(ctx, nil, cmd.JobID)
	if err != nil {
		return Result{}, err
	}
	if snap != nil {
		// Duplicate enqueue for an existing job id is dropped.
		d.log.Debug("Dropping duplicate EnqueueJobCommand", "job_id", cmd.JobID)
		return Result{JobID: cmd.JobID, Version: snap.Version}, nil
	}

	active, err := d.snapshots.CountActiveForUser(ctx, cmd.UserID)
	if err != nil {
		return Result{}, err
	}

	kind := KindJobQueued
	var payload any = JobQueuedEvent{
		JobType: cmd.JobType,
		UserID:  cmd.UserID,
		Context: cmd.Context,
		Command: cmd.Command,
	}
	if active >= int64(d.maxActivePerUser) {
		kind = KindJobRejected
		payload = JobRejectedEvent{
			JobType: cmd.JobType,
			UserID:  cmd.UserID,
			Context: cmd.Context,
		}
		d.log.Info("Rejecting job, user at active-job limit",
			"job_id", cmd.JobID, "user_id", cmd.UserID, "active", active, "limit", d.maxActivePerUser)
	}

	return d.emit(ctx, cmd.JobID, 0, kind, payload, true)
}

func (d *Dispatcher) handleStart(ctx context.Context, cmd StartJobCommand) (Result, error) {
	snap, err := d.snapshots.FindOrFail(ctx, nil, cmd.JobID)
	if err != nil {
		return Result{}, err
	}
	if State(snap.State) != StateQueued {
		d.log.Debug("Dropping StartJobCommand in invalid state", "job_id", cmd.JobID, "state", snap.State)
		return Result{JobID: cmd.JobID, Version: snap.Version}, nil
	}
	return d.emit(ctx, cmd.JobID, snap.Version, KindJobStarted, JobStartedEvent{}, false)
}

func (d *Dispatcher) handleComplete(ctx context.Context, cmd CompleteJobCommand) (Result, error) {
	snap, err := d.snapshots.FindOrFail(ctx, nil, cmd.JobID)
	if err != nil {
		return Result{}, err
	}
	if State(snap.State) != StateStarted {
		d.log.Debug("Dropping CompleteJobCommand in invalid state", "job_id", cmd.JobID, "state", snap.State)
		return Result{JobID: cmd.JobID, Version: snap.Version}, nil
	}
	return d.emit(ctx, cmd.JobID, snap.Version, KindJobCompleted, JobCompletedEvent{Result: cmd.Result}, false)
}

func (d *Dispatcher) handleFail(ctx context.Context, cmd FailJobCommand) (Result, error) {
	snap, err := d.snapshots.FindOrFail(ctx, nil, cmd.JobID)
	if err != nil {
		return Result{}, err
	}
	if State(snap.State) != StateStarted {
		d.log.Debug("Dropping FailJobCommand in invalid state", "job_id", cmd.JobID, "state", snap.State)
		return Result{JobID: cmd.JobID, Version: snap.Version}, nil
	}
	return d.emit(ctx, cmd.JobID, snap.Version, KindJobFailed, JobFailedEvent{}, false)
}

func (d *Dispatcher) handleMarkResultRead(ctx context.Context, cmd MarkJobResultReadCommand) (Result, error) {
	snap, err := d.snapshots.FindOrFail(ctx, nil, cmd.JobID)
	if err != nil {
		return Result{}, err
	}
	if snap.UserID != cmd.UserID {
		return Result{}, &eventstore.AccessDeniedError{Reason: "job belongs to another user"}
	}
	if State(snap.State) != StateCompleted {
		return Result{}, &eventstore.PreconditionError{Key: OnlyCompletedJobsCanBeMarkedAsRead}
	}
	return d.emit(ctx, cmd.JobID, snap.Version, KindJobResultRead, JobResultReadEvent{}, false)
}

// emit publishes one event through the local event bus with an expected
// version. For new aggregates a lost append race means another delivery of
// the same command already queued the job, so the conflict collapses into the
// duplicate-drop path.
func (d *Dispatcher) emit(ctx context.Context, jobID uuid.UUID, expected int64, kind string, payload any, dropOnConflict bool) (Result, error) {
	evt, err := d.bus.Emit(ctx, AggregateType, jobID, &expected, func(version int64) (eventstore.Event, error) {
		return eventstore.NewEvent(AggregateType, jobID, version, kind, payload, d.now().UTC())
	})
	if err != nil {
		if dropOnConflict && errors.Is(err, eventstore.ErrConcurrencyConflict) {
			d.log.Debug("Concurrent duplicate command, dropping", "job_id", jobID, "kind", kind)
			// The raced writer has committed; report its version, the same
			// answer an ordinary duplicate drop gives.
			if snap, serr := d.snapshots.Find(ctx, nil, jobID); serr == nil && snap != nil {
				return Result{JobID: jobID, Version: snap.Version}, nil
			}
			return Result{JobID: jobID, Version: expected + 1}, nil
		}
		return Result{}, err
	}
	return Result{JobID: jobID, Version: evt.Version, Emitted: true}, nil
}
