package job

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/logger"
)

// Dispatcher routes job commands to their handlers. Per-command policy for
// invalid transitions is deliberate and uneven: the worker-driven commands
// (enqueue/start/complete/fail) silently drop duplicates and bad transitions
// because they are delivered at-least-once, while the user-facing mark-read
// command raises errors the caller can show.
type Dispatcher struct {
	bus              *eventstore.LocalEventBus
	snapshots        *SnapshotStore
	log              *logger.Logger
	maxActivePerUser int
	now              Clock
}

func NewDispatcher(bus *eventstore.LocalEventBus, snapshots *SnapshotStore, baseLog *logger.Logger, maxActivePerUser int) *Dispatcher {
	return &Dispatcher{
		bus:              bus,
		snapshots:        snapshots,
		log:              baseLog.With("service", "JobCommandDispatcher"),
		maxActivePerUser: maxActivePerUser,
		now:              time.Now,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, cmd any) (Result, error) {
	switch c := cmd.(type) {
	case EnqueueJobCommand:
		return d.handleEnqueue(ctx, c)
	case StartJobCommand:
		return d.handleStart(ctx, c)
	case CompleteJobCommand:
		return d.handleComplete(ctx, c)
	case FailJobCommand:
		return d.handleFail(ctx, c)
	case MarkJobResultReadCommand:
		return d.handleMarkResultRead(ctx, c)
	default:
		return Result{}, fmt.Errorf("unknown job command type %T", cmd)
	}
}
