// Package realtime fans job status changes out to other service instances so
// connected clients see their job list move without polling.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobUpdate is the notification published after a projection update.
type JobUpdate struct {
	UserID    uuid.UUID `json:"userId"`
	JobID     uuid.UUID `json:"jobId"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Bus interface {
	PublishJobUpdated(ctx context.Context, update JobUpdate) error
	Close() error
}

// NoopBus is used when no redis is configured and in tests.
type NoopBus struct{}

func (NoopBus) PublishJobUpdated(context.Context, JobUpdate) error { return nil }
func (NoopBus) Close() error                                       { return nil }
