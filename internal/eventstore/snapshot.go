package eventstore

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SnapshotStore materializes one aggregate type. HandleEvent applies a single
// event inside the given transaction (nil for the store's own connection) and
// must be idempotent under the CanApply version guard: duplicates are skipped
// silently, gaps fail with ConsistencyError. Implementations that support a
// deleted-class event must treat a delete without a snapshot as a wiring bug
// on the online path and as a tolerated duplicate on restore.
type SnapshotStore interface {
	AggregateType() string
	CurrentVersion(ctx context.Context, tx *gorm.DB, aggregateID uuid.UUID) (int64, error)
	HandleEvent(ctx context.Context, tx *gorm.DB, evt Event, source Source) error
}
