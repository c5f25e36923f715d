package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EventRecord is one row of the append-only event log. Rows are never updated
// except for the dispatch flag and never deleted; the log is the source of
// truth from which every snapshot can be rebuilt.
type EventRecord struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	AggregateType string    `gorm:"size:64;not null;uniqueIndex:idx_event_log_aggregate_version,priority:1"`
	AggregateID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_event_log_aggregate_version,priority:2"`
	Version       int64     `gorm:"not null;uniqueIndex:idx_event_log_aggregate_version,priority:3"`
	Kind          string    `gorm:"size:64;not null"`
	Payload       datatypes.JSON
	Timestamp     time.Time `gorm:"not null"`
	Dispatched    bool      `gorm:"not null;default:false;index"`
	DispatchedAt  *time.Time
	CreatedAt     time.Time
}

func (EventRecord) TableName() string { return "event_log" }

// JobSnapshot is the materialized state of one job aggregate, version equal to
// the last applied event. Mutated only through the snapshot store apply path.
type JobSnapshot struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version        int64     `gorm:"not null"`
	State          string    `gorm:"size:32;not null;index:idx_job_snapshots_user_state,priority:2"`
	JobType        string    `gorm:"size:64;not null"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index:idx_job_snapshots_user_state,priority:1"`
	ContextType    string    `gorm:"size:128"`
	Context        datatypes.JSON
	CommandType    string `gorm:"size:128"`
	Command        datatypes.JSON
	ResultType     string `gorm:"size:128"`
	Result         datatypes.JSON
	CreatedAt      time.Time
	LastModifiedAt time.Time `gorm:"not null"`
}

func (JobSnapshot) TableName() string { return "job_snapshots" }

// JobProjection is the read-model row behind the job list endpoint.
type JobProjection struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version        int64     `gorm:"not null"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index"`
	JobType        string    `gorm:"size:64;not null"`
	State          string    `gorm:"size:32;not null"`
	ResultType     string    `gorm:"size:128"`
	Result         datatypes.JSON
	Read           bool `gorm:"not null;default:false"`
	CreatedAt      time.Time
	LastModifiedAt time.Time `gorm:"not null;index"`
}

func (JobProjection) TableName() string { return "job_projections" }

// JobList tracks when a user last looked at their job list.
type JobList struct {
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	LastSeen time.Time `gorm:"not null"`
}

func (JobList) TableName() string { return "job_lists" }
