package negotiation

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// AnalyticsJob is a queued request to refresh a session's analytics
// (success probability + pattern report). Produced by the API after each
// round, consumed by cmd/worker.
type AnalyticsJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	SessionID string `gorm:"size:26;index;not null"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Redis key of the cached report, filled when succeeded.
	ResultKey *string `gorm:"type:varchar(128)"`

	// Filled when failed.
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AnalyticsJob) TableName() string { return "analytics_jobs" }
