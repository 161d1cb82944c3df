package entities

import "time"

// JobStatus is the state of a background job run.
type JobStatus string

const (
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// BackgroundJob records one run of a background job for diagnostics.
type BackgroundJob struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Type        string         `gorm:"size:64;not null;index:idx_job_type_started,priority:1" json:"type"`
	Status      JobStatus      `gorm:"size:16;not null;index" json:"status"`
	StartedAt   time.Time      `gorm:"not null;index:idx_job_type_started,priority:2" json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
}

// TableName returns the table name for GORM.
func (BackgroundJob) TableName() string {
	return "background_jobs"
}

// JobLease is a time-bounded exclusive claim on a job type.
type JobLease struct {
	JobType   string    `gorm:"primaryKey;size:64" json:"job_type"`
	Holder    string    `gorm:"size:64;not null" json:"holder"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
}

// TableName returns the table name for GORM.
func (JobLease) TableName() string {
	return "job_leases"
}
