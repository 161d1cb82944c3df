// Package jobs records background job runs and guards them with leases.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
)

// TypeRuleEvaluation is the job type of an evaluation cycle.
const TypeRuleEvaluation = "rule-evaluation"

// Tracker stores job lifecycle records.
type Tracker struct {
	repo repository.JobRepository
	log  logger.Logger
	now  func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(repo repository.JobRepository, log logger.Logger) *Tracker {
	if log == nil {
		log = logger.Discard()
	}
	return &Tracker{repo: repo, log: log.Module("jobs"), now: time.Now}
}

// Start records a RUNNING job of jobType.
func (t *Tracker) Start(ctx context.Context, jobType string) (*entities.BackgroundJob, error) {
	job := &entities.BackgroundJob{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    entities.JobRunning,
		StartedAt: t.now().UTC(),
	}
	if err := t.repo.CreateJob(ctx, job); err != nil {
		return nil, jobError(err, jobType, "")
	}
	t.log.Info("job started", logger.String("job_id", job.ID), logger.String("type", jobType))
	return job, nil
}

// Complete marks a running job COMPLETED with its result metadata.
func (t *Tracker) Complete(ctx context.Context, id string, metadata map[string]any) error {
	if err := t.repo.FinishJob(ctx, id, entities.JobCompleted, metadata, "", t.now().UTC()); err != nil {
		return jobError(err, "", id)
	}
	t.log.Info("job completed", logger.String("job_id", id))
	return nil
}

// Fail marks a running job FAILED.
func (t *Tracker) Fail(ctx context.Context, id string, cause error, metadata map[string]any) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := t.repo.FinishJob(ctx, id, entities.JobFailed, metadata, msg, t.now().UTC()); err != nil {
		return jobError(err, "", id)
	}
	t.log.Warn("job failed", logger.String("job_id", id), logger.String("error", msg))
	return nil
}

// Get returns one job.
func (t *Tracker) Get(ctx context.Context, id string) (*entities.BackgroundJob, error) {
	return t.repo.GetJob(ctx, id)
}

// List returns jobs, newest first.
func (t *Tracker) List(ctx context.Context, filter repository.JobFilter) ([]entities.BackgroundJob, error) {
	return t.repo.ListJobs(ctx, filter)
}

func jobError(err error, jobType, id string) error {
	b := errors.New(err).Component("jobs").Category(errors.CategoryJob)
	if jobType != "" {
		b = b.Context("job_type", jobType)
	}
	if id != "" {
		b = b.Context("job_id", id)
	}
	return b.Build()
}
