package repository

import (
	"context"
	"time"

	"github.com/auralink/proactive/internal/datastore/entities"
)

// JobRepository stores background job runs and their leases.
type JobRepository interface {
	CreateJob(ctx context.Context, job *entities.BackgroundJob) error
	GetJob(ctx context.Context, id string) (*entities.BackgroundJob, error)
	// FinishJob sets the terminal status of a RUNNING job.
	FinishJob(ctx context.Context, id string, status entities.JobStatus, metadata map[string]any, errMsg string, at time.Time) error
	ListJobs(ctx context.Context, filter JobFilter) ([]entities.BackgroundJob, error)

	// TryAcquireLease claims jobType for holder until now+ttl. An existing
	// lease is taken over only when expired or already held by holder.
	TryAcquireLease(ctx context.Context, jobType, holder string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, jobType, holder string) error
}

// JobFilter controls job listing.
type JobFilter struct {
	Type   string
	Status entities.JobStatus
	Limit  int
}

// SubscriptionRepository reads billing tiers and contact addresses.
type SubscriptionRepository interface {
	GetByUser(ctx context.Context, userID string) (*entities.Subscription, error)
	GetContact(ctx context.Context, userID string) (*entities.UserContact, error)
	SaveSubscription(ctx context.Context, sub *entities.Subscription) error
	SaveContact(ctx context.Context, contact *entities.UserContact) error
}
