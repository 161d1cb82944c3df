package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/errors"
)

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) CreateJob(ctx context.Context, job *entities.BackgroundJob) error {
	job.StartedAt = job.StartedAt.UTC()
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create background job: %w", err)
	}
	return nil
}

func (r *jobRepository) GetJob(ctx context.Context, id string) (*entities.BackgroundJob, error) {
	var job entities.BackgroundJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get background job %s: %w", id, err)
	}
	return &job, nil
}

func (r *jobRepository) FinishJob(ctx context.Context, id string, status entities.JobStatus, metadata map[string]any, errMsg string, at time.Time) error {
	// Serialize through the model so the json serializer applies to metadata.
	update := entities.BackgroundJob{
		Status:   status,
		Metadata: metadata,
		Error:    errMsg,
	}
	completed := at.UTC()
	update.CompletedAt = &completed

	result := r.db.WithContext(ctx).
		Model(&entities.BackgroundJob{}).
		Where("id = ? AND status = ?", id, entities.JobRunning).
		Select("status", "metadata", "error", "completed_at").
		Updates(&update)
	if result.Error != nil {
		return fmt.Errorf("failed to finish background job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *jobRepository) ListJobs(ctx context.Context, filter JobFilter) ([]entities.BackgroundJob, error) {
	query := r.db.WithContext(ctx).Order("started_at DESC")
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var jobs []entities.BackgroundJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list background jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) TryAcquireLease(ctx context.Context, jobType, holder string, ttl time.Duration, now time.Time) (bool, error) {
	now = now.UTC()
	lease := entities.JobLease{JobType: jobType, Holder: holder, ExpiresAt: now.Add(ttl)}

	// Insert if absent; the row then either is ours or belongs to someone else.
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lease).Error; err != nil {
		return false, fmt.Errorf("failed to insert lease for %s: %w", jobType, err)
	}

	result := r.db.WithContext(ctx).
		Model(&entities.JobLease{}).
		Where("job_type = ? AND (holder = ? OR expires_at < ?)", jobType, holder, now).
		Updates(map[string]any{"holder": holder, "expires_at": lease.ExpiresAt})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim lease for %s: %w", jobType, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *jobRepository) ReleaseLease(ctx context.Context, jobType, holder string) error {
	err := r.db.WithContext(ctx).
		Where("job_type = ? AND holder = ?", jobType, holder).
		Delete(&entities.JobLease{}).Error
	if err != nil {
		return fmt.Errorf("failed to release lease for %s: %w", jobType, err)
	}
	return nil
}

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByUser(ctx context.Context, userID string) (*entities.Subscription, error) {
	var sub entities.Subscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription for user %s: %w", userID, err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetContact(ctx context.Context, userID string) (*entities.UserContact, error) {
	var contact entities.UserContact
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("failed to get contact for user %s: %w", userID, err)
	}
	return &contact, nil
}

func (r *subscriptionRepository) SaveSubscription(ctx context.Context, sub *entities.Subscription) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "active", "updated_at"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription for user %s: %w", sub.UserID, err)
	}
	return nil
}

func (r *subscriptionRepository) SaveContact(ctx context.Context, contact *entities.UserContact) error {
	if err := r.db.WithContext(ctx).Save(contact).Error; err != nil {
		return fmt.Errorf("failed to save contact for user %s: %w", contact.UserID, err)
	}
	return nil
}
