package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/errors"
)

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *entities.QueuedNotification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.CreatedAt = n.CreatedAt.UTC()
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id string) (*entities.QueuedNotification, error) {
	var n entities.QueuedNotification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return &n, nil
}

func (r *notificationRepository) List(ctx context.Context, filter NotificationFilter) ([]entities.QueuedNotification, int64, error) {
	apply := func(q *gorm.DB) *gorm.DB {
		if filter.UserID != "" {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.EntityID > 0 {
			q = q.Where("entity_id = ?", filter.EntityID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		return q
	}

	var total int64
	if err := apply(r.db.WithContext(ctx).Model(&entities.QueuedNotification{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	query := apply(r.db.WithContext(ctx)).Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var items []entities.QueuedNotification
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, total, nil
}

func (r *notificationRepository) ListQueued(ctx context.Context, limit int) ([]entities.QueuedNotification, error) {
	var items []entities.QueuedNotification
	err := r.db.WithContext(ctx).
		Where("status = ?", entities.StatusQueued).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list queued notifications: %w", err)
	}
	return items, nil
}

func (r *notificationRepository) Transition(ctx context.Context, id string, from, to entities.NotificationStatus, updates map[string]any) error {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to

	result := r.db.WithContext(ctx).
		Model(&entities.QueuedNotification{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to move notification %s from %s to %s: %w", id, from, to, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, id)
	}
	return nil
}

func (r *notificationRepository) UpdateQueued(ctx context.Context, id string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&entities.QueuedNotification{}).
		Where("id = ? AND status = ?", id, entities.StatusQueued).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update queued notification %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, id)
	}
	return nil
}

func (r *notificationRepository) conflictOrMissing(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.QueuedNotification{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check notification %s: %w", id, err)
	}
	if count == 0 {
		return ErrNotificationNotFound
	}
	return ErrStatusConflict
}

func (r *notificationRepository) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entities.QueuedNotification{}).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications for user %s: %w", userID, err)
	}
	return count, nil
}

func (r *notificationRepository) ExpireQueuedBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&entities.QueuedNotification{}).
		Where("status = ? AND created_at < ?", entities.StatusQueued, cutoff.UTC()).
		Updates(map[string]any{"status": entities.StatusExpired, "expired_at": now.UTC()})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire notifications before %v: %w", cutoff, result.Error)
	}
	return result.RowsAffected, nil
}

type deliveryLogRepository struct {
	db *gorm.DB
}

// NewDeliveryLogRepository creates a new DeliveryLogRepository.
func NewDeliveryLogRepository(db *gorm.DB) DeliveryLogRepository {
	return &deliveryLogRepository{db: db}
}

func (r *deliveryLogRepository) Create(ctx context.Context, log *entities.DeliveryLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	log.CreatedAt = log.CreatedAt.UTC()
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to create delivery log: %w", err)
	}
	return nil
}

func (r *deliveryLogRepository) ListByNotification(ctx context.Context, notificationID string) ([]entities.DeliveryLog, error) {
	var items []entities.DeliveryLog
	if err := r.db.WithContext(ctx).Where("notification_id = ?", notificationID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list delivery logs for %s: %w", notificationID, err)
	}
	return items, nil
}

func (r *deliveryLogRepository) CountDelivered(ctx context.Context, userID string, channel entities.Channel, entityID *uint, since time.Time) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&entities.DeliveryLog{}).
		Where("user_id = ? AND channel = ? AND success = ? AND created_at >= ?", userID, channel, true, since.UTC())
	if entityID != nil {
		query = query.Where("entity_id = ?", *entityID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count deliveries for user %s on %s: %w", userID, channel, err)
	}
	return count, nil
}

type preferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository creates a new PreferenceRepository.
func NewPreferenceRepository(db *gorm.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

func (r *preferenceRepository) Find(ctx context.Context, userID string, entityID *uint, channel entities.Channel) (*entities.NotificationPreference, error) {
	query := r.db.WithContext(ctx).Where("user_id = ? AND channel = ?", userID, channel)
	if entityID == nil {
		query = query.Where("entity_id IS NULL")
	} else {
		query = query.Where("entity_id = ?", *entityID)
	}
	var pref entities.NotificationPreference
	if err := query.Order("id DESC").First(&pref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("failed to find preference for user %s on %s: %w", userID, channel, err)
	}
	return &pref, nil
}

func (r *preferenceRepository) Save(ctx context.Context, pref *entities.NotificationPreference) error {
	if pref.Timezone == "" {
		pref.Timezone = "UTC"
	}
	if err := r.db.WithContext(ctx).Save(pref).Error; err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}
