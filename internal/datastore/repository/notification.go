package repository

import (
	"context"
	"time"

	"github.com/auralink/proactive/internal/datastore/entities"
)

// NotificationRepository stores queued notifications. Status changes are
// compare-and-set so concurrent processors cannot move a row backwards.
type NotificationRepository interface {
	Create(ctx context.Context, n *entities.QueuedNotification) error
	Get(ctx context.Context, id string) (*entities.QueuedNotification, error)
	List(ctx context.Context, filter NotificationFilter) ([]entities.QueuedNotification, int64, error)
	// ListQueued returns up to limit QUEUED notifications, oldest first.
	ListQueued(ctx context.Context, limit int) ([]entities.QueuedNotification, error)
	// Transition moves a notification from one status to another and applies
	// extra column updates. Returns ErrStatusConflict when the row is not in
	// status from.
	Transition(ctx context.Context, id string, from, to entities.NotificationStatus, updates map[string]any) error
	// UpdateQueued applies column updates to a notification that is still
	// QUEUED without changing its status.
	UpdateQueued(ctx context.Context, id string, updates map[string]any) error
	// CountCreatedSince counts notifications created for a user since t.
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error)
	// ExpireQueuedBefore moves QUEUED notifications created before cutoff to
	// EXPIRED and returns how many moved.
	ExpireQueuedBefore(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// NotificationFilter controls notification listing.
type NotificationFilter struct {
	UserID   string
	EntityID uint
	Status   entities.NotificationStatus
	Limit    int
	Offset   int
}

// DeliveryLogRepository stores per-channel delivery outcomes.
type DeliveryLogRepository interface {
	Create(ctx context.Context, log *entities.DeliveryLog) error
	ListByNotification(ctx context.Context, notificationID string) ([]entities.DeliveryLog, error)
	// CountDelivered counts successful deliveries on channel for a user since
	// t, optionally scoped to one entity.
	CountDelivered(ctx context.Context, userID string, channel entities.Channel, entityID *uint, since time.Time) (int64, error)
}

// PreferenceRepository reads and writes notification preferences.
type PreferenceRepository interface {
	// Find returns the preference for the exact (user, entity, channel)
	// key. A nil entityID looks up the global row.
	Find(ctx context.Context, userID string, entityID *uint, channel entities.Channel) (*entities.NotificationPreference, error)
	Save(ctx context.Context, pref *entities.NotificationPreference) error
}
