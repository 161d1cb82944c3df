package entities

import "time"

// Channel is a delivery channel name.
type Channel string

const (
	ChannelInApp    Channel = "IN_APP"
	ChannelWebPush  Channel = "WEB_PUSH"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// NotificationStatus is a state in the notification lifecycle.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "PENDING"
	StatusQueued    NotificationStatus = "QUEUED"
	StatusDelivered NotificationStatus = "DELIVERED"
	StatusRead      NotificationStatus = "READ"
	StatusFailed    NotificationStatus = "FAILED"
	StatusExpired   NotificationStatus = "EXPIRED"
)

// QueuedNotification is a message on its way to one or more channels.
type QueuedNotification struct {
	ID              string             `gorm:"primaryKey;size:36" json:"id"`
	EntityID        uint               `gorm:"not null;index" json:"entity_id"`
	UserID          string             `gorm:"size:64;not null;index" json:"user_id"`
	RuleID          *uint              `gorm:"index" json:"rule_id,omitempty"`
	Message         string             `gorm:"type:text;not null" json:"message"`
	Status          NotificationStatus `gorm:"size:16;not null;index:idx_notification_status_created,priority:1" json:"status"`
	DeliveryChannel Channel            `gorm:"size:16;not null" json:"delivery_channel"`
	Channels        []Channel          `gorm:"serializer:json;type:text" json:"channels"`
	Priority        int                `gorm:"not null" json:"priority"`
	RetryCount      int                `gorm:"not null;default:0" json:"retry_count"`
	ErrorMessage    string             `gorm:"type:text" json:"error_message,omitempty"`
	SensorSnapshot  map[string]any     `gorm:"serializer:json;type:text" json:"sensor_snapshot,omitempty"`
	CreatedAt       time.Time          `gorm:"not null;index:idx_notification_status_created,priority:2" json:"created_at"`
	DeliveredAt     *time.Time         `json:"delivered_at,omitempty"`
	ReadAt          *time.Time         `json:"read_at,omitempty"`
	ExpiredAt       *time.Time         `json:"expired_at,omitempty"`
}

// TableName returns the table name for GORM.
func (QueuedNotification) TableName() string {
	return "queued_notifications"
}

// DeliveryLog records one channel outcome for a notification: a delivery
// attempt or a constraint block.
type DeliveryLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	NotificationID string    `gorm:"size:36;not null;index" json:"notification_id"`
	UserID         string    `gorm:"size:64;not null;index:idx_delivery_user_channel,priority:1" json:"user_id"`
	Channel        Channel   `gorm:"size:16;not null;index:idx_delivery_user_channel,priority:2" json:"channel"`
	EntityID       uint      `gorm:"not null;index" json:"entity_id"`
	Attempt        int       `gorm:"not null" json:"attempt"`
	Success        bool      `gorm:"not null" json:"success"`
	Blocked        bool      `gorm:"not null" json:"blocked"`
	Reason         string    `gorm:"size:255" json:"reason,omitempty"`
	ExternalID     string    `gorm:"size:255" json:"external_id,omitempty"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	Retryable      bool      `gorm:"not null" json:"retryable"`
	CreatedAt      time.Time `gorm:"not null;index:idx_delivery_user_channel,priority:3" json:"created_at"`
}

// TableName returns the table name for GORM.
func (DeliveryLog) TableName() string {
	return "delivery_logs"
}

// NotificationPreference is a per-user, per-channel delivery preference.
// A nil EntityID marks the user's global preference for the channel.
type NotificationPreference struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            string    `gorm:"size:64;not null;index:idx_pref_user_channel,priority:1" json:"user_id"`
	Channel           Channel   `gorm:"size:16;not null;index:idx_pref_user_channel,priority:2" json:"channel"`
	EntityID          *uint     `gorm:"index" json:"entity_id,omitempty"`
	Enabled           bool      `gorm:"not null" json:"enabled"`
	QuietHoursEnabled bool      `gorm:"not null" json:"quiet_hours_enabled"`
	QuietHoursStart   string    `gorm:"size:5" json:"quiet_hours_start,omitempty"` // HH:MM
	QuietHoursEnd     string    `gorm:"size:5" json:"quiet_hours_end,omitempty"`   // HH:MM
	Timezone          string    `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	MaxPerDay         *int      `json:"max_per_day,omitempty"`
	PriorityThreshold int       `gorm:"not null;default:5" json:"priority_threshold"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (NotificationPreference) TableName() string {
	return "notification_preferences"
}
