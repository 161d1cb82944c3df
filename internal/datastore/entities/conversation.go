package entities

import "time"

// Message roles.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Conversation is an in-app chat thread between a user and an entity.
type Conversation struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	SessionID            string     `gorm:"size:36;not null;uniqueIndex" json:"session_id"`
	EntityID             uint       `gorm:"not null;index:idx_conversation_entity_open,priority:1" json:"entity_id"`
	Open                 bool       `gorm:"not null;index:idx_conversation_entity_open,priority:2" json:"open"`
	UserID               string     `gorm:"size:64;not null;index" json:"user_id"`
	UnreadProactiveCount int        `gorm:"not null;default:0" json:"unread_proactive_count"`
	LastMessageAt        *time.Time `json:"last_message_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// ConversationMessage is one message in a conversation. Proactive messages
// carry the notification they were delivered for; the unique index makes a
// repeated delivery of the same notification detectable.
type ConversationMessage struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	ConversationID uint               `gorm:"not null;index" json:"conversation_id"`
	NotificationID *string            `gorm:"size:36;uniqueIndex" json:"notification_id,omitempty"`
	RuleID         *uint              `json:"rule_id,omitempty"`
	Role           string             `gorm:"size:16;not null" json:"role"`
	Content        string             `gorm:"type:text;not null" json:"content"`
	SensorSnapshot map[string]any     `gorm:"serializer:json;type:text" json:"sensor_snapshot,omitempty"`
	Proactive      bool               `gorm:"not null;index" json:"proactive"`
	Status         NotificationStatus `gorm:"size:16" json:"status,omitempty"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
	ReadAt         *time.Time         `json:"read_at,omitempty"`
}

// TableName returns the table name for GORM.
func (ConversationMessage) TableName() string {
	return "conversation_messages"
}
