package entities

import "time"

// Subscription is the user's billing tier as mirrored from the billing
// provider. The pipeline only reads it.
type Subscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex" json:"user_id"`
	Tier      string    `gorm:"size:16;not null" json:"tier"`
	Active    bool      `gorm:"not null" json:"active"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Subscription) TableName() string {
	return "subscriptions"
}

// UserContact holds the addresses used by external delivery channels.
type UserContact struct {
	UserID       string `gorm:"primaryKey;size:64" json:"user_id"`
	Phone        string `gorm:"size:32" json:"phone,omitempty"`
	WhatsApp     string `gorm:"size:32" json:"whatsapp,omitempty"`
	PushEndpoint string `gorm:"size:512" json:"push_endpoint,omitempty"`
}

// TableName returns the table name for GORM.
func (UserContact) TableName() string {
	return "user_contacts"
}

// All returns every model for AutoMigrate, parents first.
func All() []any {
	return []any{
		&Entity{},
		&BehaviorRule{},
		&RuleExecutionLog{},
		&QueuedNotification{},
		&DeliveryLog{},
		&NotificationPreference{},
		&Conversation{},
		&ConversationMessage{},
		&BackgroundJob{},
		&JobLease{},
		&Subscription{},
		&UserContact{},
	}
}
