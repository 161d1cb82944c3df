// Package entities holds the gorm models persisted by the proactive pipeline.
package entities

import "time"

// Entity is a user-owned object ("aura") whose behavior rules are evaluated
// against its sense data feeds.
type Entity struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	UserID               string         `gorm:"size:64;not null;index" json:"user_id"`
	Name                 string         `gorm:"size:255;not null" json:"name"`
	Enabled              bool           `gorm:"not null;index" json:"enabled"`
	ProactiveEnabled     bool           `gorm:"not null" json:"proactive_enabled"`
	SenseIDs             []string       `gorm:"serializer:json;type:text" json:"sense_ids"`
	Personality          map[string]any `gorm:"serializer:json;type:text" json:"personality"`
	LastEvaluationAt     *time.Time     `gorm:"index" json:"last_evaluation_at,omitempty"`
	UnreadProactiveCount int            `gorm:"not null;default:0" json:"unread_proactive_count"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	Rules                []BehaviorRule `gorm:"foreignKey:EntityID;constraint:OnDelete:CASCADE" json:"rules,omitempty"`
}

// TableName returns the table name for GORM.
func (Entity) TableName() string {
	return "entities"
}
