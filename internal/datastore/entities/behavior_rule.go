package entities

import "time"

// TriggerType discriminates the Trigger union.
type TriggerType string

const (
	TriggerSimple    TriggerType = "simple"
	TriggerCompound  TriggerType = "compound"
	TriggerTime      TriggerType = "time"
	TriggerThreshold TriggerType = "threshold"
)

// Operator is a comparison used by simple triggers.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpContains     Operator = "contains"
	OpBetween      Operator = "between"
)

// Logic combines the conditions of a compound trigger.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// BehaviorRule is a trigger/action pair owned by an entity. Rules are managed
// outside the pipeline and treated as read-only here. StrictEquality makes ==
// and != compare type and value instead of coercing numeric strings.
type BehaviorRule struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	EntityID       uint       `gorm:"not null;index" json:"entity_id"`
	Name           string     `gorm:"size:255;not null" json:"name"`
	Enabled        bool       `gorm:"not null;index" json:"enabled"`
	CooldownSec    int        `gorm:"not null" json:"cooldown_sec"`
	StrictEquality bool       `gorm:"not null" json:"strict_equality"`
	Trigger        Trigger    `gorm:"serializer:json;type:text;not null" json:"trigger"`
	Action         RuleAction `gorm:"serializer:json;type:text;not null" json:"action"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (BehaviorRule) TableName() string {
	return "behavior_rules"
}

// Cooldown returns the configured cooldown as a duration.
func (r *BehaviorRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSec) * time.Second
}

// Trigger is a tagged union keyed by Type. Only the fields of the active
// variant are meaningful.
type Trigger struct {
	Type TriggerType `json:"type"`

	// simple, threshold
	SensorPath string `json:"sensor_path,omitempty"`
	// simple
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	// compound
	Logic      Logic     `json:"logic,omitempty"`
	Conditions []Trigger `json:"conditions,omitempty"`

	// time
	HourRange  *HourRange `json:"hour_range,omitempty"`
	DaysOfWeek []int      `json:"days_of_week,omitempty"`

	// threshold
	Bands []Band `json:"bands,omitempty"`
}

// HourRange is an inclusive range of hours 0-23. Start > End wraps midnight.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Band is a value range with independently optional, inclusive bounds.
type Band struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// RuleAction describes the notification produced when a rule triggers.
type RuleAction struct {
	Message        string    `json:"message,omitempty"`
	DefaultMessage string    `json:"default_message,omitempty"`
	Channels       []Channel `json:"channels"`
	Priority       int       `json:"priority"`
}
