package entities

import "time"

// RuleExecutionLog is an append-only record of one rule evaluation. The latest
// triggered row per rule is what cooldowns are measured from.
type RuleExecutionLog struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	RuleID           uint             `gorm:"not null;index:idx_rule_exec_rule_triggered,priority:1" json:"rule_id"`
	Triggered        bool             `gorm:"not null;index:idx_rule_exec_rule_triggered,priority:2" json:"triggered"`
	EntityID         uint             `gorm:"not null;index" json:"entity_id"`
	SensorValues     map[string]any   `gorm:"serializer:json;type:text" json:"sensor_values"`
	EvaluationResult EvaluationResult `gorm:"serializer:json;type:text" json:"evaluation_result"`
	ExecutionTimeMs  int64            `gorm:"not null" json:"execution_time_ms"`
	CreatedAt        time.Time        `gorm:"not null;index:idx_rule_exec_rule_triggered,priority:3" json:"created_at"`
}

// TableName returns the table name for GORM.
func (RuleExecutionLog) TableName() string {
	return "rule_execution_logs"
}

// EvaluationResult is the outcome detail stored with an execution log row.
type EvaluationResult struct {
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
	Message        string `json:"message,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}
