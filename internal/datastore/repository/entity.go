package repository

import (
	"context"
	"time"

	"github.com/auralink/proactive/internal/datastore/entities"
)

// EntityRepository reads entities and their rules and records evaluation
// bookkeeping.
type EntityRepository interface {
	// ListCandidates returns enabled entities with proactive messaging on,
	// preloaded with their enabled rules ordered by ID.
	ListCandidates(ctx context.Context) ([]entities.Entity, error)
	GetEntity(ctx context.Context, id uint) (*entities.Entity, error)
	ListEnabledRules(ctx context.Context, entityID uint) ([]entities.BehaviorRule, error)
	UpdateLastEvaluation(ctx context.Context, id uint, at time.Time) error
	AdjustUnreadCount(ctx context.Context, id uint, delta int) error

	// Used by seeding and tests.
	CreateEntity(ctx context.Context, entity *entities.Entity) error
	CreateRule(ctx context.Context, rule *entities.BehaviorRule) error
}

// ExecutionLogRepository stores the rule execution log. Rows are only
// appended, apart from the outcome of a queued notification.
type ExecutionLogRepository interface {
	Append(ctx context.Context, logs []*entities.RuleExecutionLog) error
	// UpdateResult rewrites the triggered flag and evaluation result of a
	// stored row.
	UpdateResult(ctx context.Context, log *entities.RuleExecutionLog) error
	// LastTriggered returns, per rule, the time of the latest triggered row.
	LastTriggered(ctx context.Context, ruleIDs []uint) (map[uint]time.Time, error)
	List(ctx context.Context, filter ExecutionLogFilter) ([]entities.RuleExecutionLog, int64, error)
	// DeleteBefore removes rows older than before, keeping each rule's latest
	// triggered row so cooldowns survive retention.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ExecutionLogFilter controls execution log listing.
type ExecutionLogFilter struct {
	RuleID    uint
	EntityID  uint
	Triggered *bool
	Limit     int
	Offset    int
}
