package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/errors"
)

type entityRepository struct {
	db *gorm.DB
}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &entityRepository{db: db}
}

func enabledRulesScope(db *gorm.DB) *gorm.DB {
	return db.Where("enabled = ?", true).Order("id ASC")
}

func (r *entityRepository) ListCandidates(ctx context.Context) ([]entities.Entity, error) {
	var items []entities.Entity
	err := r.db.WithContext(ctx).
		Preload("Rules", enabledRulesScope).
		Where("enabled = ? AND proactive_enabled = ?", true, true).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate entities: %w", err)
	}
	return items, nil
}

func (r *entityRepository) GetEntity(ctx context.Context, id uint) (*entities.Entity, error) {
	var entity entities.Entity
	if err := r.db.WithContext(ctx).Preload("Rules", enabledRulesScope).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity %d: %w", id, err)
	}
	return &entity, nil
}

func (r *entityRepository) ListEnabledRules(ctx context.Context, entityID uint) ([]entities.BehaviorRule, error) {
	var rules []entities.BehaviorRule
	err := r.db.WithContext(ctx).
		Scopes(enabledRulesScope).
		Where("entity_id = ?", entityID).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for entity %d: %w", entityID, err)
	}
	return rules, nil
}

func (r *entityRepository) UpdateLastEvaluation(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.Entity{}).Where("id = ?", id).Update("last_evaluation_at", at.UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to update last evaluation for entity %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// AdjustUnreadCount adds delta to the unread proactive counter, never going
// below zero.
func (r *entityRepository) AdjustUnreadCount(ctx context.Context, id uint, delta int) error {
	expr := gorm.Expr("CASE WHEN unread_proactive_count + ? < 0 THEN 0 ELSE unread_proactive_count + ? END", delta, delta)
	result := r.db.WithContext(ctx).Model(&entities.Entity{}).Where("id = ?", id).Update("unread_proactive_count", expr)
	if result.Error != nil {
		return fmt.Errorf("failed to adjust unread count for entity %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (r *entityRepository) CreateEntity(ctx context.Context, entity *entities.Entity) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

func (r *entityRepository) CreateRule(ctx context.Context, rule *entities.BehaviorRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create behavior rule: %w", err)
	}
	return nil
}

type executionLogRepository struct {
	db *gorm.DB
}

// NewExecutionLogRepository creates a new ExecutionLogRepository.
func NewExecutionLogRepository(db *gorm.DB) ExecutionLogRepository {
	return &executionLogRepository{db: db}
}

func (r *executionLogRepository) Append(ctx context.Context, logs []*entities.RuleExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, l := range logs {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		} else {
			l.CreatedAt = l.CreatedAt.UTC()
		}
	}
	if err := r.db.WithContext(ctx).CreateInBatches(logs, 100).Error; err != nil {
		return fmt.Errorf("failed to append %d execution logs: %w", len(logs), err)
	}
	return nil
}

func (r *executionLogRepository) UpdateResult(ctx context.Context, log *entities.RuleExecutionLog) error {
	result := r.db.WithContext(ctx).Model(log).Select("triggered", "evaluation_result").Updates(log)
	if result.Error != nil {
		return fmt.Errorf("failed to update execution log %d: %w", log.ID, result.Error)
	}
	return nil
}

func (r *executionLogRepository) LastTriggered(ctx context.Context, ruleIDs []uint) (map[uint]time.Time, error) {
	out := make(map[uint]time.Time, len(ruleIDs))
	if len(ruleIDs) == 0 {
		return out, nil
	}

	// Aggregated timestamps come back as strings on SQLite, so fetch the
	// latest row per rule instead of MAX().
	var rows []entities.RuleExecutionLog
	latest := r.db.Model(&entities.RuleExecutionLog{}).
		Select("MAX(id)").
		Where("rule_id IN ? AND triggered = ?", ruleIDs, true).
		Group("rule_id")
	err := r.db.WithContext(ctx).
		Select("rule_id", "created_at").
		Where("id IN (?)", latest).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load last triggered times: %w", err)
	}
	for i := range rows {
		out[rows[i].RuleID] = rows[i].CreatedAt
	}
	return out, nil
}

func (r *executionLogRepository) List(ctx context.Context, filter ExecutionLogFilter) ([]entities.RuleExecutionLog, int64, error) {
	apply := func(q *gorm.DB) *gorm.DB {
		if filter.RuleID > 0 {
			q = q.Where("rule_id = ?", filter.RuleID)
		}
		if filter.EntityID > 0 {
			q = q.Where("entity_id = ?", filter.EntityID)
		}
		if filter.Triggered != nil {
			q = q.Where("triggered = ?", *filter.Triggered)
		}
		return q
	}

	var total int64
	if err := apply(r.db.WithContext(ctx).Model(&entities.RuleExecutionLog{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count execution logs: %w", err)
	}

	query := apply(r.db.WithContext(ctx)).Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var items []entities.RuleExecutionLog
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list execution logs: %w", err)
	}
	return items, total, nil
}

func (r *executionLogRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	latest := r.db.Model(&entities.RuleExecutionLog{}).
		Select("MAX(id) AS id").
		Where("triggered = ?", true).
		Group("rule_id")
	// MySQL refuses a subquery on the table being deleted from unless it is
	// materialized through a derived table.
	keep := r.db.Table("(?) AS keep_ids", latest).Select("id")
	result := r.db.WithContext(ctx).
		Where("created_at < ? AND id NOT IN (?)", before.UTC(), keep).
		Delete(&entities.RuleExecutionLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete execution logs before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}
