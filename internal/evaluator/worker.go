// Package evaluator runs rule evaluation cycles over all eligible entities and
// hands triggered rules to the notification service.
package evaluator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/jobs"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
	"github.com/auralink/proactive/internal/observability/metrics"
	"github.com/auralink/proactive/internal/rules"
	"github.com/auralink/proactive/internal/sensors"
	"github.com/auralink/proactive/internal/tiers"
)

const (
	defaultBatchSize         = 50
	defaultConcurrency       = 10
	defaultEvaluationTimeout = 30 * time.Second
	defaultLeaseTTL          = 10 * time.Minute
)

// ErrRunInProgress is returned by Execute when another run holds the lease.
var ErrRunInProgress = errors.NewStd("rule evaluation already in progress")

// TierResolver looks up a user's subscription tier.
type TierResolver interface {
	GetTier(ctx context.Context, userID string) (tiers.Tier, error)
}

// Notifier is the part of the notification service the worker drives.
type Notifier interface {
	Queue(ctx context.Context, p notification.Payload) (*entities.QueuedNotification, error)
	ProcessNotification(ctx context.Context, id string) (*notification.ProcessResult, error)
}

// Config tunes a Worker. Zero values take defaults.
type Config struct {
	BatchSize         int
	Concurrency       int
	EvaluationTimeout time.Duration
	LeaseTTL          time.Duration
}

// Deps are the collaborators of a Worker. Metrics and Logger are optional.
type Deps struct {
	Entities      repository.EntityRepository
	ExecutionLogs repository.ExecutionLogRepository
	Notifications repository.NotificationRepository
	Sensors       sensors.Provider
	Tiers         TierResolver
	Notifier      Notifier
	Engine        *rules.Engine
	Tracker       *jobs.Tracker
	Lease         jobs.Lease
	Dispatcher    *Dispatcher
	Metrics       *metrics.Metrics
	Logger        logger.Logger

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Result summarizes one evaluation cycle.
type Result struct {
	JobID      string   `json:"job_id"`
	Processed  int      `json:"processed"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	Queued     int      `json:"queued"`
	DurationMs int64    `json:"duration_ms"`
	Errors     []string `json:"errors"`
}

func (r *Result) metadata() map[string]any {
	return map[string]any{
		"processed":   r.Processed,
		"succeeded":   r.Succeeded,
		"failed":      r.Failed,
		"queued":      r.Queued,
		"duration_ms": r.DurationMs,
		"errors":      r.Errors,
	}
}

// Worker evaluates the behavior rules of every eligible entity.
type Worker struct {
	cfg  Config
	deps Deps
	log  logger.Logger
	now  func() time.Time
}

// NewWorker creates a Worker.
func NewWorker(cfg Config, deps Deps) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = defaultEvaluationTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	if deps.Engine == nil {
		deps.Engine = rules.NewEngine(log)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Worker{cfg: cfg, deps: deps, log: log.Module("evaluator"), now: now}
}

// IsEligible reports whether entity is due for evaluation under limits.
func IsEligible(entity *entities.Entity, limits tiers.Limits, now time.Time) bool {
	if !entity.Enabled || !entity.ProactiveEnabled {
		return false
	}
	if len(entity.Rules) == 0 {
		return false
	}
	return limits.DueForEvaluation(entity.LastEvaluationAt, now)
}

type candidate struct {
	entity *entities.Entity
	limits tiers.Limits
	// capLock is shared by every candidate of the same user.
	capLock *sync.Mutex
}

// Execute runs one evaluation cycle. Per-entity failures are counted in the
// result; only a failure of the run itself is returned as an error.
func (w *Worker) Execute(ctx context.Context) (*Result, error) {
	holder := uuid.NewString()
	acquired, err := w.deps.Lease.Acquire(ctx, jobs.TypeRuleEvaluation, holder, w.cfg.LeaseTTL)
	if err != nil {
		return nil, w.jobError(err, "")
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := w.deps.Lease.Release(context.WithoutCancel(ctx), jobs.TypeRuleEvaluation, holder); err != nil {
			w.log.Warn("failed to release evaluation lease", logger.Error(err))
		}
	}()

	started := time.Now()
	job, err := w.deps.Tracker.Start(ctx, jobs.TypeRuleEvaluation)
	if err != nil {
		return nil, w.jobError(err, "")
	}
	result := &Result{JobID: job.ID, Errors: []string{}}
	log := w.log.With(logger.String("job_id", job.ID))

	fail := func(cause error) (*Result, error) {
		result.DurationMs = time.Since(started).Milliseconds()
		jobErr := w.jobError(cause, job.ID)
		if err := w.deps.Tracker.Fail(context.WithoutCancel(ctx), job.ID, jobErr, result.metadata()); err != nil {
			log.Error("failed to record job failure", logger.Error(err))
		}
		w.deps.Metrics.RecordRun(string(entities.JobFailed), time.Since(started))
		return result, jobErr
	}

	all, err := w.deps.Entities.ListCandidates(ctx)
	if err != nil {
		return fail(fmt.Errorf("list candidates: %w", err))
	}

	now := w.now()
	eligible := make([]candidate, 0, len(all))
	capLocks := make(map[string]*sync.Mutex)
	for i := range all {
		entity := &all[i]
		limits := w.limitsFor(ctx, entity.UserID)
		if !IsEligible(entity, limits, now) {
			continue
		}
		mu, ok := capLocks[entity.UserID]
		if !ok {
			mu = &sync.Mutex{}
			capLocks[entity.UserID] = mu
		}
		eligible = append(eligible, candidate{entity: entity, limits: limits, capLock: mu})
	}
	log.Info("starting rule evaluation",
		logger.Int("candidates", len(all)),
		logger.Int("eligible", len(eligible)))

	for start := 0; start < len(eligible); start += w.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		end := min(start+w.cfg.BatchSize, len(eligible))
		w.runBatch(ctx, eligible[start:end], result)
	}

	result.DurationMs = time.Since(started).Milliseconds()
	if err := w.deps.Tracker.Complete(context.WithoutCancel(ctx), job.ID, result.metadata()); err != nil {
		log.Error("failed to record job completion", logger.Error(err))
	}
	w.deps.Metrics.RecordRun(string(entities.JobCompleted), time.Since(started))
	log.Info("rule evaluation finished",
		logger.Int("processed", result.Processed),
		logger.Int("succeeded", result.Succeeded),
		logger.Int("failed", result.Failed),
		logger.Int("queued", result.Queued),
		logger.Int64("duration_ms", result.DurationMs))
	return result, nil
}

func (w *Worker) limitsFor(ctx context.Context, userID string) tiers.Limits {
	if w.deps.Tiers == nil {
		return tiers.LimitsFor(tiers.Free)
	}
	tier, err := w.deps.Tiers.GetTier(ctx, userID)
	if err != nil {
		w.log.Warn("tier lookup failed, using free tier",
			logger.String("user_id", userID),
			logger.Error(err))
	}
	return tiers.LimitsFor(tier)
}

// runBatch evaluates one batch concurrently and waits for every entity.
func (w *Worker) runBatch(ctx context.Context, batch []candidate, result *Result) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)

	for _, c := range batch {
		g.Go(func() error {
			queued, err := w.evaluateWithTimeout(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			result.Queued += queued
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("entity %d: %v", c.entity.ID, err))
				w.deps.Metrics.RecordEntity(false)
				return nil
			}
			result.Succeeded++
			w.deps.Metrics.RecordEntity(true)
			return nil
		})
	}
	_ = g.Wait()
}

type entityOutcome struct {
	queued int
	err    error
}

// evaluateWithTimeout bounds one entity's evaluation. The evaluation keeps
// running in the background after a timeout until it observes ctx.
func (w *Worker) evaluateWithTimeout(ctx context.Context, c candidate) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.EvaluationTimeout)
	defer cancel()

	done := make(chan entityOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("entity evaluation panicked",
					logger.Uint64("entity_id", uint64(c.entity.ID)),
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())))
				done <- entityOutcome{err: w.entityError(c.entity.ID, fmt.Errorf("panic: %v", r))}
			}
		}()
		queued, err := w.evaluateEntity(ctx, c)
		done <- entityOutcome{queued: queued, err: err}
	}()

	select {
	case out := <-done:
		return out.queued, out.err
	case <-ctx.Done():
		return 0, errors.New(fmt.Errorf("evaluation timed out: %w", ctx.Err())).
			Component("evaluator").
			Category(errors.CategoryTimeout).
			Context("entity_id", c.entity.ID).
			Build()
	}
}

// evaluateEntity runs one entity's rules and queues notifications for the
// triggered ones. It returns how many notifications were queued.
func (w *Worker) evaluateEntity(ctx context.Context, c candidate) (int, error) {
	entity := c.entity
	log := w.log.With(logger.Uint64("entity_id", uint64(entity.ID)))

	readings, err := w.deps.Sensors.GetSenseData(ctx, entity.SenseIDs)
	if err != nil {
		return 0, w.entityError(entity.ID, fmt.Errorf("fetch sense data: %w", err))
	}
	senseData := sensors.ToSenseData(readings)

	ruleIDs := make([]uint, 0, len(entity.Rules))
	for i := range entity.Rules {
		ruleIDs = append(ruleIDs, entity.Rules[i].ID)
	}
	lastTriggered, err := w.deps.ExecutionLogs.LastTriggered(ctx, ruleIDs)
	if err != nil {
		return 0, w.entityError(entity.ID, fmt.Errorf("load last triggered: %w", err))
	}

	now := w.now()
	rctx := rules.NewContext(senseData, entity.Personality, lastTriggered, now)

	var logs []*entities.RuleExecutionLog
	active := make([]entities.BehaviorRule, 0, len(entity.Rules))
	for i := range entity.Rules {
		rule := &entity.Rules[i]
		if !rule.Enabled {
			continue
		}
		if rules.InCooldown(rule, lastTriggered, now) {
			logs = append(logs, w.logRow(entity.ID, senseData, rules.Result{
				RuleID: rule.ID,
				Reason: rules.ReasonCooldown,
			}, 0))
			continue
		}
		active = append(active, *rule)
	}
	active = tiers.TruncateRules(c.limits, active)

	evalStart := time.Now()
	all, triggered := w.deps.Engine.Evaluate(active, rctx)
	evalMs := time.Since(evalStart).Milliseconds()

	rows := make(map[uint]*entities.RuleExecutionLog, len(all))
	for _, res := range all {
		row := w.logRow(entity.ID, senseData, res, evalMs)
		rows[res.RuleID] = row
		logs = append(logs, row)
	}

	for _, row := range logs {
		row.CreatedAt = now.UTC()
	}

	// The daily cap check, the triggered rows and the queued notifications
	// must not interleave with another entity of the same user.
	c.capLock.Lock()
	defer c.capLock.Unlock()

	pending, err := w.applyDailyCap(ctx, entity, c.limits, triggered, rows, now)
	if err != nil {
		return 0, w.entityError(entity.ID, err)
	}
	// Triggered rows are stored before anything is queued, so a rule never
	// notifies without the row that starts its cooldown.
	persistCtx := context.WithoutCancel(ctx)
	if len(logs) > 0 {
		if err := w.deps.ExecutionLogs.Append(persistCtx, logs); err != nil {
			return 0, w.entityError(entity.ID, fmt.Errorf("append execution logs: %w", err))
		}
	}

	queued := 0
	var notifyErr error
	for _, res := range pending {
		row := rows[res.RuleID]
		n, err := w.queue(ctx, entity, c.limits, senseData, res)
		if err != nil {
			row.Triggered = false
			row.EvaluationResult.Reason = rules.ReasonQueueFailed
			row.EvaluationResult.Error = err.Error()
			notifyErr = errors.Join(notifyErr, err)
			log.Error("failed to queue notification",
				logger.Uint64("rule_id", uint64(res.RuleID)),
				logger.Error(err))
		} else {
			row.EvaluationResult.NotificationID = n.ID
			queued++
		}
		if err := w.deps.ExecutionLogs.UpdateResult(persistCtx, row); err != nil {
			log.Warn("failed to update execution log",
				logger.Uint64("rule_id", uint64(res.RuleID)),
				logger.Error(err))
		}
		if n != nil {
			w.dispatch(ctx, n.ID)
		}
	}

	for _, row := range logs {
		w.deps.Metrics.RecordRuleResult(row.EvaluationResult.Reason)
	}
	if err := w.deps.Entities.UpdateLastEvaluation(persistCtx, entity.ID, now); err != nil {
		return queued, w.entityError(entity.ID, fmt.Errorf("update last evaluation: %w", err))
	}
	if notifyErr != nil {
		return queued, w.entityError(entity.ID, notifyErr)
	}
	return queued, nil
}

// applyDailyCap returns the triggered results that fit under the user's
// daily notification cap. The rest are logged as rate limited.
func (w *Worker) applyDailyCap(ctx context.Context, entity *entities.Entity, limits tiers.Limits, triggered []rules.Result, rows map[uint]*entities.RuleExecutionLog, now time.Time) ([]rules.Result, error) {
	if limits.MaxNotificationsPerDay == tiers.Unlimited || len(triggered) == 0 {
		return triggered, nil
	}
	sent, err := w.deps.Notifications.CountCreatedSince(ctx, entity.UserID, startOfDayUTC(now))
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	pending := make([]rules.Result, 0, len(triggered))
	for _, res := range triggered {
		if limits.DailyCapReached(sent) {
			row := rows[res.RuleID]
			row.Triggered = false
			row.EvaluationResult.Reason = rules.ReasonRateLimited
			w.log.Debug("daily notification cap reached",
				logger.Uint64("entity_id", uint64(entity.ID)),
				logger.Uint64("rule_id", uint64(res.RuleID)))
			continue
		}
		sent++
		pending = append(pending, res)
	}
	return pending, nil
}

func (w *Worker) queue(ctx context.Context, entity *entities.Entity, limits tiers.Limits, senseData map[string]any, res rules.Result) (*entities.QueuedNotification, error) {
	ruleID := res.RuleID
	return w.deps.Notifier.Queue(ctx, notification.Payload{
		EntityID:       entity.ID,
		UserID:         entity.UserID,
		RuleID:         &ruleID,
		Message:        res.Message,
		Channels:       limits.FilterChannels(res.Channels),
		Priority:       res.Priority,
		SensorSnapshot: senseData,
	})
}

// dispatch submits delivery of a queued notification. Without a dispatcher,
// or when submission fails, the notification stays QUEUED for the queue
// processor.
func (w *Worker) dispatch(ctx context.Context, id string) {
	if w.deps.Dispatcher == nil {
		return
	}
	err := w.deps.Dispatcher.Submit(ctx, "process-notification", func(ctx context.Context) {
		if _, err := w.deps.Notifier.ProcessNotification(ctx, id); err != nil {
			w.log.Warn("notification processing failed",
				logger.String("notification_id", id),
				logger.Error(err))
		}
	})
	if err != nil {
		w.log.Warn("could not dispatch notification, leaving it queued",
			logger.String("notification_id", id),
			logger.Error(err))
	}
}

func (w *Worker) logRow(entityID uint, senseData map[string]any, res rules.Result, ms int64) *entities.RuleExecutionLog {
	row := &entities.RuleExecutionLog{
		RuleID:       res.RuleID,
		EntityID:     entityID,
		Triggered:    res.Triggered,
		SensorValues: senseData,
		EvaluationResult: entities.EvaluationResult{
			Reason:   res.Reason,
			Message:  res.Message,
			Priority: res.Priority,
		},
		ExecutionTimeMs: ms,
	}
	if res.Err != nil {
		row.EvaluationResult.Error = res.Err.Error()
	}
	return row
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (w *Worker) entityError(entityID uint, err error) error {
	return errors.New(err).
		Component("evaluator").
		Category(errors.CategoryEvaluation).
		Context("entity_id", entityID).
		Build()
}

func (w *Worker) jobError(err error, jobID string) error {
	return errors.New(err).
		Component("evaluator").
		Category(errors.CategoryJob).
		Context("job_type", jobs.TypeRuleEvaluation).
		Context("job_id", jobID).
		Build()
}
