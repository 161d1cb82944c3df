// Package scheduler drives the periodic background work: rule evaluation,
// queue processing, notification expiry and execution log retention.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/evaluator"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
)

const (
	defaultExpireInterval  = 5 * time.Minute
	defaultCleanupInterval = time.Hour
	cleanupTimeout         = 5 * time.Minute
)

// Evaluator runs one rule evaluation cycle.
type Evaluator interface {
	Execute(ctx context.Context) (*evaluator.Result, error)
}

// QueueProcessor retries and expires queued notifications.
type QueueProcessor interface {
	ProcessQueue(ctx context.Context) (*notification.QueueResult, error)
	ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// LogPruner deletes execution log rows older than a cutoff.
type LogPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Config sets the loop intervals. A zero or negative interval disables its
// loop; RetentionDays <= 0 disables log cleanup.
type Config struct {
	EvaluationInterval time.Duration
	ProcessInterval    time.Duration
	ExpireInterval     time.Duration
	CleanupInterval    time.Duration
	RetentionDays      int
	// RunOnStart runs an evaluation immediately instead of waiting for the
	// first tick.
	RunOnStart bool
}

// Scheduler owns the background loops. Each loop runs its job serially, so
// a slow run delays the next tick instead of overlapping it.
type Scheduler struct {
	cfg       Config
	evaluator Evaluator
	queue     QueueProcessor
	pruner    LogPruner
	log       logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Any of evaluator, queue or pruner may be nil to
// skip the loops that need it.
func New(cfg Config, ev Evaluator, queue QueueProcessor, pruner LogPruner, log logger.Logger) *Scheduler {
	if cfg.ExpireInterval == 0 {
		cfg.ExpireInterval = defaultExpireInterval
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		cfg:       cfg,
		evaluator: ev,
		queue:     queue,
		pruner:    pruner,
		log:       log.Module("scheduler"),
		now:       time.Now,
	}
}

// Start launches the loops. Calling Start on a running scheduler restarts it.
func (s *Scheduler) Start(ctx context.Context) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, s.cancel = context.WithCancel(ctx)

	if s.evaluator != nil && s.cfg.EvaluationInterval > 0 {
		s.loop(ctx, "evaluation", s.cfg.EvaluationInterval, s.cfg.RunOnStart, s.runEvaluation)
	}
	if s.queue != nil && s.cfg.ProcessInterval > 0 {
		s.loop(ctx, "queue", s.cfg.ProcessInterval, false, s.runQueue)
	}
	if s.queue != nil && s.cfg.ExpireInterval > 0 {
		s.loop(ctx, "expiry", s.cfg.ExpireInterval, false, s.runExpiry)
	}
	if s.pruner != nil && s.cfg.RetentionDays > 0 && s.cfg.CleanupInterval > 0 {
		s.loop(ctx, "retention", s.cfg.CleanupInterval, false, s.runCleanup)
	}
	s.log.Info("scheduler started",
		logger.Duration("evaluation_interval", s.cfg.EvaluationInterval),
		logger.Duration("process_interval", s.cfg.ProcessInterval),
		logger.Int("retention_days", s.cfg.RetentionDays))
}

// Stop cancels in-flight runs and waits for every loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, immediate bool, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if immediate {
			s.safeRun(ctx, name, run)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.safeRun(ctx, name, run)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// safeRun keeps a panicking job from killing its loop.
func (s *Scheduler) safeRun(ctx context.Context, name string, run func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked",
				logger.String("loop", name),
				logger.Any("panic", r))
		}
	}()
	run(ctx)
}

func (s *Scheduler) runEvaluation(ctx context.Context) {
	res, err := s.evaluator.Execute(ctx)
	switch {
	case errors.Is(err, evaluator.ErrRunInProgress):
		s.log.Debug("evaluation skipped, another run holds the lease")
	case err != nil:
		s.log.Error("evaluation run failed", logger.Error(err))
	case res.Failed > 0:
		s.log.Warn("evaluation finished with failures",
			logger.Int("failed", res.Failed),
			logger.Int("processed", res.Processed))
	}
}

func (s *Scheduler) runQueue(ctx context.Context) {
	res, err := s.queue.ProcessQueue(ctx)
	if err != nil {
		s.log.Error("queue processing failed", logger.Error(err))
		return
	}
	if res.Processed > 0 {
		s.log.Debug("queue processed",
			logger.Int("processed", res.Processed),
			logger.Int("delivered", res.Delivered),
			logger.Int("failed", res.Failed),
			logger.Int("pending", res.Pending))
	}
}

func (s *Scheduler) runExpiry(ctx context.Context) {
	expired, err := s.queue.ExpireStale(ctx, 0)
	if err != nil {
		s.log.Error("notification expiry failed", logger.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("expired stale notifications", logger.Int64("expired", expired))
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()
	deleted, err := s.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("execution log cleanup failed", logger.Error(err))
		return
	}
	if deleted > 0 {
		s.log.Info("execution log cleanup completed",
			logger.Int64("deleted", deleted),
			logger.Int("retention_days", s.cfg.RetentionDays))
	}
}
