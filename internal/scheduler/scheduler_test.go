package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/auralink/proactive/internal/evaluator"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
)

type countingEvaluator struct {
	calls atomic.Int64
	err   error
	panic bool
}

func (c *countingEvaluator) Execute(ctx context.Context) (*evaluator.Result, error) {
	n := c.calls.Add(1)
	if c.panic && n == 1 {
		panic("first run explodes")
	}
	if c.err != nil {
		return nil, c.err
	}
	return &evaluator.Result{Processed: 1, Succeeded: 1}, nil
}

type countingQueue struct {
	processed atomic.Int64
	expired   atomic.Int64
}

func (q *countingQueue) ProcessQueue(context.Context) (*notification.QueueResult, error) {
	q.processed.Add(1)
	return &notification.QueueResult{}, nil
}

func (q *countingQueue) ExpireStale(_ context.Context, olderThan time.Duration) (int64, error) {
	q.expired.Add(1)
	return 0, nil
}

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (p *recordingPruner) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	return 3, nil
}

func (p *recordingPruner) first() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cutoffs) == 0 {
		return time.Time{}, false
	}
	return p.cutoffs[0], true
}

func TestScheduler_RunsEveryLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	ev := &countingEvaluator{}
	queue := &countingQueue{}
	pruner := &recordingPruner{}
	s := New(Config{
		EvaluationInterval: 10 * time.Millisecond,
		ProcessInterval:    10 * time.Millisecond,
		ExpireInterval:     10 * time.Millisecond,
		CleanupInterval:    10 * time.Millisecond,
		RetentionDays:      30,
	}, ev, queue, pruner, logger.Discard())
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Start(t.Context())
	assert.Eventually(t, func() bool {
		_, pruned := pruner.first()
		return ev.calls.Load() >= 2 && queue.processed.Load() >= 2 && queue.expired.Load() >= 1 && pruned
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	cutoff, _ := pruner.first()
	assert.Equal(t, fixed.AddDate(0, 0, -30), cutoff)
}

func TestScheduler_RunOnStartAndSurvivesPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	ev := &countingEvaluator{panic: true}
	s := New(Config{EvaluationInterval: 10 * time.Millisecond, RunOnStart: true}, ev, nil, nil, logger.Discard())
	s.Start(t.Context())
	assert.Eventually(t, func() bool { return ev.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_DisabledLoopsDoNotRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	ev := &countingEvaluator{}
	queue := &countingQueue{}
	pruner := &recordingPruner{}
	s := New(Config{
		EvaluationInterval: 0,
		ProcessInterval:    -1,
		ExpireInterval:     -1,
		CleanupInterval:    5 * time.Millisecond,
		RetentionDays:      0,
	}, ev, queue, pruner, logger.Discard())

	s.Start(t.Context())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.Zero(t, ev.calls.Load())
	assert.Zero(t, queue.processed.Load())
	assert.Zero(t, queue.expired.Load())
	_, pruned := pruner.first()
	assert.False(t, pruned)
}

func TestScheduler_StopIsIdempotentAndRestartable(t *testing.T) {
	defer goleak.VerifyNone(t)

	ev := &countingEvaluator{err: evaluator.ErrRunInProgress}
	s := New(Config{EvaluationInterval: 5 * time.Millisecond}, ev, nil, nil, nil)
	s.Stop()

	s.Start(t.Context())
	s.Start(t.Context())
	require.Eventually(t, func() bool { return ev.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	calls := ev.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, ev.calls.Load(), "no runs after Stop")
}
