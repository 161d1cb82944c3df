package evaluator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/observability/metrics"
)

const (
	defaultDispatchWorkers = 4
	defaultDispatchBuffer  = 256
	defaultTaskTimeout     = 2 * time.Minute
)

// ErrDispatcherStopped is returned by Submit after Stop.
var ErrDispatcherStopped = errors.NewStd("dispatcher stopped")

// Task is a unit of follow-on work run by the Dispatcher.
type Task func(ctx context.Context)

type queuedTask struct {
	ctx  context.Context
	name string
	fn   Task
}

// DispatcherStats is a point-in-time view of the dispatcher counters.
type DispatcherStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
}

// Dispatcher runs submitted tasks on a fixed pool of goroutines fed by a
// bounded queue. Submit blocks when the queue is full; Stop drains it.
type Dispatcher struct {
	tasks       chan queuedTask
	taskTimeout time.Duration
	metrics     *metrics.Metrics
	log         logger.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	stopOnce  sync.Once
	completed atomic.Int64
	panics    atomic.Int64
}

// DispatcherConfig sizes a Dispatcher. Zero values take defaults.
type DispatcherConfig struct {
	Workers     int
	Buffer      int
	TaskTimeout time.Duration
}

// NewDispatcher creates a Dispatcher and starts its workers.
func NewDispatcher(cfg DispatcherConfig, m *metrics.Metrics, log logger.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultDispatchWorkers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultDispatchBuffer
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if log == nil {
		log = logger.Discard()
	}

	d := &Dispatcher{
		tasks:       make(chan queuedTask, cfg.Buffer),
		taskTimeout: cfg.TaskTimeout,
		metrics:     m,
		log:         log.Module("dispatcher"),
	}
	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.processLoop()
	}
	return d
}

// Submit enqueues fn. It blocks while the queue is full and gives up when ctx
// is done, returning an error that wraps the context error. The task itself
// runs detached from ctx cancellation but keeps its values.
func (d *Dispatcher) Submit(ctx context.Context, name string, fn Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	task := queuedTask{ctx: context.WithoutCancel(ctx), name: name, fn: fn}
	select {
	case d.tasks <- task:
		d.metrics.SetDispatchQueueDepth(len(d.tasks))
		return nil
	default:
	}

	d.log.Warn("dispatch queue full, waiting",
		logger.String("task", name),
		logger.Int("capacity", cap(d.tasks)))

	select {
	case d.tasks <- task:
		d.metrics.SetDispatchQueueDepth(len(d.tasks))
		return nil
	case <-ctx.Done():
		return errors.New(fmt.Errorf("dispatch queue full: %w", ctx.Err())).
			Component("evaluator").
			Category(errors.CategoryTimeout).
			Context("task", name).
			Build()
	}
}

// Stop refuses new tasks, runs everything already queued and waits for the
// workers to exit. Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.tasks)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Pending:   len(d.tasks),
		Completed: d.completed.Load(),
		Panics:    d.panics.Load(),
	}
}

func (d *Dispatcher) processLoop() {
	defer d.wg.Done()
	for task := range d.tasks {
		d.metrics.SetDispatchQueueDepth(len(d.tasks))
		d.safeRun(task)
	}
}

// safeRun runs a task with panic recovery so one bad task cannot take a
// worker down.
func (d *Dispatcher) safeRun(task queuedTask) {
	ctx, cancel := context.WithTimeout(task.ctx, d.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.metrics.RecordDispatchPanic()
			d.log.Error("dispatched task panicked",
				logger.String("task", task.name),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
		d.completed.Add(1)
	}()
	task.fn(ctx)
}
