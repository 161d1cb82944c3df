package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/observability/metrics"
)

const (
	defaultQueueBatchSize = 100
	defaultConcurrency    = 10
	defaultMaxRetries     = 3
	defaultExpireAfter    = 24 * time.Hour
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Notifications repository.NotificationRepository
	DeliveryLogs  repository.DeliveryLogRepository
	Preferences   repository.PreferenceRepository
	Router        *Router
	Metrics       *metrics.Metrics
	Logger        logger.Logger

	QueueBatchSize int
	Concurrency    int
	MaxRetries     int
	ExpireAfter    time.Duration

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Service queues notifications and delivers them through the Router.
type Service struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryLogRepository
	preferences   repository.PreferenceRepository
	router        *Router
	metrics       *metrics.Metrics
	log           logger.Logger
	now           func() time.Time

	queueBatchSize int
	concurrency    int
	maxRetries     int
	expireAfter    time.Duration

	inflight sync.Map
}

// NewService creates a Service from config, filling unset limits with
// defaults.
func NewService(config *ServiceConfig) *Service {
	s := &Service{
		notifications:  config.Notifications,
		deliveries:     config.DeliveryLogs,
		preferences:    config.Preferences,
		router:         config.Router,
		metrics:        config.Metrics,
		log:            config.Logger,
		now:            config.Clock,
		queueBatchSize: config.QueueBatchSize,
		concurrency:    config.Concurrency,
		maxRetries:     config.MaxRetries,
		expireAfter:    config.ExpireAfter,
	}
	if s.router == nil {
		s.router = NewRouter()
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	s.log = s.log.Module("notification")
	if s.now == nil {
		s.now = time.Now
	}
	if s.queueBatchSize <= 0 {
		s.queueBatchSize = defaultQueueBatchSize
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	if s.maxRetries < 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.expireAfter <= 0 {
		s.expireAfter = defaultExpireAfter
	}
	return s
}

// Router returns the service's channel router.
func (s *Service) Router() *Router { return s.router }

// Queue stores a new QUEUED notification. The first channel is the primary
// delivery channel.
func (s *Service) Queue(ctx context.Context, p Payload) (*entities.QueuedNotification, error) {
	if len(p.Channels) == 0 {
		return nil, errors.Newf("notification for entity %d has no channels", p.EntityID).
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	if p.UserID == "" {
		return nil, errors.Newf("notification for entity %d has no user", p.EntityID).
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}

	n := &entities.QueuedNotification{
		ID:              uuid.NewString(),
		EntityID:        p.EntityID,
		UserID:          p.UserID,
		RuleID:          p.RuleID,
		Message:         p.Message,
		Status:          entities.StatusQueued,
		DeliveryChannel: p.Channels[0],
		Channels:        p.Channels,
		Priority:        p.Priority,
		SensorSnapshot:  p.SensorSnapshot,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryDatabase).
			Context("entity_id", p.EntityID).
			Build()
	}
	s.metrics.RecordNotificationStatus(string(entities.StatusQueued))
	s.log.Debug("notification queued",
		logger.String("notification_id", n.ID),
		logger.Uint64("entity_id", uint64(n.EntityID)),
		logger.Int("channels", len(n.Channels)))
	return n, nil
}

// ProcessNotification delivers a QUEUED notification on each of its
// channels. Anything not exactly QUEUED, or already being processed in this
// process, is skipped.
func (s *Service) ProcessNotification(ctx context.Context, id string) (*ProcessResult, error) {
	if _, busy := s.inflight.LoadOrStore(id, struct{}{}); busy {
		return &ProcessResult{NotificationID: id, Status: entities.StatusQueued, Skipped: true}, nil
	}
	defer s.inflight.Delete(id)

	n, err := s.notifications.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &ProcessResult{NotificationID: id, Status: n.Status}
	if n.Status != entities.StatusQueued {
		result.Skipped = true
		return result, nil
	}

	log := s.log.With(logger.String("notification_id", id))
	attempt := n.RetryCount + 1
	retryable := false
	var failures []string

	for _, channel := range channelsOf(n) {
		if err := ctx.Err(); err != nil {
			if result.Delivered == 0 {
				return nil, err
			}
			// Delivered channels must not be resent by the next queue pass.
			log.Warn("processing interrupted after a delivery, finishing status",
				logger.Int("delivered", result.Delivered),
				logger.Error(err))
			break
		}

		check, err := s.CheckDeliveryConstraints(ctx, n, channel)
		if err != nil {
			log.Warn("constraint check failed, skipping channel",
				logger.String("channel", string(channel)),
				logger.Error(err))
			check = ConstraintResult{Reason: "constraint check failed: " + err.Error()}
		}
		if !check.Allowed {
			result.Blocked++
			s.metrics.RecordDelivery(string(channel), "blocked", 0)
			log.Debug("channel blocked",
				logger.String("channel", string(channel)),
				logger.String("reason", check.Reason))
			s.writeLog(ctx, &entities.DeliveryLog{
				NotificationID: id,
				UserID:         n.UserID,
				EntityID:       n.EntityID,
				Channel:        channel,
				Attempt:        attempt,
				Blocked:        true,
				Reason:         check.Reason,
			})
			continue
		}

		started := time.Now()
		res := s.router.Deliver(ctx, channel, n)
		result.Attempted++

		outcome := "failed"
		if res.Success {
			outcome = "delivered"
			result.Delivered++
		} else {
			retryable = retryable || res.Retryable
			failures = append(failures, fmt.Sprintf("%s: %s", channel, res.Error))
			log.Warn("channel delivery failed",
				logger.String("channel", string(channel)),
				logger.String("error", res.Error),
				logger.Bool("retryable", res.Retryable))
		}
		s.metrics.RecordDelivery(string(channel), outcome, time.Since(started))
		s.writeLog(ctx, &entities.DeliveryLog{
			NotificationID: id,
			UserID:         n.UserID,
			EntityID:       n.EntityID,
			Channel:        channel,
			Attempt:        attempt,
			Success:        res.Success,
			ExternalID:     res.ExternalID,
			Error:          res.Error,
			Retryable:      res.Retryable,
		})
	}

	if result.Delivered > 0 {
		ctx = context.WithoutCancel(ctx)
	}
	now := s.now().UTC()
	switch {
	case result.Delivered > 0:
		err = s.transition(ctx, id, entities.StatusDelivered, map[string]any{"delivered_at": now})
		result.Status = entities.StatusDelivered
	case result.Attempted == 0:
		// Every channel was blocked; ExpireStale eventually retires it.
		return result, nil
	case retryable && n.RetryCount < s.maxRetries:
		err = s.notifications.UpdateQueued(ctx, id, map[string]any{
			"retry_count":   n.RetryCount + 1,
			"error_message": strings.Join(failures, "; "),
		})
		result.Status = entities.StatusQueued
	default:
		err = s.transition(ctx, id, entities.StatusFailed, map[string]any{
			"error_message": strings.Join(failures, "; "),
		})
		result.Status = entities.StatusFailed
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) transition(ctx context.Context, id string, to entities.NotificationStatus, updates map[string]any) error {
	if err := s.notifications.Transition(ctx, id, entities.StatusQueued, to, updates); err != nil {
		return err
	}
	s.metrics.RecordNotificationStatus(string(to))
	return nil
}

func (s *Service) writeLog(ctx context.Context, entry *entities.DeliveryLog) {
	entry.CreatedAt = s.now().UTC()
	if err := s.deliveries.Create(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Error("failed to write delivery log",
			logger.String("notification_id", entry.NotificationID),
			logger.String("channel", string(entry.Channel)),
			logger.Error(err))
	}
}

// channelsOf returns the notification's channels without duplicates, falling
// back to the primary channel.
func channelsOf(n *entities.QueuedNotification) []entities.Channel {
	if len(n.Channels) == 0 {
		return []entities.Channel{n.DeliveryChannel}
	}
	seen := make(map[entities.Channel]struct{}, len(n.Channels))
	out := make([]entities.Channel, 0, len(n.Channels))
	for _, ch := range n.Channels {
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// MarkAsRead moves a DELIVERED notification to READ. Any other status yields
// ErrInvalidTransition.
func (s *Service) MarkAsRead(ctx context.Context, id string) error {
	n, err := s.notifications.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(n.Status, entities.StatusRead) {
		return s.invalidTransition(id, n.Status, entities.StatusRead)
	}

	err = s.notifications.Transition(ctx, id, entities.StatusDelivered, entities.StatusRead,
		map[string]any{"read_at": s.now().UTC()})
	if errors.Is(err, repository.ErrStatusConflict) {
		return s.invalidTransition(id, n.Status, entities.StatusRead)
	}
	if err != nil {
		return err
	}
	s.metrics.RecordNotificationStatus(string(entities.StatusRead))
	return nil
}

// MarkAllAsRead marks each DELIVERED notification in ids as READ and returns
// how many moved. Notifications in other states are skipped.
func (s *Service) MarkAllAsRead(ctx context.Context, ids []string) (int, error) {
	marked := 0
	for _, id := range ids {
		err := s.MarkAsRead(ctx, id)
		switch {
		case err == nil:
			marked++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, repository.ErrNotificationNotFound):
		default:
			return marked, err
		}
	}
	return marked, nil
}

func (s *Service) invalidTransition(id string, from, to entities.NotificationStatus) error {
	return errors.New(ErrInvalidTransition).
		Component("notification").
		Category(errors.CategoryConflict).
		Context("notification_id", id).
		Context("from", string(from)).
		Context("to", string(to)).
		Build()
}

// ProcessQueue processes a batch of the oldest QUEUED notifications
// concurrently. Per-notification failures are collected, never returned.
func (s *Service) ProcessQueue(ctx context.Context) (*QueueResult, error) {
	queued, err := s.notifications.ListQueued(ctx, s.queueBatchSize)
	if err != nil {
		return nil, err
	}

	result := &QueueResult{Processed: len(queued)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range queued {
		id := queued[i].ID
		g.Go(func() error {
			res, err := s.ProcessNotification(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			case res.Status == entities.StatusDelivered:
				result.Delivered++
			case res.Status == entities.StatusFailed:
				result.Failed++
			default:
				result.Pending++
			}
			return nil
		})
	}
	_ = g.Wait()

	if result.Processed > 0 {
		s.log.Info("notification queue processed",
			logger.Int("processed", result.Processed),
			logger.Int("delivered", result.Delivered),
			logger.Int("failed", result.Failed),
			logger.Int("pending", result.Pending))
	}
	return result, nil
}

// ExpireStale moves QUEUED notifications older than olderThan to EXPIRED.
// A non-positive olderThan uses the configured expiry.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = s.expireAfter
	}
	now := s.now().UTC()
	n, err := s.notifications.ExpireQueuedBefore(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired stale notifications", logger.Int64("count", n))
		for range n {
			s.metrics.RecordNotificationStatus(string(entities.StatusExpired))
		}
	}
	return n, nil
}
