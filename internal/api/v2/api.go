// Package api exposes the proactive pipeline over HTTP: manual job triggers,
// notification and preference management, diagnostics and the realtime
// websocket.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/evaluator"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
	"github.com/auralink/proactive/internal/observability/metrics"
	"github.com/auralink/proactive/internal/realtime"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	rateLimitWindow  = time.Minute
)

// JobRunner runs a rule evaluation cycle on demand.
type JobRunner interface {
	Execute(ctx context.Context) (*evaluator.Result, error)
}

// JobLister reads background job records.
type JobLister interface {
	Get(ctx context.Context, id string) (*entities.BackgroundJob, error)
	List(ctx context.Context, filter repository.JobFilter) ([]entities.BackgroundJob, error)
}

// NotificationService is the notification service surface used by handlers.
type NotificationService interface {
	ProcessNotification(ctx context.Context, id string) (*notification.ProcessResult, error)
	ProcessQueue(ctx context.Context) (*notification.QueueResult, error)
	ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error)
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context, ids []string) (int, error)
	ResolvePreference(ctx context.Context, userID string, entityID uint, channel entities.Channel) (*entities.NotificationPreference, error)
}

// ConversationReader clears unread proactive messages of a conversation.
type ConversationReader interface {
	MarkRead(ctx context.Context, conversationID uint) (*repository.MarkReadResult, error)
}

// Deps are the collaborators the handlers need. Nil members disable the
// routes that depend on them.
type Deps struct {
	Worker        JobRunner
	Jobs          JobLister
	Notifications NotificationService
	Queue         repository.NotificationRepository
	DeliveryLogs  repository.DeliveryLogRepository
	Preferences   repository.PreferenceRepository
	ExecutionLogs repository.ExecutionLogRepository
	Conversations ConversationReader
	Hub           *realtime.Hub
	Metrics       *metrics.Metrics
}

// Controller owns the /api/v2 route group.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	deps   Deps
	logger logger.Logger
}

// New registers every route on e and returns the controller.
func New(e *echo.Echo, settings *conf.Settings, deps Deps, log logger.Logger) *Controller {
	if log == nil {
		log = logger.Discard()
	}
	c := &Controller{
		Echo:     e,
		Settings: settings,
		deps:     deps,
		logger:   log.Module("api"),
	}

	var mw []echo.MiddlewareFunc
	if settings != nil && settings.API.RateLimit > 0 {
		mw = append(mw, c.rateLimiter(settings.API.RateLimit))
	}
	c.Group = e.Group("/api/v2", mw...)

	c.Group.GET("/health", c.Health)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	c.initJobRoutes()
	c.initNotificationRoutes()
	c.initConversationRoutes()
	c.initPreferenceRoutes()
	c.initExecutionLogRoutes()
	c.initRealtimeRoutes()
	c.initRuleSchemaRoutes()
	return c
}

// Health reports liveness.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// rateLimiter limits requests per client IP.
func (c *Controller) rateLimiter(perSecond float64) echo.MiddlewareFunc {
	burst := max(int(perSecond*2), 1)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(perSecond),
				Burst:     burst,
				ExpiresIn: rateLimitWindow,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{"error": "Unable to identify client"})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many requests, please wait before trying again",
			})
		},
	})
}

// authMiddleware enforces the configured API token. The token is read from
// the Authorization bearer header, or from the token query parameter for
// websocket clients that cannot set headers. Without a configured token every
// request passes.
func (c *Controller) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if c.Settings == nil || c.Settings.API.Token == "" {
			return next(ctx)
		}
		presented := ""
		if h := ctx.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
			presented = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		} else {
			presented = ctx.QueryParam("token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(c.Settings.API.Token)) != 1 {
			return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(ctx)
	}
}

// HandleError maps err to a JSON error response. Known sentinels and error
// categories pick the status; fallback is used otherwise.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, fallback int) error {
	code := fallback
	switch {
	case errors.Is(err, repository.ErrNotificationNotFound),
		errors.Is(err, repository.ErrConversationNotFound),
		errors.Is(err, repository.ErrEntityNotFound),
		errors.Is(err, repository.ErrPreferenceNotFound),
		errors.Is(err, repository.ErrJobNotFound):
		code = http.StatusNotFound
	case errors.Is(err, notification.ErrInvalidTransition),
		errors.IsCategory(err, errors.CategoryConflict):
		code = http.StatusConflict
	case errors.IsCategory(err, errors.CategoryValidation):
		code = http.StatusBadRequest
	}

	if code >= http.StatusInternalServerError {
		c.logger.Error(message,
			logger.String("path", ctx.Path()),
			logger.Error(err))
	}
	return ctx.JSON(code, map[string]string{
		"error":   message,
		"message": err.Error(),
	})
}

func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, errors.Newf("invalid %s", name).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(v), nil
}

func parseUintQuery(ctx echo.Context, name string) uint {
	v, err := strconv.ParseUint(ctx.QueryParam(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

// paging reads limit and offset, clamping limit to maxPageLimit.
func paging(ctx echo.Context) (limit, offset int) {
	limit = defaultPageLimit
	if v, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && v > 0 {
		limit = min(v, maxPageLimit)
	}
	if v, err := strconv.Atoi(ctx.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func unavailable(ctx echo.Context, what string) error {
	return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
		"error": what + " not available",
	})
}
