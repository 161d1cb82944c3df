package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/logger"
)

// maxBulkRead bounds the ids accepted by one bulk read request.
const maxBulkRead = 500

// initNotificationRoutes registers notification management endpoints.
func (c *Controller) initNotificationRoutes() {
	if c.deps.Notifications == nil || c.deps.Queue == nil {
		return
	}

	group := c.Group.Group("/notifications", c.authMiddleware)
	group.GET("", c.GetNotifications)
	group.GET("/:id", c.GetNotification)
	group.PUT("/:id/read", c.MarkNotificationRead)
	group.POST("/read", c.MarkNotificationsRead)
	group.POST("/:id/process", c.ProcessNotification)
	group.POST("/process-queue", c.ProcessQueue)
	group.POST("/expire", c.ExpireNotifications)
}

// GetNotifications lists notifications with optional filtering.
func (c *Controller) GetNotifications(ctx echo.Context) error {
	limit, offset := paging(ctx)
	filter := repository.NotificationFilter{
		UserID:   ctx.QueryParam("user_id"),
		EntityID: parseUintQuery(ctx, "entity_id"),
		Status:   entities.NotificationStatus(ctx.QueryParam("status")),
		Limit:    limit,
		Offset:   offset,
	}

	list, total, err := c.deps.Queue.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to retrieve notifications", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"notifications": list,
		"count":         len(list),
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// GetNotification returns one notification with its delivery log.
func (c *Controller) GetNotification(ctx echo.Context) error {
	id := ctx.Param("id")
	n, err := c.deps.Queue.Get(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to retrieve notification", http.StatusInternalServerError)
	}

	body := map[string]any{"notification": n}
	if c.deps.DeliveryLogs != nil {
		logs, err := c.deps.DeliveryLogs.ListByNotification(ctx.Request().Context(), id)
		if err != nil {
			c.logger.Warn("failed to load delivery logs",
				logger.String("notification_id", id),
				logger.Error(err))
		} else {
			body["deliveries"] = logs
		}
	}
	return ctx.JSON(http.StatusOK, body)
}

// MarkNotificationRead moves a DELIVERED notification to READ.
func (c *Controller) MarkNotificationRead(ctx echo.Context) error {
	id := ctx.Param("id")
	if err := c.deps.Notifications.MarkAsRead(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to mark notification as read", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"message": "Notification marked as read",
	})
}

type bulkReadRequest struct {
	IDs []string `json:"ids"`
}

// MarkNotificationsRead marks a batch of notifications READ. Notifications
// that are not DELIVERED are skipped.
func (c *Controller) MarkNotificationsRead(ctx echo.Context) error {
	var req bulkReadRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if len(req.IDs) == 0 || len(req.IDs) > maxBulkRead {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "ids must contain between 1 and 500 notification IDs",
		})
	}

	marked, err := c.deps.Notifications.MarkAllAsRead(ctx.Request().Context(), req.IDs)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to mark notifications as read", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]int{
		"marked":    marked,
		"requested": len(req.IDs),
	})
}

// ProcessNotification attempts delivery of one QUEUED notification now.
func (c *Controller) ProcessNotification(ctx echo.Context) error {
	res, err := c.deps.Notifications.ProcessNotification(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to process notification", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, res)
}

// ProcessQueue runs one pass of the queue processor.
func (c *Controller) ProcessQueue(ctx echo.Context) error {
	res, err := c.deps.Notifications.ProcessQueue(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to process notification queue", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, res)
}

// ExpireNotifications expires QUEUED notifications older than the
// older_than duration, or the configured expiry when omitted.
func (c *Controller) ExpireNotifications(ctx echo.Context) error {
	var olderThan time.Duration
	if v := ctx.QueryParam("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid older_than duration"})
		}
		olderThan = d
	}

	expired, err := c.deps.Notifications.ExpireStale(ctx.Request().Context(), olderThan)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to expire notifications", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]int64{"expired": expired})
}
