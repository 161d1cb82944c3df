package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/auralink/proactive/internal/logger"
)

// initConversationRoutes registers in-app conversation endpoints.
func (c *Controller) initConversationRoutes() {
	if c.deps.Conversations == nil {
		return
	}
	group := c.Group.Group("/conversations", c.authMiddleware)
	group.PUT("/:id/read", c.MarkConversationRead)
}

// MarkConversationRead clears a conversation's unread proactive messages and
// marks the notifications behind them READ.
func (c *Controller) MarkConversationRead(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid conversation ID"})
	}

	res, err := c.deps.Conversations.MarkRead(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to mark conversation as read", http.StatusInternalServerError)
	}

	marked := 0
	if c.deps.Notifications != nil && len(res.NotificationIDs) > 0 {
		marked, err = c.deps.Notifications.MarkAllAsRead(ctx.Request().Context(), res.NotificationIDs)
		if err != nil {
			c.logger.Warn("failed to mark conversation notifications read",
				logger.Uint64("conversation_id", uint64(id)),
				logger.Error(err))
		}
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"conversation_id":      id,
		"entity_id":            res.EntityID,
		"cleared":              res.PreviousUnread,
		"notifications_marked": marked,
	})
}
