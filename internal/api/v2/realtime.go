package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/auralink/proactive/internal/logger"
)

// initRealtimeRoutes registers the websocket endpoint that streams proactive
// message and unread count events to a user's clients.
func (c *Controller) initRealtimeRoutes() {
	if c.deps.Hub == nil {
		return
	}
	c.Group.GET("/ws", c.HandleRealtimeWS, c.authMiddleware)
}

// HandleRealtimeWS upgrades the connection and serves it until the client
// goes away.
func (c *Controller) HandleRealtimeWS(ctx echo.Context) error {
	userID := ctx.QueryParam("user_id")
	if userID == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}

	if err := c.deps.Hub.ServeWS(ctx.Response(), ctx.Request(), userID); err != nil {
		// The upgrader has already written the HTTP error response.
		c.logger.Debug("websocket upgrade failed",
			logger.String("user_id", userID),
			logger.Error(err))
	}
	return nil
}
