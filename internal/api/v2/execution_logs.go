package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/auralink/proactive/internal/datastore/repository"
)

// initExecutionLogRoutes registers the rule execution log endpoint.
func (c *Controller) initExecutionLogRoutes() {
	if c.deps.ExecutionLogs == nil {
		return
	}
	c.Group.GET("/execution-logs", c.ListExecutionLogs, c.authMiddleware)
}

// ListExecutionLogs returns rule execution log rows, newest first.
func (c *Controller) ListExecutionLogs(ctx echo.Context) error {
	limit, offset := paging(ctx)
	filter := repository.ExecutionLogFilter{
		RuleID:   parseUintQuery(ctx, "rule_id"),
		EntityID: parseUintQuery(ctx, "entity_id"),
		Limit:    limit,
		Offset:   offset,
	}
	if v := ctx.QueryParam("triggered"); v != "" {
		triggered, err := strconv.ParseBool(v)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid triggered value"})
		}
		filter.Triggered = &triggered
	}

	logs, total, err := c.deps.ExecutionLogs.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list execution logs", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"logs":   logs,
		"count":  len(logs),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
