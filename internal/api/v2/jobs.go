package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/evaluator"
	"github.com/auralink/proactive/internal/jobs"
	"github.com/auralink/proactive/internal/logger"
)

// initJobRoutes registers the job trigger and job history endpoints.
func (c *Controller) initJobRoutes() {
	group := c.Group.Group("/jobs", c.authMiddleware)
	if c.deps.Worker != nil {
		group.POST("/rule-evaluation", c.TriggerRuleEvaluation)
	}
	if c.deps.Jobs != nil {
		group.GET("", c.ListJobs)
		group.GET("/:id", c.GetJob)
	}
}

// TriggerRuleEvaluation runs one evaluation cycle synchronously and returns
// its summary. A concurrent run yields 409.
func (c *Controller) TriggerRuleEvaluation(ctx echo.Context) error {
	res, err := c.deps.Worker.Execute(ctx.Request().Context())
	if errors.Is(err, evaluator.ErrRunInProgress) {
		return ctx.JSON(http.StatusConflict, map[string]string{
			"error": "Rule evaluation is already running",
		})
	}
	if err != nil {
		body := map[string]any{
			"success": false,
			"error":   err.Error(),
		}
		if res != nil {
			body["result"] = res
		}
		c.logger.Error("manual rule evaluation failed", logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, body)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
		"result":  res,
	})
}

// ListJobs returns recent job runs, newest first.
func (c *Controller) ListJobs(ctx echo.Context) error {
	limit, _ := paging(ctx)
	filter := repository.JobFilter{
		Type:   ctx.QueryParam("type"),
		Status: entities.JobStatus(ctx.QueryParam("status")),
		Limit:  limit,
	}
	if filter.Type == "" {
		filter.Type = jobs.TypeRuleEvaluation
	}

	list, err := c.deps.Jobs.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list jobs", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob returns a single job run.
func (c *Controller) GetJob(ctx echo.Context) error {
	job, err := c.deps.Jobs.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get job", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, job)
}
