package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/auralink/proactive/internal/rules"
	"github.com/auralink/proactive/internal/tiers"
)

func (c *Controller) initRuleSchemaRoutes() {
	c.Group.GET("/rules/schema", c.GetRuleSchema)
}

// GetRuleSchema returns the rule authoring catalog together with the tier
// limits that constrain it.
func (c *Controller) GetRuleSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"schema": rules.GetSchema(),
		"tiers":  tiers.All(),
	})
}
