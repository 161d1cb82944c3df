package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/notification"
)

// initPreferenceRoutes registers notification preference endpoints.
func (c *Controller) initPreferenceRoutes() {
	if c.deps.Preferences == nil || c.deps.Notifications == nil {
		return
	}
	group := c.Group.Group("/preferences", c.authMiddleware)
	group.GET("", c.GetPreference)
	group.PUT("", c.SavePreference)
}

// GetPreference returns the effective preference for user_id and channel,
// optionally scoped to entity_id: the entity row, else the global row, else
// the default.
func (c *Controller) GetPreference(ctx echo.Context) error {
	userID := ctx.QueryParam("user_id")
	channel := entities.Channel(ctx.QueryParam("channel"))
	if userID == "" || channel == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "user_id and channel are required",
		})
	}

	pref, err := c.deps.Notifications.ResolvePreference(ctx.Request().Context(),
		userID, parseUintQuery(ctx, "entity_id"), channel)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to resolve preference", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, pref)
}

// SavePreference creates or replaces the preference row identified by
// (user_id, entity_id, channel).
func (c *Controller) SavePreference(ctx echo.Context) error {
	var pref entities.NotificationPreference
	if err := ctx.Bind(&pref); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := notification.ValidatePreference(&pref); err != nil {
		return c.HandleError(ctx, err, "Invalid preference", http.StatusBadRequest)
	}

	reqCtx := ctx.Request().Context()
	existing, err := c.deps.Preferences.Find(reqCtx, pref.UserID, pref.EntityID, pref.Channel)
	switch {
	case err == nil:
		pref.ID = existing.ID
		pref.CreatedAt = existing.CreatedAt
	case errors.Is(err, repository.ErrPreferenceNotFound):
		pref.ID = 0
	default:
		return c.HandleError(ctx, err, "Failed to load preference", http.StatusInternalServerError)
	}

	if err := c.deps.Preferences.Save(reqCtx, &pref); err != nil {
		return c.HandleError(ctx, err, "Failed to save preference", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, pref)
}
