package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/fieldsense/alertd/internal/datastore/repository"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/telemetry"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxPayloadBytes     = 64 << 10

	// Per-device limit on the synchronous telemetry endpoint.
	telemetryRate  = rate.Limit(5)
	telemetryBurst = 20
)

// initRoutes registers the alerting endpoints.
func (c *Controller) initRoutes() {
	limiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      telemetryRate,
				Burst:     telemetryBurst,
				ExpiresIn: 5 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.Param("deviceId"), nil
		},
		DenyHandler: func(ctx echo.Context, _ string, err error) error {
			return c.HandleError(ctx, err, "Too many telemetry samples for this device", http.StatusTooManyRequests)
		},
	})

	c.Group.POST("/devices/:deviceId/telemetry", c.PostTelemetry, limiter)
	c.Group.GET("/alerts/schema", c.GetAlertSchema)
	c.Group.DELETE("/suppression", c.ResetSuppression)

	users := c.Group.Group("/users/:userId")
	users.GET("/rules", c.ListRules)
	users.POST("/rules/:ruleId/test", c.TestRule)
	users.GET("/alerts", c.ListAlerts)
	users.PATCH("/alerts/:id/seen", c.MarkAlertSeen)
}

// PostTelemetry evaluates one raw telemetry payload synchronously and returns
// the evaluation report.
func (c *Controller) PostTelemetry(ctx echo.Context) error {
	deviceID := ctx.Param("deviceId")
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxPayloadBytes+1))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read request body", http.StatusBadRequest)
	}
	if len(body) > maxPayloadBytes {
		return c.HandleError(ctx, errors.New("payload too large"), "Telemetry payload exceeds 64KiB", http.StatusRequestEntityTooLarge)
	}

	sample, err := telemetry.ParseSample(deviceID, body, c.now())
	if err != nil {
		return c.HandleError(ctx, err, "Invalid telemetry payload", http.StatusBadRequest)
	}

	// Evaluation runs to completion even if the client goes away.
	report := c.engine.HandleSample(context.WithoutCancel(ctx.Request().Context()), sample)
	return ctx.JSON(http.StatusOK, report)
}

// testRuleRequest overrides the observed value or device of a test firing.
type testRuleRequest struct {
	Value    *float64 `json:"value"`
	DeviceID string   `json:"device_id"`
}

// TestRule fires one rule on demand, bypassing suppression.
func (c *Controller) TestRule(ctx echo.Context) error {
	ruleID, err := parseUintParam(ctx, "ruleId")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID", http.StatusBadRequest)
	}

	var req testRuleRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	outcome, err := c.engine.TestRule(context.WithoutCancel(ctx.Request().Context()), ctx.Param("userId"), ruleID, req.Value, req.DeviceID)
	switch {
	case errors.Is(err, repository.ErrAlertRuleNotFound):
		return c.HandleError(ctx, err, "Alert rule not found", http.StatusNotFound)
	case errors.IsCategory(err, errors.CategoryConfiguration):
		return c.HandleError(ctx, err, "Alert rule is misconfigured", http.StatusUnprocessableEntity)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to test alert rule", http.StatusInternalServerError)
	}

	c.log.Info("alert rule test fired",
		logger.String("user_id", outcome.UserID),
		logger.Uint64("rule_id", uint64(ruleID)),
		logger.String("state", outcome.State))
	return ctx.JSON(http.StatusOK, outcome)
}

// ListRules returns the rules of a user, optionally filtered.
func (c *Controller) ListRules(ctx echo.Context) error {
	filter := repository.AlertRuleFilter{
		UserID:    ctx.Param("userId"),
		Parameter: ctx.QueryParam("parameter"),
	}
	if activeParam := ctx.QueryParam("active"); activeParam != "" {
		v, err := strconv.ParseBool(activeParam)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid active filter", http.StatusBadRequest)
		}
		filter.Active = &v
	}

	rules, err := c.rules.ListRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert rules", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// ListAlerts returns a page of the user's triggered alert history.
func (c *Controller) ListAlerts(ctx echo.Context) error {
	filter := repository.TriggeredAlertFilter{
		UserID: ctx.Param("userId"),
		Limit:  defaultHistoryLimit,
	}

	if ruleIDParam := ctx.QueryParam("rule_id"); ruleIDParam != "" {
		v, err := strconv.ParseUint(ruleIDParam, 10, 64)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid rule_id", http.StatusBadRequest)
		}
		filter.RuleID = uint(v)
	}
	if unseenParam := ctx.QueryParam("unseen"); unseenParam != "" {
		v, err := strconv.ParseBool(unseenParam)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid unseen filter", http.StatusBadRequest)
		}
		filter.UnseenOnly = v
	}
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		if v, err := strconv.Atoi(limitParam); err == nil && v > 0 {
			filter.Limit = min(v, maxHistoryLimit)
		}
	}
	if offsetParam := ctx.QueryParam("offset"); offsetParam != "" {
		if v, err := strconv.Atoi(offsetParam); err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	items, total, err := c.history.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert history", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts": items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// MarkAlertSeen flags one triggered alert as seen by its user.
func (c *Controller) MarkAlertSeen(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid alert ID", http.StatusBadRequest)
	}

	if err := c.history.MarkSeen(ctx.Request().Context(), ctx.Param("userId"), id); err != nil {
		if errors.Is(err, repository.ErrTriggeredAlertNotFound) {
			return c.HandleError(ctx, err, "Triggered alert not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to mark alert seen", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "seen": true})
}

// ResetSuppression clears every debounce and cooldown state.
func (c *Controller) ResetSuppression(ctx echo.Context) error {
	if err := c.engine.ResetSuppression(ctx.Request().Context()); err != nil {
		return c.HandleError(ctx, err, "Failed to reset suppression state", http.StatusInternalServerError)
	}
	c.log.Warn("suppression state reset via api", logger.String("remote_ip", ctx.RealIP()))
	return ctx.JSON(http.StatusOK, map[string]string{"status": "suppression reset"})
}

// GetAlertSchema returns the parameter, operator and channel catalog.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.schema())
}
