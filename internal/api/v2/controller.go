// Package api implements the /api/v2 HTTP endpoints of alertd.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fieldsense/alertd/internal/alerting"
	"github.com/fieldsense/alertd/internal/datastore/repository"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/telemetry"
)

// AlertEngine is the part of the alerting engine the API drives.
type AlertEngine interface {
	HandleSample(ctx context.Context, sample *telemetry.Sample) *alerting.Report
	TestRule(ctx context.Context, userID string, ruleID uint, value *float64, deviceID string) (*alerting.Outcome, error)
	ResetSuppression(ctx context.Context) error
}

// Controller holds the dependencies of the v2 handlers.
type Controller struct {
	Group *echo.Group

	engine  AlertEngine
	rules   repository.AlertRuleRepository
	history repository.TriggeredAlertRepository
	schema  func() alerting.Schema
	log     logger.Logger
	now     func() time.Time
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// New creates the controller and registers its routes under group.
func New(
	group *echo.Group,
	engine AlertEngine,
	rules repository.AlertRuleRepository,
	history repository.TriggeredAlertRepository,
	schema func() alerting.Schema,
	log logger.Logger,
) *Controller {
	c := &Controller{
		Group:   group,
		engine:  engine,
		rules:   rules,
		history: history,
		schema:  schema,
		log:     log.Module("api"),
		now:     time.Now,
	}
	c.initRoutes()
	return c
}

// HandleError logs err and writes an ErrorResponse with code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	correlationID := ctx.Response().Header().Get(echo.HeaderXRequestID)
	if code >= http.StatusInternalServerError {
		c.log.Error(message,
			logger.String("path", ctx.Path()),
			logger.String("correlation_id", correlationID),
			logger.Error(err))
	} else {
		c.log.Debug(message,
			logger.String("path", ctx.Path()),
			logger.Error(err))
	}

	errText := http.StatusText(code)
	if err != nil && code < http.StatusInternalServerError {
		errText = err.Error()
	}
	return ctx.JSON(code, ErrorResponse{
		Error:         errText,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	})
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
