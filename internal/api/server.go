// Package api hosts the alertd HTTP server.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gommonlog "github.com/labstack/gommon/log"

	"github.com/fieldsense/alertd/internal/alerting"
	v2 "github.com/fieldsense/alertd/internal/api/v2"
	"github.com/fieldsense/alertd/internal/conf"
	"github.com/fieldsense/alertd/internal/datastore/repository"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/observability"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Dependencies are the services the HTTP handlers call.
type Dependencies struct {
	Engine  v2.AlertEngine
	Rules   repository.AlertRuleRepository
	History repository.TriggeredAlertRepository
	Schema  func() alerting.Schema
	Metrics *observability.Metrics
}

// Server is the echo instance serving /api/v2 and /metrics.
type Server struct {
	echo     *echo.Echo
	settings conf.WebServerSettings
	log      logger.Logger
}

// NewServer builds the router. It does not start listening.
func NewServer(settings conf.WebServerSettings, deps Dependencies, log logger.Logger) *Server {
	log = log.Module("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// Request logging goes through the service logger below.
	e.Logger.SetLevel(gommonlog.OFF)
	e.Server.ReadHeaderTimeout = readHeaderTimeout
	e.Server.WriteTimeout = writeTimeout

	e.Use(middleware.RequestID())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			deps.Metrics.Panic("http")
			observability.ReportPanic(err, map[string]string{"path": c.Path()})
			log.Error("http handler panicked",
				logger.String("path", c.Path()),
				logger.String("stack", string(stack)),
				logger.Error(err))
			return err
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURIPath:  true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("path", v.URIPath),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				log.Warn("http request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			log.Debug("http request", fields...)
			return nil
		},
	}))
	e.Use(middleware.BodyLimit("1M"))

	e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v2.New(e.Group("/api/v2"), deps.Engine, deps.Rules, deps.History, deps.Schema, log)

	return &Server{echo: e, settings: settings, log: log}
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", logger.String("listen", s.settings.Listen))
	if err := s.echo.Start(s.settings.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(errors.CategoryConfiguration, "start http server", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
