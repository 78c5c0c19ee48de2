package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fieldsense/alertd/internal/alerting"
	"github.com/fieldsense/alertd/internal/api"
	"github.com/fieldsense/alertd/internal/ingest"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/notification"
	"github.com/fieldsense/alertd/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func serveCommand(flags *globalFlags, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alerting engine with its telemetry sources and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a, version)
		},
	}
}

func serve(ctx context.Context, a *app, version string) error {
	s := a.settings
	log := a.log

	if err := observability.InitSentry(s.Sentry, version); err != nil {
		log.Warn("sentry disabled", logger.Error(err))
	}
	defer observability.FlushSentry()

	metrics := observability.NewMetrics()
	notification.Initialize(&notification.ServiceConfig{
		Providers: notification.ProvidersFromSettings(s.Notification),
		Log:       log.Module("notification"),
	})
	channels := notification.GetService().Channels()
	if len(channels) == 0 {
		log.Warn("no notification channel configured, every delivery will fail")
	}

	rt, err := alerting.Initialize(ctx, s, a.rules, a.devices, a.history, nil, metrics, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Stop(); err != nil {
			log.Warn("failed to stop alerting runtime", logger.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	// Keeps serving until a signal even when no source is enabled.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if s.WebServer.Enabled {
		server := api.NewServer(s.WebServer, api.Dependencies{
			Engine:  rt.Engine,
			Rules:   a.rules,
			History: a.history,
			Schema: func() alerting.Schema {
				return alerting.GetSchema(rt.Config.Windows, channels)
			},
			Metrics: metrics,
		}, log)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if s.Telemetry.MQTT.Enabled {
		source := ingest.NewMQTTSource(s.Telemetry.MQTT, rt.Bus, metrics, log)
		g.Go(func() error {
			if err := source.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			source.Stop()
			return nil
		})
	}

	if s.Telemetry.Kafka.Enabled {
		source := ingest.NewKafkaSource(s.Telemetry.Kafka, rt.Bus, metrics, log)
		g.Go(func() error {
			defer func() {
				if err := source.Close(); err != nil {
					log.Warn("failed to close kafka reader", logger.Error(err))
				}
			}()
			return source.Run(gctx)
		})
	}

	log.Info("alertd started",
		logger.String("version", version),
		logger.Bool("http", s.WebServer.Enabled),
		logger.Bool("mqtt", s.Telemetry.MQTT.Enabled),
		logger.Bool("kafka", s.Telemetry.Kafka.Enabled))

	err = g.Wait()
	log.Info("alertd stopping")
	return err
}
