package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsense/alertd/internal/conf"
	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/notification"
	"github.com/fieldsense/alertd/internal/observability"
	"github.com/fieldsense/alertd/internal/telemetry"
)

const redisPingTimeout = 5 * time.Second

// notificationSender lazily resolves the notification service so the engine
// can be built before notification providers are registered.
type notificationSender struct {
	channel string
}

func (s notificationSender) Send(ctx context.Context, destination string, msg *notification.Message) error {
	svc := notification.GetService()
	if svc == nil {
		return fmt.Errorf("%s: %w", s.channel, notification.ErrChannelNotConfigured)
	}
	return svc.Send(ctx, s.channel, destination, msg)
}

// NotificationSenders returns a sender per channel backed by the global
// notification service.
func NotificationSenders() map[string]ChannelSender {
	return map[string]ChannelSender{
		entities.ChannelEmail: notificationSender{channel: entities.ChannelEmail},
		entities.ChannelSMS:   notificationSender{channel: entities.ChannelSMS},
	}
}

// ConfigFromSettings maps loaded settings onto the engine configuration.
func ConfigFromSettings(s *conf.AlertingSettings) Config {
	return Config{
		Windows: Windows{
			Debounce:               s.DebounceWindow.Std(),
			Cooldown:               s.CooldownWindow.Std(),
			SoilMoistureCooldown:   s.SoilMoistureCooldown.Std(),
			PersistedAllParameters: s.PersistedCooldownAllParameters,
		},
		DispatchTimeout: s.DispatchTimeout.Std(),
		RecordTimeout:   s.RecordTimeout.Std(),
		UserConcurrency: s.UserConcurrency,
		RetentionDays:   s.RetentionDays,
		CleanupInterval: s.CleanupInterval.Std(),
	}
}

// NewSuppressionStore creates the configured suppression backend. The
// returned close function releases its connections.
func NewSuppressionStore(ctx context.Context, settings *conf.Settings, windows Windows, log logger.Logger) (SuppressionStore, func() error, error) {
	switch settings.Alerting.SuppressionBackend {
	case "", conf.SuppressionMemory:
		return NewMemoryStore(windows.Longest()), func() error { return nil }, nil
	case conf.SuppressionRedis:
		client := NewRedisClient(settings.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(errors.CategorySuppressionStore, "connect redis", err)
		}
		log.Info("using redis suppression store", logger.String("addr", settings.Redis.Addr))
		store := NewRedisStore(client, settings.Redis.KeyPrefix, windows.Longest(), settings.Redis.LockTTL.Std())
		return store, client.Close, nil
	default:
		return nil, nil, errors.Newf(errors.CategoryConfiguration, "suppression store",
			"unknown suppression backend %q", settings.Alerting.SuppressionBackend)
	}
}

// Runtime bundles the running alerting components.
type Runtime struct {
	Engine *Engine
	Bus    *SampleBus
	Config Config

	closeStore func() error
}

// Stop drains the bus, stops background work and closes the suppression
// store.
func (r *Runtime) Stop() error {
	r.Bus.Stop()
	r.Engine.Stop()
	if r.closeStore != nil {
		return r.closeStore()
	}
	return nil
}

// Initialize creates the engine and its sample bus and starts the periodic
// history cleanup. senders may be nil to use the global notification service.
func Initialize(
	ctx context.Context,
	settings *conf.Settings,
	rules RuleStore,
	devices DeviceRegistry,
	history HistoryStore,
	senders map[string]ChannelSender,
	metrics *observability.Metrics,
	log logger.Logger,
) (*Runtime, error) {
	cfg := ConfigFromSettings(&settings.Alerting)

	store, closeStore, err := NewSuppressionStore(ctx, settings, cfg.Windows, log)
	if err != nil {
		return nil, err
	}
	if senders == nil {
		senders = NotificationSenders()
	}

	engine := NewEngine(Dependencies{
		Rules:       rules,
		Devices:     devices,
		History:     history,
		Suppression: store,
		Senders:     senders,
	}, cfg, log, WithMetrics(metrics))

	bus := NewSampleBus(func(ctx context.Context, s *telemetry.Sample) {
		engine.HandleSample(ctx, s)
	}, settings.Alerting.BusSize, settings.Alerting.BusWorkers, metrics, log)

	engine.StartHistoryCleanup(cfg.RetentionDays)

	log.Info("alerting engine initialized",
		logger.String("suppression_backend", settings.Alerting.SuppressionBackend),
		logger.Duration("debounce", cfg.Windows.Debounce),
		logger.Duration("cooldown", cfg.Windows.Cooldown),
		logger.Bool("persisted_cooldown_all_parameters", cfg.Windows.PersistedAllParameters))

	return &Runtime{Engine: engine, Bus: bus, Config: cfg, closeStore: closeStore}, nil
}
