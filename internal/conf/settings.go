// Package conf loads and validates the alertd settings.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/fieldsense/alertd/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// ALERTD_ALERTING_COOLDOWN_WINDOW=3h.
const EnvPrefix = "ALERTD"

// Suppression backends.
const (
	SuppressionMemory = "memory"
	SuppressionRedis  = "redis"
)

// Datastore drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Settings struct {
	Main         MainSettings         `mapstructure:"main" yaml:"main" json:"main"`
	Datastore    DatastoreSettings    `mapstructure:"datastore" yaml:"datastore" json:"datastore"`
	Alerting     AlertingSettings     `mapstructure:"alerting" yaml:"alerting" json:"alerting"`
	Redis        RedisSettings        `mapstructure:"redis" yaml:"redis" json:"redis"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification" json:"notification"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
	WebServer    WebServerSettings    `mapstructure:"webserver" yaml:"webserver" json:"webserver"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry" json:"sentry"`
}

type MainSettings struct {
	Name        string `mapstructure:"name" yaml:"name" json:"name"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level" json:"logLevel"`
	Development bool   `mapstructure:"development" yaml:"development" json:"development"`
}

type DatastoreSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	// DSN is a file path for sqlite and a connection string otherwise.
	DSN   string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	Debug bool   `mapstructure:"debug" yaml:"debug" json:"debug"`
}

// AlertingSettings holds the suppression windows and engine limits.
type AlertingSettings struct {
	DebounceWindow       Duration `mapstructure:"debounce_window" yaml:"debounce_window" json:"debounceWindow"`
	CooldownWindow       Duration `mapstructure:"cooldown_window" yaml:"cooldown_window" json:"cooldownWindow"`
	SoilMoistureCooldown Duration `mapstructure:"soil_moisture_cooldown" yaml:"soil_moisture_cooldown" json:"soilMoistureCooldown"`
	// PersistedCooldownAllParameters extends the history-backed cooldown
	// check from soil moisture to every parameter.
	PersistedCooldownAllParameters bool     `mapstructure:"persisted_cooldown_all_parameters" yaml:"persisted_cooldown_all_parameters" json:"persistedCooldownAllParameters"`
	DispatchTimeout                Duration `mapstructure:"dispatch_timeout" yaml:"dispatch_timeout" json:"dispatchTimeout"`
	RecordTimeout                  Duration `mapstructure:"record_timeout" yaml:"record_timeout" json:"recordTimeout"`
	RetentionDays                  int      `mapstructure:"retention_days" yaml:"retention_days" json:"retentionDays"`
	CleanupInterval                Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" json:"cleanupInterval"`
	UserConcurrency                int      `mapstructure:"user_concurrency" yaml:"user_concurrency" json:"userConcurrency"`
	SuppressionBackend             string   `mapstructure:"suppression_backend" yaml:"suppression_backend" json:"suppressionBackend"`
	BusSize                        int      `mapstructure:"bus_size" yaml:"bus_size" json:"busSize"`
	BusWorkers                     int      `mapstructure:"bus_workers" yaml:"bus_workers" json:"busWorkers"`
}

type RedisSettings struct {
	Addr      string   `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password  string   `mapstructure:"password" yaml:"password" json:"-"`
	DB        int      `mapstructure:"db" yaml:"db" json:"db"`
	KeyPrefix string   `mapstructure:"key_prefix" yaml:"key_prefix" json:"keyPrefix"`
	LockTTL   Duration `mapstructure:"lock_ttl" yaml:"lock_ttl" json:"lockTTL"`
}

type NotificationSettings struct {
	Email EmailSettings `mapstructure:"email" yaml:"email" json:"email"`
	SMS   SMSSettings   `mapstructure:"sms" yaml:"sms" json:"sms"`
}

// EmailSettings configures the SMTP relay used for the email channel.
type EmailSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	From     string `mapstructure:"from" yaml:"from" json:"from"`
	// RateLimit is sends per second, zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rateLimit"`
	Burst     int     `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// SMSSettings configures the HTTP SMS gateway.
type SMSSettings struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint  string  `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key" json:"-"`
	From      string  `mapstructure:"from" yaml:"from" json:"from"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rateLimit"`
	Burst     int     `mapstructure:"burst" yaml:"burst" json:"burst"`
}

type TelemetrySettings struct {
	MQTT  MQTTSettings  `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
	Kafka KafkaSettings `mapstructure:"kafka" yaml:"kafka" json:"kafka"`
}

type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker" json:"broker"`
	ClientID string `mapstructure:"client_id" yaml:"client_id" json:"clientId"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	// Topic must contain a single "+" wildcard in the device id position.
	Topic string `mapstructure:"topic" yaml:"topic" json:"topic"`
	QoS   byte   `mapstructure:"qos" yaml:"qos" json:"qos"`
}

type KafkaSettings struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic" json:"topic"`
	GroupID string   `mapstructure:"group_id" yaml:"group_id" json:"groupId"`
}

type WebServerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" json:"listen"`
}

type SentrySettings struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DSN         string  `mapstructure:"dsn" yaml:"dsn" json:"-"`
	Environment string  `mapstructure:"environment" yaml:"environment" json:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate" json:"sampleRate"`
}

// Defaults returns settings populated with the built-in defaults.
func Defaults() *Settings {
	return &Settings{
		Main: MainSettings{Name: "alertd", LogLevel: "info"},
		Datastore: DatastoreSettings{
			Driver: DriverSQLite,
			DSN:    "alertd.db",
		},
		Alerting: AlertingSettings{
			DebounceWindow:                 Duration(60 * time.Second),
			CooldownWindow:                 Duration(2 * time.Hour),
			SoilMoistureCooldown:           Duration(2 * time.Hour),
			PersistedCooldownAllParameters: true,
			DispatchTimeout:                Duration(5 * time.Second),
			RecordTimeout:                  Duration(3 * time.Second),
			RetentionDays:                  30,
			CleanupInterval:                Duration(time.Hour),
			UserConcurrency:                4,
			SuppressionBackend:             SuppressionMemory,
			BusSize:                        1000,
			BusWorkers:                     4,
		},
		Redis: RedisSettings{
			Addr:      "localhost:6379",
			KeyPrefix: "alertd:suppression:",
			LockTTL:   Duration(10 * time.Second),
		},
		Notification: NotificationSettings{
			Email: EmailSettings{Port: 587, RateLimit: 5, Burst: 10},
			SMS:   SMSSettings{RateLimit: 1, Burst: 5},
		},
		Telemetry: TelemetrySettings{
			MQTT: MQTTSettings{
				Broker:   "tcp://localhost:1883",
				ClientID: "alertd",
				Topic:    "devices/+/telemetry",
				QoS:      1,
			},
			Kafka: KafkaSettings{
				Brokers: []string{"localhost:9092"},
				Topic:   "telemetry",
				GroupID: "alertd",
			},
		},
		WebServer: WebServerSettings{Enabled: true, Listen: ":8080"},
		Sentry:    SentrySettings{Environment: "production", SampleRate: 1.0},
	}
}

// setDefaults registers every default with viper. Keys that viper does not
// know about are not picked up from the environment by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("main.name", d.Main.Name)
	v.SetDefault("main.log_level", d.Main.LogLevel)
	v.SetDefault("main.development", d.Main.Development)

	v.SetDefault("datastore.driver", d.Datastore.Driver)
	v.SetDefault("datastore.dsn", d.Datastore.DSN)
	v.SetDefault("datastore.debug", d.Datastore.Debug)

	a := d.Alerting
	v.SetDefault("alerting.debounce_window", a.DebounceWindow.String())
	v.SetDefault("alerting.cooldown_window", a.CooldownWindow.String())
	v.SetDefault("alerting.soil_moisture_cooldown", a.SoilMoistureCooldown.String())
	v.SetDefault("alerting.persisted_cooldown_all_parameters", a.PersistedCooldownAllParameters)
	v.SetDefault("alerting.dispatch_timeout", a.DispatchTimeout.String())
	v.SetDefault("alerting.record_timeout", a.RecordTimeout.String())
	v.SetDefault("alerting.retention_days", a.RetentionDays)
	v.SetDefault("alerting.cleanup_interval", a.CleanupInterval.String())
	v.SetDefault("alerting.user_concurrency", a.UserConcurrency)
	v.SetDefault("alerting.suppression_backend", a.SuppressionBackend)
	v.SetDefault("alerting.bus_size", a.BusSize)
	v.SetDefault("alerting.bus_workers", a.BusWorkers)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.lock_ttl", d.Redis.LockTTL.String())

	e := d.Notification.Email
	v.SetDefault("notification.email.enabled", e.Enabled)
	v.SetDefault("notification.email.host", e.Host)
	v.SetDefault("notification.email.port", e.Port)
	v.SetDefault("notification.email.username", e.Username)
	v.SetDefault("notification.email.password", e.Password)
	v.SetDefault("notification.email.from", e.From)
	v.SetDefault("notification.email.rate_limit", e.RateLimit)
	v.SetDefault("notification.email.burst", e.Burst)

	s := d.Notification.SMS
	v.SetDefault("notification.sms.enabled", s.Enabled)
	v.SetDefault("notification.sms.endpoint", s.Endpoint)
	v.SetDefault("notification.sms.api_key", s.APIKey)
	v.SetDefault("notification.sms.from", s.From)
	v.SetDefault("notification.sms.rate_limit", s.RateLimit)
	v.SetDefault("notification.sms.burst", s.Burst)

	m := d.Telemetry.MQTT
	v.SetDefault("telemetry.mqtt.enabled", m.Enabled)
	v.SetDefault("telemetry.mqtt.broker", m.Broker)
	v.SetDefault("telemetry.mqtt.client_id", m.ClientID)
	v.SetDefault("telemetry.mqtt.username", m.Username)
	v.SetDefault("telemetry.mqtt.password", m.Password)
	v.SetDefault("telemetry.mqtt.topic", m.Topic)
	v.SetDefault("telemetry.mqtt.qos", m.QoS)

	k := d.Telemetry.Kafka
	v.SetDefault("telemetry.kafka.enabled", k.Enabled)
	v.SetDefault("telemetry.kafka.brokers", k.Brokers)
	v.SetDefault("telemetry.kafka.topic", k.Topic)
	v.SetDefault("telemetry.kafka.group_id", k.GroupID)

	v.SetDefault("webserver.enabled", d.WebServer.Enabled)
	v.SetDefault("webserver.listen", d.WebServer.Listen)

	v.SetDefault("sentry.enabled", d.Sentry.Enabled)
	v.SetDefault("sentry.dsn", d.Sentry.DSN)
	v.SetDefault("sentry.environment", d.Sentry.Environment)
	v.SetDefault("sentry.sample_rate", d.Sentry.SampleRate)
}

// Load reads settings from configFile (or config.yaml in the working
// directory or /etc/alertd when empty), then applies .env and ALERTD_*
// environment overrides, and validates the result.
func Load(configFile string) (*Settings, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.CategoryConfiguration, "read config", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/alertd")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(errors.CategoryConfiguration, "read config", err)
			}
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Wrap(errors.CategoryConfiguration, "decode config", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate rejects settings the engine cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	a := s.Alerting
	if a.DebounceWindow <= 0 {
		add("alerting.debounce_window must be positive, got %s", a.DebounceWindow)
	}
	if a.CooldownWindow <= 0 {
		add("alerting.cooldown_window must be positive, got %s", a.CooldownWindow)
	}
	if a.SoilMoistureCooldown <= 0 {
		add("alerting.soil_moisture_cooldown must be positive, got %s", a.SoilMoistureCooldown)
	}
	if a.DispatchTimeout <= 0 {
		add("alerting.dispatch_timeout must be positive, got %s", a.DispatchTimeout)
	}
	if a.RecordTimeout <= 0 {
		add("alerting.record_timeout must be positive, got %s", a.RecordTimeout)
	}
	if a.RetentionDays < 1 {
		add("alerting.retention_days must be at least 1, got %d", a.RetentionDays)
	}
	if a.UserConcurrency < 1 {
		add("alerting.user_concurrency must be at least 1, got %d", a.UserConcurrency)
	}
	if a.BusSize < 1 || a.BusWorkers < 1 {
		add("alerting.bus_size and alerting.bus_workers must be at least 1")
	}
	switch a.SuppressionBackend {
	case SuppressionMemory:
	case SuppressionRedis:
		if s.Redis.Addr == "" {
			add("redis.addr is required for the redis suppression backend")
		}
	default:
		add("unknown alerting.suppression_backend %q", a.SuppressionBackend)
	}

	switch s.Datastore.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
		if s.Datastore.DSN == "" {
			add("datastore.dsn is required")
		}
	default:
		add("unknown datastore.driver %q", s.Datastore.Driver)
	}

	if e := s.Notification.Email; e.Enabled && (e.Host == "" || e.From == "") {
		add("notification.email requires host and from when enabled")
	}
	if m := s.Notification.SMS; m.Enabled && m.Endpoint == "" {
		add("notification.sms requires endpoint when enabled")
	}
	if m := s.Telemetry.MQTT; m.Enabled && strings.Count(m.Topic, "+") != 1 {
		add("telemetry.mqtt.topic must contain exactly one '+' wildcard, got %q", m.Topic)
	}
	if k := s.Telemetry.Kafka; k.Enabled && (len(k.Brokers) == 0 || k.Topic == "") {
		add("telemetry.kafka requires brokers and topic when enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		add("sentry.dsn is required when sentry is enabled")
	}

	if len(errs) > 0 {
		return errors.Wrap(errors.CategoryValidation, "validate settings", errors.Join(errs...))
	}
	return nil
}
