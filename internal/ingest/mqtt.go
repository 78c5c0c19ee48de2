package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/fieldsense/alertd/internal/conf"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/observability"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectMS   = 250
)

// MQTTSource subscribes to per-device telemetry topics. The device id is the
// segment of the topic matched by the "+" wildcard of the subscription.
type MQTTSource struct {
	settings conf.MQTTSettings
	intake   intake
	client   paho.Client
}

// NewMQTTSource creates an unconnected MQTT source.
func NewMQTTSource(settings conf.MQTTSettings, pub Publisher, metrics *observability.Metrics, log logger.Logger) *MQTTSource {
	return &MQTTSource{
		settings: settings,
		intake: intake{
			source:  "mqtt",
			pub:     pub,
			metrics: metrics,
			log:     log.Module("ingest.mqtt").With(logger.String("broker", settings.Broker)),
			now:     time.Now,
		},
	}
}

// clientID appends a random suffix to the configured prefix.
func (s *MQTTSource) clientID() string {
	prefix := s.settings.ClientID
	if prefix == "" {
		prefix = "alertd"
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// Start connects and subscribes. The subscription is renewed on every
// reconnect.
func (s *MQTTSource) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(s.settings.Broker).
		SetClientID(s.clientID()).
		SetUsername(s.settings.Username).
		SetPassword(s.settings.Password).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(mqttConnectTimeout)

	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.settings.Topic, s.settings.QoS, s.handleMessage)
		if err := awaitToken(token, mqttConnectTimeout); err != nil {
			s.intake.log.Error("failed to subscribe to telemetry topic",
				logger.String("topic", s.settings.Topic),
				logger.Error(err))
			return
		}
		s.intake.log.Info("subscribed to telemetry topic", logger.String("topic", s.settings.Topic))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.intake.log.Warn("mqtt connection lost", logger.Error(err))
	})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		s.client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.settings.Broker, err)
	}
	return nil
}

// awaitToken waits for a paho operation. A timeout is an error.
func awaitToken(token paho.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	}
	return token.Error()
}

// IsConnected reports whether the broker connection is up.
func (s *MQTTSource) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() {
	if s.client != nil {
		s.client.Disconnect(mqttDisconnectMS)
	}
}

func (s *MQTTSource) handleMessage(_ paho.Client, msg paho.Message) {
	deviceID, ok := DeviceIDFromTopic(s.settings.Topic, msg.Topic())
	if !ok {
		s.intake.metrics.SampleReceived(s.intake.source, StatusRejected)
		s.intake.log.Warn("telemetry topic does not match subscription", logger.String("topic", msg.Topic()))
		return
	}
	s.intake.accept(deviceID, msg.Payload())
}

// DeviceIDFromTopic extracts the segment matched by the single "+" wildcard
// of pattern. A trailing "#" matches any remaining levels.
func DeviceIDFromTopic(pattern, topic string) (string, bool) {
	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")

	var deviceID string
	for i, seg := range want {
		if seg == "#" {
			return deviceID, deviceID != ""
		}
		if i >= len(got) {
			return "", false
		}
		switch seg {
		case "+":
			if got[i] == "" {
				return "", false
			}
			if deviceID == "" {
				deviceID = got[i]
			}
		default:
			if seg != got[i] {
				return "", false
			}
		}
	}
	if len(got) != len(want) {
		return "", false
	}
	return deviceID, deviceID != ""
}
