// Package ingest receives telemetry from message brokers and hands parsed
// samples to the alerting bus.
package ingest

import (
	"time"

	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/observability"
	"github.com/fieldsense/alertd/internal/telemetry"
)

// Sample statuses recorded in metrics.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusDropped  = "dropped"
)

// Publisher accepts parsed samples. It must not block.
type Publisher interface {
	Publish(sample *telemetry.Sample) bool
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(sample *telemetry.Sample) bool

func (f PublisherFunc) Publish(sample *telemetry.Sample) bool { return f(sample) }

// intake parses raw payloads and publishes them, shared by every source.
type intake struct {
	source  string
	pub     Publisher
	metrics *observability.Metrics
	log     logger.Logger
	now     func() time.Time
}

// accept parses payload and publishes it. deviceID may be empty when the
// payload carries its own id. It returns the resulting status.
func (in *intake) accept(deviceID string, payload []byte) string {
	sample, err := telemetry.ParseSample(deviceID, payload, in.now())
	if err != nil {
		in.metrics.SampleReceived(in.source, StatusRejected)
		in.log.Warn("rejected telemetry payload",
			logger.String("device_id", deviceID),
			logger.Int("bytes", len(payload)),
			logger.Error(err))
		return StatusRejected
	}
	if !in.pub.Publish(sample) {
		in.metrics.SampleReceived(in.source, StatusDropped)
		return StatusDropped
	}
	in.metrics.SampleReceived(in.source, StatusAccepted)
	return StatusAccepted
}
