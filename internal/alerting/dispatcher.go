package alerting

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/notification"
	"github.com/fieldsense/alertd/internal/observability"
)

// ChannelSender delivers a message to one destination of a channel.
type ChannelSender interface {
	Send(ctx context.Context, destination string, msg *notification.Message) error
}

// ChannelSenderFunc adapts a function to ChannelSender.
type ChannelSenderFunc func(ctx context.Context, destination string, msg *notification.Message) error

func (f ChannelSenderFunc) Send(ctx context.Context, destination string, msg *notification.Message) error {
	return f(ctx, destination, msg)
}

// Target is one channel destination of a firing.
type Target struct {
	Channel     string
	Destination string
}

// DeliveryResult is the outcome of sending to one target.
type DeliveryResult struct {
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at,omitzero"`
}

// Dispatcher fans a message out to its targets.
type Dispatcher struct {
	senders map[string]ChannelSender
	timeout time.Duration
	metrics *observability.Metrics
	log     logger.Logger
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(senders map[string]ChannelSender, timeout time.Duration, metrics *observability.Metrics, log logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		senders: senders,
		timeout: timeout,
		metrics: metrics,
		log:     log.Module("dispatcher"),
		now:     time.Now,
	}
}

// Dispatch sends msg to every target concurrently, each under its own
// timeout, and returns one result per target in target order. A failing or
// panicking channel never affects the others.
func (d *Dispatcher) Dispatch(ctx context.Context, targets []Target, msg *notification.Message) []DeliveryResult {
	results := make([]DeliveryResult, len(targets))
	// Sends outlive a cancelled evaluation once the alert is recorded.
	base := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			results[i] = d.send(base, target, msg)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) send(ctx context.Context, target Target, msg *notification.Message) (result DeliveryResult) {
	result = DeliveryResult{Channel: target.Channel, Destination: target.Destination}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.Panic("dispatch")
			observability.ReportPanic(r, map[string]string{"channel": target.Channel})
			d.log.Error("notification sender panicked",
				logger.String("channel", target.Channel),
				logger.Any("panic", r))
			result.Status = entities.DeliveryFailed
			result.Error = fmt.Sprintf("sender panic: %v", r)
		}
		d.metrics.Delivery(result.Channel, result.Status, time.Since(start))
	}()

	sender, ok := d.senders[target.Channel]
	if !ok || sender == nil {
		result.Status = entities.DeliveryFailed
		result.Error = notification.ErrChannelNotConfigured.Error()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := sender.Send(ctx, target.Destination, msg); err != nil {
		d.log.Warn("notification delivery failed",
			logger.String("channel", target.Channel),
			logger.Error(err))
		result.Status = entities.DeliveryFailed
		result.Error = err.Error()
		return result
	}
	result.Status = entities.DeliverySent
	result.SentAt = d.now()
	return result
}
