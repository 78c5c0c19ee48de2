package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/observability"
	"github.com/fieldsense/alertd/internal/telemetry"
)

const (
	// DefaultBusSize is the capacity of the sample channel. Samples are
	// dropped when it is full so telemetry sources never block.
	DefaultBusSize = 1000
	// DefaultBusWorkers is the number of goroutines evaluating samples.
	DefaultBusWorkers = 4
)

// SampleHandler processes one telemetry sample.
type SampleHandler func(ctx context.Context, sample *telemetry.Sample)

// SampleBus decouples telemetry sources from evaluation. Publish is
// non-blocking; a fixed pool of workers drains the queue.
type SampleBus struct {
	handler SampleHandler
	samples chan *telemetry.Sample
	wg      sync.WaitGroup
	metrics *observability.Metrics
	log     logger.Logger

	// mu orders enqueues against Stop so no sample is accepted after the
	// workers have drained.
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSampleBus creates a bus and starts its workers. metrics may be nil.
func NewSampleBus(handler SampleHandler, size, workers int, metrics *observability.Metrics, log logger.Logger) *SampleBus {
	if size <= 0 {
		size = DefaultBusSize
	}
	if workers <= 0 {
		workers = DefaultBusWorkers
	}
	b := &SampleBus{
		handler: handler,
		samples: make(chan *telemetry.Sample, size),
		stopCh:  make(chan struct{}),
		metrics: metrics,
		log:     log.Module("bus"),
	}
	b.wg.Add(workers)
	for range workers {
		go b.worker()
	}
	return b
}

// Publish enqueues a sample. It returns false when the sample was dropped
// because the bus is full or stopped.
func (b *SampleBus) Publish(sample *telemetry.Sample) bool {
	if sample == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	select {
	case <-b.stopCh:
		return false
	default:
	}

	if sample.ReceivedAt.IsZero() {
		sample.ReceivedAt = time.Now()
	}

	select {
	case b.samples <- sample:
		b.metrics.BusDepth(len(b.samples))
		return true
	default:
		b.metrics.BusDropped()
		b.log.Warn("sample bus full, dropping telemetry sample",
			logger.String("device_id", sample.DeviceID))
		return false
	}
}

// Len returns the number of queued samples.
func (b *SampleBus) Len() int {
	return len(b.samples)
}

// Stop stops accepting samples, drains the queue and waits for the workers.
// Safe to call multiple times.
func (b *SampleBus) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		close(b.stopCh)
		b.mu.Unlock()
	})
	b.wg.Wait()
}

func (b *SampleBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case sample := <-b.samples:
			b.safeCall(sample)
		case <-b.stopCh:
			// Drain remaining samples before exiting
			for {
				select {
				case sample := <-b.samples:
					b.safeCall(sample)
				default:
					return
				}
			}
		}
	}
}

// safeCall invokes the handler with panic recovery so one bad sample cannot
// kill a worker.
func (b *SampleBus) safeCall(sample *telemetry.Sample) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.Panic("bus")
			observability.ReportPanic(r, map[string]string{"device_id": sample.DeviceID})
			b.log.Error("sample handler panicked",
				logger.String("device_id", sample.DeviceID),
				logger.Any("panic", r))
		}
	}()
	b.metrics.BusDepth(len(b.samples))
	b.handler(context.Background(), sample)
}
