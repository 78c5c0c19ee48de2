package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsense/alertd/internal/observability"
	"github.com/fieldsense/alertd/internal/telemetry"
)

func TestSampleBus_DeliversAndDrainsOnStop(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	bus := NewSampleBus(func(_ context.Context, s *telemetry.Sample) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.DeviceID)
	}, 100, 2, nil, testLogger())

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, bus.Publish(telemetry.NewSample(id, nil, time.Time{})))
	}
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	assert.False(t, bus.Publish(telemetry.NewSample("late", nil, time.Time{})), "stopped bus rejects samples")
	bus.Stop()
}

func TestSampleBus_DropsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	metrics := observability.NewMetrics()
	bus := NewSampleBus(func(context.Context, *telemetry.Sample) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}, 1, 1, metrics, testLogger())

	require.True(t, bus.Publish(telemetry.NewSample("a", nil, time.Time{})))
	<-started
	require.True(t, bus.Publish(telemetry.NewSample("b", nil, time.Time{})))
	assert.False(t, bus.Publish(telemetry.NewSample("c", nil, time.Time{})))
	assert.False(t, bus.Publish(nil))

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BusDroppedTotal), 0)
	close(release)
	bus.Stop()
}

func TestSampleBus_SurvivesPanics(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	metrics := observability.NewMetrics()
	bus := NewSampleBus(func(_ context.Context, s *telemetry.Sample) {
		if s.DeviceID == "bad" {
			panic("malformed")
		}
		handled.Add(1)
	}, 10, 1, metrics, testLogger())

	bus.Publish(telemetry.NewSample("bad", nil, time.Time{}))
	bus.Publish(telemetry.NewSample("good", nil, time.Time{}))
	bus.Stop()

	assert.Equal(t, int32(1), handled.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PanicsTotal.WithLabelValues("bus")), 0)
}

func TestSampleBus_StampsReceivedAt(t *testing.T) {
	t.Parallel()

	got := make(chan time.Time, 1)
	bus := NewSampleBus(func(_ context.Context, s *telemetry.Sample) {
		got <- s.ReceivedAt
	}, 0, 0, nil, testLogger())
	defer bus.Stop()

	bus.Publish(telemetry.NewSample("a", nil, time.Time{}))
	select {
	case ts := <-got:
		assert.False(t, ts.IsZero())
	case <-time.After(time.Second):
		t.Fatal("sample not delivered")
	}
}

func TestSampleBus_AcceptedSamplesAreHandledDespiteConcurrentStop(t *testing.T) {
	t.Parallel()

	for range 50 {
		var handled atomic.Int64
		bus := NewSampleBus(func(context.Context, *telemetry.Sample) {
			handled.Add(1)
		}, 1000, 2, nil, testLogger())

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 20 {
					if bus.Publish(telemetry.NewSample("dev-1", nil, time.Time{})) {
						accepted.Add(1)
					}
				}
			}()
		}
		bus.Stop()
		wg.Wait()

		require.Equal(t, accepted.Load(), handled.Load())
	}
}
