package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/datastore/repository"
	"github.com/fieldsense/alertd/internal/observability"
	"github.com/fieldsense/alertd/internal/telemetry"
)

const testDevice = "dev-1"

type engineFixture struct {
	engine  *Engine
	rules   *mockRuleStore
	devices *mockDevices
	history *mockHistory
	email   *recordingSender
	sms     *recordingSender
	clock   *fakeClock
	metrics *observability.Metrics
}

func newEngineFixture(t *testing.T, rules ...entities.AlertRule) *engineFixture {
	t.Helper()
	return newEngineFixtureWithHistory(t, &mockHistory{}, rules...)
}

func newEngineFixtureWithHistory(t *testing.T, history HistoryStore, rules ...entities.AlertRule) *engineFixture {
	t.Helper()
	f := &engineFixture{
		rules: newMockRuleStore(rules...),
		devices: &mockDevices{
			owners: map[string]string{testDevice: "u1", "dev-2": "u1"},
			shared: map[string][]string{testDevice: {"u2", "u1"}},
		},
		email:   &recordingSender{},
		sms:     &recordingSender{},
		clock:   newFakeClock(),
		metrics: observability.NewMetrics(),
	}
	if h, ok := history.(*mockHistory); ok {
		f.history = h
	}
	f.engine = NewEngine(Dependencies{
		Rules:       f.rules,
		Devices:     f.devices,
		History:     history,
		Suppression: NewMemoryStore(DefaultWindows().Longest()),
		Senders: map[string]ChannelSender{
			entities.ChannelEmail: f.email,
			entities.ChannelSMS:   f.sms,
		},
	}, DefaultConfig(), testLogger(), WithClock(f.clock.Now), WithMetrics(f.metrics))
	t.Cleanup(f.engine.Stop)
	return f
}

func (f *engineFixture) soilSample(raw float64) *telemetry.Sample {
	return telemetry.NewSample(testDevice, map[string]float64{"soilMoisture": raw}, f.clock.Now())
}

func outcomeFor(t *testing.T, r *Report, userID string, ruleID uint) Outcome {
	t.Helper()
	for _, o := range r.Outcomes {
		if o.UserID == userID && o.RuleID == ruleID {
			return o
		}
	}
	t.Fatalf("no outcome for user %s rule %d in %+v", userID, ruleID, r.Outcomes)
	return Outcome{}
}

func TestEngine_SoilMoistureScenario(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, soilRule(1, "u1"))

	// 3113 on the 12-bit scale is 23.98%, below the 25% threshold.
	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	o := outcomeFor(t, r, "u1", 1)
	require.Equal(t, OutcomeCompleted, o.State)
	require.NotNil(t, o.Value)
	assert.InDelta(t, 23.98, *o.Value, 0.01)
	assert.NotZero(t, o.AlertID)
	require.Len(t, o.Deliveries, 1)
	assert.Equal(t, entities.DeliverySent, o.Deliveries[0].Status)
	assert.Equal(t, 1, f.email.count())

	f.clock.Advance(30 * time.Second)
	r = f.engine.HandleSample(t.Context(), f.soilSample(3113))
	o = outcomeFor(t, r, "u1", 1)
	assert.Equal(t, OutcomeSuppressed, o.State)
	assert.Equal(t, ReasonDebounced, o.Reason)

	f.clock.Advance(60 * time.Second)
	r = f.engine.HandleSample(t.Context(), f.soilSample(2900))
	o = outcomeFor(t, r, "u1", 1)
	assert.Equal(t, OutcomeSkipped, o.State)
	assert.Equal(t, ReasonNoMatch, o.Reason)

	f.clock.Advance(10 * time.Minute)
	r = f.engine.HandleSample(t.Context(), f.soilSample(3113))
	o = outcomeFor(t, r, "u1", 1)
	assert.Equal(t, OutcomeSuppressed, o.State)
	assert.Equal(t, ReasonCooldown, o.Reason)

	f.clock.Set(baseTime.Add(DefaultCooldownWindow))
	r = f.engine.HandleSample(t.Context(), f.soilSample(3113))
	assert.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u1", 1).State)

	assert.Equal(t, 2, f.email.count())
	alerts := f.history.snapshot()
	require.Len(t, alerts, 2)
	assert.Equal(t, entities.OriginAuto, alerts[0].Origin)
	assert.Equal(t, baseTime, alerts[0].CreatedAt)
	require.Len(t, alerts[0].Deliveries, 1)
	assert.Equal(t, entities.DeliverySent, alerts[0].Deliveries[0].Status)
}

func TestEngine_SharedUsersIndependentSuppression(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, soilRule(1, "u1"), soilRule(2, "u2"))

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	assert.Equal(t, []string{"u1", "u2"}, r.Users)
	assert.NotEmpty(t, r.EvaluationID)
	assert.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u1", 1).State)
	assert.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u2", 2).State)
	assert.Len(t, r.Fired(), 2)
	assert.Equal(t, 2, f.email.count())
}

func TestEngine_UnknownDevice(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, soilRule(1, "u1"))

	sample := telemetry.NewSample("ghost", map[string]float64{"soilMoisture": 3113}, baseTime)
	r := f.engine.HandleSample(t.Context(), sample)
	assert.Empty(t, r.Users)
	assert.Empty(t, r.Outcomes)
	assert.Empty(t, r.Error)
	assert.False(t, r.OwnerFallback)
}

func TestEngine_OwnerFallback(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, soilRule(1, "u1"), soilRule(2, "u2"))
	f.devices.sharedErr = errBoom

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	assert.True(t, r.OwnerFallback)
	assert.Equal(t, []string{"u1"}, r.Users)
	require.Len(t, r.Outcomes, 1)
	assert.Equal(t, OutcomeCompleted, r.Outcomes[0].State)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.OwnerFallbackTotal), 0)
}

func TestEngine_SkipReasons(t *testing.T) {
	t.Parallel()

	badOp := soilRule(2, "u1")
	badOp.Comparison = "~"
	otherDevice := soilRule(3, "u1")
	otherDevice.DeviceID = "dev-2"
	co2 := soilRule(4, "u1")
	co2.Parameter = "co2"
	co2.Comparison = ">"
	co2.Threshold = 1000
	badParam := soilRule(5, "u1")
	badParam.Parameter = "radiation"

	f := newEngineFixture(t, soilRule(1, "u1"), badOp, otherDevice, co2, badParam)
	r := f.engine.HandleSample(t.Context(), f.soilSample(2900))

	assert.Equal(t, ReasonNoMatch, outcomeFor(t, r, "u1", 1).Reason)
	assert.Equal(t, ReasonConfigError, outcomeFor(t, r, "u1", 2).Reason)
	assert.Equal(t, ReasonOtherDevice, outcomeFor(t, r, "u1", 3).Reason)
	assert.Equal(t, ReasonNoData, outcomeFor(t, r, "u1", 4).Reason, "missing reading is not zero")
	assert.Equal(t, ReasonConfigError, outcomeFor(t, r, "u1", 5).Reason)
	for _, o := range r.Outcomes {
		assert.Equal(t, OutcomeSkipped, o.State)
	}
	assert.Zero(t, f.email.count())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RuleOutcomesTotal.WithLabelValues(OutcomeSkipped, ReasonNoData)), 0)
}

func TestEngine_IndependentChannelFailure(t *testing.T) {
	t.Parallel()

	smsRule := soilRule(2, "u1")
	smsRule.Channel = entities.ChannelSMS
	smsRule.Destination = "+15550100"
	f := newEngineFixture(t, soilRule(1, "u1"), smsRule)
	f.email.err = errBoom

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))

	emailOutcome := outcomeFor(t, r, "u1", 1)
	assert.Equal(t, OutcomeCompleted, emailOutcome.State)
	require.Len(t, emailOutcome.Deliveries, 1)
	assert.Equal(t, entities.DeliveryFailed, emailOutcome.Deliveries[0].Status)
	assert.Contains(t, emailOutcome.Deliveries[0].Error, "boom")

	smsOutcome := outcomeFor(t, r, "u1", 2)
	assert.Equal(t, OutcomeCompleted, smsOutcome.State)
	assert.Equal(t, entities.DeliverySent, smsOutcome.Deliveries[0].Status)
	assert.Equal(t, 1, f.sms.count())

	// A failed delivery still starts the cooldown.
	f.clock.Advance(5 * time.Minute)
	r = f.engine.HandleSample(t.Context(), f.soilSample(3113))
	assert.Equal(t, ReasonCooldown, outcomeFor(t, r, "u1", 1).Reason)

	alerts := f.history.snapshot()
	require.Len(t, alerts, 2)
	assert.Equal(t, entities.DeliveryFailed, alerts[0].Deliveries[0].Status)
}

// panickyHistory panics while checking the cooldown of one rule.
type panickyHistory struct {
	*mockHistory
	ruleID uint
}

func (p *panickyHistory) LatestTriggeredAt(ctx context.Context, userID string, ruleID uint, origin string, since time.Time) (time.Time, bool, error) {
	if ruleID == p.ruleID {
		panic("corrupt history row")
	}
	return p.mockHistory.LatestTriggeredAt(ctx, userID, ruleID, origin, since)
}

func TestEngine_PanicIsolatedPerRule(t *testing.T) {
	t.Parallel()

	history := &panickyHistory{mockHistory: &mockHistory{}, ruleID: 1}
	f := newEngineFixtureWithHistory(t, history, soilRule(1, "u1"), soilRule(2, "u1"))

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	broken := outcomeFor(t, r, "u1", 1)
	assert.Equal(t, OutcomeFailed, broken.State)
	assert.Equal(t, ReasonPanic, broken.Reason)
	assert.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u1", 2).State)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.PanicsTotal.WithLabelValues("rule")), 0)

	// The key lock was released and nothing was committed by the panicking
	// evaluation.
	history.ruleID = 0
	f.clock.Advance(time.Second)
	r = f.engine.HandleSample(t.Context(), f.soilSample(3113))
	assert.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u1", 1).State)
	assert.Equal(t, ReasonDebounced, outcomeFor(t, r, "u1", 2).Reason)
}

func TestEngine_SenderPanicBecomesFailedDelivery(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, soilRule(1, "u1"))
	f.email.panic = true

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	o := outcomeFor(t, r, "u1", 1)
	assert.Equal(t, OutcomeCompleted, o.State)
	require.Len(t, o.Deliveries, 1)
	assert.Equal(t, entities.DeliveryFailed, o.Deliveries[0].Status)
	assert.Contains(t, o.Deliveries[0].Error, "sender panic")
}

func TestEngine_RecordingFailureAbortsFiring(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, soilRule(1, "u1"))
	f.history.saveErr = errBoom

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	o := outcomeFor(t, r, "u1", 1)
	assert.Equal(t, OutcomeFailed, o.State)
	assert.Equal(t, ReasonRecording, o.Reason)
	assert.Zero(t, f.email.count(), "nothing is sent without an audit record")

	f.history.mu.Lock()
	f.history.saveErr = nil
	f.history.mu.Unlock()

	f.clock.Advance(time.Second)
	r = f.engine.HandleSample(t.Context(), f.soilSample(3113))
	assert.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u1", 1).State, "suppression state was rolled back")
}

func TestEngine_RuleLookupFailure(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, soilRule(1, "u1"))
	f.rules.err = errBoom

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	require.Len(t, r.Outcomes, 2)
	for _, o := range r.Outcomes {
		assert.Equal(t, OutcomeFailed, o.State)
		assert.Equal(t, ReasonRuleLookup, o.Reason)
	}
}

func TestEngine_NilSample(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	r := f.engine.HandleSample(t.Context(), nil)
	assert.NotEmpty(t, r.Error)
	assert.Empty(t, r.Outcomes)
}

func TestEngine_TestRule(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, soilRule(1, "u1"))

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	require.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u1", 1).State)

	f.clock.Advance(time.Second)
	o, err := f.engine.TestRule(t.Context(), "u1", 1, nil, testDevice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, o.State, "test firings bypass debounce and cooldown")
	assert.InDelta(t, 25, *o.Value, 0, "value defaults to the threshold")

	o, err = f.engine.TestRule(t.Context(), "u1", 1, ptr(12.5), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, o.State)

	alerts := f.history.snapshot()
	require.Len(t, alerts, 3)
	assert.Equal(t, entities.OriginTest, alerts[1].Origin)
	assert.InDelta(t, 12.5, alerts[2].ActualValue, 0)

	sent := f.email.sent
	require.Len(t, sent, 3)
	assert.Contains(t, sent[1].Message.Title, "[TEST]")

	// Test firings never feed the cooldown of automatic ones.
	f.clock.Set(baseTime.Add(DefaultCooldownWindow))
	r = f.engine.HandleSample(t.Context(), f.soilSample(3113))
	assert.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u1", 1).State)

	_, err = f.engine.TestRule(t.Context(), "u2", 1, nil, "")
	require.ErrorIs(t, err, repository.ErrAlertRuleNotFound)
}

func TestEngine_ResetSuppression(t *testing.T) {
	t.Parallel()
	f := newEngineFixtureWithHistory(t, &mockHistory{}, soilRule(1, "u1"))

	r := f.engine.HandleSample(t.Context(), f.soilSample(3113))
	require.Equal(t, OutcomeCompleted, outcomeFor(t, r, "u1", 1).State)

	require.NoError(t, f.engine.ResetSuppression(t.Context()))

	// The persisted history still enforces the cooldown after a reset.
	f.clock.Advance(2 * time.Minute)
	r = f.engine.HandleSample(t.Context(), f.soilSample(3113))
	assert.Equal(t, ReasonPersistedCooldown, outcomeFor(t, r, "u1", 1).Reason)
}

func TestEngine_HistoryCleanup(t *testing.T) {
	t.Parallel()

	history := &mockHistory{}
	for i, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		require.NoError(t, history.Save(t.Context(), &entities.TriggeredAlert{
			UserID: "u1", RuleID: uint(i + 1), CreatedAt: baseTime.Add(-age),
		}))
	}

	cfg := DefaultConfig()
	cfg.CleanupInterval = 5 * time.Millisecond
	engine := NewEngine(Dependencies{
		Rules:       newMockRuleStore(),
		Devices:     &mockDevices{},
		History:     history,
		Suppression: NewMemoryStore(time.Hour),
	}, cfg, testLogger(), WithClock(func() time.Time { return baseTime }))

	engine.StartHistoryCleanup(30)
	require.Eventually(t, func() bool {
		return len(history.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	engine.Stop()
	engine.Stop()

	deleted, err := engine.CleanupHistory(t.Context(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
