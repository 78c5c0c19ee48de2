package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/datastore/repository"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/observability"
	"github.com/fieldsense/alertd/internal/telemetry"
)

// Outcome states of a rule evaluation.
const (
	OutcomeSkipped    = "skipped"
	OutcomeSuppressed = "suppressed"
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
)

// RuleStore is the read side of user alert rules.
type RuleStore interface {
	ActiveRulesFor(ctx context.Context, userID string) ([]entities.AlertRule, error)
	GetRule(ctx context.Context, userID string, id uint) (*entities.AlertRule, error)
}

// DeviceRegistry resolves who may see a device's telemetry.
type DeviceRegistry interface {
	AuthorizedUsers(ctx context.Context, deviceID string) ([]string, error)
	OwnerOf(ctx context.Context, deviceID string) (string, error)
}

// Dependencies are the collaborators of the Engine.
type Dependencies struct {
	Rules       RuleStore
	Devices     DeviceRegistry
	History     HistoryStore
	Suppression SuppressionStore
	Senders     map[string]ChannelSender
}

// Config tunes the Engine.
type Config struct {
	Windows         Windows
	DispatchTimeout time.Duration
	RecordTimeout   time.Duration
	UserConcurrency int
	RetentionDays   int
	CleanupInterval time.Duration
}

// DefaultConfig returns the built-in engine configuration.
func DefaultConfig() Config {
	return Config{
		Windows:         DefaultWindows(),
		DispatchTimeout: DefaultDispatchTimeout,
		RecordTimeout:   DefaultRecordTimeout,
		UserConcurrency: DefaultUserConcurrency,
		RetentionDays:   DefaultRetentionDays,
		CleanupInterval: defaultCleanupInterval,
	}
}

// Outcome is the result of evaluating one rule for one user.
type Outcome struct {
	UserID     string           `json:"user_id"`
	RuleID     uint             `json:"rule_id,omitempty"`
	Parameter  string           `json:"parameter,omitempty"`
	State      string           `json:"state"`
	Reason     string           `json:"reason,omitempty"`
	Value      *float64         `json:"value,omitempty"`
	RetryAfter time.Duration    `json:"retry_after_ns,omitempty"`
	AlertID    uint             `json:"alert_id,omitempty"`
	Deliveries []DeliveryResult `json:"deliveries,omitempty"`
}

// Report summarises one HandleSample call.
type Report struct {
	EvaluationID  string    `json:"evaluation_id"`
	DeviceID      string    `json:"device_id"`
	ReceivedAt    time.Time `json:"received_at"`
	Users         []string  `json:"users"`
	OwnerFallback bool      `json:"owner_fallback,omitempty"`
	Outcomes      []Outcome `json:"outcomes"`
	Error         string    `json:"error,omitempty"`
}

// Fired returns the outcomes that completed a firing.
func (r *Report) Fired() []Outcome {
	var out []Outcome
	for i := range r.Outcomes {
		if r.Outcomes[i].State == OutcomeCompleted {
			out = append(out, r.Outcomes[i])
		}
	}
	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records evaluation metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine evaluates telemetry samples against the rules of every user
// authorized for the sending device.
type Engine struct {
	rules      RuleStore
	devices    DeviceRegistry
	history    HistoryStore
	suppressor *Suppressor
	recorder   *Recorder
	dispatcher *Dispatcher
	cfg        Config
	metrics    *observability.Metrics
	log        logger.Logger
	now        func() time.Time

	// History cleanup
	mu          sync.Mutex
	cleanupStop chan struct{}
	cleanupWG   sync.WaitGroup
}

// NewEngine creates a new alerting engine.
func NewEngine(deps Dependencies, cfg Config, log logger.Logger, opts ...Option) *Engine {
	if cfg.UserConcurrency <= 0 {
		cfg.UserConcurrency = DefaultUserConcurrency
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	log = log.Module("alerting")

	e := &Engine{
		rules:   deps.Rules,
		devices: deps.Devices,
		history: deps.History,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	var checker HistoryChecker
	if deps.History != nil {
		checker = deps.History
	}
	e.suppressor = NewSuppressor(deps.Suppression, checker, cfg.Windows, log)
	e.recorder = NewRecorder(deps.History, cfg.RecordTimeout, log)
	e.dispatcher = NewDispatcher(deps.Senders, cfg.DispatchTimeout, e.metrics, log)
	e.dispatcher.now = e.now
	return e
}

// HandleSample evaluates sample against every active rule of every
// authorized user. It never returns an error: failures are reported per
// outcome and logged.
func (e *Engine) HandleSample(ctx context.Context, sample *telemetry.Sample) (report *Report) {
	start := time.Now()
	report = &Report{EvaluationID: uuid.NewString()}
	if sample == nil {
		report.Error = "empty sample"
		return report
	}
	report.DeviceID = sample.DeviceID
	report.ReceivedAt = sample.ReceivedAt

	log := e.log.With(
		logger.String("evaluation_id", report.EvaluationID),
		logger.String("device_id", sample.DeviceID))

	defer func() {
		if r := recover(); r != nil {
			e.recovered("sample", r, log, map[string]string{"device_id": sample.DeviceID})
			report.Error = fmt.Sprintf("evaluation panic: %v", r)
		}
		e.metrics.Evaluation(time.Since(start), len(report.Users), report.OwnerFallback)
	}()

	report.Users, report.OwnerFallback = e.resolveUsers(ctx, sample.DeviceID, log)
	if len(report.Users) == 0 {
		log.Debug("no authorized users for device")
		return report
	}

	perUser := make([][]Outcome, len(report.Users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.UserConcurrency)
	for i, userID := range report.Users {
		g.Go(func() error {
			perUser[i] = e.evaluateUser(gctx, userID, sample, log.With(logger.String("user_id", userID)))
			return nil
		})
	}
	_ = g.Wait()

	for _, outcomes := range perUser {
		report.Outcomes = append(report.Outcomes, outcomes...)
	}
	if fired := len(report.Fired()); fired > 0 {
		log.Info("telemetry sample evaluated",
			logger.Int("users", len(report.Users)),
			logger.Int("fired", fired))
	}
	return report
}

// resolveUsers returns the owner and shared users of the device. When the
// full lookup fails the owner alone is used. An unknown device has no users.
func (e *Engine) resolveUsers(ctx context.Context, deviceID string, log logger.Logger) (users []string, fallback bool) {
	users, err := e.devices.AuthorizedUsers(ctx, deviceID)
	if err == nil {
		return users, false
	}
	if errors.Is(err, repository.ErrDeviceNotFound) {
		log.Warn("telemetry from unknown device")
		return nil, false
	}

	log.Warn("failed to resolve authorized users, falling back to owner", logger.Error(err))
	owner, ownerErr := e.devices.OwnerOf(ctx, deviceID)
	if ownerErr != nil {
		log.Error("failed to resolve device owner", logger.Error(ownerErr))
		observability.ReportError(ownerErr, map[string]string{"device_id": deviceID})
		return nil, true
	}
	if owner == "" {
		return nil, true
	}
	return []string{owner}, true
}

func (e *Engine) evaluateUser(ctx context.Context, userID string, sample *telemetry.Sample, log logger.Logger) (outcomes []Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.recovered("user", r, log, map[string]string{"user_id": userID})
			outcomes = append(outcomes, Outcome{UserID: userID, State: OutcomeFailed, Reason: ReasonPanic})
		}
	}()

	rules, err := e.rules.ActiveRulesFor(ctx, userID)
	if err != nil {
		log.Error("failed to load alert rules", logger.Error(err))
		e.metrics.RuleOutcome(OutcomeFailed, ReasonRuleLookup)
		return []Outcome{{UserID: userID, State: OutcomeFailed, Reason: ReasonRuleLookup}}
	}

	// Rules of one user run in order so their firings are reproducible.
	outcomes = make([]Outcome, 0, len(rules))
	for i := range rules {
		outcome := e.evaluateRule(ctx, userID, &rules[i], sample, log)
		e.metrics.RuleOutcome(outcome.State, outcome.Reason)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Engine) evaluateRule(ctx context.Context, userID string, rule *entities.AlertRule, sample *telemetry.Sample, log logger.Logger) (outcome Outcome) {
	outcome = Outcome{UserID: userID, RuleID: rule.ID, Parameter: rule.Parameter}
	log = log.With(logger.Uint64("rule_id", uint64(rule.ID)))

	defer func() {
		if r := recover(); r != nil {
			e.recovered("rule", r, log, map[string]string{
				"user_id": userID,
				"rule_id": fmt.Sprint(rule.ID),
			})
			outcome.State = OutcomeFailed
			outcome.Reason = ReasonPanic
		}
	}()

	skip := func(reason string) Outcome {
		outcome.State = OutcomeSkipped
		outcome.Reason = reason
		return outcome
	}

	if !rule.Active {
		return skip(ReasonInactive)
	}
	if !rule.AppliesTo(sample.DeviceID) {
		return skip(ReasonOtherDevice)
	}
	param, err := telemetry.ParseParameter(rule.Parameter)
	if err != nil {
		log.Warn("alert rule has unknown parameter", logger.String("parameter", rule.Parameter))
		return skip(ReasonConfigError)
	}
	reading, ok := telemetry.Extract(param, sample)
	if !ok {
		return skip(ReasonNoData)
	}
	if reading.Uncalibrated {
		log.Warn("raw soil moisture outside known ADC ranges, value clamped",
			logger.Float64("raw", reading.Raw),
			logger.Float64("value", reading.Value))
	}
	value := reading.Value
	outcome.Value = &value

	match, err := Evaluate(value, rule.Comparison, rule.Threshold)
	if err != nil {
		log.Warn("alert rule has invalid comparison", logger.String("comparison", rule.Comparison), logger.Error(err))
		return skip(ReasonConfigError)
	}
	if !match {
		return skip(ReasonNoMatch)
	}

	fired := e.fire(ctx, userID, rule, param, value, sample.DeviceID, entities.OriginAuto, log)
	fired.Value = outcome.Value
	return fired
}

// fire runs the suppression gate, records and dispatches one firing.
func (e *Engine) fire(ctx context.Context, userID string, rule *entities.AlertRule, param telemetry.Parameter, value float64, deviceID, origin string, log logger.Logger) Outcome {
	outcome := Outcome{UserID: userID, RuleID: rule.ID, Parameter: rule.Parameter}
	now := e.now()
	targets := []Target{{Channel: rule.Channel, Destination: rule.Destination}}
	key := Key{UserID: userID, RuleID: rule.ID, Parameter: param}

	var alertID uint
	decision, err := e.suppressor.Guard(ctx, key, now, origin == entities.OriginTest, func(ctx context.Context) error {
		id, err := e.recorder.Record(ctx, rule, value, userID, deviceID, origin, now, targets)
		alertID = id
		return err
	})
	if !decision.Allowed {
		e.metrics.Suppressed(decision.Reason)
		log.Debug("alert suppressed",
			logger.String("reason", decision.Reason),
			logger.Duration("retry_after", decision.RetryAfter))
		outcome.State = OutcomeSuppressed
		outcome.Reason = decision.Reason
		outcome.RetryAfter = decision.RetryAfter
		return outcome
	}
	if err != nil {
		log.Error("failed to record triggered alert", logger.Error(err))
		observability.ReportError(err, map[string]string{"user_id": userID, "rule_id": fmt.Sprint(rule.ID)})
		outcome.State = OutcomeFailed
		outcome.Reason = ReasonRecording
		return outcome
	}

	msg := RenderMessage(rule, value, deviceID, origin, now)
	outcome.Deliveries = e.dispatcher.Dispatch(ctx, targets, msg)
	e.recorder.UpdateSendStatus(ctx, alertID, userID, outcome.Deliveries)

	log.Info("alert fired",
		logger.Uint64("alert_id", uint64(alertID)),
		logger.String("origin", origin),
		logger.Float64("value", value))
	outcome.State = OutcomeCompleted
	outcome.AlertID = alertID
	return outcome
}

// TestRule fires one rule of a user on demand. Suppression is bypassed and
// never updated. value defaults to the rule threshold and deviceID to the
// rule's device.
func (e *Engine) TestRule(ctx context.Context, userID string, ruleID uint, value *float64, deviceID string) (*Outcome, error) {
	rule, err := e.rules.GetRule(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}
	param, err := telemetry.ParseParameter(rule.Parameter)
	if err != nil {
		return nil, errors.Wrap(errors.CategoryConfiguration, "test rule", err)
	}
	if _, err := ParseComparison(rule.Comparison); err != nil {
		return nil, err
	}

	observed := rule.Threshold
	if value != nil {
		observed = *value
	}
	if deviceID == "" {
		deviceID = rule.DeviceID
	}

	log := e.log.With(
		logger.String("user_id", userID),
		logger.Uint64("rule_id", uint64(rule.ID)))
	outcome := e.fire(ctx, userID, rule, param, observed, deviceID, entities.OriginTest, log)
	outcome.Value = &observed
	e.metrics.RuleOutcome(outcome.State, outcome.Reason)
	return &outcome, nil
}

// ResetSuppression clears all debounce and cooldown state.
func (e *Engine) ResetSuppression(ctx context.Context) error {
	return e.suppressor.Reset(ctx)
}

// CleanupHistory deletes triggered alerts older than retentionDays.
func (e *Engine) CleanupHistory(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := e.now().AddDate(0, 0, -retentionDays)
	deleted, err := e.history.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete triggered alerts before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return deleted, nil
}

// StartHistoryCleanup starts a background goroutine that periodically deletes
// triggered alerts older than retentionDays. A value of 0 disables cleanup.
func (e *Engine) StartHistoryCleanup(retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	// Stop any existing cleanup goroutine before starting a new one.
	e.stopCleanup()
	e.mu.Lock()
	e.cleanupStop = make(chan struct{})
	stopCh := e.cleanupStop
	e.mu.Unlock()

	e.cleanupWG.Add(1)
	go func() {
		defer e.cleanupWG.Done()
		ticker := time.NewTicker(e.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
				deleted, err := e.CleanupHistory(ctx, retentionDays)
				cancel()
				if err != nil {
					e.log.Error("alert history cleanup failed", logger.Error(err))
				} else if deleted > 0 {
					e.log.Info("alert history cleanup completed",
						logger.Int64("deleted", deleted),
						logger.Int("retention_days", retentionDays))
				}
			case <-stopCh:
				return
			}
		}
	}()
}

func (e *Engine) stopCleanup() {
	e.mu.Lock()
	ch := e.cleanupStop
	e.cleanupStop = nil
	e.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Stop shuts down background goroutines and waits for them to exit.
func (e *Engine) Stop() {
	e.stopCleanup()
	e.cleanupWG.Wait()
}

func (e *Engine) recovered(scope string, r any, log logger.Logger, tags map[string]string) {
	e.metrics.Panic(scope)
	eventID := observability.ReportPanic(r, tags)
	log.Error("recovered panic during alert evaluation",
		logger.String("scope", scope),
		logger.String("sentry_event_id", eventID),
		logger.Any("panic", r))
}
