package alerting

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
)

// HistoryStore is the persistence the engine needs for triggered alerts.
type HistoryStore interface {
	HistoryChecker
	Save(ctx context.Context, alert *entities.TriggeredAlert) error
	UpdateDeliveries(ctx context.Context, alertID uint, userID string, deliveries []entities.AlertDelivery) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Recorder writes the audit record of every firing.
type Recorder struct {
	store   HistoryStore
	timeout time.Duration
	log     logger.Logger
}

// NewRecorder creates a Recorder. timeout bounds each write.
func NewRecorder(store HistoryStore, timeout time.Duration, log logger.Logger) *Recorder {
	if timeout <= 0 {
		timeout = DefaultRecordTimeout
	}
	return &Recorder{store: store, timeout: timeout, log: log.Module("recorder")}
}

// Record persists a TriggeredAlert with one pending delivery per target and
// returns its id. Failure aborts the firing.
func (r *Recorder) Record(ctx context.Context, rule *entities.AlertRule, observed float64, userID, deviceID, origin string, at time.Time, targets []Target) (uint, error) {
	alert := &entities.TriggeredAlert{
		UserID:      userID,
		RuleID:      rule.ID,
		Parameter:   rule.Parameter,
		Comparison:  rule.Comparison,
		Threshold:   rule.Threshold,
		ActualValue: observed,
		DeviceID:    deviceID,
		Origin:      origin,
		Critical:    rule.Critical,
		CreatedAt:   at,
	}
	for _, t := range targets {
		alert.Deliveries = append(alert.Deliveries, entities.AlertDelivery{
			Channel:     t.Channel,
			Destination: t.Destination,
			Status:      entities.DeliveryPending,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.Save(ctx, alert); err != nil {
		return 0, errors.Wrap(errors.CategoryRecording, "record triggered alert", err)
	}
	return alert.ID, nil
}

// UpdateSendStatus stores the delivery results of a recorded alert. It is
// best effort: failures are logged and the firing still counts.
func (r *Recorder) UpdateSendStatus(ctx context.Context, alertID uint, userID string, results []DeliveryResult) {
	if alertID == 0 || len(results) == 0 {
		return
	}
	deliveries := make([]entities.AlertDelivery, 0, len(results))
	for i := range results {
		res := &results[i]
		d := entities.AlertDelivery{
			Channel:     res.Channel,
			Destination: res.Destination,
			Status:      res.Status,
			Error:       truncateRunes(res.Error, entities.MaxDeliveryErrorLength),
		}
		if !res.SentAt.IsZero() {
			sentAt := res.SentAt
			d.SentAt = &sentAt
		}
		deliveries = append(deliveries, d)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.UpdateDeliveries(ctx, alertID, userID, deliveries); err != nil {
		r.log.Warn("failed to update delivery status",
			logger.Uint64("alert_id", uint64(alertID)),
			logger.String("user_id", userID),
			logger.Error(err))
	}
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
