package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/errors"
)

// TriggeredAlertRepository is the single authoritative history sink.
type TriggeredAlertRepository interface {
	// Save inserts the alert together with its pending deliveries.
	Save(ctx context.Context, alert *entities.TriggeredAlert) error
	// UpdateDeliveries records the final status of each delivery, matched by
	// channel and destination.
	UpdateDeliveries(ctx context.Context, alertID uint, userID string, deliveries []entities.AlertDelivery) error
	// LatestTriggeredAt returns the newest created_at of the rule's alerts
	// with the given origin at or after since.
	LatestTriggeredAt(ctx context.Context, userID string, ruleID uint, origin string, since time.Time) (time.Time, bool, error)
	Get(ctx context.Context, userID string, id uint) (*entities.TriggeredAlert, error)
	List(ctx context.Context, filter TriggeredAlertFilter) ([]entities.TriggeredAlert, int64, error)
	MarkSeen(ctx context.Context, userID string, id uint) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TriggeredAlertFilter controls history listing queries.
type TriggeredAlertFilter struct {
	UserID     string
	RuleID     uint
	UnseenOnly bool
	Limit      int
	Offset     int
}

type triggeredAlertRepository struct {
	db *gorm.DB
}

// NewTriggeredAlertRepository creates a new TriggeredAlertRepository.
func NewTriggeredAlertRepository(db *gorm.DB) TriggeredAlertRepository {
	return &triggeredAlertRepository{db: db}
}

func (r *triggeredAlertRepository) Save(ctx context.Context, alert *entities.TriggeredAlert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	// Stored in UTC so created_at range queries compare consistently on
	// drivers that persist timestamps as text.
	alert.CreatedAt = alert.CreatedAt.UTC()
	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("failed to save triggered alert: %w", err)
	}
	return nil
}

func (r *triggeredAlertRepository) UpdateDeliveries(ctx context.Context, alertID uint, userID string, deliveries []entities.AlertDelivery) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entities.TriggeredAlert{}).
			Where("id = ? AND user_id = ?", alertID, userID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to look up triggered alert %d: %w", alertID, err)
		}
		if count == 0 {
			return fmt.Errorf("alert %d of user %s: %w", alertID, userID, ErrTriggeredAlertNotFound)
		}

		for _, d := range deliveries {
			result := tx.Model(&entities.AlertDelivery{}).
				Where("triggered_alert_id = ? AND channel = ? AND destination = ?", alertID, d.Channel, d.Destination).
				Updates(map[string]any{
					"status":  d.Status,
					"error":   d.Error,
					"sent_at": d.SentAt,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to update delivery %s of alert %d: %w", d.Channel, alertID, result.Error)
			}
			if result.RowsAffected == 0 {
				d.ID = 0
				d.TriggeredAlertID = alertID
				if err := tx.Create(&d).Error; err != nil {
					return fmt.Errorf("failed to add delivery %s of alert %d: %w", d.Channel, alertID, err)
				}
			}
		}
		return nil
	})
}

func (r *triggeredAlertRepository) LatestTriggeredAt(ctx context.Context, userID string, ruleID uint, origin string, since time.Time) (time.Time, bool, error) {
	var alert entities.TriggeredAlert
	query := r.db.WithContext(ctx).
		Select("id", "created_at").
		Where("user_id = ? AND rule_id = ? AND created_at >= ?", userID, ruleID, since.UTC())
	if origin != "" {
		query = query.Where("origin = ?", origin)
	}
	err := query.Order("created_at DESC").Take(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to query alert history of rule %d: %w", ruleID, err)
	}
	return alert.CreatedAt, true, nil
}

func (r *triggeredAlertRepository) Get(ctx context.Context, userID string, id uint) (*entities.TriggeredAlert, error) {
	var alert entities.TriggeredAlert
	err := r.db.WithContext(ctx).Preload("Deliveries").Where("user_id = ?", userID).First(&alert, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("alert %d of user %s: %w", id, userID, ErrTriggeredAlertNotFound)
		}
		return nil, fmt.Errorf("failed to get triggered alert %d: %w", id, err)
	}
	return &alert, nil
}

func (r *triggeredAlertRepository) List(ctx context.Context, filter TriggeredAlertFilter) ([]entities.TriggeredAlert, int64, error) {
	var items []entities.TriggeredAlert
	var total int64

	scope := func(q *gorm.DB) *gorm.DB {
		if filter.UserID != "" {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.RuleID > 0 {
			q = q.Where("rule_id = ?", filter.RuleID)
		}
		if filter.UnseenOnly {
			q = q.Where("seen = ?", false)
		}
		return q
	}

	if err := r.db.WithContext(ctx).Model(&entities.TriggeredAlert{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count triggered alerts: %w", err)
	}

	query := r.db.WithContext(ctx).Scopes(scope).Preload("Deliveries").Order("created_at DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list triggered alerts: %w", err)
	}
	return items, total, nil
}

func (r *triggeredAlertRepository) MarkSeen(ctx context.Context, userID string, id uint) error {
	result := r.db.WithContext(ctx).Model(&entities.TriggeredAlert{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("seen", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark alert %d seen: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("alert %d of user %s: %w", id, userID, ErrTriggeredAlertNotFound)
	}
	return nil
}

// DeleteBefore purges alerts created before the cutoff and their deliveries.
func (r *triggeredAlertRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before = before.UTC()
		expired := tx.Model(&entities.TriggeredAlert{}).Select("id").Where("created_at < ?", before)
		if err := tx.Where("triggered_alert_id IN (?)", expired).Delete(&entities.AlertDelivery{}).Error; err != nil {
			return fmt.Errorf("failed to delete expired deliveries: %w", err)
		}
		result := tx.Where("created_at < ?", before).Delete(&entities.TriggeredAlert{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete triggered alerts before %v: %w", before, result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}
