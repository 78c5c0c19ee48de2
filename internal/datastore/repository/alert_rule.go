package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/errors"
)

// AlertRuleRepository reads user alert rules.
type AlertRuleRepository interface {
	// ActiveRulesFor returns the user's active rules ordered by id.
	ActiveRulesFor(ctx context.Context, userID string) ([]entities.AlertRule, error)
	GetRule(ctx context.Context, userID string, id uint) (*entities.AlertRule, error)
	ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error)
	CreateRule(ctx context.Context, rule *entities.AlertRule) error
	SetActive(ctx context.Context, userID string, id uint, active bool) error
}

// AlertRuleFilter controls rule listing queries.
type AlertRuleFilter struct {
	UserID    string
	Parameter string
	Active    *bool
}

type alertRuleRepository struct {
	db *gorm.DB
}

// NewAlertRuleRepository creates a new AlertRuleRepository.
func NewAlertRuleRepository(db *gorm.DB) AlertRuleRepository {
	return &alertRuleRepository{db: db}
}

func (r *alertRuleRepository) ActiveRulesFor(ctx context.Context, userID string) ([]entities.AlertRule, error) {
	active := true
	return r.ListRules(ctx, AlertRuleFilter{UserID: userID, Active: &active})
}

// GetRule returns one of the user's rules. A rule owned by another user is
// reported as not found.
func (r *alertRuleRepository) GetRule(ctx context.Context, userID string, id uint) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rule, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("rule %d of user %s: %w", id, userID, ErrAlertRuleNotFound)
		}
		return nil, fmt.Errorf("failed to get alert rule %d: %w", id, err)
	}
	return &rule, nil
}

func (r *alertRuleRepository) ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error) {
	var rules []entities.AlertRule
	query := r.db.WithContext(ctx)

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Parameter != "" {
		query = query.Where("parameter = ?", filter.Parameter)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}

	if err := query.Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

func (r *alertRuleRepository) CreateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.UserID == "" {
		return errors.Newf(errors.CategoryValidation, "create alert rule", "missing user id")
	}
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

// SetActive enables or disables one of the user's rules.
func (r *alertRuleRepository) SetActive(ctx context.Context, userID string, id uint, active bool) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertRule{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to toggle alert rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule %d of user %s: %w", id, userID, ErrAlertRuleNotFound)
	}
	return nil
}
