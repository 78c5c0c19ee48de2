// Package repository provides GORM-backed stores for rules, device access and
// triggered alert history.
package repository

import "github.com/fieldsense/alertd/internal/errors"

// Sentinel errors returned (wrapped with %w) by the repositories.
var (
	ErrAlertRuleNotFound      = errors.New("alert rule not found")
	ErrTriggeredAlertNotFound = errors.New("triggered alert not found")
	ErrDeviceNotFound         = errors.New("device not found")
)
