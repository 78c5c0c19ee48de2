// Package alerting evaluates telemetry samples against user alert rules,
// suppresses duplicate firings and dispatches notifications.
package alerting

import "time"

// Comparison operators.
const (
	OperatorGreaterThan    = ">"
	OperatorLessThan       = "<"
	OperatorGreaterOrEqual = ">="
	OperatorLessOrEqual    = "<="
)

// Named operator aliases accepted in stored rules.
const (
	OperatorNameGreaterThan    = "greater_than"
	OperatorNameLessThan       = "less_than"
	OperatorNameGreaterOrEqual = "greater_or_equal"
	OperatorNameLessOrEqual    = "less_or_equal"
)

// Suppression reasons.
const (
	ReasonDebounced = "debounced"
	ReasonCooldown  = "cooldown"
	// ReasonPersistedCooldown denies because the alert history holds an
	// automatic firing inside the cooldown window, e.g. after a restart.
	ReasonPersistedCooldown = "persisted-cooldown"
	ReasonStoreError        = "store-error"
)

// Skip and failure reasons.
const (
	ReasonNoData      = "no-data"
	ReasonNoMatch     = "no-match"
	ReasonConfigError = "config-error"
	ReasonOtherDevice = "other-device"
	ReasonInactive    = "inactive"
	ReasonRecording   = "recording"
	ReasonRuleLookup  = "rule-lookup"
	ReasonPanic       = "panic"
)

const (
	DefaultDebounceWindow  = 60 * time.Second
	DefaultCooldownWindow  = 2 * time.Hour
	DefaultDispatchTimeout = 5 * time.Second
	DefaultRecordTimeout   = 3 * time.Second
	DefaultRetentionDays   = 30
	DefaultUserConcurrency = 4

	// cleanupTimeout is the context deadline for the periodic history deletion.
	cleanupTimeout = 30 * time.Second
	// defaultCleanupInterval is how often the history cleanup goroutine runs.
	defaultCleanupInterval = time.Hour
)
