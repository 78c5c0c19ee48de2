package entities

import "time"

// Trigger origins.
const (
	OriginAuto = "auto"
	OriginTest = "test"
)

// Delivery statuses.
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// TriggeredAlert is the audit record written once per firing decision. The
// rule fields are copied so the record stays meaningful after the rule is
// edited or deleted, which is also why there is no foreign key to the rule.
type TriggeredAlert struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	UserID      string  `gorm:"size:128;not null;index:idx_triggered_alerts_user_rule_created,priority:1" json:"user_id"`
	RuleID      uint    `gorm:"not null;index:idx_triggered_alerts_user_rule_created,priority:2" json:"rule_id"`
	Parameter   string  `gorm:"size:50;not null" json:"parameter"`
	Comparison  string  `gorm:"size:20;not null" json:"comparison"`
	Threshold   float64 `gorm:"not null" json:"threshold"`
	ActualValue float64 `gorm:"not null" json:"actual_value"`
	DeviceID    string  `gorm:"size:128;not null;index" json:"device_id"`
	Origin      string  `gorm:"size:10;not null;default:'auto'" json:"origin"`
	Critical    bool    `gorm:"not null;default:false" json:"critical"`
	Seen        bool    `gorm:"not null;default:false" json:"seen"`
	// CreatedAt is set from the engine clock, not by the database, so
	// cooldown queries and suppression windows agree on time.
	CreatedAt  time.Time       `gorm:"not null;index:idx_triggered_alerts_user_rule_created,priority:3" json:"created_at"`
	Deliveries []AlertDelivery `gorm:"foreignKey:TriggeredAlertID;constraint:OnDelete:CASCADE" json:"deliveries"`
}

// TableName returns the table name for GORM.
func (TriggeredAlert) TableName() string {
	return "triggered_alerts"
}

// MaxDeliveryErrorLength is the column size of AlertDelivery.Error in
// characters.
const MaxDeliveryErrorLength = 1000

// AlertDelivery is the send status of one channel target of a triggered alert.
type AlertDelivery struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	TriggeredAlertID uint       `gorm:"not null;index" json:"triggered_alert_id"`
	Channel          string     `gorm:"size:10;not null" json:"channel"`
	Destination      string     `gorm:"size:255;not null" json:"destination"`
	Status           string     `gorm:"size:10;not null;default:'pending'" json:"status"`
	Error            string     `gorm:"size:1000;default:''" json:"error,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
}

// TableName returns the table name for GORM.
func (AlertDelivery) TableName() string {
	return "alert_deliveries"
}
