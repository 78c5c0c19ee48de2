package entities

import "time"

// Notification channels a rule can deliver through.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// AlertRule is a user-owned threshold condition over one telemetry parameter.
// The engine only reads rules; they are authored elsewhere.
type AlertRule struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	UserID      string  `gorm:"size:128;not null;index:idx_alert_rules_user_active,priority:1" json:"user_id"`
	Name        string  `gorm:"size:255;default:''" json:"name"`
	Parameter   string  `gorm:"size:50;not null" json:"parameter"`
	Comparison  string  `gorm:"size:20;not null" json:"comparison"`
	Threshold   float64 `gorm:"not null" json:"threshold"`
	Channel     string  `gorm:"size:10;not null" json:"channel"`
	Destination string  `gorm:"size:255;not null" json:"destination"`
	Critical    bool    `gorm:"not null;default:false" json:"critical"`
	Active      bool    `gorm:"not null;index:idx_alert_rules_user_active,priority:2" json:"active"`
	// DeviceID scopes the rule to a single device. Empty matches every device
	// the user is authorized for.
	DeviceID  string    `gorm:"size:128;default:''" json:"device_id,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// AppliesTo reports whether the rule watches deviceID.
func (r *AlertRule) AppliesTo(deviceID string) bool {
	return r.DeviceID == "" || r.DeviceID == deviceID
}
