package entities

import "time"

// Device is the registry's view of a field sensor: one owner plus any number
// of users it is shared with.
type Device struct {
	ID        string        `gorm:"primaryKey;size:128" json:"id"`
	OwnerID   string        `gorm:"size:128;not null;index" json:"owner_id"`
	Name      string        `gorm:"size:255;default:''" json:"name"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
	Shares    []DeviceShare `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"shares,omitempty"`
}

// TableName returns the table name for GORM.
func (Device) TableName() string {
	return "devices"
}

// DeviceShare grants a non-owner user access to a device's alerts.
type DeviceShare struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DeviceID  string    `gorm:"size:128;not null;uniqueIndex:idx_device_shares_device_user,priority:1" json:"device_id"`
	UserID    string    `gorm:"size:128;not null;uniqueIndex:idx_device_shares_device_user,priority:2;index" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (DeviceShare) TableName() string {
	return "device_shares"
}

// All returns every entity managed by the datastore, in migration order.
func All() []any {
	return []any{
		&AlertRule{},
		&TriggeredAlert{},
		&AlertDelivery{},
		&Device{},
		&DeviceShare{},
	}
}
