package repository

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/errors"
)

// DeviceRepository is the read side of the device registry plus the writes
// needed to seed it.
type DeviceRepository interface {
	// AuthorizedUsers returns the owner and every shared user, de-duplicated,
	// owner first.
	AuthorizedUsers(ctx context.Context, deviceID string) ([]string, error)
	OwnerOf(ctx context.Context, deviceID string) (string, error)
	SharedUsersOf(ctx context.Context, deviceID string) ([]string, error)
	CreateDevice(ctx context.Context, device *entities.Device) error
	Share(ctx context.Context, deviceID, userID string) error
}

type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) AuthorizedUsers(ctx context.Context, deviceID string) ([]string, error) {
	owner, err := r.OwnerOf(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	shared, err := r.SharedUsersOf(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return lo.Uniq(lo.Compact(append([]string{owner}, shared...))), nil
}

func (r *deviceRepository) OwnerOf(ctx context.Context, deviceID string) (string, error) {
	var device entities.Device
	err := r.db.WithContext(ctx).Select("id", "owner_id").Where("id = ?", deviceID).Take(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("device %s: %w", deviceID, ErrDeviceNotFound)
		}
		return "", fmt.Errorf("failed to get owner of device %s: %w", deviceID, err)
	}
	return device.OwnerID, nil
}

func (r *deviceRepository) SharedUsersOf(ctx context.Context, deviceID string) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).Model(&entities.DeviceShare{}).
		Where("device_id = ?", deviceID).
		Order("id ASC").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list shares of device %s: %w", deviceID, err)
	}
	return users, nil
}

func (r *deviceRepository) CreateDevice(ctx context.Context, device *entities.Device) error {
	if device.ID == "" || device.OwnerID == "" {
		return errors.Newf(errors.CategoryValidation, "create device", "device id and owner are required")
	}
	if err := r.db.WithContext(ctx).Create(device).Error; err != nil {
		return fmt.Errorf("failed to create device %s: %w", device.ID, err)
	}
	return nil
}

// Share grants userID access to the device. Sharing twice is a no-op.
func (r *deviceRepository) Share(ctx context.Context, deviceID, userID string) error {
	if _, err := r.OwnerOf(ctx, deviceID); err != nil {
		return err
	}
	share := &entities.DeviceShare{DeviceID: deviceID, UserID: userID}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(share).Error
	if err != nil {
		return fmt.Errorf("failed to share device %s with %s: %w", deviceID, userID, err)
	}
	return nil
}
