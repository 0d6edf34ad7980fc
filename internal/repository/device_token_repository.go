package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"shared-planner/internal/model"
)

// DeviceTokenRepository is the registry of push delivery addresses.
type DeviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Register stores token for userID, moving it to userID if it was known
// under another user, and refreshes its timestamp.
func (r *DeviceTokenRepository) Register(ctx context.Context, userID, token, platform string) (*model.DeviceToken, error) {
	var dt model.DeviceToken
	db := r.db.WithContext(ctx)
	err := db.Where("token = ?", token).First(&dt).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"user_id":      userID,
			"platform":     platform,
			"last_updated": time.Now().UTC(),
		}
		if err := db.Model(&dt).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update device token: %w", err)
		}
		return &dt, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		dt = model.DeviceToken{
			UserID:      userID,
			Token:       token,
			Platform:    platform,
			LastUpdated: time.Now().UTC(),
		}
		if err := db.Create(&dt).Error; err != nil {
			return nil, fmt.Errorf("create device token: %w", err)
		}
		return &dt, nil
	default:
		return nil, fmt.Errorf("find device token: %w", err)
	}
}

func (r *DeviceTokenRepository) ListByUser(ctx context.Context, userID string) ([]model.DeviceToken, error) {
	var tokens []model.DeviceToken
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

// Remove deletes token if it belongs to userID.
func (r *DeviceTokenRepository) Remove(ctx context.Context, userID, token string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ? AND token = ?", userID, token).
		Delete(&model.DeviceToken{}).Error; err != nil {
		return fmt.Errorf("remove device token: %w", err)
	}
	return nil
}
