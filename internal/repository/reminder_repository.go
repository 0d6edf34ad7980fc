package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"shared-planner/internal/model"
)

// ReminderRepository stores standalone recurring reminders.
type ReminderRepository struct {
	db *gorm.DB
}

func NewReminderRepository(db *gorm.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func (r *ReminderRepository) Create(ctx context.Context, reminder *model.Reminder) error {
	if err := r.db.WithContext(ctx).Create(reminder).Error; err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

func (r *ReminderRepository) FindByID(ctx context.Context, id string) (*model.Reminder, error) {
	var reminder model.Reminder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reminder).Error; err != nil {
		return nil, err
	}
	return &reminder, nil
}

func (r *ReminderRepository) Save(ctx context.Context, reminder *model.Reminder) error {
	if err := r.db.WithContext(ctx).Save(reminder).Error; err != nil {
		return fmt.Errorf("save reminder: %w", err)
	}
	return nil
}

func (r *ReminderRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Reminder{}).Error; err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

func (r *ReminderRepository) ListByUser(ctx context.Context, userID string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("rule_time ASC").
		Find(&reminders).Error; err != nil {
		return nil, err
	}
	return reminders, nil
}

func (r *ReminderRepository) ListByGroups(ctx context.Context, groupIDs []string) ([]model.Reminder, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var reminders []model.Reminder
	if err := r.db.WithContext(ctx).Where("group_id IN ?", groupIDs).
		Order("rule_time ASC").
		Find(&reminders).Error; err != nil {
		return nil, err
	}
	return reminders, nil
}

func (r *ReminderRepository) ListActive(ctx context.Context) ([]model.Reminder, error) {
	var reminders []model.Reminder
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&reminders).Error; err != nil {
		return nil, err
	}
	return reminders, nil
}

// ClaimFiring records a firing for the given minute bucket unless one was
// already recorded for it. It reports whether this caller won the claim.
func (r *ReminderRepository) ClaimFiring(ctx context.Context, id, bucket string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Reminder{}).
		Where("id = ? AND last_fired_bucket <> ?", id, bucket).
		Updates(map[string]interface{}{
			"last_fired_bucket": bucket,
			"last_fired_at":     at.UTC(),
			"fired_count":       gorm.Expr("fired_count + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim reminder %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}
