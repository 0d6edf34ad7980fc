package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"shared-planner/internal/model"
)

// NotificationRepository stores scheduled task notifications.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) CreateBatch(ctx context.Context, notifications []model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&notifications).Error; err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) Save(ctx context.Context, n *model.Notification) error {
	if err := r.db.WithContext(ctx).Save(n).Error; err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListByTask(ctx context.Context, taskID string) ([]model.Notification, error) {
	var ns []model.Notification
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("user_id ASC").
		Find(&ns).Error; err != nil {
		return nil, err
	}
	return ns, nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string) ([]model.Notification, error) {
	var ns []model.Notification
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("scheduled_time DESC").
		Find(&ns).Error; err != nil {
		return nil, err
	}
	return ns, nil
}

func (r *NotificationRepository) ListByUserAndStatus(ctx context.Context, userID string, status model.NotificationStatus) ([]model.Notification, error) {
	var ns []model.Notification
	if err := r.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, status).
		Order("scheduled_time ASC").
		Find(&ns).Error; err != nil {
		return nil, err
	}
	return ns, nil
}

// ListDue returns upcoming notifications scheduled at or before now.
func (r *NotificationRepository) ListDue(ctx context.Context, now time.Time) ([]model.Notification, error) {
	var ns []model.Notification
	if err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", model.NotificationUpcoming, now.UTC()).
		Order("scheduled_time ASC").
		Find(&ns).Error; err != nil {
		return nil, err
	}
	return ns, nil
}

// Transition moves a notification from one status to another only if it is
// still in the expected status. It reports whether the row was changed.
func (r *NotificationRepository) Transition(ctx context.Context, id string, from, to model.NotificationStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": at.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("transition notification %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseStale returns rows claimed before cutoff to upcoming.
func (r *NotificationRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("status = ? AND updated_at < ?", model.NotificationPending, cutoff.UTC()).
		Update("status", model.NotificationUpcoming)
	if res.Error != nil {
		return 0, fmt.Errorf("release stale notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error; err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

// DeleteByTask removes every notification of a task for every recipient.
func (r *NotificationRepository) DeleteByTask(ctx context.Context, taskID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&model.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete notifications for task %s: %w", taskID, res.Error)
	}
	return res.RowsAffected, nil
}

func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Notification{}).Error; err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}
