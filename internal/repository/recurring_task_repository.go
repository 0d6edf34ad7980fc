package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"shared-planner/internal/model"
)

// RecurringTaskRepository stores recurring task templates.
type RecurringTaskRepository struct {
	db *gorm.DB
}

func NewRecurringTaskRepository(db *gorm.DB) *RecurringTaskRepository {
	return &RecurringTaskRepository{db: db}
}

func (r *RecurringTaskRepository) Create(ctx context.Context, tpl *model.RecurringTask) error {
	if err := r.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return fmt.Errorf("create recurring task: %w", err)
	}
	return nil
}

func (r *RecurringTaskRepository) FindByID(ctx context.Context, id string) (*model.RecurringTask, error) {
	var tpl model.RecurringTask
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tpl).Error; err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (r *RecurringTaskRepository) ListByUser(ctx context.Context, userID string) ([]model.RecurringTask, error) {
	var tpls []model.RecurringTask
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&tpls).Error; err != nil {
		return nil, err
	}
	return tpls, nil
}

func (r *RecurringTaskRepository) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.db.WithContext(ctx).Model(&model.RecurringTask{}).Where("id = ?", id).
		Update("is_active", active).Error; err != nil {
		return fmt.Errorf("set recurring task active: %w", err)
	}
	return nil
}

func (r *RecurringTaskRepository) UpdateGeneratedCount(ctx context.Context, id string, count int) error {
	if err := r.db.WithContext(ctx).Model(&model.RecurringTask{}).Where("id = ?", id).
		Update("generated_count", count).Error; err != nil {
		return fmt.Errorf("update generated count: %w", err)
	}
	return nil
}

func (r *RecurringTaskRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.RecurringTask{}).Error; err != nil {
		return fmt.Errorf("delete recurring task: %w", err)
	}
	return nil
}
