package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"shared-planner/internal/model"
)

// GroupRepository manages sharing groups.
type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) Create(ctx context.Context, group *model.Group) error {
	if err := r.db.WithContext(ctx).Create(group).Error; err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (r *GroupRepository) GetByID(ctx context.Context, id string) (*model.Group, error) {
	var group model.Group
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *GroupRepository) Save(ctx context.Context, group *model.Group) error {
	if err := r.db.WithContext(ctx).Save(group).Error; err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}

// ListForMember scans every group and keeps those userID belongs to.
// Members are a JSON array column, so membership is filtered in Go.
func (r *GroupRepository) ListForMember(ctx context.Context, userID string) ([]model.Group, error) {
	var all []model.Group
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&all).Error; err != nil {
		return nil, err
	}
	var groups []model.Group
	for _, g := range all {
		if g.HasMember(userID) {
			groups = append(groups, g)
		}
	}
	return groups, nil
}
