package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"shared-planner/internal/repository"
)

// AuthContext identifies the acting user for one call. It is resolved once
// at the boundary (bot handler, CLI) and passed explicitly.
type AuthContext struct {
	UserID string
}

func (a AuthContext) require() error {
	if a.UserID == "" {
		return unauthorizedf("no acting user")
	}
	return nil
}

// Resource is the ownership view of a task, template or reminder.
type Resource struct {
	OwnerID  string
	IsShared bool
	GroupID  *string
}

// AccessFunc decides whether userID may act on res.
type AccessFunc func(ctx context.Context, userID string, res Resource) (bool, error)

// GroupAccess grants access to the owner and, for shared resources, to
// every current member of the resource's group.
func GroupAccess(groups *repository.GroupRepository) AccessFunc {
	return func(ctx context.Context, userID string, res Resource) (bool, error) {
		if userID == "" {
			return false, nil
		}
		if res.OwnerID == userID {
			return true, nil
		}
		if !res.IsShared || res.GroupID == nil || *res.GroupID == "" {
			return false, nil
		}
		group, err := groups.GetByID(ctx, *res.GroupID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("load group %s: %w", *res.GroupID, err)
		}
		return group.HasMember(userID), nil
	}
}

// authorize fails with ErrUnauthorized unless auth may act on res.
func authorize(ctx context.Context, access AccessFunc, auth AuthContext, res Resource, action string) error {
	if err := auth.require(); err != nil {
		return err
	}
	ok, err := access(ctx, auth.UserID, res)
	if err != nil {
		return err
	}
	if !ok {
		return unauthorizedf("user %s may not %s", auth.UserID, action)
	}
	return nil
}

// requireMembership checks that a new shared item targets a group the
// acting user belongs to.
func requireMembership(ctx context.Context, groups *repository.GroupRepository, userID string, isShared bool, groupID *string) error {
	if !isShared {
		return nil
	}
	if groupID == nil || *groupID == "" {
		return validationf("shared item needs a group")
	}
	group, err := groups.GetByID(ctx, *groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationf("group %s does not exist", *groupID)
		}
		return fmt.Errorf("load group %s: %w", *groupID, err)
	}
	if !group.HasMember(userID) {
		return validationf("you are not a member of group %s", group.Name)
	}
	return nil
}
