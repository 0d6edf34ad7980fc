package service

import (
	"context"
	"log"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
)

// RecurringTaskService manages recurring task templates.
type RecurringTaskService struct {
	templates     *repository.RecurringTaskRepository
	tasks         *repository.TaskRepository
	notifications *NotificationService
	window        *OccurrenceWindow
	access        AccessFunc
}

func NewRecurringTaskService(templates *repository.RecurringTaskRepository, tasks *repository.TaskRepository, notifications *NotificationService, window *OccurrenceWindow, access AccessFunc) *RecurringTaskService {
	return &RecurringTaskService{
		templates:     templates,
		tasks:         tasks,
		notifications: notifications,
		window:        window,
		access:        access,
	}
}

func (s *RecurringTaskService) List(ctx context.Context, auth AuthContext) ([]model.RecurringTask, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	return s.templates.ListByUser(ctx, auth.UserID)
}

// SetActive pauses or resumes a template. Resuming tops the window up
// immediately.
func (s *RecurringTaskService) SetActive(ctx context.Context, auth AuthContext, id string, active bool) (*model.RecurringTask, error) {
	tpl, err := s.load(ctx, auth, id, "edit recurring task")
	if err != nil {
		return nil, err
	}
	if tpl.IsActive == active {
		return tpl, nil
	}
	if err := s.templates.SetActive(ctx, tpl.ID, active); err != nil {
		return nil, err
	}
	tpl.IsActive = active

	if active {
		created, err := s.window.Ensure(ctx, tpl)
		if err != nil {
			return nil, err
		}
		log.Printf("[info] recurring task %s resumed, %d instances added", tpl.ID, len(created))
	} else {
		log.Printf("[info] recurring task %s paused", tpl.ID)
	}
	return tpl, nil
}

// Delete removes a template together with all of its instances and their
// notifications.
func (s *RecurringTaskService) Delete(ctx context.Context, auth AuthContext, id string) error {
	tpl, err := s.load(ctx, auth, id, "delete recurring task")
	if err != nil {
		return err
	}
	instances, err := s.tasks.ListByTemplate(ctx, tpl.ID)
	if err != nil {
		return err
	}
	for _, t := range instances {
		if err := s.notifications.DeleteForTask(ctx, t.ID); err != nil {
			return err
		}
		if err := s.tasks.Delete(ctx, t.ID); err != nil {
			return err
		}
	}
	if err := s.templates.Delete(ctx, tpl.ID); err != nil {
		return err
	}

	log.Printf("[info] recurring task %s deleted with %d instances", tpl.ID, len(instances))
	return nil
}

func (s *RecurringTaskService) load(ctx context.Context, auth AuthContext, id, action string) (*model.RecurringTask, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	tpl, err := s.templates.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "recurring task", id)
	}
	res := Resource{OwnerID: tpl.UserID, IsShared: tpl.IsShared, GroupID: tpl.GroupID}
	if err := authorize(ctx, s.access, auth, res, action); err != nil {
		return nil, err
	}
	return tpl, nil
}
