package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
)

// DefaultRemindBefore is the lead time, in minutes, of new notifications.
const DefaultRemindBefore = 30

// NotificationService materializes and maintains per-recipient task
// notifications.
type NotificationService struct {
	notifications *repository.NotificationRepository
	tasks         *repository.TaskRepository
	groups        *repository.GroupRepository
	now           func() time.Time
}

func NewNotificationService(notifications *repository.NotificationRepository, tasks *repository.TaskRepository, groups *repository.GroupRepository, now func() time.Time) *NotificationService {
	if now == nil {
		now = time.Now
	}
	return &NotificationService{notifications: notifications, tasks: tasks, groups: groups, now: now}
}

// Recipients resolves who hears about a shared or private item: the owner
// alone, or the group's current members.
func (s *NotificationService) Recipients(ctx context.Context, ownerID string, isShared bool, groupID *string) ([]string, error) {
	if !isShared || groupID == nil || *groupID == "" {
		return []string{ownerID}, nil
	}
	group, err := s.groups.GetByID(ctx, *groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[warn] group %s missing, no recipients", *groupID)
			return nil, nil
		}
		return nil, fmt.Errorf("load group %s: %w", *groupID, err)
	}
	return append([]string(nil), group.Members...), nil
}

// Materialize creates one notification per recipient of task, scheduled
// leadMinutes before its due date.
func (s *NotificationService) Materialize(ctx context.Context, task *model.Task, leadMinutes int) ([]model.Notification, error) {
	recipients, err := s.Recipients(ctx, task.UserID, task.IsShared, task.GroupID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, nil
	}

	scheduled := scheduledTime(task.DueDate, leadMinutes)
	status := statusFor(scheduled, s.now())
	notifications := make([]model.Notification, 0, len(recipients))
	for _, userID := range recipients {
		notifications = append(notifications, model.Notification{
			UserID:        userID,
			TaskID:        task.ID,
			Message:       fmt.Sprintf("%s is due soon", task.Title),
			Type:          model.NotificationReminder,
			ScheduledTime: scheduled,
			RemindBefore:  leadMinutes,
			Status:        status,
		})
	}
	if err := s.notifications.CreateBatch(ctx, notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// DeleteForTask removes every notification of a task.
func (s *NotificationService) DeleteForTask(ctx context.Context, taskID string) error {
	n, err := s.notifications.DeleteByTask(ctx, taskID)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[info] deleted %d notifications for task %s", n, taskID)
	}
	return nil
}

// Reschedule recomputes scheduled time and status of every existing
// notification of task from its own lead time.
func (s *NotificationService) Reschedule(ctx context.Context, task *model.Task) error {
	notifications, err := s.notifications.ListByTask(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("list notifications for task %s: %w", task.ID, err)
	}
	now := s.now()
	for i := range notifications {
		n := &notifications[i]
		lead := n.RemindBefore
		if lead <= 0 {
			lead = DefaultRemindBefore
		}
		n.ScheduledTime = scheduledTime(task.DueDate, lead)
		n.Status = statusFor(n.ScheduledTime, now)
		if err := s.notifications.Save(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRemindBefore changes the lead time of one of the acting user's
// notifications and reschedules it.
func (s *NotificationService) UpdateRemindBefore(ctx context.Context, auth AuthContext, id string, minutes int) (*model.Notification, error) {
	if minutes < 0 {
		return nil, validationf("lead time must not be negative")
	}
	n, err := s.own(ctx, auth, id)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.FindByID(ctx, n.TaskID)
	if err != nil {
		return nil, lookupErr(err, "task", n.TaskID)
	}
	n.RemindBefore = minutes
	n.ScheduledTime = scheduledTime(task.DueDate, minutes)
	n.Status = statusFor(n.ScheduledTime, s.now())
	if err := s.notifications.Save(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *NotificationService) MarkAsRead(ctx context.Context, auth AuthContext, id string) error {
	n, err := s.own(ctx, auth, id)
	if err != nil {
		return err
	}
	n.Read = true
	return s.notifications.Save(ctx, n)
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, auth AuthContext) error {
	if err := auth.require(); err != nil {
		return err
	}
	return s.notifications.MarkAllRead(ctx, auth.UserID)
}

func (s *NotificationService) Remove(ctx context.Context, auth AuthContext, id string) error {
	if _, err := s.own(ctx, auth, id); err != nil {
		return err
	}
	return s.notifications.Delete(ctx, id)
}

// List returns the acting user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, auth AuthContext, limit int) ([]model.Notification, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	ns, err := s.notifications.ListByUser(ctx, auth.UserID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ns) > limit {
		ns = ns[:limit]
	}
	return ns, nil
}

// Upcoming returns upcoming notifications still in the future, soonest first.
func (s *NotificationService) Upcoming(ctx context.Context, auth AuthContext) ([]model.Notification, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	ns, err := s.notifications.ListByUserAndStatus(ctx, auth.UserID, model.NotificationUpcoming)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := ns[:0]
	for _, n := range ns {
		if !n.ScheduledTime.Before(now) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Past returns notifications that were already sent.
func (s *NotificationService) Past(ctx context.Context, auth AuthContext) ([]model.Notification, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	return s.notifications.ListByUserAndStatus(ctx, auth.UserID, model.NotificationSent)
}

func (s *NotificationService) own(ctx context.Context, auth AuthContext, id string) (*model.Notification, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	n, err := s.notifications.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "notification", id)
	}
	if n.UserID != auth.UserID {
		return nil, notFoundf("notification %s", id)
	}
	return n, nil
}

func scheduledTime(due time.Time, leadMinutes int) time.Time {
	return due.Add(-time.Duration(leadMinutes) * time.Minute)
}

// statusFor is upcoming while the scheduled time is still ahead. A
// notification whose time has already passed is born sent, never missed.
func statusFor(scheduled, now time.Time) model.NotificationStatus {
	if scheduled.After(now) {
		return model.NotificationUpcoming
	}
	return model.NotificationSent
}
