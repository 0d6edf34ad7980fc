package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
)

// DefaultWindowSize is how many live instances a recurring task keeps.
const DefaultWindowSize = 6

// OccurrenceWindow keeps a fixed number of future instances materialized
// for every active recurring task.
type OccurrenceWindow struct {
	tasks         *repository.TaskRepository
	templates     *repository.RecurringTaskRepository
	notifications *NotificationService
	size          int
	remindBefore  int
	loc           *time.Location

	// serializes regeneration within this process
	mu sync.Mutex
}

func NewOccurrenceWindow(tasks *repository.TaskRepository, templates *repository.RecurringTaskRepository, notifications *NotificationService, size, remindBefore int, loc *time.Location) *OccurrenceWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if remindBefore <= 0 {
		remindBefore = DefaultRemindBefore
	}
	if loc == nil {
		loc = time.Local
	}
	return &OccurrenceWindow{
		tasks:         tasks,
		templates:     templates,
		notifications: notifications,
		size:          size,
		remindBefore:  remindBefore,
		loc:           loc,
	}
}

// Size is the target number of live instances.
func (w *OccurrenceWindow) Size() int {
	return w.size
}

// Initialize creates the first window of instances starting at firstDue.
func (w *OccurrenceWindow) Initialize(ctx context.Context, tpl *model.RecurringTask, firstDue time.Time) ([]model.Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.fill(ctx, tpl, firstDue.In(w.loc), w.size)
}

// OnInstanceCompleted tops the window back up after an instance completes.
// Paused templates never receive new instances.
func (w *OccurrenceWindow) OnInstanceCompleted(ctx context.Context, tpl *model.RecurringTask, completed *model.Task) ([]model.Task, error) {
	if !tpl.IsActive {
		log.Printf("[info] recurring task %s paused, instance %s completed without regeneration", tpl.ID, completed.ID)
		return nil, nil
	}
	return w.Ensure(ctx, tpl)
}

// Ensure makes sure the template has its target number of live instances,
// creating only the missing ones. New instances chain from the latest due
// date of any existing instance, so out-of-order completions neither leave
// gaps nor repeat a date. Safe to re-run.
func (w *OccurrenceWindow) Ensure(ctx context.Context, tpl *model.RecurringTask) ([]model.Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !tpl.IsActive {
		return nil, nil
	}

	live, err := w.tasks.ListLiveByTemplate(ctx, tpl.ID)
	if err != nil {
		return nil, fmt.Errorf("list live instances of %s: %w", tpl.ID, err)
	}
	missing := w.size - len(live)
	if missing <= 0 {
		return nil, nil
	}

	all, err := w.tasks.ListByTemplate(ctx, tpl.ID)
	if err != nil {
		return nil, fmt.Errorf("list instances of %s: %w", tpl.ID, err)
	}
	if len(all) == 0 {
		log.Printf("[warn] recurring task %s has no instances to chain from", tpl.ID)
		return nil, nil
	}
	latest := all[0].DueDate
	for _, t := range all[1:] {
		if t.DueDate.After(latest) {
			latest = t.DueDate
		}
	}

	return w.fill(ctx, tpl, NextOccurrence(latest.In(w.loc), tpl.Rule), missing)
}

// fill inserts up to n instances starting at next, stopping early when the
// template's recurrence end is reached.
func (w *OccurrenceWindow) fill(ctx context.Context, tpl *model.RecurringTask, next time.Time, n int) ([]model.Task, error) {
	var created []model.Task
	for i := 0; i < n; i++ {
		if tpl.End.Exhausted(next, tpl.GeneratedCount) {
			log.Printf("[info] recurring task %s reached its end after %d instances", tpl.ID, tpl.GeneratedCount)
			break
		}

		task := model.Task{
			UserID:          tpl.UserID,
			Title:           tpl.Title,
			Description:     tpl.Description,
			DueDate:         next,
			Priority:        tpl.Priority,
			Status:          model.TaskStatusPending,
			Tags:            append([]string(nil), tpl.Tags...),
			IsShared:        tpl.IsShared,
			GroupID:         tpl.GroupID,
			RecurringTaskID: &tpl.ID,
			InstanceNumber:  tpl.GeneratedCount + 1,
		}
		if err := w.tasks.Create(ctx, &task); err != nil {
			return created, err
		}
		tpl.GeneratedCount++
		if err := w.templates.UpdateGeneratedCount(ctx, tpl.ID, tpl.GeneratedCount); err != nil {
			return created, err
		}
		if _, err := w.notifications.Materialize(ctx, &task, w.remindBefore); err != nil {
			return created, err
		}
		created = append(created, task)

		next = NextOccurrence(next, tpl.Rule)
	}
	return created, nil
}
