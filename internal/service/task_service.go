package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
)

// TaskInput represents data required to create a task. A non-nil
// Recurrence turns the task into a recurring template.
type TaskInput struct {
	Title         string
	Description   string
	DueDate       time.Time
	Priority      model.Priority
	Status        model.TaskStatus
	Tags          []string
	Dependencies  []string
	IsShared      bool
	GroupID       *string
	Recurrence    *model.RecurrenceRule
	RecurrenceEnd *model.RecurrenceEnd
}

// TaskUpdate carries the fields to change; nil fields are left alone.
type TaskUpdate struct {
	Title        *string
	Description  *string
	DueDate      *time.Time
	Priority     *model.Priority
	Status       *model.TaskStatus
	Tags         *[]string
	Dependencies *[]string
}

// TaskFilter narrows list queries.
type TaskFilter struct {
	Status *model.TaskStatus
	From   *time.Time
	To     *time.Time
}

// TaskService wraps the task lifecycle: creation, completion with window
// regeneration, postponing, deletion and undo.
type TaskService struct {
	tasks         *repository.TaskRepository
	templates     *repository.RecurringTaskRepository
	groups        *repository.GroupRepository
	notifications *NotificationService
	window        *OccurrenceWindow
	access        AccessFunc
	remindBefore  int
	now           func() time.Time
}

func NewTaskService(
	tasks *repository.TaskRepository,
	templates *repository.RecurringTaskRepository,
	groups *repository.GroupRepository,
	notifications *NotificationService,
	window *OccurrenceWindow,
	access AccessFunc,
	remindBefore int,
	now func() time.Time,
) *TaskService {
	if now == nil {
		now = time.Now
	}
	if remindBefore <= 0 {
		remindBefore = DefaultRemindBefore
	}
	return &TaskService{
		tasks:         tasks,
		templates:     templates,
		groups:        groups,
		notifications: notifications,
		window:        window,
		access:        access,
		remindBefore:  remindBefore,
		now:           now,
	}
}

// CreateTask inserts a task and its notifications. With a recurrence rule it
// creates the template and its whole window instead, returning the first
// instance.
func (s *TaskService) CreateTask(ctx context.Context, auth AuthContext, input TaskInput) (*model.Task, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationf("title is required")
	}
	priority := input.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, validationf("unknown priority %q", priority)
	}
	status := input.Status
	if status == "" {
		status = model.TaskStatusPending
	}
	if status == model.TaskStatusOverdue || !status.Valid() {
		return nil, validationf("cannot create a task with status %q", status)
	}
	if err := requireMembership(ctx, s.groups, auth.UserID, input.IsShared, input.GroupID); err != nil {
		return nil, err
	}

	if input.Recurrence != nil {
		return s.createRecurring(ctx, auth, input, title, priority)
	}

	deps, err := s.checkDependencies(ctx, auth, "", input.Dependencies)
	if err != nil {
		return nil, err
	}

	task := model.Task{
		UserID:       auth.UserID,
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		DueDate:      input.DueDate,
		Priority:     priority,
		Status:       status,
		Tags:         input.Tags,
		Dependencies: deps,
		IsShared:     input.IsShared,
		GroupID:      input.GroupID,
	}
	if status == model.TaskStatusCompleted {
		completedAt := s.now()
		task.CompletedAt = &completedAt
	}
	if err := s.tasks.Create(ctx, &task); err != nil {
		return nil, err
	}
	if status != model.TaskStatusCompleted {
		if _, err := s.notifications.Materialize(ctx, &task, s.remindBefore); err != nil {
			return nil, err
		}
	}

	log.Printf("[info] task created id=%s user=%s shared=%t", task.ID, task.UserID, task.IsShared)
	return &task, nil
}

func (s *TaskService) createRecurring(ctx context.Context, auth AuthContext, input TaskInput, title string, priority model.Priority) (*model.Task, error) {
	if err := ValidateRecurrenceRule(*input.Recurrence); err != nil {
		return nil, err
	}
	var end model.RecurrenceEnd
	if input.RecurrenceEnd != nil {
		end = *input.RecurrenceEnd
	}
	if err := ValidateRecurrenceEnd(end); err != nil {
		return nil, err
	}
	if end.Exhausted(input.DueDate, 0) {
		return nil, validationf("recurrence ends before the first due date")
	}

	tpl := model.RecurringTask{
		UserID:      auth.UserID,
		GroupID:     input.GroupID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Priority:    priority,
		Tags:        input.Tags,
		IsShared:    input.IsShared,
		Rule:        *input.Recurrence,
		End:         end,
		IsActive:    true,
	}
	if err := s.templates.Create(ctx, &tpl); err != nil {
		return nil, err
	}
	created, err := s.window.Initialize(ctx, &tpl, input.DueDate)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("recurring task %s produced no instances", tpl.ID)
	}

	log.Printf("[info] recurring task created id=%s user=%s instances=%d", tpl.ID, tpl.UserID, len(created))
	return &created[0], nil
}

func (s *TaskService) GetTask(ctx context.Context, auth AuthContext, taskID string) (*model.Task, error) {
	return s.load(ctx, auth, taskID, "view task")
}

// UpdateTask patches a task. Completing through an update runs the same
// steps as CompleteTask and reopening clears the completion time.
func (s *TaskService) UpdateTask(ctx context.Context, auth AuthContext, taskID string, upd TaskUpdate) (*model.Task, error) {
	task, err := s.load(ctx, auth, taskID, "edit task")
	if err != nil {
		return nil, err
	}

	dueChanged := false
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, validationf("title is required")
		}
		task.Title = title
	}
	if upd.Description != nil {
		task.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Priority != nil {
		if !upd.Priority.Valid() {
			return nil, validationf("unknown priority %q", *upd.Priority)
		}
		task.Priority = *upd.Priority
	}
	if upd.Tags != nil {
		task.Tags = *upd.Tags
	}
	if upd.DueDate != nil && !upd.DueDate.Equal(task.DueDate) {
		task.DueDate = *upd.DueDate
		dueChanged = true
	}
	if upd.Dependencies != nil {
		deps, err := s.checkDependencies(ctx, auth, task.ID, *upd.Dependencies)
		if err != nil {
			return nil, err
		}
		task.Dependencies = deps
	}

	target := task.Status
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, validationf("unknown status %q", *upd.Status)
		}
		if !canTransition(task.Status, *upd.Status) {
			return nil, validationf("cannot move task from %s to %s", task.Status, *upd.Status)
		}
		target = *upd.Status
	}

	wasCompleted := task.Status == model.TaskStatusCompleted
	switch {
	case target == model.TaskStatusCompleted && !wasCompleted:
		if err := s.tasks.Save(ctx, task); err != nil {
			return nil, err
		}
		return s.complete(ctx, task)
	case target == model.TaskStatusPending && wasCompleted:
		if err := s.tasks.Save(ctx, task); err != nil {
			return nil, err
		}
		return s.reopen(ctx, task)
	default:
		task.Status = target
		if err := s.tasks.Save(ctx, task); err != nil {
			return nil, err
		}
	}

	if dueChanged && task.Status != model.TaskStatusCompleted {
		if err := s.notifications.Reschedule(ctx, task); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// CompleteTask marks a task completed, drops its notifications and, for an
// instance of a recurring task, tops the occurrence window back up. Calling
// it again on a completed task leaves the task alone but re-runs the
// follow-up steps, which are idempotent.
func (s *TaskService) CompleteTask(ctx context.Context, auth AuthContext, taskID string) (*model.Task, error) {
	task, err := s.load(ctx, auth, taskID, "complete task")
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, task)
}

func (s *TaskService) complete(ctx context.Context, task *model.Task) (*model.Task, error) {
	if task.Status != model.TaskStatusCompleted {
		if err := s.tasks.MarkCompleted(ctx, task, s.now()); err != nil {
			return nil, err
		}
		log.Printf("[info] task completed id=%s", task.ID)
	}

	if err := s.notifications.DeleteForTask(ctx, task.ID); err != nil {
		return nil, err
	}

	if task.RecurringTaskID == nil {
		return task, nil
	}
	tpl, err := s.template(ctx, *task.RecurringTaskID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		log.Printf("[warn] recurring task %s of instance %s is gone", *task.RecurringTaskID, task.ID)
		return task, nil
	}
	if _, err := s.window.OnInstanceCompleted(ctx, tpl, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ReopenTask moves a completed task back to pending and gives it a fresh
// set of notifications.
func (s *TaskService) ReopenTask(ctx context.Context, auth AuthContext, taskID string) (*model.Task, error) {
	task, err := s.load(ctx, auth, taskID, "reopen task")
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskStatusCompleted {
		return task, nil
	}
	return s.reopen(ctx, task)
}

func (s *TaskService) reopen(ctx context.Context, task *model.Task) (*model.Task, error) {
	if err := s.tasks.Reopen(ctx, task); err != nil {
		return nil, err
	}
	if err := s.notifications.DeleteForTask(ctx, task.ID); err != nil {
		return nil, err
	}
	if _, err := s.notifications.Materialize(ctx, task, s.remindBefore); err != nil {
		return nil, err
	}
	return task, nil
}

// PostponeTask moves the due date to customDate, or one day later when
// customDate is nil, and reschedules the task's notifications.
func (s *TaskService) PostponeTask(ctx context.Context, auth AuthContext, taskID string, customDate *time.Time) (*model.Task, error) {
	task, err := s.load(ctx, auth, taskID, "postpone task")
	if err != nil {
		return nil, err
	}

	newDue := task.DueDate.Add(24 * time.Hour)
	if customDate != nil {
		newDue = *customDate
	}
	task.DueDate = newDue
	if err := s.tasks.Save(ctx, task); err != nil {
		return nil, err
	}
	if err := s.notifications.Reschedule(ctx, task); err != nil {
		return nil, err
	}

	log.Printf("[info] task postponed id=%s due=%s", task.ID, task.DueDate.Format(time.RFC3339))
	return task, nil
}

// DeleteTask removes a task and its notifications and returns the deleted
// row so the caller can offer undo through RestoreTask. Tasks depending on
// it keep the dangling reference.
func (s *TaskService) DeleteTask(ctx context.Context, auth AuthContext, taskID string) (*model.Task, error) {
	task, err := s.load(ctx, auth, taskID, "delete task")
	if err != nil {
		return nil, err
	}
	if err := s.notifications.DeleteForTask(ctx, task.ID); err != nil {
		return nil, err
	}
	if err := s.tasks.Delete(ctx, task.ID); err != nil {
		return nil, err
	}

	if dependents, err := s.tasks.ListDependents(ctx, task.ID); err == nil && len(dependents) > 0 {
		log.Printf("[info] deleted task %s is still listed as a dependency of %d tasks", task.ID, len(dependents))
	}

	if task.RecurringTaskID != nil && task.Status != model.TaskStatusCompleted {
		tpl, err := s.template(ctx, *task.RecurringTaskID)
		if err != nil {
			return nil, err
		}
		if tpl != nil {
			if _, err := s.window.Ensure(ctx, tpl); err != nil {
				return nil, err
			}
		}
	}
	return task, nil
}

// template loads a recurring task by id; a missing one yields nil.
func (s *TaskService) template(ctx context.Context, id string) (*model.RecurringTask, error) {
	tpl, err := s.templates.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find recurring task: %w", err)
	}
	return tpl, nil
}

// RestoreTask re-inserts a previously deleted task from its snapshot under a
// new id and materializes a fresh set of notifications for it.
func (s *TaskService) RestoreTask(ctx context.Context, auth AuthContext, snapshot model.Task) (*model.Task, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	owner := snapshot.UserID
	if owner == "" {
		owner = auth.UserID
	}
	res := Resource{OwnerID: owner, IsShared: snapshot.IsShared, GroupID: snapshot.GroupID}
	if err := authorize(ctx, s.access, auth, res, "restore task"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(snapshot.Title) == "" {
		return nil, validationf("title is required")
	}

	task := snapshot
	task.ID = ""
	task.UserID = owner
	task.CreatedAt = time.Time{}
	task.UpdatedAt = time.Time{}
	if task.RecurringTaskID != nil && task.Status != model.TaskStatusCompleted {
		attach, err := s.rejoinWindow(ctx, *task.RecurringTaskID)
		if err != nil {
			return nil, err
		}
		if !attach {
			task.RecurringTaskID = nil
			task.InstanceNumber = 0
		}
	}
	if err := s.tasks.Create(ctx, &task); err != nil {
		return nil, err
	}
	if _, err := s.notifications.Materialize(ctx, &task, s.remindBefore); err != nil {
		return nil, err
	}

	log.Printf("[info] task restored id=%s from=%s", task.ID, snapshot.ID)
	return &task, nil
}

// rejoinWindow reports whether a restored live instance may stay linked to
// its recurring task. It may not when the task is gone or its window was
// already refilled; the instance then comes back as a standalone task.
func (s *TaskService) rejoinWindow(ctx context.Context, templateID string) (bool, error) {
	tpl, err := s.template(ctx, templateID)
	if err != nil || tpl == nil {
		return false, err
	}
	live, err := s.tasks.ListLiveByTemplate(ctx, tpl.ID)
	if err != nil {
		return false, fmt.Errorf("list live instances of %s: %w", tpl.ID, err)
	}
	return len(live) < s.window.Size(), nil
}

// AddDependency records that taskID depends on dependsOn.
func (s *TaskService) AddDependency(ctx context.Context, auth AuthContext, taskID, dependsOn string) (*model.Task, error) {
	task, err := s.load(ctx, auth, taskID, "edit task")
	if err != nil {
		return nil, err
	}
	if taskID == dependsOn {
		return nil, validationf("task cannot depend on itself")
	}
	if task.HasDependency(dependsOn) {
		return nil, validationf("dependency already exists")
	}
	if _, err := s.load(ctx, auth, dependsOn, "depend on task"); err != nil {
		return nil, err
	}
	if err := s.checkCycle(ctx, taskID, dependsOn); err != nil {
		return nil, err
	}

	task.Dependencies = append(task.Dependencies, dependsOn)
	if err := s.tasks.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// RemoveDependency drops dependsOn from taskID's dependencies. Removing an
// absent dependency is a no-op.
func (s *TaskService) RemoveDependency(ctx context.Context, auth AuthContext, taskID, dependsOn string) (*model.Task, error) {
	task, err := s.load(ctx, auth, taskID, "edit task")
	if err != nil {
		return nil, err
	}
	kept := make([]string, 0, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		if dep != dependsOn {
			kept = append(kept, dep)
		}
	}
	if len(kept) == len(task.Dependencies) {
		return task, nil
	}
	task.Dependencies = kept
	if err := s.tasks.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ListAllAccessible returns the acting user's private tasks plus every task
// shared with a group they belong to, ordered by due date.
func (s *TaskService) ListAllAccessible(ctx context.Context, auth AuthContext, filter TaskFilter) ([]model.Task, error) {
	tasks, err := s.accessible(ctx, auth)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.From != nil && t.DueDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && t.DueDate.After(*filter.To) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ListUpcoming returns open tasks due from now on, soonest first.
func (s *TaskService) ListUpcoming(ctx context.Context, auth AuthContext, limit int) ([]model.Task, error) {
	tasks, err := s.accessible(ctx, auth)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []model.Task
	for _, t := range tasks {
		if t.Status != model.TaskStatusCompleted && !t.DueDate.Before(now) {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListOverdue returns open tasks whose due date has passed.
func (s *TaskService) ListOverdue(ctx context.Context, auth AuthContext) ([]model.Task, error) {
	tasks, err := s.accessible(ctx, auth)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []model.Task
	for _, t := range tasks {
		if t.EffectiveStatus(now) == model.TaskStatusOverdue {
			out = append(out, t)
		}
	}
	return out, nil
}

// Search matches term against titles and descriptions, case-insensitively.
func (s *TaskService) Search(ctx context.Context, auth AuthContext, term string) ([]model.Task, error) {
	tasks, err := s.accessible(ctx, auth)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	var out []model.Task
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), needle) || strings.Contains(strings.ToLower(t.Description), needle) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TaskService) accessible(ctx context.Context, auth AuthContext) ([]model.Task, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	own, err := s.tasks.ListByUser(ctx, auth.UserID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	groups, err := s.groups.ListForMember(ctx, auth.UserID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groupIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}
	shared, err := s.tasks.ListByGroups(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("list shared tasks: %w", err)
	}

	seen := make(map[string]bool, len(own)+len(shared))
	var all []model.Task
	for _, t := range own {
		if _, ok := t.SharedWith(); ok {
			continue
		}
		seen[t.ID] = true
		all = append(all, t)
	}
	for _, t := range shared {
		if !t.IsShared || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		all = append(all, t)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].DueDate.Before(all[j].DueDate)
	})
	return all, nil
}

func (s *TaskService) load(ctx context.Context, auth AuthContext, taskID, action string) (*model.Task, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, lookupErr(err, "task", taskID)
	}
	res := Resource{OwnerID: task.UserID, IsShared: task.IsShared, GroupID: task.GroupID}
	if err := authorize(ctx, s.access, auth, res, action); err != nil {
		return nil, err
	}
	return task, nil
}

// checkDependencies validates a full dependency list for taskID (empty for
// a task not yet created).
func (s *TaskService) checkDependencies(ctx context.Context, auth AuthContext, taskID string, deps []string) ([]string, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if dep == taskID {
			return nil, validationf("task cannot depend on itself")
		}
		if seen[dep] {
			return nil, validationf("duplicate dependency %s", dep)
		}
		seen[dep] = true
		if _, err := s.load(ctx, auth, dep, "depend on task"); err != nil {
			return nil, err
		}
		if taskID != "" {
			if err := s.checkCycle(ctx, taskID, dep); err != nil {
				return nil, err
			}
		}
	}
	return append([]string(nil), deps...), nil
}

// checkCycle rejects taskID -> dependsOn when dependsOn already reaches
// taskID through existing dependencies.
func (s *TaskService) checkCycle(ctx context.Context, taskID, dependsOn string) error {
	visited := map[string]bool{dependsOn: true}
	frontier := []string{dependsOn}
	for len(frontier) > 0 {
		tasks, err := s.tasks.FindByIDs(ctx, frontier)
		if err != nil {
			return fmt.Errorf("walk dependencies: %w", err)
		}
		frontier = frontier[:0]
		for _, t := range tasks {
			for _, dep := range t.Dependencies {
				if dep == taskID {
					return validationf("cycle: %s -> %s -> ... -> %s", taskID, dependsOn, taskID)
				}
				if !visited[dep] {
					visited[dep] = true
					frontier = append(frontier, dep)
				}
			}
		}
	}
	return nil
}

// canTransition encodes pending -> in-progress -> completed, completed ->
// pending (reopen), and lets an overdue task be picked up again.
func canTransition(from, to model.TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case model.TaskStatusPending:
		return to == model.TaskStatusInProgress || to == model.TaskStatusCompleted
	case model.TaskStatusInProgress:
		return to == model.TaskStatusPending || to == model.TaskStatusCompleted
	case model.TaskStatusOverdue:
		return to == model.TaskStatusPending || to == model.TaskStatusInProgress || to == model.TaskStatusCompleted
	case model.TaskStatusCompleted:
		return to == model.TaskStatusPending
	}
	return false
}
