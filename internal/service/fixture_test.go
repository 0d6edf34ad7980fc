package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
	"shared-planner/internal/testutil"
)

// fixture wires every service over a fresh database with a movable clock.
type fixture struct {
	now time.Time
	db  *gorm.DB

	users         *repository.UserRepository
	groups        *repository.GroupRepository
	taskRepo      *repository.TaskRepository
	templateRepo  *repository.RecurringTaskRepository
	notifications *repository.NotificationRepository
	reminderRepo  *repository.ReminderRepository

	notificationSvc *NotificationService
	window          *OccurrenceWindow
	tasks           *TaskService
	templates       *RecurringTaskService
	reminders       *ReminderService
	scanner         *DueScanner
	digest          *DigestService
	notifier        *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	f := &fixture{
		now:           time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC),
		db:            db,
		users:         repository.NewUserRepository(db),
		groups:        repository.NewGroupRepository(db),
		taskRepo:      repository.NewTaskRepository(db),
		templateRepo:  repository.NewRecurringTaskRepository(db),
		notifications: repository.NewNotificationRepository(db),
		reminderRepo:  repository.NewReminderRepository(db),
		notifier:      &fakeNotifier{},
	}
	clock := func() time.Time { return f.now }
	access := GroupAccess(f.groups)

	f.notificationSvc = NewNotificationService(f.notifications, f.taskRepo, f.groups, clock)
	f.window = NewOccurrenceWindow(f.taskRepo, f.templateRepo, f.notificationSvc, DefaultWindowSize, DefaultRemindBefore, time.UTC)
	f.tasks = NewTaskService(f.taskRepo, f.templateRepo, f.groups, f.notificationSvc, f.window, access, DefaultRemindBefore, clock)
	f.templates = NewRecurringTaskService(f.templateRepo, f.taskRepo, f.notificationSvc, f.window, access)
	f.reminders = NewReminderService(f.reminderRepo, f.groups, access, clock)
	f.scanner = NewDueScanner(f.notifications, f.taskRepo, f.reminderRepo, f.reminders, f.notificationSvc, f.notifier, DefaultClaimLease, time.UTC, clock)
	f.digest = NewDigestService(f.tasks, f.reminders, f.groups, f.users, f.notifier, time.UTC, clock)
	return f
}

func (f *fixture) group(t *testing.T, members ...string) *model.Group {
	t.Helper()
	g := &model.Group{Name: "family", CreatedBy: members[0], Members: members}
	if err := f.groups.Create(context.Background(), g); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	return g
}

func (f *fixture) task(t *testing.T, auth AuthContext, title string, due time.Time) *model.Task {
	t.Helper()
	task, err := f.tasks.CreateTask(context.Background(), auth, TaskInput{Title: title, DueDate: due})
	if err != nil {
		t.Fatalf("Failed to create task %q: %v", title, err)
	}
	return task
}

func (f *fixture) notificationsFor(t *testing.T, taskID string) []model.Notification {
	t.Helper()
	ns, err := f.notifications.ListByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Failed to list notifications: %v", err)
	}
	return ns
}

// errDiskIO stands in for a database failure that is not a missing row.
var errDiskIO = errors.New("disk I/O error")

// failLoads makes every query whose loaded row satisfies match fail with
// errDiskIO.
func (f *fixture) failLoads(t *testing.T, match func(dest interface{}) bool) {
	t.Helper()
	err := f.db.Callback().Query().After("gorm:query").Register("test:fail_loads", func(tx *gorm.DB) {
		if tx.Error == nil && match(tx.Statement.Dest) {
			tx.AddError(errDiskIO)
		}
	})
	if err != nil {
		t.Fatalf("Failed to register query callback: %v", err)
	}
}

type sentMessage struct {
	userID string
	msg    PushMessage
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	// users whose every device fails
	failing map[string]bool
	err     error
}

func (n *fakeNotifier) Send(ctx context.Context, userID string, msg PushMessage) (DispatchResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return DispatchResult{}, n.err
	}
	if n.failing[userID] {
		return DispatchResult{FailureCount: 1}, nil
	}
	n.sent = append(n.sent, sentMessage{userID: userID, msg: msg})
	return DispatchResult{SuccessCount: 1}, nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func intPtr(v int) *int { return &v }
