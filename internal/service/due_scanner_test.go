package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"shared-planner/internal/model"
)

func TestSweepNotificationsDeliversOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, AuthContext{UserID: "alice"}, "Standup", f.now.Add(time.Hour))

	report, err := f.scanner.SweepNotifications(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 0 || f.notifier.count() != 0 {
		t.Fatalf("nothing should be due yet: %s", report)
	}

	f.now = f.now.Add(31 * time.Minute)
	report, err = f.scanner.SweepNotifications(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 1 || report.Sent != 1 {
		t.Fatalf("unexpected report: %s", report)
	}
	if got := f.notificationsFor(t, task.ID)[0].Status; got != model.NotificationSent {
		t.Errorf("status = %s, want sent", got)
	}
	msg := f.notifier.sent[0].msg
	if msg.Title != "Standup" || msg.Data["taskId"] != task.ID {
		t.Errorf("unexpected push message: %+v", msg)
	}

	report, err = f.scanner.SweepNotifications(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 0 || f.notifier.count() != 1 {
		t.Errorf("notification delivered twice: %s, sends %d", report, f.notifier.count())
	}
}

func TestSweepNotificationsRetriesFailedDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, AuthContext{UserID: "alice"}, "Standup", f.now.Add(time.Hour))
	f.now = f.now.Add(45 * time.Minute)
	f.notifier.failing = map[string]bool{"alice": true}

	report, err := f.scanner.SweepNotifications(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Failed != 1 || report.Sent != 0 {
		t.Fatalf("unexpected report: %s", report)
	}
	if got := f.notificationsFor(t, task.ID)[0].Status; got != model.NotificationUpcoming {
		t.Fatalf("failed notification has status %s, want upcoming", got)
	}

	f.notifier.failing = nil
	report, err = f.scanner.SweepNotifications(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Sent != 1 {
		t.Errorf("retry did not deliver: %s", report)
	}
}

func TestSweepNotificationsMarksOrphansMissed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orphan := model.Notification{
		UserID:        "alice",
		TaskID:        "gone",
		Message:       "ghost",
		Type:          model.NotificationReminder,
		ScheduledTime: f.now.Add(-time.Minute),
		RemindBefore:  30,
		Status:        model.NotificationUpcoming,
	}
	if err := f.notifications.CreateBatch(ctx, []model.Notification{orphan}); err != nil {
		t.Fatalf("Failed to create notification: %v", err)
	}

	report, err := f.scanner.SweepNotifications(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Skipped != 1 || f.notifier.count() != 0 {
		t.Fatalf("unexpected report: %s", report)
	}
	ns := f.notificationsFor(t, "gone")
	if len(ns) != 1 || ns[0].Status != model.NotificationMissed {
		t.Errorf("orphan not marked missed: %+v", ns)
	}
}

func TestSweepNotificationsReleasesStaleClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, AuthContext{UserID: "alice"}, "Standup", f.now.Add(time.Hour))
	n := f.notificationsFor(t, task.ID)[0]

	f.now = f.now.Add(40 * time.Minute)
	claimedAt := f.now.Add(-time.Hour)
	if ok, err := f.notifications.Transition(ctx, n.ID, model.NotificationUpcoming, model.NotificationPending, claimedAt); err != nil || !ok {
		t.Fatalf("Failed to simulate a stuck claim: ok=%v err=%v", ok, err)
	}

	report, err := f.scanner.SweepNotifications(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Sent != 1 {
		t.Errorf("stale claim was not recovered: %s", report)
	}
}

func TestSweepWithoutNotifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, AuthContext{UserID: "alice"}, "Standup", f.now.Add(time.Hour))
	f.now = f.now.Add(45 * time.Minute)
	scanner := NewDueScanner(f.notifications, f.taskRepo, f.reminderRepo, f.reminders, f.notificationSvc, nil, DefaultClaimLease, time.UTC, func() time.Time { return f.now })

	if _, err := scanner.SweepNotifications(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if got := f.notificationsFor(t, task.ID)[0].Status; got != model.NotificationUpcoming {
		t.Errorf("status = %s, want upcoming", got)
	}
	if _, err := scanner.SweepReminders(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured from reminder sweep, got %v", err)
	}
}

func TestOverlappingSweepIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.task(t, AuthContext{UserID: "alice"}, "Standup", f.now.Add(time.Hour))
	f.now = f.now.Add(45 * time.Minute)

	f.scanner.notificationMu.Lock()
	report, err := f.scanner.SweepNotifications(context.Background())
	f.scanner.notificationMu.Unlock()

	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report != (SweepReport{}) || f.notifier.count() != 0 {
		t.Errorf("overlapping sweep did work: %s", report)
	}
}

func TestSweepRemindersOncePerMinute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "alice", "bob", "carol")
	rule := model.ReminderRule{Frequency: model.FrequencyDaily, Time: "10:00"}

	shared, err := f.reminders.CreateReminder(ctx, AuthContext{UserID: "alice"}, ReminderInput{Title: "Take out trash", Rule: rule, IsShared: true, GroupID: &g.ID})
	if err != nil {
		t.Fatalf("Failed to create reminder: %v", err)
	}

	f.now = f.now.Add(20 * time.Second)
	report, err := f.scanner.SweepReminders(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 1 || report.Sent != 1 {
		t.Fatalf("unexpected report: %s", report)
	}
	if f.notifier.count() != 3 {
		t.Errorf("expected one push per member, got %d", f.notifier.count())
	}

	f.now = f.now.Add(20 * time.Second)
	report, err = f.scanner.SweepReminders(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Skipped != 1 || f.notifier.count() != 3 {
		t.Errorf("reminder fired twice in one minute: %s", report)
	}

	f.now = f.now.Add(24 * time.Hour)
	if _, err := f.scanner.SweepReminders(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if f.notifier.count() != 6 {
		t.Errorf("reminder did not fire the next day, sends %d", f.notifier.count())
	}

	stored, err := f.reminderRepo.FindByID(ctx, shared.ID)
	if err != nil {
		t.Fatalf("Failed to load reminder: %v", err)
	}
	if stored.FiredCount != 2 {
		t.Errorf("fired count = %d, want 2", stored.FiredCount)
	}
}

func TestSweepRemindersHonoursCountEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := model.ReminderRule{Frequency: model.FrequencyDaily, Time: "10:00"}
	if _, err := f.reminders.CreateReminder(ctx, AuthContext{UserID: "alice"}, ReminderInput{
		Title: "Once",
		Rule:  rule,
		End:   model.RecurrenceEnd{Type: model.EndCount, Occurrences: intPtr(1)},
	}); err != nil {
		t.Fatalf("Failed to create reminder: %v", err)
	}

	if _, err := f.scanner.SweepReminders(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	f.now = f.now.Add(24 * time.Hour)
	report, err := f.scanner.SweepReminders(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 0 || f.notifier.count() != 1 {
		t.Errorf("ended reminder fired again: %s", report)
	}
}

func TestSweepNotificationsContinuesAfterItemError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth := AuthContext{UserID: "alice"}
	broken := f.task(t, auth, "Broken", f.now.Add(time.Hour))
	healthy := f.task(t, auth, "Healthy", f.now.Add(2*time.Hour))
	f.failLoads(t, func(dest interface{}) bool {
		task, ok := dest.(*model.Task)
		return ok && task.ID == broken.ID
	})

	f.now = f.now.Add(100 * time.Minute)
	report, err := f.scanner.SweepNotifications(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 2 || report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %s", report)
	}
	if f.notifier.count() != 1 || f.notifier.sent[0].msg.Data["taskId"] != healthy.ID {
		t.Errorf("healthy notification was not delivered: %+v", f.notifier.sent)
	}
	if got := f.notificationsFor(t, broken.ID)[0].Status; got != model.NotificationUpcoming {
		t.Errorf("failed notification has status %s, want upcoming", got)
	}
}

func TestSweepRemindersContinuesAfterRecipientError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "alice", "bob")
	rule := model.ReminderRule{Frequency: model.FrequencyDaily, Time: "10:00"}

	shared, err := f.reminders.CreateReminder(ctx, AuthContext{UserID: "alice"}, ReminderInput{Title: "Shared", Rule: rule, IsShared: true, GroupID: &g.ID})
	if err != nil {
		t.Fatalf("Failed to create reminder: %v", err)
	}
	if _, err := f.reminders.CreateReminder(ctx, AuthContext{UserID: "carol"}, ReminderInput{Title: "Private", Rule: rule}); err != nil {
		t.Fatalf("Failed to create reminder: %v", err)
	}
	f.failLoads(t, func(dest interface{}) bool {
		group, ok := dest.(*model.Group)
		return ok && group.ID == g.ID
	})

	report, err := f.scanner.SweepReminders(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 2 || report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %s", report)
	}
	if f.notifier.count() != 1 || f.notifier.sent[0].userID != "carol" {
		t.Errorf("private reminder was not delivered: %+v", f.notifier.sent)
	}

	stored, err := f.reminderRepo.FindByID(ctx, shared.ID)
	if err != nil {
		t.Fatalf("Failed to load reminder: %v", err)
	}
	if stored.FiredCount != 0 || stored.LastFiredBucket != "" {
		t.Errorf("unresolved reminder was claimed: count=%d bucket=%q", stored.FiredCount, stored.LastFiredBucket)
	}
}
