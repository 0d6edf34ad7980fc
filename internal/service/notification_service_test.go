package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"shared-planner/internal/model"
)

func TestMaterializeStatusFollowsScheduledTime(t *testing.T) {
	f := newFixture(t)
	auth := AuthContext{UserID: "alice"}

	soon := f.task(t, auth, "Call the plumber", f.now.Add(10*time.Minute))
	later := f.task(t, auth, "Water plants", f.now.Add(2*time.Hour))

	ns := f.notificationsFor(t, soon.ID)
	if len(ns) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(ns))
	}
	if ns[0].Status != model.NotificationSent {
		t.Errorf("notification whose time already passed has status %s, want sent", ns[0].Status)
	}

	ns = f.notificationsFor(t, later.ID)
	if len(ns) != 1 || ns[0].Status != model.NotificationUpcoming {
		t.Fatalf("expected one upcoming notification, got %+v", ns)
	}
	if want := later.DueDate.Add(-30 * time.Minute); !ns[0].ScheduledTime.Equal(want) {
		t.Errorf("scheduled at %s, want %s", ns[0].ScheduledTime, want)
	}
	if ns[0].RemindBefore != DefaultRemindBefore {
		t.Errorf("remind before = %d", ns[0].RemindBefore)
	}
}

func TestSharedTaskNotifiesEveryMember(t *testing.T) {
	f := newFixture(t)
	g := f.group(t, "alice", "bob", "carol")
	auth := AuthContext{UserID: "alice"}

	task, err := f.tasks.CreateTask(context.Background(), auth, TaskInput{
		Title:    "Buy groceries",
		DueDate:  f.now.Add(3 * time.Hour),
		IsShared: true,
		GroupID:  &g.ID,
	})
	if err != nil {
		t.Fatalf("Failed to create shared task: %v", err)
	}

	ns := f.notificationsFor(t, task.ID)
	if len(ns) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(ns))
	}
	recipients := make(map[string]bool)
	for _, n := range ns {
		recipients[n.UserID] = true
	}
	for _, member := range g.Members {
		if !recipients[member] {
			t.Errorf("member %s has no notification", member)
		}
	}
}

func TestSharedTaskRequiresMembership(t *testing.T) {
	f := newFixture(t)
	g := f.group(t, "bob", "carol")

	_, err := f.tasks.CreateTask(context.Background(), AuthContext{UserID: "alice"}, TaskInput{
		Title:    "Sneaky",
		DueDate:  f.now.Add(time.Hour),
		IsShared: true,
		GroupID:  &g.ID,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateRemindBeforeSurvivesReschedule(t *testing.T) {
	f := newFixture(t)
	auth := AuthContext{UserID: "alice"}
	task := f.task(t, auth, "Dentist", f.now.Add(5*time.Hour))
	n := f.notificationsFor(t, task.ID)[0]

	updated, err := f.notificationSvc.UpdateRemindBefore(context.Background(), auth, n.ID, 60)
	if err != nil {
		t.Fatalf("Failed to update lead time: %v", err)
	}
	if want := task.DueDate.Add(-time.Hour); !updated.ScheduledTime.Equal(want) {
		t.Fatalf("scheduled at %s, want %s", updated.ScheduledTime, want)
	}

	postponed, err := f.tasks.PostponeTask(context.Background(), auth, task.ID, nil)
	if err != nil {
		t.Fatalf("Failed to postpone: %v", err)
	}
	n = f.notificationsFor(t, task.ID)[0]
	if want := postponed.DueDate.Add(-time.Hour); !n.ScheduledTime.Equal(want) {
		t.Errorf("after postpone scheduled at %s, want %s", n.ScheduledTime, want)
	}
}

func TestNotificationsAreOwnedByRecipient(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, AuthContext{UserID: "alice"}, "Private", f.now.Add(5*time.Hour))
	n := f.notificationsFor(t, task.ID)[0]

	err := f.notificationSvc.MarkAsRead(context.Background(), AuthContext{UserID: "mallory"}, n.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := f.notificationSvc.MarkAsRead(context.Background(), AuthContext{UserID: "alice"}, n.ID); err != nil {
		t.Fatalf("Failed to mark read: %v", err)
	}
	upcoming, err := f.notificationSvc.Upcoming(context.Background(), AuthContext{UserID: "alice"})
	if err != nil {
		t.Fatalf("Failed to list upcoming: %v", err)
	}
	if len(upcoming) != 1 || !upcoming[0].Read {
		t.Errorf("expected one read upcoming notification, got %+v", upcoming)
	}
}

func TestNotificationInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := AuthContext{UserID: "alice"}
	f.task(t, alice, "Soon", f.now.Add(10*time.Minute))
	later := f.task(t, alice, "Later", f.now.Add(5*time.Hour))

	past, err := f.notificationSvc.Past(ctx, alice)
	if err != nil {
		t.Fatalf("Failed to list past: %v", err)
	}
	upcoming, err := f.notificationSvc.Upcoming(ctx, alice)
	if err != nil {
		t.Fatalf("Failed to list upcoming: %v", err)
	}
	if len(past) != 1 || len(upcoming) != 1 || upcoming[0].TaskID != later.ID {
		t.Fatalf("unexpected split: past=%d upcoming=%+v", len(past), upcoming)
	}

	limited, err := f.notificationSvc.List(ctx, alice, 1)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}

	if err := f.notificationSvc.MarkAllAsRead(ctx, alice); err != nil {
		t.Fatalf("Failed to mark all read: %v", err)
	}
	if err := f.notificationSvc.Remove(ctx, alice, past[0].ID); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	all, err := f.notificationSvc.List(ctx, alice, 0)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(all) != 1 || !all[0].Read {
		t.Errorf("expected one read notification, got %+v", all)
	}

	if _, err := f.notificationSvc.List(ctx, AuthContext{}, 0); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized without a user, got %v", err)
	}
}
