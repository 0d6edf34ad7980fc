package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
)

// DefaultClaimLease is how long a claimed notification may stay pending
// before a later sweep takes it back.
const DefaultClaimLease = 10 * time.Minute

// PushMessage is what a Notifier delivers to every device of a user.
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// DispatchResult counts per-device outcomes of one Send.
type DispatchResult struct {
	SuccessCount int
	FailureCount int
}

// Notifier delivers push messages to a user's registered devices. A user
// without devices yields a zero result and no error.
type Notifier interface {
	Send(ctx context.Context, userID string, msg PushMessage) (DispatchResult, error)
}

// SweepReport summarizes one sweep tick.
type SweepReport struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int
}

func (r SweepReport) String() string {
	return fmt.Sprintf("due=%d sent=%d failed=%d skipped=%d", r.Due, r.Sent, r.Failed, r.Skipped)
}

// DueScanner finds notifications and reminders that are due and hands them
// to the Notifier. Each item is claimed with a conditional update before it
// is dispatched, so concurrent scanners never deliver the same item twice.
type DueScanner struct {
	notifications *repository.NotificationRepository
	tasks         *repository.TaskRepository
	reminderRepo  *repository.ReminderRepository
	reminders     *ReminderService
	recipients    *NotificationService
	notifier      Notifier
	lease         time.Duration
	loc           *time.Location
	now           func() time.Time

	notificationMu sync.Mutex
	reminderMu     sync.Mutex
}

func NewDueScanner(
	notifications *repository.NotificationRepository,
	tasks *repository.TaskRepository,
	reminderRepo *repository.ReminderRepository,
	reminders *ReminderService,
	recipients *NotificationService,
	notifier Notifier,
	lease time.Duration,
	loc *time.Location,
	now func() time.Time,
) *DueScanner {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &DueScanner{
		notifications: notifications,
		tasks:         tasks,
		reminderRepo:  reminderRepo,
		reminders:     reminders,
		recipients:    recipients,
		notifier:      notifier,
		lease:         lease,
		loc:           loc,
		now:           now,
	}
}

// SweepNotifications delivers every upcoming notification whose scheduled
// time has passed. Delivered rows become sent; rows whose delivery failed go
// back to upcoming for the next tick; rows whose task is gone become missed.
func (s *DueScanner) SweepNotifications(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if !s.notificationMu.TryLock() {
		log.Println("[info] notification sweep already running, skipping tick")
		return report, nil
	}
	defer s.notificationMu.Unlock()

	if s.notifier == nil {
		return report, &Error{Kind: ErrNotConfigured, Msg: "notification sweep"}
	}

	now := s.now()
	released, err := s.notifications.ReleaseStale(ctx, now.Add(-s.lease))
	if err != nil {
		return report, err
	}
	if released > 0 {
		log.Printf("[warn] released %d stale notification claims", released)
	}

	due, err := s.notifications.ListDue(ctx, now)
	if err != nil {
		return report, fmt.Errorf("list due notifications: %w", err)
	}
	report.Due = len(due)

	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := s.deliver(ctx, n, now)
		if errors.Is(err, ErrNotConfigured) {
			return report, err
		}
		if err != nil {
			log.Printf("[warn] notification %s to user %s: %v", n.ID, n.UserID, err)
		}
		switch result {
		case deliverySent:
			report.Sent++
		case deliverySkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	if report.Due > 0 {
		log.Printf("[info] notification sweep %s", report)
	}
	return report, nil
}

type deliveryResult int

const (
	deliveryFailed deliveryResult = iota
	deliverySent
	deliverySkipped
)

// deliver claims one due notification and hands it to the notifier. Any
// error is confined to this notification, which is left upcoming for the
// next tick unless it was delivered or its task is gone.
func (s *DueScanner) deliver(ctx context.Context, n model.Notification, now time.Time) (deliveryResult, error) {
	claimed, err := s.notifications.Transition(ctx, n.ID, model.NotificationUpcoming, model.NotificationPending, now)
	if err != nil {
		return deliveryFailed, err
	}
	if !claimed {
		return deliverySkipped, nil
	}

	task, err := s.tasks.FindByID(ctx, n.TaskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[warn] notification %s points at missing task %s", n.ID, n.TaskID)
		if _, err := s.notifications.Transition(ctx, n.ID, model.NotificationPending, model.NotificationMissed, now); err != nil {
			return deliveryFailed, err
		}
		return deliverySkipped, nil
	}
	if err != nil {
		s.release(ctx, n.ID, now)
		return deliveryFailed, fmt.Errorf("find task %s: %w", n.TaskID, err)
	}

	msg := PushMessage{
		Title: task.Title,
		Body:  n.Message,
		Data: map[string]string{
			"taskId":         task.ID,
			"notificationId": n.ID,
			"type":           string(n.Type),
		},
	}
	result, err := s.notifier.Send(ctx, n.UserID, msg)
	if err == nil && result.SuccessCount == 0 && result.FailureCount > 0 {
		err = &Error{Kind: ErrDispatch, Msg: fmt.Sprintf("%d devices failed", result.FailureCount)}
	}
	if err != nil {
		s.release(ctx, n.ID, now)
		return deliveryFailed, err
	}

	// A failure here leaves the row pending; the lease hands it back later.
	if _, err := s.notifications.Transition(ctx, n.ID, model.NotificationPending, model.NotificationSent, now); err != nil {
		return deliverySent, fmt.Errorf("mark sent: %w", err)
	}
	return deliverySent, nil
}

func (s *DueScanner) release(ctx context.Context, id string, now time.Time) {
	if _, err := s.notifications.Transition(ctx, id, model.NotificationPending, model.NotificationUpcoming, now); err != nil {
		log.Printf("[warn] release notification %s: %v", id, err)
	}
}

// SweepReminders fires every active reminder due at the current minute. A
// reminder fires at most once per minute bucket, whichever scanner claims
// it first; a failed delivery is not retried. Recipients are resolved
// before the claim, so a reminder that cannot be resolved stays unclaimed.
func (s *DueScanner) SweepReminders(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if !s.reminderMu.TryLock() {
		log.Println("[info] reminder sweep already running, skipping tick")
		return report, nil
	}
	defer s.reminderMu.Unlock()

	if s.notifier == nil {
		return report, &Error{Kind: ErrNotConfigured, Msg: "reminder sweep"}
	}

	now := s.now().In(s.loc)
	due, err := s.reminders.DueReminders(ctx, now)
	if err != nil {
		return report, err
	}
	report.Due = len(due)
	bucket := clockBucket(now)

	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		recipients, err := s.recipients.Recipients(ctx, r.UserID, r.IsShared, r.GroupID)
		if err != nil {
			log.Printf("[warn] reminder %s recipients: %v", r.ID, err)
			report.Failed++
			continue
		}
		won, err := s.reminderRepo.ClaimFiring(ctx, r.ID, bucket, now)
		if err != nil {
			log.Printf("[warn] reminder %s claim: %v", r.ID, err)
			report.Failed++
			continue
		}
		if !won {
			report.Skipped++
			continue
		}

		msg := PushMessage{
			Title: "Reminder",
			Body:  r.Title,
			Data: map[string]string{
				"reminderId": r.ID,
				"type":       string(model.NotificationReminder),
			},
		}
		failed := false
		for _, userID := range recipients {
			result, err := s.notifier.Send(ctx, userID, msg)
			if errors.Is(err, ErrNotConfigured) {
				return report, err
			}
			if err != nil || (result.SuccessCount == 0 && result.FailureCount > 0) {
				log.Printf("[warn] reminder %s to user %s: %v (failed devices %d)", r.ID, userID, err, result.FailureCount)
				failed = true
			}
		}
		if failed {
			report.Failed++
		} else {
			report.Sent++
		}
	}

	if report.Due > 0 {
		log.Printf("[info] reminder sweep %s %s", bucket, report)
	}
	return report, nil
}
