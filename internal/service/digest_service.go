package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
)

// DigestService builds human-readable daily summaries and pushes them to
// every known user.
type DigestService struct {
	tasks     *TaskService
	reminders *ReminderService
	groups    *repository.GroupRepository
	users     *repository.UserRepository
	notifier  Notifier
	loc       *time.Location
	now       func() time.Time
}

func NewDigestService(tasks *TaskService, reminders *ReminderService, groups *repository.GroupRepository, users *repository.UserRepository, notifier Notifier, loc *time.Location, now func() time.Time) *DigestService {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &DigestService{
		tasks:     tasks,
		reminders: reminders,
		groups:    groups,
		users:     users,
		notifier:  notifier,
		loc:       loc,
		now:       now,
	}
}

// DailySummary lists the user's overdue tasks, the open tasks due today and
// the reminders that fire today.
func (s *DigestService) DailySummary(ctx context.Context, auth AuthContext, now time.Time) (string, error) {
	now = now.In(s.loc)
	groupNames, err := s.groupNames(ctx, auth.UserID)
	if err != nil {
		return "", err
	}

	overdue, err := s.tasks.ListOverdue(ctx, auth)
	if err != nil {
		return "", err
	}
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, s.loc)
	window, err := s.tasks.ListAllAccessible(ctx, auth, TaskFilter{From: &now, To: &endOfDay})
	if err != nil {
		return "", err
	}
	var today []model.Task
	for _, t := range window {
		if t.Status != model.TaskStatusCompleted {
			today = append(today, t)
		}
	}
	reminders, err := s.reminders.ListAllAccessible(ctx, auth)
	if err != nil {
		return "", err
	}
	var firing []model.Reminder
	for _, r := range reminders {
		if r.IsActive && !Ended(r, now) && FiresOn(r.Rule, now) {
			firing = append(firing, r)
		}
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily digest</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("2006-01-02")))

	builder.WriteString("⚠️ <b>Overdue</b>\n")
	if len(overdue) == 0 {
		builder.WriteString("— nothing overdue\n")
	} else {
		for _, task := range overdue {
			builder.WriteString(formatTask(task, groupNames, now))
		}
	}

	builder.WriteString("\n🔥 <b>Due today</b>\n")
	if len(today) == 0 {
		builder.WriteString("— no open tasks for today\n")
	} else {
		for _, task := range today {
			builder.WriteString(formatTask(task, groupNames, now))
		}
	}

	builder.WriteString("\n🔔 <b>Reminders</b>\n")
	if len(firing) == 0 {
		builder.WriteString("— no reminders today\n")
	} else {
		for _, r := range firing {
			builder.WriteString(formatReminder(r, groupNames))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

// SendAll pushes the daily digest to every registered user.
func (s *DigestService) SendAll(ctx context.Context) error {
	if s.notifier == nil {
		return &Error{Kind: ErrNotConfigured, Msg: "daily digest"}
	}
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	for _, user := range users {
		auth := AuthContext{UserID: user.ID}
		summary, err := s.DailySummary(ctx, auth, now)
		if err != nil {
			log.Printf("digest for user %s: %v", user.ID, err)
			continue
		}
		msg := PushMessage{Title: "Daily digest", Body: summary, Data: map[string]string{"type": "digest", "format": "html"}}
		if _, err := s.notifier.Send(ctx, user.ID, msg); err != nil {
			if errors.Is(err, ErrNotConfigured) {
				return err
			}
			log.Printf("send digest to user %s: %v", user.ID, err)
		}
	}
	return nil
}

func (s *DigestService) groupNames(ctx context.Context, userID string) (map[string]string, error) {
	groups, err := s.groups.ListForMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}
	return names, nil
}

func formatTask(task model.Task, groupNames map[string]string, now time.Time) string {
	var sb strings.Builder

	icon := "🟢"
	d := task.DueDate.In(now.Location())
	switch {
	case now.After(d):
		icon = "⚠️"
	case d.Sub(now) <= 2*time.Hour:
		icon = "⏳"
	}

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s %s", icon, title))

	if groupID, ok := task.SharedWith(); ok {
		if name := strings.TrimSpace(groupNames[groupID]); name != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
		}
	}

	if now.After(d) {
		sb.WriteString(fmt.Sprintf("\n   ⏰ %s · <b>overdue</b>", d.Format("2006-01-02 15:04")))
	} else {
		sb.WriteString(fmt.Sprintf("\n   ⏰ %s", d.Format("15:04")))
	}

	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(task.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}

func formatReminder(r model.Reminder, groupNames map[string]string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔔 %s %s", r.Rule.Time, html.EscapeString(strings.TrimSpace(r.Title))))
	if groupID, ok := r.SharedWith(); ok {
		if name := strings.TrimSpace(groupNames[groupID]); name != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}
