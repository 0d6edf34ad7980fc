package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"shared-planner/internal/model"
	"shared-planner/internal/service"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	// chat ids that reject messages
	broken map[int64]bool
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if s.broken[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("chat not found")
	}
	s.sent = append(s.sent, msg)
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

type fakeTokens map[string][]model.DeviceToken

func (f fakeTokens) ListByUser(ctx context.Context, userID string) ([]model.DeviceToken, error) {
	return f[userID], nil
}

func TestTelegramNotifierSend(t *testing.T) {
	sender := &fakeSender{broken: map[int64]bool{300: true}}
	tokens := fakeTokens{
		"alice": {{ID: "d1", Token: "100"}, {ID: "d2", Token: "not-a-chat"}, {ID: "d3", Token: "300"}},
	}
	n := NewTelegramNotifier(sender, tokens)

	result, err := n.Send(context.Background(), "alice", service.PushMessage{Title: "Standup", Body: "in 30 minutes"})
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if result.SuccessCount != 1 || result.FailureCount != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(sender.sent) != 1 || sender.sent[0].ChatID != 100 {
		t.Fatalf("unexpected messages: %+v", sender.sent)
	}
	if sender.sent[0].ParseMode != tgbotapi.ModeHTML {
		t.Errorf("parse mode = %q", sender.sent[0].ParseMode)
	}

	result, err = n.Send(context.Background(), "bob", service.PushMessage{Title: "Standup"})
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if result != (service.DispatchResult{}) {
		t.Errorf("user without devices should yield a zero result, got %+v", result)
	}
}

func TestTelegramNotifierNotConfigured(t *testing.T) {
	var n *TelegramNotifier
	if _, err := n.Send(context.Background(), "alice", service.PushMessage{}); !errors.Is(err, service.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	n = NewTelegramNotifier(nil, fakeTokens{})
	if _, err := n.Send(context.Background(), "alice", service.PushMessage{}); !errors.Is(err, service.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRenderPush(t *testing.T) {
	got := renderPush(service.PushMessage{Title: "Fix <bug>", Body: "a & b"})
	if got != "⏰ <b>Fix &lt;bug&gt;</b>\na &amp; b" {
		t.Errorf("renderPush() = %q", got)
	}

	got = renderPush(service.PushMessage{Title: "Reminder", Body: "Stretch", Data: map[string]string{"type": string(model.NotificationReminder), "reminderId": "r1"}})
	if !strings.HasPrefix(got, "🔔 ") {
		t.Errorf("reminder push should use the bell icon: %q", got)
	}

	html := "<b>Daily digest</b>"
	if got := renderPush(service.PushMessage{Title: "Daily digest", Body: html, Data: map[string]string{"format": "html"}}); got != html {
		t.Errorf("html body was altered: %q", got)
	}
}

func TestParseNewTask(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	title, due, err := parseNewTask("2025-03-01 18:30 Buy   flowers", loc)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if title != "Buy flowers" {
		t.Errorf("title = %q", title)
	}
	if want := time.Date(2025, time.March, 1, 18, 30, 0, 0, loc); !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}

	for _, bad := range []string{"", "2025-03-01 18:30", "tomorrow 18:30 Buy flowers", "2025-13-01 18:30 x"} {
		if _, _, err := parseNewTask(bad, loc); err == nil {
			t.Errorf("parseNewTask(%q) should fail", bad)
		}
	}
}

func TestParseNewRecurring(t *testing.T) {
	freq, title, _, err := parseNewRecurring("Weekly 2025-03-03 09:00 Team sync", time.UTC)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if freq != model.FrequencyWeekly || title != "Team sync" {
		t.Errorf("got %s %q", freq, title)
	}
	if _, _, _, err := parseNewRecurring("yearly 2025-03-03 09:00 Birthday", time.UTC); err == nil {
		t.Errorf("yearly task recurrence should be rejected")
	}
}

func TestParseNewReminder(t *testing.T) {
	tests := []struct {
		args    string
		want    model.ReminderRule
		title   string
		wantErr bool
	}{
		{args: "daily 07:30 Drink water", want: model.ReminderRule{Frequency: model.FrequencyDaily, Time: "07:30"}, title: "Drink water"},
		{args: "weekly friday 17:00 Timesheet", want: model.ReminderRule{Frequency: model.FrequencyWeekly, Time: "17:00", DayOfWeek: intPtr(5)}, title: "Timesheet"},
		{args: "monthly 1 09:00 Pay rent", want: model.ReminderRule{Frequency: model.FrequencyMonthly, Time: "09:00", DayOfMonth: intPtr(1)}, title: "Pay rent"},
		{args: "yearly 12-24 10:00 Gifts", want: model.ReminderRule{Frequency: model.FrequencyYearly, Time: "10:00", MonthOfYear: intPtr(12), DayOfMonth: intPtr(24)}, title: "Gifts"},
		{args: "hourly 10:00 Nope", wantErr: true},
		{args: "weekly someday 10:00 Nope", wantErr: true},
		{args: "monthly 1 09:00", wantErr: true},
		{args: "daily", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			input, err := parseNewReminder(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseNewReminder() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if input.Title != tt.title {
				t.Errorf("title = %q, want %q", input.Title, tt.title)
			}
			if describeRule(input.Rule) != describeRule(tt.want) {
				t.Errorf("rule = %s, want %s", describeRule(input.Rule), describeRule(tt.want))
			}
		})
	}
}

func TestParseCallback(t *testing.T) {
	prefix, id, ok := parseCallback("postpone:abc-123")
	if !ok || prefix != cbPostponePrefix || id != "abc-123" {
		t.Errorf("got %q %q %v", prefix, id, ok)
	}
	if _, _, ok := parseCallback("complete:"); ok {
		t.Errorf("empty id accepted")
	}
	if _, _, ok := parseCallback("archive:abc"); ok {
		t.Errorf("unknown action accepted")
	}
}

func TestUserMessage(t *testing.T) {
	err := &service.Error{Kind: service.ErrValidation, Msg: "title is <empty>"}
	if got := userMessage(err); !strings.Contains(got, "&lt;empty&gt;") {
		t.Errorf("validation message not escaped: %q", got)
	}
	if got := userMessage(service.ErrNotFound); !strings.HasPrefix(got, "Not found") {
		t.Errorf("userMessage(ErrNotFound) = %q", got)
	}
}

func TestShortTitle(t *testing.T) {
	if got := shortTitle("  water\nthe plants ", 40); got != "Water the plants" {
		t.Errorf("shortTitle() = %q", got)
	}
	if got := shortTitle("abcdef", 4); got != "Abc…" {
		t.Errorf("shortTitle() = %q", got)
	}
}

func intPtr(v int) *int { return &v }

func TestParseLeadCallback(t *testing.T) {
	prefix, payload, ok := parseCallback("lead:60:abc-123")
	if !ok || prefix != cbLeadPrefix {
		t.Fatalf("got %q %q %v", prefix, payload, ok)
	}
	minutes, id, ok := parseLeadPayload(payload)
	if !ok || minutes != 60 || id != "abc-123" {
		t.Errorf("parseLeadPayload(%q) = %d %q %v", payload, minutes, id, ok)
	}
	for _, bad := range []string{"60", "60:", "soon:abc", "-5:abc"} {
		if _, _, ok := parseLeadPayload(bad); ok {
			t.Errorf("parseLeadPayload(%q) accepted", bad)
		}
	}
	if prefix, id, ok := parseCallback("read:n-1"); !ok || prefix != cbReadPrefix || id != "n-1" {
		t.Errorf("read callback parsed as %q %q %v", prefix, id, ok)
	}
}

func TestParsePositions(t *testing.T) {
	task, dep, err := parsePositions(" 3  1 ")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if task != 3 || dep != 1 {
		t.Errorf("got %d %d", task, dep)
	}
	for _, bad := range []string{"", "1", "1 2 3", "0 1", "a 1"} {
		if _, _, err := parsePositions(bad); err == nil {
			t.Errorf("parsePositions(%q) should fail", bad)
		}
	}
}

func TestParseEditReminder(t *testing.T) {
	pos, input, err := parseEditReminder("2 weekly mon 08:15 Gym")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if pos != 2 || input.Title != "Gym" || input.Rule.Time != "08:15" {
		t.Errorf("got %d %+v", pos, input)
	}
	if input.Rule.DayOfWeek == nil || *input.Rule.DayOfWeek != 1 {
		t.Errorf("weekday not parsed: %+v", input.Rule)
	}
	for _, bad := range []string{"", "daily 08:00 Gym", "1 daily"} {
		if _, _, err := parseEditReminder(bad); err == nil {
			t.Errorf("parseEditReminder(%q) should fail", bad)
		}
	}
}

func TestFormatNotification(t *testing.T) {
	n := model.Notification{
		Message:       "Pay <rent>",
		ScheduledTime: time.Date(2025, time.March, 1, 17, 30, 0, 0, time.UTC),
		Status:        model.NotificationUpcoming,
	}
	got := formatNotification(n, time.UTC)
	if got != "⏰ Pay &lt;rent&gt; · 2025-03-01 17:30 <b>•</b>\n" {
		t.Errorf("formatNotification() = %q", got)
	}
	n.Read = true
	n.Status = model.NotificationSent
	if got := formatNotification(n, time.UTC); !strings.HasPrefix(got, "📨 ") || strings.Contains(got, "•") {
		t.Errorf("read sent notification rendered as %q", got)
	}
}
