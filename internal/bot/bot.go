package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
	"shared-planner/internal/service"
)

const (
	cbCompletePrefix = "complete:"
	cbPostponePrefix = "postpone:"
	cbDeletePrefix   = "delete:"
	cbPausePrefix    = "pause:"
	cbResumePrefix   = "resume:"
	cbReadPrefix     = "read:"
	cbLeadPrefix     = "lead:"
)

const (
	iconDefault   = "🟢"
	iconDue       = "⏳"
	iconOverdue   = "⚠️"
	iconRecurring = "♻️"
	iconShared    = "👥"

	menuLabelTasks     = "📋 Tasks"
	menuLabelOverdue   = "⚠️ Overdue"
	menuLabelReminders = "🔔 Reminders"
	menuLabelHelp      = "ℹ️ Help"

	taskListLimit         = 20
	notificationListLimit = 10
	// lead time offered by the notification list button
	extendedLeadMinutes = 60
)

// Bot is the Telegram command surface over the planner services.
type Bot struct {
	api       *tgbotapi.BotAPI
	users     *repository.UserRepository
	tokens    *repository.DeviceTokenRepository
	tasks     *service.TaskService
	templates *service.RecurringTaskService
	reminders *service.ReminderService
	inbox     *service.NotificationService
	digest    *service.DigestService
	loc       *time.Location

	// last deleted task per Telegram user, for /undo
	undo map[int64]model.Task
	mu   sync.Mutex
}

func New(api *tgbotapi.BotAPI, users *repository.UserRepository, tokens *repository.DeviceTokenRepository, tasks *service.TaskService, templates *service.RecurringTaskService, reminders *service.ReminderService, inbox *service.NotificationService, digest *service.DigestService, loc *time.Location) *Bot {
	if loc == nil {
		loc = time.Local
	}
	return &Bot{
		api:       api,
		users:     users,
		tokens:    tokens,
		tasks:     tasks,
		templates: templates,
		reminders: reminders,
		inbox:     inbox,
		digest:    digest,
		loc:       loc,
		undo:      make(map[int64]model.Task),
	}
}

// NewAPI authorizes against Telegram with token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Printf("[info] bot authorized on account %s", api.Self.UserName)
	return api, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	return b.sendText(msg.Chat.ID, "I did not get that. Try /newtask to add a task or /help for the list of commands.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "stop":
		return b.handleStop(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "overdue":
		return b.handleOverdue(ctx, msg)
	case "newtask":
		return b.handleNewTask(ctx, msg)
	case "newrecurring":
		return b.handleNewRecurring(ctx, msg)
	case "recurring":
		return b.handleRecurring(ctx, msg)
	case "undo":
		return b.handleUndo(ctx, msg)
	case "depends", "nodepends":
		return b.handleDepends(ctx, msg)
	case "reminders":
		return b.handleReminders(ctx, msg)
	case "newreminder":
		return b.handleNewReminder(ctx, msg)
	case "editreminder":
		return b.handleEditReminder(ctx, msg)
	case "notifications":
		return b.handleNotifications(ctx, msg)
	case "readall":
		return b.handleReadAll(ctx, msg)
	case "digest":
		return b.handleDigest(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

// handleStart registers the user and this chat as their delivery address.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if _, err := b.tokens.Register(ctx, user.ID, strconv.FormatInt(msg.Chat.ID, 10), "telegram"); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I keep your tasks and reminders on schedule.</b>\n\n"+
			"This chat now receives your notifications. See /help for commands.",
		escape(name),
	)
	return b.sendText(msg.Chat.ID, text)
}

// handleStop unregisters this chat; the user's other chats keep receiving.
func (b *Bot) handleStop(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	if err := b.tokens.Remove(ctx, auth.UserID, strconv.FormatInt(msg.Chat.ID, 10)); err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, "🔕 This chat no longer receives notifications. Send /start to turn them back on.")
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /newtask YYYY-MM-DD HH:MM title — add a task\n" +
		"• /tasks — open tasks with complete, postpone and delete buttons\n" +
		"• /overdue — tasks past their due date\n" +
		"• /newrecurring weekly YYYY-MM-DD HH:MM title — repeat daily, weekly or monthly\n" +
		"• /recurring — recurring tasks with pause and resume buttons\n" +
		"• /undo — restore the task you deleted last\n" +
		"• /depends 2 1 — task 2 of /tasks waits for task 1 (/nodepends to drop it)\n" +
		"• /newreminder daily HH:MM title\n" +
		"• /newreminder weekly mon HH:MM title\n" +
		"• /newreminder monthly 15 HH:MM title\n" +
		"• /newreminder yearly 03-08 HH:MM title\n" +
		"• /reminders — your reminders\n" +
		"• /editreminder 1 daily HH:MM title — change reminder 1 of /reminders\n" +
		"• /notifications — latest notifications (/readall marks all read)\n" +
		"• /stop — stop notifications in this chat\n" +
		"• /digest — today's summary"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, auth)
}

func (b *Bot) handleOverdue(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	tasks, err := b.tasks.ListOverdue(ctx, auth)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if len(tasks) == 0 {
		return b.sendText(msg.Chat.ID, "✨ Nothing is overdue.")
	}

	now := time.Now().In(b.loc)
	var builder strings.Builder
	builder.WriteString("⚠️ <b>Overdue</b>\n\n")
	for _, task := range tasks {
		builder.WriteString(formatTask(task, now))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleNewTask(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	title, due, err := parseNewTask(msg.CommandArguments(), b.loc)
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error())+"\nExample: /newtask 2025-03-01 18:30 Pay rent")
	}

	task, err := b.tasks.CreateTask(ctx, auth, service.TaskInput{Title: title, DueDate: due})
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Task \"%s\" added for %s.",
		escape(normalizeTitle(task.Title)), task.DueDate.In(b.loc).Format("2006-01-02 15:04")))
}

func (b *Bot) handleNewRecurring(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	freq, title, due, err := parseNewRecurring(msg.CommandArguments(), b.loc)
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error())+"\nExample: /newrecurring weekly 2025-03-05 19:00 Team sync")
	}

	task, err := b.tasks.CreateTask(ctx, auth, service.TaskInput{
		Title:      title,
		DueDate:    due,
		Recurrence: &model.RecurrenceRule{Frequency: freq},
	})
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("%s \"%s\" repeats %s from %s.",
		iconRecurring, escape(normalizeTitle(task.Title)), freq, task.DueDate.In(b.loc).Format("2006-01-02 15:04")))
}

func (b *Bot) handleRecurring(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendRecurringList(ctx, msg.Chat.ID, auth)
}

func (b *Bot) sendRecurringList(ctx context.Context, chatID int64, auth service.AuthContext) error {
	templates, err := b.templates.List(ctx, auth)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if len(templates) == 0 {
		return b.sendText(chatID, "No recurring tasks. Add one with /newrecurring.")
	}

	var builder strings.Builder
	builder.WriteString(iconRecurring + " <b>Recurring tasks</b>\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, tpl := range templates {
		state := "active"
		button := tgbotapi.NewInlineKeyboardButtonData("⏸ "+shortTitle(tpl.Title, 24), cbPausePrefix+tpl.ID)
		if !tpl.IsActive {
			state = "paused"
			button = tgbotapi.NewInlineKeyboardButtonData("▶️ "+shortTitle(tpl.Title, 24), cbResumePrefix+tpl.ID)
		}
		builder.WriteString(fmt.Sprintf("%s %s · %s · %s, %d created\n",
			iconRecurring, escape(normalizeTitle(tpl.Title)), tpl.Rule.Frequency, state, tpl.GeneratedCount))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(button))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleUndo(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	snapshot, ok := b.takeUndo(msg.From.ID)
	if !ok {
		return b.sendText(msg.Chat.ID, "Nothing to undo.")
	}
	task, err := b.tasks.RestoreTask(ctx, auth, snapshot)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("↩️ Task \"%s\" restored.", escape(normalizeTitle(task.Title))))
}

func (b *Bot) handleReminders(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	reminders, err := b.reminders.ListAllAccessible(ctx, auth)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if len(reminders) == 0 {
		return b.sendText(msg.Chat.ID, "No reminders yet. Add one with /newreminder.")
	}

	var builder strings.Builder
	builder.WriteString("🔔 <b>Reminders</b>\n\n")
	for i, r := range reminders {
		builder.WriteString(fmt.Sprintf("%d. %s", i+1, formatReminder(r)))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleNewReminder(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	input, err := parseNewReminder(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error())+"\nExample: /newreminder weekly mon 09:00 Stand-up")
	}
	reminder, err := b.reminders.CreateReminder(ctx, auth, input)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🔔 Reminder \"%s\" set: %s.", escape(reminder.Title), describeRule(reminder.Rule)))
}

func (b *Bot) handleEditReminder(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	pos, input, err := parseEditReminder(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error())+"\nExample: /editreminder 1 weekly mon 09:00 Stand-up")
	}
	reminders, err := b.reminders.ListAllAccessible(ctx, auth)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if pos > len(reminders) {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("There is no reminder %d. See /reminders.", pos))
	}
	current := reminders[pos-1]
	input.IsShared = current.IsShared
	input.GroupID = current.GroupID
	input.End = current.End
	input.ShowOnCalendar = current.ShowOnCalendar

	reminder, err := b.reminders.UpdateReminder(ctx, auth, current.ID, input)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🔔 Reminder \"%s\" now fires %s.", escape(reminder.Title), describeRule(reminder.Rule)))
}

func (b *Bot) handleDepends(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	taskPos, depPos, err := parsePositions(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error())+"\nExample: /depends 2 1")
	}
	open, err := b.openTasks(ctx, auth)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if taskPos > len(open) || depPos > len(open) {
		return b.sendText(msg.Chat.ID, "Use the numbers shown by /tasks.")
	}
	task, dep := open[taskPos-1], open[depPos-1]

	if msg.Command() == "nodepends" {
		if _, err := b.tasks.RemoveDependency(ctx, auth, task.ID, dep.ID); err != nil {
			return b.sendText(msg.Chat.ID, userMessage(err))
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("🔓 \"%s\" no longer waits for \"%s\".",
			escape(normalizeTitle(task.Title)), escape(normalizeTitle(dep.Title))))
	}
	if _, err := b.tasks.AddDependency(ctx, auth, task.ID, dep.ID); err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🔗 \"%s\" now waits for \"%s\".",
		escape(normalizeTitle(task.Title)), escape(normalizeTitle(dep.Title))))
}

func (b *Bot) handleNotifications(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendNotificationList(ctx, msg.Chat.ID, auth)
}

func (b *Bot) sendNotificationList(ctx context.Context, chatID int64, auth service.AuthContext) error {
	notifications, err := b.inbox.List(ctx, auth, notificationListLimit)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if len(notifications) == 0 {
		return b.sendText(chatID, "No notifications.")
	}

	var builder strings.Builder
	builder.WriteString("📬 <b>Notifications</b>\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, n := range notifications {
		builder.WriteString(formatNotification(n, b.loc))
		row := []tgbotapi.InlineKeyboardButton{}
		if !n.Read {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("✓ "+shortTitle(n.Message, 20), cbReadPrefix+n.ID))
		}
		if n.Status == model.NotificationUpcoming && n.RemindBefore != extendedLeadMinutes {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("⏰ 1h before", fmt.Sprintf("%s%d:%s", cbLeadPrefix, extendedLeadMinutes, n.ID)))
		}
		if len(row) > 0 {
			buttons = append(buttons, row)
		}
	}

	out := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	out.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	}
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) handleReadAll(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	if err := b.inbox.MarkAllAsRead(ctx, auth); err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, "📭 All notifications marked as read.")
}

func (b *Bot) handleDigest(ctx context.Context, msg *tgbotapi.Message) error {
	auth, err := b.authFor(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.digest.DailySummary(ctx, auth, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the digest: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

// openTasks is the numbered list /tasks shows and /depends refers to.
func (b *Bot) openTasks(ctx context.Context, auth service.AuthContext) ([]model.Task, error) {
	tasks, err := b.tasks.ListAllAccessible(ctx, auth, service.TaskFilter{})
	if err != nil {
		return nil, err
	}
	var open []model.Task
	for _, t := range tasks {
		if t.Status != model.TaskStatusCompleted {
			open = append(open, t)
		}
	}
	if len(open) > taskListLimit {
		open = open[:taskListLimit]
	}
	return open, nil
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, auth service.AuthContext) error {
	open, err := b.openTasks(ctx, auth)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if len(open) == 0 {
		return b.sendText(chatID, "You have no open tasks. Add one with /newtask.")
	}

	now := time.Now().In(b.loc)
	var builder strings.Builder
	builder.WriteString("📋 <b>Open tasks</b>\n")
	builder.WriteString("Use the buttons to complete, postpone by a day or delete a task.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for i, task := range open {
		builder.WriteString(fmt.Sprintf("%d. %s", i+1, formatTask(task, now)))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ "+shortTitle(task.Title, 20), cbCompletePrefix+task.ID),
			tgbotapi.NewInlineKeyboardButtonData("⏭ +1d", cbPostponePrefix+task.ID),
			tgbotapi.NewInlineKeyboardButtonData("\U0001F5D1", cbDeletePrefix+task.ID),
		))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("callback ack: %v", err)
	}

	action, id, ok := parseCallback(cb.Data)
	if !ok {
		return nil
	}
	log.Printf("[info] callback %s user=%d id=%s", action, cb.From.ID, id)

	auth, err := b.authFor(ctx, cb.From)
	if err != nil {
		return err
	}
	chatID := cb.Message.Chat.ID

	switch action {
	case cbReadPrefix:
		if err := b.inbox.MarkAsRead(ctx, auth, id); err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		return b.sendNotificationList(ctx, chatID, auth)
	case cbLeadPrefix:
		minutes, notificationID, ok := parseLeadPayload(id)
		if !ok {
			return nil
		}
		n, err := b.inbox.UpdateRemindBefore(ctx, auth, notificationID, minutes)
		if err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		return b.sendText(chatID, fmt.Sprintf("⏰ You will be notified at %s.", n.ScheduledTime.In(b.loc).Format("2006-01-02 15:04")))
	case cbPausePrefix, cbResumePrefix:
		if _, err := b.templates.SetActive(ctx, auth, id, action == cbResumePrefix); err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		return b.sendRecurringList(ctx, chatID, auth)
	case cbCompletePrefix:
		task, err := b.tasks.CompleteTask(ctx, auth, id)
		if err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		if err := b.sendText(chatID, fmt.Sprintf("🎉 \"%s\" completed.", escape(normalizeTitle(task.Title)))); err != nil {
			return err
		}
	case cbPostponePrefix:
		task, err := b.tasks.PostponeTask(ctx, auth, id, nil)
		if err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		if err := b.sendText(chatID, fmt.Sprintf("⏭ \"%s\" moved to %s.",
			escape(normalizeTitle(task.Title)), task.DueDate.In(b.loc).Format("2006-01-02 15:04"))); err != nil {
			return err
		}
	case cbDeletePrefix:
		task, err := b.tasks.DeleteTask(ctx, auth, id)
		if err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		b.putUndo(cb.From.ID, *task)
		if err := b.sendText(chatID, fmt.Sprintf("🗑 \"%s\" deleted. Send /undo to bring it back.", escape(normalizeTitle(task.Title)))); err != nil {
			return err
		}
	}

	return b.sendTaskList(ctx, chatID, auth)
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelOverdue):
		return true, b.handleOverdue(ctx, msg)
	case strings.ToLower(menuLabelReminders):
		return true, b.handleReminders(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) authFor(ctx context.Context, from *tgbotapi.User) (service.AuthContext, error) {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return service.AuthContext{}, err
	}
	return service.AuthContext{UserID: user.ID}, nil
}

func (b *Bot) putUndo(telegramID int64, task model.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.undo[telegramID] = task
}

func (b *Bot) takeUndo(telegramID int64) (model.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.undo[telegramID]
	delete(b.undo, telegramID)
	return task, ok
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTasks),
			tgbotapi.NewKeyboardButton(menuLabelOverdue),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelReminders),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

// userMessage turns a service error into a reply for the chat.
func userMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return "Not found. It may have been deleted."
	case errors.Is(err, service.ErrUnauthorized):
		return "🔒 You do not have access to that."
	case errors.Is(err, service.ErrValidation):
		return "⚠️ " + escape(err.Error())
	default:
		log.Printf("request failed: %v", err)
		return "Something went wrong, try again later."
	}
}

func parseCallback(data string) (string, string, bool) {
	for _, prefix := range []string{cbCompletePrefix, cbPostponePrefix, cbDeletePrefix, cbPausePrefix, cbResumePrefix, cbReadPrefix, cbLeadPrefix} {
		if strings.HasPrefix(data, prefix) {
			id := strings.TrimSpace(strings.TrimPrefix(data, prefix))
			if id == "" {
				return "", "", false
			}
			return prefix, id, true
		}
	}
	return "", "", false
}

// parseNewTask reads "YYYY-MM-DD HH:MM title".
func parseNewTask(args string, loc *time.Location) (string, time.Time, error) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return "", time.Time{}, fmt.Errorf("expected a date, a time and a title")
	}
	due, err := time.ParseInLocation("2006-01-02 15:04", fields[0]+" "+fields[1], loc)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("could not read %q as a date and time", fields[0]+" "+fields[1])
	}
	return strings.Join(fields[2:], " "), due, nil
}

// parseNewRecurring reads "<daily|weekly|monthly> YYYY-MM-DD HH:MM title".
func parseNewRecurring(args string, loc *time.Location) (model.Frequency, string, time.Time, error) {
	fields := strings.Fields(args)
	if len(fields) < 4 {
		return "", "", time.Time{}, fmt.Errorf("expected a frequency, a first date and time, and a title")
	}
	freq := model.Frequency(strings.ToLower(fields[0]))
	switch freq {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly:
	default:
		return "", "", time.Time{}, fmt.Errorf("frequency must be daily, weekly or monthly")
	}
	title, due, err := parseNewTask(strings.Join(fields[1:], " "), loc)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return freq, title, due, nil
}

// parseLeadPayload reads the "minutes:notificationID" part of a lead
// callback.
func parseLeadPayload(payload string) (int, string, bool) {
	minutesText, id, found := strings.Cut(payload, ":")
	if !found || id == "" {
		return 0, "", false
	}
	minutes, err := strconv.Atoi(minutesText)
	if err != nil || minutes < 0 {
		return 0, "", false
	}
	return minutes, id, true
}

// parsePositions reads two 1-based list positions, as in "/depends 2 1".
func parsePositions(args string) (int, int, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected two task numbers")
	}
	first, err := parsePosition(fields[0])
	if err != nil {
		return 0, 0, err
	}
	second, err := parsePosition(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

func parsePosition(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%q is not a list number", value)
	}
	return n, nil
}

// parseEditReminder reads "N <newreminder arguments>".
func parseEditReminder(args string) (int, service.ReminderInput, error) {
	first, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	pos, err := parsePosition(first)
	if err != nil {
		return 0, service.ReminderInput{}, err
	}
	input, err := parseNewReminder(rest)
	if err != nil {
		return 0, service.ReminderInput{}, err
	}
	return pos, input, nil
}

var weekdays = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// parseNewReminder reads "<frequency> [day] HH:MM title", where day is a
// weekday for weekly, a day of month for monthly and MM-DD for yearly.
func parseNewReminder(args string) (service.ReminderInput, error) {
	var input service.ReminderInput
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return input, fmt.Errorf("expected a frequency, a time and a title")
	}

	freq := model.Frequency(strings.ToLower(fields[0]))
	rest := fields[1:]
	rule := model.ReminderRule{Frequency: freq}
	switch freq {
	case model.FrequencyDaily:
	case model.FrequencyWeekly:
		day, err := parseWeekday(rest[0])
		if err != nil {
			return input, err
		}
		rule.DayOfWeek = &day
		rest = rest[1:]
	case model.FrequencyMonthly:
		day, err := strconv.Atoi(rest[0])
		if err != nil {
			return input, fmt.Errorf("day of month %q is not a number", rest[0])
		}
		rule.DayOfMonth = &day
		rest = rest[1:]
	case model.FrequencyYearly:
		date, err := time.Parse("01-02", rest[0])
		if err != nil {
			return input, fmt.Errorf("yearly date %q must be MM-DD", rest[0])
		}
		month, day := int(date.Month()), date.Day()
		rule.MonthOfYear = &month
		rule.DayOfMonth = &day
		rest = rest[1:]
	default:
		return input, fmt.Errorf("frequency must be daily, weekly, monthly or yearly")
	}

	if len(rest) < 2 {
		return input, fmt.Errorf("expected a time and a title")
	}
	rule.Time = rest[0]
	input.Title = strings.Join(rest[1:], " ")
	input.Rule = rule
	input.ShowOnCalendar = true
	return input, nil
}

func parseWeekday(value string) (int, error) {
	lower := strings.ToLower(value)
	if n, err := strconv.Atoi(lower); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday must be 0-6, got %d", n)
		}
		return n, nil
	}
	if len(lower) >= 3 {
		if day, ok := weekdays[lower[:3]]; ok {
			return day, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", value)
}

func describeRule(rule model.ReminderRule) string {
	switch rule.Frequency {
	case model.FrequencyWeekly:
		if rule.DayOfWeek != nil {
			return fmt.Sprintf("every %s at %s", time.Weekday(*rule.DayOfWeek), rule.Time)
		}
	case model.FrequencyMonthly:
		if rule.DayOfMonth != nil {
			return fmt.Sprintf("monthly on day %d at %s", *rule.DayOfMonth, rule.Time)
		}
	case model.FrequencyYearly:
		if rule.MonthOfYear != nil && rule.DayOfMonth != nil {
			return fmt.Sprintf("every year on %s %d at %s", time.Month(*rule.MonthOfYear), *rule.DayOfMonth, rule.Time)
		}
	}
	return fmt.Sprintf("every day at %s", rule.Time)
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func escape(s string) string {
	return html.EscapeString(s)
}

func formatTask(task model.Task, now time.Time) string {
	var b strings.Builder
	icon := iconDefault
	d := task.DueDate.In(now.Location())
	if now.After(d) {
		icon = iconOverdue
	} else if d.Sub(now) <= 48*time.Hour {
		icon = iconDue
	}
	if task.RecurringTaskID != nil {
		icon += iconRecurring
	}
	if task.IsShared {
		icon += iconShared
	}
	b.WriteString(fmt.Sprintf("%s %s\n", icon, escape(normalizeTitle(task.Title))))
	if now.After(d) {
		b.WriteString(fmt.Sprintf("   ⏰ Due %s · <b>overdue</b>\n", d.Format("2006-01-02 15:04")))
	} else {
		b.WriteString(fmt.Sprintf("   ⏰ Due %s\n", d.Format("2006-01-02 15:04")))
	}
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatReminder(r model.Reminder) string {
	status := ""
	if !r.IsActive {
		status = " <i>(paused)</i>"
	}
	return fmt.Sprintf("🔔 %s · %s%s\n", escape(normalizeTitle(r.Title)), describeRule(r.Rule), status)
}

func formatNotification(n model.Notification, loc *time.Location) string {
	icon := "📨"
	switch n.Status {
	case model.NotificationUpcoming, model.NotificationPending:
		icon = "⏰"
	case model.NotificationMissed:
		icon = "⚠️"
	}
	unread := ""
	if !n.Read {
		unread = " <b>•</b>"
	}
	return fmt.Sprintf("%s %s · %s%s\n", icon, escape(n.Message), n.ScheduledTime.In(loc).Format("2006-01-02 15:04"), unread)
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
