package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"shared-planner/internal/model"
	"shared-planner/internal/service"
)

// messageSender is the part of *tgbotapi.BotAPI the notifier needs.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type tokenLister interface {
	ListByUser(ctx context.Context, userID string) ([]model.DeviceToken, error)
}

// TelegramNotifier delivers push messages as Telegram chat messages. Each
// registered device token of a user is a chat id.
type TelegramNotifier struct {
	api    messageSender
	tokens tokenLister
}

func NewTelegramNotifier(api messageSender, tokens tokenLister) *TelegramNotifier {
	return &TelegramNotifier{api: api, tokens: tokens}
}

// Send implements service.Notifier.
func (n *TelegramNotifier) Send(ctx context.Context, userID string, msg service.PushMessage) (service.DispatchResult, error) {
	var result service.DispatchResult
	if n == nil || n.api == nil {
		return result, service.ErrNotConfigured
	}

	tokens, err := n.tokens.ListByUser(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("list device tokens: %w", err)
	}

	text := renderPush(msg)
	for _, token := range tokens {
		chatID, err := strconv.ParseInt(strings.TrimSpace(token.Token), 10, 64)
		if err != nil {
			log.Printf("[warn] device token %s of user %s is not a chat id", token.ID, userID)
			result.FailureCount++
			continue
		}
		out := tgbotapi.NewMessage(chatID, text)
		out.ParseMode = tgbotapi.ModeHTML
		if _, err := n.api.Send(out); err != nil {
			log.Printf("[warn] send to chat %d: %v", chatID, err)
			result.FailureCount++
			continue
		}
		result.SuccessCount++
	}
	return result, nil
}

// renderPush formats msg as Telegram HTML. Bodies flagged as html are
// passed through as is.
func renderPush(msg service.PushMessage) string {
	body := msg.Body
	if msg.Data["format"] != "html" {
		body = escape(body)
	}
	if msg.Data["format"] == "html" || strings.TrimSpace(msg.Title) == "" {
		return body
	}
	icon := "⏰"
	if msg.Data["type"] == string(model.NotificationReminder) && msg.Data["reminderId"] != "" {
		icon = "🔔"
	}
	return fmt.Sprintf("%s <b>%s</b>\n%s", icon, escape(msg.Title), body)
}
