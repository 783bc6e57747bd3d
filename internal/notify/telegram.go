package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fieldbook/internal/config"
	"fieldbook/internal/domain"
	"fieldbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender posts a short summary of each event to the admin chats.
type TelegramSender struct {
	bot     domain.TelegramSender
	chatIDs []int64
}

func NewTelegramSender(bot domain.TelegramSender, chatIDs []int64) *TelegramSender {
	return &TelegramSender{bot: bot, chatIDs: chatIDs}
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(_ context.Context, event string, payload []byte) error {
	var p models.LifecyclePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	text := Summary(event, &p)

	var errs []error
	for _, chatID := range s.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := s.bot.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

var eventTitles = map[string]string{
	models.EventCreated:     "New booking",
	models.EventModified:    "Booking updated",
	models.EventRescheduled: "Booking rescheduled",
	models.EventCancelled:   "Booking cancelled",
	models.EventCompleted:   "Booking completed",
	models.EventBlocked:     "Day blocked",
	models.EventUnblocked:   "Day unblocked",
}

// Summary renders a plain-text digest of a lifecycle event.
func Summary(event string, p *models.LifecyclePayload) string {
	title, ok := eventTitles[event]
	if !ok {
		title = event
	}

	var sb strings.Builder
	b := p.Booking
	if b != nil && b.JobNumber != "" {
		fmt.Fprintf(&sb, "%s %s\n", title, b.JobNumber)
	} else {
		sb.WriteString(title + "\n")
	}

	switch {
	case b != nil:
		line := b.Date.Format("Mon 2 Jan 2006") + " · " + string(b.Duration)
		if b.BookingTime != nil {
			line += " · " + *b.BookingTime
		}
		sb.WriteString(line + "\n")
		if !b.IsBlocked {
			fmt.Fprintf(&sb, "%s, %s\n", b.CustomerName, b.Service)
			fmt.Fprintf(&sb, "%s %s\n", b.Address, b.Postcode)
		}
	case p.Date != "":
		sb.WriteString(p.Date + "\n")
	}

	if event == models.EventRescheduled && b != nil && b.RescheduledFrom != nil {
		fmt.Fprintf(&sb, "Moved from %s\n", b.RescheduledFrom.Format("Mon 2 Jan 2006"))
	}
	if len(p.ChangedFields) > 0 {
		fmt.Fprintf(&sb, "Changed: %s\n", strings.Join(p.ChangedFields, ", "))
	}
	if p.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", p.Reason)
	}
	if len(p.RemovedIDs) > 0 {
		fmt.Fprintf(&sb, "Removed %d blocked row(s)\n", len(p.RemovedIDs))
	}
	if p.Actor != "" {
		fmt.Fprintf(&sb, "By %s", p.Actor)
	}
	return strings.TrimRight(sb.String(), "\n")
}
