package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSink delivers alerts to one or more Telegram chats
type TelegramSink struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
	minSev  Severity
	log     zerolog.Logger
}

// NewTelegramSink creates a Telegram sink. Alerts below minSeverity are
// dropped so chat noise stays manageable.
func NewTelegramSink(botToken string, chatIDs []int64, minSeverity Severity, log zerolog.Logger) (*TelegramSink, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	sink := &TelegramSink{
		api:     api,
		chatIDs: chatIDs,
		minSev:  minSeverity,
		log:     log.With().Str("component", "alert_telegram").Logger(),
	}

	sink.log.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram alert sink initialized")

	return sink, nil
}

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Send delivers the alert to every configured chat
func (s *TelegramSink) Send(ctx context.Context, alert Alert) error {
	if severityRank[alert.Severity] < severityRank[s.minSev] {
		return nil
	}
	if len(s.chatIDs) == 0 {
		return nil
	}

	text := formatTelegram(alert)

	var lastErr error
	delivered := 0
	for _, chatID := range s.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = "Markdown"
		if _, err := s.api.Send(msg); err != nil {
			s.log.Error().
				Err(err).
				Int64("chat_id", chatID).
				Str("alert_title", alert.Title).
				Msg("Failed to send Telegram alert")
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("failed to deliver alert to any chat: %w", lastErr)
	}
	return nil
}

func formatTelegram(alert Alert) string {
	var badge string
	switch alert.Severity {
	case SeverityCritical:
		badge = "🚨"
	case SeverityWarning:
		badge = "⚠️"
	default:
		badge = "ℹ️"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", badge, alert.Title, alert.Message)
	if alert.StrategyID != "" {
		text += fmt.Sprintf("\n\nStrategy: `%s`", alert.StrategyID)
	}
	if len(alert.Metadata) > 0 {
		text += "\n\n*Details:*"
		for key, value := range alert.Metadata {
			text += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}
	text += fmt.Sprintf("\n\n_%s_", alert.Timestamp.Format("2006-01-02 15:04:05"))
	return text
}
