package notify

import (
	"context"
	"fmt"
	"net/http"
)

// TelegramSender delivers alerts via the Telegram Bot API sendMessage call.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		endpoint: fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token),
		chatID:   chatID,
		client:   &http.Client{Timeout: senderTimeout},
	}
}

type telegramMessage struct {
	ChatID         string `json:"chat_id"`
	Text           string `json:"text"`
	ParseMode      string `json:"parse_mode"`
	DisablePreview bool   `json:"disable_web_page_preview"`
}

// Send posts an alert to the configured chat, title rendered bold. Link
// previews are off since alert bodies carry market and position IDs, not
// URLs worth expanding.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	msg := telegramMessage{
		ChatID:         t.chatID,
		Text:           fmt.Sprintf("*%s*\n%s", title, message),
		ParseMode:      "Markdown",
		DisablePreview: true,
	}
	return postJSON(ctx, t.client, "telegram", t.endpoint, msg)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
