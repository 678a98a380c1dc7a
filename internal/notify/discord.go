package notify

import (
	"context"
	"net/http"
)

// DiscordSender delivers alerts to a Discord webhook as embeds, so the
// title and body render as a card instead of one run-on message line.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send posts the alert as a single embed. Discord answers 204 No Content
// on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordWebhook{
		Embeds: []discordEmbed{{Title: title, Description: message}},
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, payload)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
