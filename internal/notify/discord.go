package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordContentLimit is Discord's maximum message length.
const discordContentLimit = 2000

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "polyarb",
		client:     &http.Client{Timeout: DefaultSendTimeout},
	}
}

type discordMessage struct {
	Content         string          `json:"content"`
	Username        string          `json:"username,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

// allowedMentions with an empty Parse list stops market text from pinging
// @everyone or roles.
type allowedMentions struct {
	Parse []string `json:"parse"`
}

// Send posts the message to the webhook with the title in bold, truncated
// to Discord's limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if r := []rune(content); len(r) > discordContentLimit {
		content = string(r[:discordContentLimit-1]) + "…"
	}
	_, err := postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{
		Content:         content,
		Username:        d.username,
		AllowedMentions: allowedMentions{Parse: []string{}},
	})
	return err
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
