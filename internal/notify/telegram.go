package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Telegram Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat id.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiURL: DefaultTelegramAPI,
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: DefaultSendTimeout},
	}
}

type telegramMessage struct {
	ChatID         string `json:"chat_id"`
	Text           string `json:"text"`
	NoLinkPreview  bool   `json:"disable_web_page_preview"`
	NoNotification bool   `json:"disable_notification,omitempty"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts the title and message as plain text. No parse mode is set so
// token ids and underscores arrive intact.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	endpoint := strings.TrimRight(t.apiURL, "/") + "/bot" + t.token + "/sendMessage"
	data, err := postJSON(ctx, t.client, t.Name(), endpoint, telegramMessage{
		ChatID:        t.chatID,
		Text:          title + "\n" + message,
		NoLinkPreview: true,
	})
	if err != nil {
		return err
	}

	var reply telegramReply
	if json.Unmarshal(data, &reply) == nil && !reply.OK && reply.Description != "" {
		return fmt.Errorf("telegram: %s", reply.Description)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
