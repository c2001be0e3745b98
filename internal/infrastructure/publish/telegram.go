// Package publish holds the outbound channel publishers. Each channel is
// independent; one failing never aborts the others.
package publish

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"billwatch/internal/config"
	"billwatch/internal/ports"
)

// Telegram posts bill summaries to a Telegram chat via the bot API.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

var _ ports.Publisher = (*Telegram)(nil)

// NewTelegram registers bot token and chat identifier.
func NewTelegram(cfg config.TelegramConfig) *Telegram {
	return &Telegram{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the channel in logs and results.
func (t *Telegram) Name() string { return "telegram" }

// Publish posts a Markdown message to the configured chat.
func (t *Telegram) Publish(ctx context.Context, text string) (ports.PublishResult, error) {
	if t.botToken == "" || t.chatID == "" {
		return ports.PublishResult{}, fmt.Errorf("telegram publisher misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ports.PublishResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return ports.PublishResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ports.PublishResult{}, fmt.Errorf("telegram error: %s", resp.Status)
	}

	return ports.PublishResult{}, nil
}
