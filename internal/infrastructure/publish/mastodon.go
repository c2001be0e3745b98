package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"billwatch/internal/config"
	"billwatch/internal/ports"
)

// Mastodon posts bill summaries as statuses on a mastodon server.
type Mastodon struct {
	server      string
	accessToken string
	client      *http.Client
}

var _ ports.Publisher = (*Mastodon)(nil)

// NewMastodon registers the server and account token.
func NewMastodon(cfg config.MastodonConfig) *Mastodon {
	return &Mastodon{
		server:      strings.TrimSuffix(cfg.Server, "/"),
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the channel in logs and results.
func (m *Mastodon) Name() string { return "mastodon" }

// Publish creates a public status and returns its URL.
func (m *Mastodon) Publish(ctx context.Context, text string) (ports.PublishResult, error) {
	if m.server == "" || m.accessToken == "" {
		return ports.PublishResult{}, fmt.Errorf("mastodon publisher misconfigured")
	}

	form := url.Values{}
	form.Set("status", text)
	form.Set("visibility", "public")

	endpoint := m.server + "/api/v1/statuses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ports.PublishResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return ports.PublishResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ports.PublishResult{}, fmt.Errorf("mastodon error: %s", resp.Status)
	}

	var status struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ports.PublishResult{}, fmt.Errorf("decode status: %w", err)
	}

	return ports.PublishResult{URL: status.URL}, nil
}
