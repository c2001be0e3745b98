// Package llm implements the bill summarizer on the Anthropic API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"billwatch/internal/config"
	"billwatch/internal/domain"
	"billwatch/internal/ports"
)

const (
	maxRetries     = 2
	initialBackoff = 1 * time.Second
	maxPromptChars = 24000
)

const systemPrompt = `You summarize US legislative bills for a general audience.
Respond with a single JSON object and nothing else:
{"overview": "...", "detailed": "...", "short_text": "...", "tags": ["..."], "score": 0.0}
overview: 2-3 sentences. detailed: a few paragraphs. short_text: a social post
under 280 characters. tags: up to 5 subject tags. score: estimated societal
impact from 0 to 10.`

// Summarizer generates structured bill summaries via Claude.
type Summarizer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

var _ ports.Summarizer = (*Summarizer)(nil)

// NewSummarizer builds the client from configuration.
func NewSummarizer(cfg config.AnthropicConfig) *Summarizer {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &Summarizer{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
	}
}

type summaryPayload struct {
	Overview  string   `json:"overview"`
	Detailed  string   `json:"detailed"`
	ShortText string   `json:"short_text"`
	Tags      []string `json:"tags"`
	Score     float64  `json:"score"`
}

// Summarize sends the bill to the model and parses the structured reply.
func (s *Summarizer) Summarize(ctx context.Context, bill *domain.Bill) (*domain.Summary, error) {
	raw, err := s.callWithRetry(ctx, buildPrompt(bill))
	if err != nil {
		return nil, err
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, fmt.Errorf("parse summary for %s: %w", bill.ID, err)
	}

	return &domain.Summary{
		Overview:  strings.TrimSpace(payload.Overview),
		Detailed:  strings.TrimSpace(payload.Detailed),
		ShortText: strings.TrimSpace(payload.ShortText),
		Tags:      payload.Tags,
		Score:     payload.Score,
	}, nil
}

func buildPrompt(bill *domain.Bill) string {
	text := bill.FullText
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	return fmt.Sprintf("Bill %s (%s)\nTitle: %s\nSponsor: %s (%s-%s)\nStatus: %s\n\nFull text:\n%s",
		strings.ToUpper(bill.Type), bill.ID, bill.Title,
		bill.Sponsor.Name, bill.Sponsor.Party, bill.Sponsor.State,
		bill.Status, text)
}

func (s *Summarizer) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := s.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("summarize call failed: %w", err)
		}
	}

	return "", fmt.Errorf("summarize failed after %d attempts: %w", maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
