package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"

	"billwatch/internal/domain"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare json", `{"overview": "x"}`, `{"overview": "x"}`},
		{"json fence", "```json\n{\"overview\": \"x\"}\n```", `{"overview": "x"}`},
		{"plain fence", "```\n{\"overview\": \"x\"}\n```", `{"overview": "x"}`},
		{"surrounding whitespace", "  \n{\"overview\": \"x\"}\n  ", `{"overview": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.raw))
		})
	}
}

func TestBuildPromptTruncatesFullText(t *testing.T) {
	bill := &domain.Bill{
		ID:       "hr1-119",
		Type:     "hr",
		Title:    "Long Bill Act",
		FullText: strings.Repeat("a", maxPromptChars+5000),
		Sponsor:  domain.Sponsor{Name: "Rep. Doe", Party: "D", State: "OH"},
		Status:   "Introduced",
	}

	prompt := buildPrompt(bill)
	assert.Less(t, len(prompt), maxPromptChars+500)
	assert.Contains(t, prompt, "Bill HR (hr1-119)")
	assert.Contains(t, prompt, "Rep. Doe (D-OH)")
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(context.DeadlineExceeded))

	assert.True(t, isRetryable(&anthropic.Error{StatusCode: 429}))
	assert.True(t, isRetryable(&anthropic.Error{StatusCode: 500}))
	assert.True(t, isRetryable(&anthropic.Error{StatusCode: 503}))
	assert.False(t, isRetryable(&anthropic.Error{StatusCode: 400}))
	assert.False(t, isRetryable(&anthropic.Error{StatusCode: 401}))
}
