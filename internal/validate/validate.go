// Package validate holds the pure content checks a bill must pass before it
// is persisted as a candidate and again immediately before publication.
package validate

import (
	"fmt"
	"strings"

	"billwatch/internal/domain"
)

const (
	// MinFullTextChars is the minimum full-text length a bill needs.
	MinFullTextChars = 100
	// MinShortTextChars is the minimum length of the short post text once a
	// summary exists.
	MinShortTextChars = 20
)

// ForbiddenPlaceholders are substrings that mark a summary as placeholder
// output rather than real content.
var ForbiddenPlaceholders = []string{
	"no summary available",
	"coming soon",
	"[placeholder]",
	"unable to summarize",
}

// Result carries the validation verdict with every failing reason.
type Result struct {
	Valid   bool
	Reasons []string
}

// Reason concatenates all failing reasons into the string persisted as the
// quarantine reason.
func (r Result) Reason() string {
	return strings.Join(r.Reasons, "; ")
}

// Thresholds makes the check limits injectable; zero values fall back to the
// package defaults.
type Thresholds struct {
	MinFullTextChars  int
	MinShortTextChars int
}

func (t Thresholds) fullText() int {
	if t.MinFullTextChars > 0 {
		return t.MinFullTextChars
	}
	return MinFullTextChars
}

func (t Thresholds) shortText() int {
	if t.MinShortTextChars > 0 {
		return t.MinShortTextChars
	}
	return MinShortTextChars
}

// Bill checks required-field completeness and minimum content thresholds.
// All checks run; every failing reason is reported.
func Bill(bill *domain.Bill, t Thresholds) Result {
	var reasons []string

	if strings.TrimSpace(bill.Title) == "" {
		reasons = append(reasons, "title is empty")
	}

	if n := len(bill.FullText); n <= t.fullText() {
		reasons = append(reasons, fmt.Sprintf("full text too short (%d chars, need more than %d)", n, t.fullText()))
	}

	if bill.StatusCode == domain.StatusCodeProblematic {
		reasons = append(reasons, "status could not be derived from tracker")
	}

	if bill.HasSummary() {
		short := bill.Summary.ShortText
		if len(short) <= t.shortText() {
			reasons = append(reasons, fmt.Sprintf("short post text too short (%d chars, need more than %d)", len(short), t.shortText()))
		}
		if ph := FindPlaceholder(short); ph != "" {
			reasons = append(reasons, fmt.Sprintf("short post text contains placeholder %q", ph))
		}
	}

	return Result{Valid: len(reasons) == 0, Reasons: reasons}
}

// FindPlaceholder returns the first forbidden placeholder found in text, or
// an empty string.
func FindPlaceholder(text string) string {
	lowered := strings.ToLower(text)
	for _, ph := range ForbiddenPlaceholders {
		if strings.Contains(lowered, ph) {
			return ph
		}
	}
	return ""
}
