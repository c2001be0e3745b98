package domain

import (
	"fmt"
	"strings"
	"time"
)

// LifecycleState is the derived state of a bill inside the publish pipeline.
type LifecycleState string

const (
	StateNormal            LifecycleState = "normal"
	StateProblematic       LifecycleState = "problematic"
	StateRecheckInProgress LifecycleState = "recheck_in_progress"
	StatePermanentlyLocked LifecycleState = "permanently_locked"
)

// Sponsor identifies the member who introduced a bill.
type Sponsor struct {
	Name  string
	Party string
	State string
}

// Summary holds the AI-generated fields attached to a bill.
type Summary struct {
	Overview  string
	Detailed  string
	ShortText string
	Tags      []string
	Score     float64
}

// TrackerStep is a single entry in the upstream status tracker.
type TrackerStep struct {
	Name     string
	Selected bool
}

// Bill is the central entity of the pipeline. Content fields are filled by
// enrichment and summarization; lifecycle flags are written only by the
// orchestrator.
type Bill struct {
	ID       string
	Type     string
	Number   int
	Congress int

	Title      string
	FullText   string
	Status     string
	StatusCode string
	Sponsor    Sponsor
	Summary    *Summary

	Published   bool
	PublishedAt *time.Time

	Problematic         bool
	ProblematicReason   string
	ProblematicMarkedAt *time.Time
	RecheckAttempted    bool

	IntroducedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// State derives the lifecycle state from the persisted flags. The
// RecheckInProgress state is transient and only ever observed by the recovery
// code path itself, never from stored flags.
func (b *Bill) State() LifecycleState {
	switch {
	case b.Problematic && b.RecheckAttempted:
		return StatePermanentlyLocked
	case b.Problematic:
		return StateProblematic
	default:
		return StateNormal
	}
}

// HasSummary reports whether summarization has produced output for this bill.
func (b *Bill) HasSummary() bool {
	return b.Summary != nil && b.Summary.ShortText != ""
}

// NormalizeID builds the stable bill key, e.g. ("HR", 1, 119) -> "hr1-119".
func NormalizeID(billType string, number, congress int) string {
	return fmt.Sprintf("%s%d-%d", strings.ToLower(strings.TrimSpace(billType)), number, congress)
}

// ParseID splits a normalized id back into its parts.
func ParseID(id string) (billType string, number, congress int, err error) {
	dash := strings.LastIndex(id, "-")
	if dash <= 0 || dash == len(id)-1 {
		return "", 0, 0, fmt.Errorf("malformed bill id %q", id)
	}
	if _, err = fmt.Sscanf(id[dash+1:], "%d", &congress); err != nil {
		return "", 0, 0, fmt.Errorf("malformed congress in bill id %q", id)
	}
	head := id[:dash]
	split := strings.IndexFunc(head, func(r rune) bool { return r >= '0' && r <= '9' })
	if split <= 0 {
		return "", 0, 0, fmt.Errorf("malformed type/number in bill id %q", id)
	}
	if _, err = fmt.Sscanf(head[split:], "%d", &number); err != nil {
		return "", 0, 0, fmt.Errorf("malformed number in bill id %q", id)
	}
	return head[:split], number, congress, nil
}
