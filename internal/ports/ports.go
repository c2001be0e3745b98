package ports

import (
	"context"
	"errors"
	"time"

	"billwatch/internal/domain"
)

// ErrNotFound is returned by store lookups for absent bills.
var ErrNotFound = errors.New("bill not found")

// BillFeed discovers bill identifiers introduced "today" from the upstream
// source. An empty result is a valid transient answer, not an error.
type BillFeed interface {
	DiscoverToday(ctx context.Context, day time.Time) ([]string, error)
}

// BillData is the raw payload an Enricher returns for one bill.
type BillData struct {
	Title        string
	FullText     string
	Sponsor      domain.Sponsor
	Steps        []domain.TrackerStep
	IntroducedAt time.Time
}

// Enricher fetches full text, metadata, and tracker steps for a bill id.
type Enricher interface {
	Enrich(ctx context.Context, id string) (*BillData, error)
}

// Summarizer generates the structured summary fields for an enriched bill.
type Summarizer interface {
	Summarize(ctx context.Context, bill *domain.Bill) (*domain.Summary, error)
}

// PublishResult is the per-channel outcome of a publish attempt.
type PublishResult struct {
	URL string
}

// Publisher transmits a formatted post to one external channel. Channel
// failures are independent of each other.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, text string) (PublishResult, error)
}

// ReleaseFunc releases the row lock held by a claim.
type ReleaseFunc func()

// BillStore persists bill records and owns the locking primitives the
// orchestrator builds its exactly-once guarantee on.
type BillStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Bill, error)
	Insert(ctx context.Context, bill *domain.Bill) error
	UpdateFields(ctx context.Context, id string, fields map[string]any) error

	// ClaimOneUnpublished locks the oldest unpublished, non-problematic row
	// with skip-locked semantics. A nil bill means no row was claimable. The
	// returned store writes through the claim itself; all mutations of the
	// claimed row must use it, because writes from anywhere else wait on the
	// row lock. The release func must be called when processing ends.
	ClaimOneUnpublished(ctx context.Context) (*domain.Bill, BillStore, ReleaseFunc, error)

	// MarkPublishedIfNot flips the published flag under a row lock. It
	// returns false without writing when the flag was already set.
	MarkPublishedIfNot(ctx context.Context, id string, at time.Time) (bool, error)

	// Quarantine flags a bill problematic. The marked-at timestamp is sticky:
	// it is only written when not already set.
	Quarantine(ctx context.Context, id, reason string, at time.Time) error
	ClearQuarantine(ctx context.Context, id string) error
	MarkRecheckAttempted(ctx context.Context, id string) error

	// ListQuarantinedEligibleForRecheck returns problematic bills whose single
	// recovery attempt is unspent and whose quarantine is older than the
	// cutoff, longest-waiting first.
	ListQuarantinedEligibleForRecheck(ctx context.Context, olderThan time.Time) ([]domain.Bill, error)

	ListQuarantined(ctx context.Context) ([]domain.Bill, error)
	AnyPublishedSince(ctx context.Context, since time.Time) (bool, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Scheduler controls when runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
