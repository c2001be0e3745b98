// Package usecase implements the publication orchestrator: candidate
// discovery and partitioning, the lazy enrichment loop, quarantine recovery,
// and the publish-exactly-once sequencing.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"billwatch/internal/domain"
	"billwatch/internal/metrics"
	"billwatch/internal/ports"
	"billwatch/internal/validate"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomePublished means exactly one bill went out this run.
	OutcomePublished Outcome = "published"
	// OutcomeNoCandidates means every avenue was exhausted without a publish;
	// this is a normal zero-progress result, not an error.
	OutcomeNoCandidates Outcome = "no_candidates"
	// OutcomeWindowGuard means the run exited early because a bill was
	// already published inside the duplicate window.
	OutcomeWindowGuard Outcome = "window_guard"
	// OutcomeFailed means the run ended with an error.
	OutcomeFailed Outcome = "failed"
)

// Config carries the orchestrator tunables.
type Config struct {
	Cooldown            time.Duration
	DiscoveryAttempts   int
	DiscoveryRetryDelay time.Duration
	DuplicateWindow     time.Duration
	Thresholds          validate.Thresholds
}

// Options control a single run.
type Options struct {
	// DryRun executes the full state machine but suppresses the remote
	// publish and the publish-marker update, logging what would have happened.
	DryRun bool
	// WindowGuard makes the run exit immediately when any bill was published
	// inside the trailing duplicate window. The evening run sets it.
	WindowGuard bool
	// Day overrides the discovery day; zero means the clock's today.
	Day time.Time
}

// RunResult is what a finished run reports.
type RunResult struct {
	RunID   string
	Outcome Outcome
	BillID  string
	URLs    []string
	DryRun  bool
}

// Deps wires all driven adapters into the orchestrator.
type Deps struct {
	Feed       ports.BillFeed
	Store      ports.BillStore
	Enricher   ports.Enricher
	Summarizer ports.Summarizer
	Publishers []ports.Publisher
	Clock      ports.Clock
	Logger     *slog.Logger
}

// Orchestrator coordinates one publish run end to end.
type Orchestrator struct {
	feed       ports.BillFeed
	store      ports.BillStore
	enricher   ports.Enricher
	summarizer ports.Summarizer
	publishers []ports.Publisher
	clock      ports.Clock
	logger     *slog.Logger
	cfg        Config
}

// New constructs the orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.DiscoveryAttempts < 1 {
		cfg.DiscoveryAttempts = 1
	}
	return &Orchestrator{
		feed:       deps.Feed,
		store:      deps.Store,
		enricher:   deps.Enricher,
		summarizer: deps.Summarizer,
		publishers: deps.Publishers,
		clock:      deps.Clock,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

// buckets is the disjoint partition of the discovery feed.
type buckets struct {
	stored   []domain.Bill // known, unpublished, not problematic: fast path
	recovery []domain.Bill // known, problematic, single recheck unspent
	fresh    []string      // unknown, need full enrichment
}

func (b buckets) empty() bool {
	return len(b.stored) == 0 && len(b.recovery) == 0 && len(b.fresh) == 0
}

var errNoUsableCandidates = errors.New("feed yielded no usable candidates")

// Run executes one publish cycle. It ends with exactly one bill published,
// or a zero-progress result that is safe to retry on the next invocation.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (RunResult, error) {
	runID := uuid.NewString()
	log := o.logger.With("run_id", runID)
	now := o.clock.Now()

	result := RunResult{RunID: runID, Outcome: OutcomeNoCandidates, DryRun: opts.DryRun}

	if opts.WindowGuard {
		published, err := o.store.AnyPublishedSince(ctx, now.Add(-o.cfg.DuplicateWindow))
		if err != nil {
			result.Outcome = OutcomeFailed
			metrics.RecordRun(string(result.Outcome))
			return result, fmt.Errorf("duplicate window check: %w", err)
		}
		if published {
			log.Info("bill already published inside duplicate window, exiting")
			result.Outcome = OutcomeWindowGuard
			metrics.RecordRun(string(result.Outcome))
			return result, nil
		}
	}

	day := opts.Day
	if day.IsZero() {
		day = now
	}

	parts := o.discoverAndPartition(ctx, log, day)

	seen := map[string]struct{}{}
	sources := []candidateSource{
		&billSource{sname: "stored", kind: kindStored, bills: parts.stored},
		&billSource{sname: "infeed_recovery", kind: kindRecovery, bills: parts.recovery},
		&freshSource{ids: parts.fresh},
		&sweepSource{store: o.store, cutoff: now.Add(-o.cfg.Cooldown)},
		&claimSource{store: o.store},
	}

	for _, src := range sources {
		for {
			cand, err := src.next(ctx)
			if err != nil {
				log.Error("candidate source failed", "source", src.name(), "error", err)
				break
			}
			if cand == nil {
				break
			}
			if _, dup := seen[cand.id]; dup {
				if cand.release != nil {
					cand.release()
				}
				continue
			}
			seen[cand.id] = struct{}{}

			outcome, err := o.process(ctx, log, cand, opts)
			if cand.release != nil {
				cand.release()
			}
			if err != nil {
				result.Outcome = OutcomeFailed
				result.BillID = cand.id
				result.URLs = outcome.urls
				metrics.RecordRun(string(result.Outcome))
				return result, err
			}
			if outcome.published {
				log.Info("run published a bill", "bill", cand.id, "source", src.name())
				result.Outcome = OutcomePublished
				result.BillID = cand.id
				result.URLs = outcome.urls
				metrics.RecordRun(string(result.Outcome))
				if !opts.DryRun {
					metrics.RecordPublished()
				}
				return result, nil
			}
		}
	}

	log.Info("run finished without a publish")
	metrics.RecordRun(string(result.Outcome))
	return result, nil
}

// discoverAndPartition runs the bounded re-discovery loop and splits the feed
// into the three candidate buckets. Feed trouble is transient: the run falls
// through to the sweep and claim sources with empty buckets.
func (o *Orchestrator) discoverAndPartition(ctx context.Context, log *slog.Logger, day time.Time) buckets {
	var parts buckets

	attempt := 0
	op := func() error {
		attempt++
		ids, err := o.feed.DiscoverToday(ctx, day)
		if err != nil {
			return err
		}
		parts, err = o.partition(ctx, ids)
		if err != nil {
			return backoff.Permanent(err)
		}
		if parts.empty() {
			return errNoUsableCandidates
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(o.cfg.DiscoveryRetryDelay),
			uint64(o.cfg.DiscoveryAttempts-1),
		), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		log.Warn("discovery yielded nothing usable", "attempts", attempt, "error", err)
	}

	log.Info("discovery partitioned",
		"stored", len(parts.stored), "recovery", len(parts.recovery), "fresh", len(parts.fresh))
	return parts
}

// partition sorts feed ids into disjoint buckets with one store lookup each.
func (o *Orchestrator) partition(ctx context.Context, ids []string) (buckets, error) {
	var parts buckets
	for _, id := range ids {
		bill, err := o.store.GetByID(ctx, id)
		if errors.Is(err, ports.ErrNotFound) {
			parts.fresh = append(parts.fresh, id)
			continue
		}
		if err != nil {
			return buckets{}, fmt.Errorf("partition lookup %s: %w", id, err)
		}

		switch {
		case bill.Published:
			// Already published: discarded for this run.
		case !bill.Problematic:
			parts.stored = append(parts.stored, *bill)
		case bill.RecheckAttempted:
			// Permanently locked: only manual intervention clears it.
		default:
			parts.recovery = append(parts.recovery, *bill)
		}
	}
	return parts, nil
}

// publishOutcome reports what a single candidate attempt achieved.
type publishOutcome struct {
	published bool
	urls      []string
}

// process runs one candidate through validation, summarization, and the
// publish gate. A nil error with published=false means "skip to the next
// candidate"; an error ends the run.
func (o *Orchestrator) process(ctx context.Context, log *slog.Logger, cand *candidate, opts Options) (publishOutcome, error) {
	log = log.With("bill", cand.id, "candidate_kind", cand.kind.String())

	// A claimed candidate writes through its claim transaction; everything
	// else uses the shared store.
	store := cand.store
	if store == nil {
		store = o.store
	}

	switch cand.kind {
	case kindStored, kindClaimed:
		res := validate.Bill(cand.bill, o.cfg.Thresholds)
		if !res.Valid {
			o.quarantine(ctx, log, store, cand.id, res.Reason(), "revalidation")
			return publishOutcome{}, nil
		}
		return o.summarizeAndPublish(ctx, log, store, cand.bill, opts)

	case kindRecovery:
		recovered, ok := o.recoverBill(ctx, log, cand.bill)
		if !ok {
			return publishOutcome{}, nil
		}
		return o.summarizeAndPublish(ctx, log, store, recovered, opts)

	case kindFresh:
		return o.processFresh(ctx, log, cand.id, opts)
	}

	return publishOutcome{}, fmt.Errorf("unhandled candidate kind %d", cand.kind)
}

// processFresh enriches an unknown id, validates it, and persists the result.
// A failed enrichment only skips the candidate; a failed validation creates a
// quarantined placeholder so the bill is not lost.
func (o *Orchestrator) processFresh(ctx context.Context, log *slog.Logger, id string, opts Options) (publishOutcome, error) {
	billType, number, congress, err := domain.ParseID(id)
	if err != nil {
		log.Warn("skipping malformed candidate id", "error", err)
		return publishOutcome{}, nil
	}

	data, err := o.enricher.Enrich(ctx, id)
	if err != nil || data == nil {
		// A single enrichment failure is not grounds for quarantine.
		log.Warn("enrichment failed, skipping candidate", "error", err)
		return publishOutcome{}, nil
	}

	status, code := domain.DeriveStatus(data.Steps)
	bill := &domain.Bill{
		ID:           id,
		Type:         billType,
		Number:       number,
		Congress:     congress,
		Title:        data.Title,
		FullText:     data.FullText,
		Status:       status,
		StatusCode:   code,
		Sponsor:      data.Sponsor,
		IntroducedAt: data.IntroducedAt,
	}

	res := validate.Bill(bill, o.cfg.Thresholds)
	if !res.Valid {
		// Persist a minimal placeholder, immediately quarantined, so the
		// sweep can retry it after the cooldown instead of losing it.
		now := o.clock.Now()
		bill.Problematic = true
		bill.ProblematicReason = res.Reason()
		bill.ProblematicMarkedAt = &now
		if err := o.store.Insert(ctx, bill); err != nil {
			log.Error("persist quarantined placeholder failed", "error", err)
		} else {
			log.Info("bill quarantined at enrichment gate", "reason", res.Reason())
			metrics.RecordQuarantined("enrichment")
		}
		return publishOutcome{}, nil
	}

	if err := o.store.Insert(ctx, bill); err != nil {
		return publishOutcome{}, fmt.Errorf("persist bill %s: %w", id, err)
	}

	return o.summarizeAndPublish(ctx, log, o.store, bill, opts)
}

// summarizeAndPublish runs the expensive tail of the pipeline: summary,
// final validation gate, remote publish, and the idempotent publish marker.
// All row mutations go through the passed store so a claimed candidate stays
// inside its claim transaction.
func (o *Orchestrator) summarizeAndPublish(ctx context.Context, log *slog.Logger, store ports.BillStore, bill *domain.Bill, opts Options) (publishOutcome, error) {
	summary, err := o.summarizer.Summarize(ctx, bill)
	if err != nil {
		log.Warn("summarization failed, skipping candidate", "error", err)
		return publishOutcome{}, nil
	}

	if ph := validate.FindPlaceholder(summary.ShortText); ph != "" {
		log.Info("summary contained placeholder, retrying once", "placeholder", ph)
		retry, rerr := o.summarizer.Summarize(ctx, bill)
		if rerr == nil && retry != nil {
			summary = retry
		}
	}
	bill.Summary = summary

	tags := summary.Tags
	if tags == nil {
		tags = []string{}
	}
	err = store.UpdateFields(ctx, bill.ID, map[string]any{
		"summary_overview": summary.Overview,
		"summary_detailed": summary.Detailed,
		"summary_short":    summary.ShortText,
		"tags":             tags,
		"impact_score":     summary.Score,
	})
	if err != nil {
		return publishOutcome{}, fmt.Errorf("persist summary %s: %w", bill.ID, err)
	}

	// Final gate: independently revalidate at the moment of publication,
	// regardless of which path produced the record.
	res := validate.Bill(bill, o.cfg.Thresholds)
	if !res.Valid {
		log.Error("final gate rejected a bill that passed earlier validation", "reasons", res.Reason())
		o.quarantine(ctx, log, store, bill.ID, res.Reason(), "final_gate")
		return publishOutcome{}, nil
	}

	text := FormatPost(bill)

	if opts.DryRun {
		log.Info("dry run: would publish", "channels", len(o.publishers), "text", text)
		return publishOutcome{published: true}, nil
	}

	var urls []string
	succeeded := 0
	for _, pub := range o.publishers {
		pres, perr := pub.Publish(ctx, text)
		if perr != nil {
			log.Warn("channel publish failed", "channel", pub.Name(), "error", perr)
			continue
		}
		succeeded++
		if pres.URL != "" {
			urls = append(urls, pres.URL)
		}
	}
	if succeeded == 0 {
		// Channel-side failure: no local state change, the bill stays
		// eligible for the next run.
		return publishOutcome{}, fmt.Errorf("publish %s: all %d channels failed", bill.ID, len(o.publishers))
	}

	if _, err := store.MarkPublishedIfNot(ctx, bill.ID, o.clock.Now()); err != nil {
		// Remote and local state have diverged. Quarantine for human
		// reconciliation and consume the recheck so no automatic path can
		// ever risk a duplicate remote publish.
		reason := "publish marker update failed after remote publish: " + err.Error()
		log.Error("publish marker update failed after remote publish")
		o.quarantine(ctx, log, store, bill.ID, reason, "post_publish")
		if qerr := store.MarkRecheckAttempted(ctx, bill.ID); qerr != nil {
			log.Error("lock out reconciliation bill failed", "error", qerr)
		}
		return publishOutcome{published: true, urls: urls},
			fmt.Errorf("mark published %s: %w", bill.ID, err)
	}

	return publishOutcome{published: true, urls: urls}, nil
}

func (o *Orchestrator) quarantine(ctx context.Context, log *slog.Logger, store ports.BillStore, id, reason, stage string) {
	if err := store.Quarantine(ctx, id, reason, o.clock.Now()); err != nil {
		log.Error("quarantine write failed", "error", err)
		return
	}
	log.Info("bill quarantined", "stage", stage, "reason", reason)
	metrics.RecordQuarantined(stage)
}

// FormatPost renders the outbound channel text for a validated bill.
func FormatPost(bill *domain.Bill) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d: %s\n\n", strings.ToUpper(bill.Type), bill.Number, bill.Title)
	if bill.HasSummary() {
		b.WriteString(bill.Summary.ShortText)
		b.WriteString("\n")
		if bill.Summary.Score > 0 {
			fmt.Fprintf(&b, "\nImpact: %.1f/10", bill.Summary.Score)
		}
		for _, tag := range bill.Summary.Tags {
			fmt.Fprintf(&b, " #%s", strings.ReplaceAll(tag, " ", ""))
		}
	}
	if bill.Status != "" {
		fmt.Fprintf(&b, "\nStatus: %s", bill.Status)
	}
	return strings.TrimSpace(b.String())
}
