package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"billwatch/internal/domain"
	"billwatch/internal/ports"
)

// fakeClock is a frozen clock for deterministic runs.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// memStore is an in-memory BillStore mirroring the locking semantics of the
// Postgres implementation, with write counters for assertions. Writes to a
// claimed row error unless they come through the claim's own store handle,
// the way a second connection would wait on the Postgres row lock.
type memStore struct {
	mu      sync.Mutex
	bills   map[string]*domain.Bill
	claimed map[string]bool

	publishWrites     int
	failMarkPublished bool
}

var _ ports.BillStore = (*memStore)(nil)

// claimedStore is the write handle a claim returns; its writes bypass the
// simulated row lock for the claimed bill only.
type claimedStore struct {
	*memStore
	billID string
}

var _ ports.BillStore = (*claimedStore)(nil)

func (c *claimedStore) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	return c.memStore.updateFields(id, fields, c.billID)
}

func (c *claimedStore) MarkPublishedIfNot(_ context.Context, id string, at time.Time) (bool, error) {
	return c.memStore.markPublishedIfNot(id, at, c.billID)
}

func (c *claimedStore) Quarantine(_ context.Context, id, reason string, at time.Time) error {
	return c.memStore.quarantine(id, reason, at, c.billID)
}

func (c *claimedStore) ClearQuarantine(_ context.Context, id string) error {
	return c.memStore.clearQuarantine(id, c.billID)
}

func (c *claimedStore) MarkRecheckAttempted(_ context.Context, id string) error {
	return c.memStore.markRecheckAttempted(id, c.billID)
}

func newMemStore() *memStore {
	return &memStore{
		bills:   map[string]*domain.Bill{},
		claimed: map[string]bool{},
	}
}

func (s *memStore) put(bill domain.Bill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := bill
	s.bills[bill.ID] = &copied
}

func (s *memStore) get(id string) domain.Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.bills[id]
}

func (s *memStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bills[id]
	return ok, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bill, ok := s.bills[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	copied := *bill
	return &copied, nil
}

func (s *memStore) Insert(_ context.Context, bill *domain.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[bill.ID]; ok {
		return fmt.Errorf("duplicate bill %s", bill.ID)
	}
	copied := *bill
	s.bills[bill.ID] = &copied
	return nil
}

// rowLocked simulates the Postgres row lock: a write reaching a claimed row
// from outside the claim would block, so the fake turns it into an error.
// Callers hold s.mu.
func (s *memStore) rowLocked(id, owner string) error {
	if s.claimed[id] && id != owner {
		return fmt.Errorf("bill %s: write blocked by open claim", id)
	}
	return nil
}

func (s *memStore) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	return s.updateFields(id, fields, "")
}

func (s *memStore) updateFields(id string, fields map[string]any, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rowLocked(id, owner); err != nil {
		return err
	}
	bill, ok := s.bills[id]
	if !ok {
		return ports.ErrNotFound
	}
	for name, value := range fields {
		switch name {
		case "title":
			bill.Title = value.(string)
		case "full_text":
			bill.FullText = value.(string)
		case "status":
			bill.Status = value.(string)
		case "status_code":
			bill.StatusCode = value.(string)
		case "sponsor_name":
			bill.Sponsor.Name = value.(string)
		case "sponsor_party":
			bill.Sponsor.Party = value.(string)
		case "sponsor_state":
			bill.Sponsor.State = value.(string)
		case "recheck_attempted":
			bill.RecheckAttempted = value.(bool)
		case "summary_overview", "summary_detailed", "summary_short", "tags", "impact_score":
			if bill.Summary == nil {
				bill.Summary = &domain.Summary{}
			}
			switch name {
			case "summary_overview":
				bill.Summary.Overview = value.(string)
			case "summary_detailed":
				bill.Summary.Detailed = value.(string)
			case "summary_short":
				bill.Summary.ShortText = value.(string)
			case "tags":
				bill.Summary.Tags = value.([]string)
			case "impact_score":
				bill.Summary.Score = value.(float64)
			}
		default:
			return fmt.Errorf("unhandled field %s", name)
		}
	}
	return nil
}

func (s *memStore) ClaimOneUnpublished(_ context.Context) (*domain.Bill, ports.BillStore, ports.ReleaseFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.Bill
	for _, bill := range s.bills {
		if !bill.Published && !bill.Problematic && !s.claimed[bill.ID] {
			eligible = append(eligible, bill)
		}
	}
	if len(eligible) == 0 {
		return nil, nil, nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].IntroducedAt.Before(eligible[j].IntroducedAt)
	})

	picked := eligible[0]
	s.claimed[picked.ID] = true
	copied := *picked

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.claimed, picked.ID)
	}
	return &copied, &claimedStore{memStore: s, billID: picked.ID}, release, nil
}

func (s *memStore) MarkPublishedIfNot(_ context.Context, id string, at time.Time) (bool, error) {
	return s.markPublishedIfNot(id, at, "")
}

func (s *memStore) markPublishedIfNot(id string, at time.Time, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failMarkPublished {
		return false, errors.New("simulated marker failure")
	}
	if err := s.rowLocked(id, owner); err != nil {
		return false, err
	}

	bill, ok := s.bills[id]
	if !ok {
		return false, ports.ErrNotFound
	}
	if bill.Published {
		return false, nil
	}
	bill.Published = true
	bill.PublishedAt = &at
	s.publishWrites++
	return true, nil
}

func (s *memStore) Quarantine(_ context.Context, id, reason string, at time.Time) error {
	return s.quarantine(id, reason, at, "")
}

func (s *memStore) quarantine(id, reason string, at time.Time, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rowLocked(id, owner); err != nil {
		return err
	}
	bill, ok := s.bills[id]
	if !ok {
		return ports.ErrNotFound
	}
	bill.Problematic = true
	bill.ProblematicReason = reason
	if bill.ProblematicMarkedAt == nil {
		marked := at
		bill.ProblematicMarkedAt = &marked
	}
	return nil
}

func (s *memStore) ClearQuarantine(_ context.Context, id string) error {
	return s.clearQuarantine(id, "")
}

func (s *memStore) clearQuarantine(id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rowLocked(id, owner); err != nil {
		return err
	}
	bill, ok := s.bills[id]
	if !ok {
		return ports.ErrNotFound
	}
	bill.Problematic = false
	bill.ProblematicReason = ""
	bill.ProblematicMarkedAt = nil
	return nil
}

func (s *memStore) MarkRecheckAttempted(_ context.Context, id string) error {
	return s.markRecheckAttempted(id, "")
}

func (s *memStore) markRecheckAttempted(id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rowLocked(id, owner); err != nil {
		return err
	}
	bill, ok := s.bills[id]
	if !ok {
		return ports.ErrNotFound
	}
	bill.RecheckAttempted = true
	return nil
}

func (s *memStore) ListQuarantinedEligibleForRecheck(_ context.Context, olderThan time.Time) ([]domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Bill
	for _, bill := range s.bills {
		if bill.Problematic && !bill.RecheckAttempted &&
			bill.ProblematicMarkedAt != nil && !bill.ProblematicMarkedAt.After(olderThan) {
			out = append(out, *bill)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProblematicMarkedAt.Before(*out[j].ProblematicMarkedAt)
	})
	return out, nil
}

func (s *memStore) ListQuarantined(_ context.Context) ([]domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Bill
	for _, bill := range s.bills {
		if bill.Problematic {
			out = append(out, *bill)
		}
	}
	return out, nil
}

func (s *memStore) AnyPublishedSince(_ context.Context, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bill := range s.bills {
		if bill.Published && bill.PublishedAt != nil && !bill.PublishedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// fakeFeed replays scripted discovery responses.
type fakeFeed struct {
	mu        sync.Mutex
	responses [][]string
	err       error
	calls     int
}

func (f *fakeFeed) DiscoverToday(context.Context, time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

// fakeEnricher serves canned payloads per bill id.
type fakeEnricher struct {
	mu    sync.Mutex
	data  map[string]*ports.BillData
	errs  map[string]error
	calls []string
}

func (f *fakeEnricher) Enrich(_ context.Context, id string) (*ports.BillData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if data, ok := f.data[id]; ok {
		copied := *data
		return &copied, nil
	}
	return nil, fmt.Errorf("no upstream data for %s", id)
}

// fakeSummarizer replays a queue of summaries (or errors).
type fakeSummarizer struct {
	mu      sync.Mutex
	queue   []*domain.Summary
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(context.Context, *domain.Bill) (*domain.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queue) == 0 {
		return goodSummary(), nil
	}
	next := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	copied := *next
	return &copied, nil
}

// fakePublisher records publish calls.
type fakePublisher struct {
	mu    sync.Mutex
	pname string
	url   string
	err   error
	calls []string
}

func (f *fakePublisher) Name() string { return f.pname }

func (f *fakePublisher) Publish(_ context.Context, text string) (ports.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.err != nil {
		return ports.PublishResult{}, f.err
	}
	return ports.PublishResult{URL: f.url}, nil
}

func goodSummary() *domain.Summary {
	return &domain.Summary{
		Overview:  "A bill that renames a post office.",
		Detailed:  "Section 1 renames the facility. Section 2 handles references.",
		ShortText: "Congress moves to rename a post office in Ohio.",
		Tags:      []string{"postal"},
		Score:     2.5,
	}
}

func goodBillData(title string) *ports.BillData {
	return &ports.BillData{
		Title:    title,
		FullText: makeText(500),
		Sponsor:  domain.Sponsor{Name: "Rep. Doe", Party: "D", State: "OH"},
		Steps: []domain.TrackerStep{
			{Name: "Introduced", Selected: true},
			{Name: "Passed House"},
		},
		IntroducedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func makeText(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 'a' + byte(i%26)
	}
	return string(buf)
}
