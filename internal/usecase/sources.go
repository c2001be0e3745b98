package usecase

import (
	"context"
	"time"

	"billwatch/internal/domain"
	"billwatch/internal/ports"
)

type candidateKind int

const (
	kindStored candidateKind = iota
	kindRecovery
	kindFresh
	kindClaimed
)

func (k candidateKind) String() string {
	switch k {
	case kindStored:
		return "stored"
	case kindRecovery:
		return "recovery"
	case kindFresh:
		return "fresh"
	case kindClaimed:
		return "claimed"
	}
	return "unknown"
}

// candidate is one bill under consideration in the current run. A claimed
// candidate carries the store handle bound to its claim transaction; writes
// to the claimed row must use it.
type candidate struct {
	id      string
	kind    candidateKind
	bill    *domain.Bill
	store   ports.BillStore
	release ports.ReleaseFunc
}

// candidateSource yields candidates lazily. The run iterates sources in
// fixed priority order and short-circuits on the first published bill, so a
// source must not do expensive work before its first next call.
type candidateSource interface {
	name() string
	next(ctx context.Context) (*candidate, error)
}

// billSource yields pre-partitioned bills from the discovery phase.
type billSource struct {
	sname string
	kind  candidateKind
	bills []domain.Bill
	pos   int
}

func (s *billSource) name() string { return s.sname }

func (s *billSource) next(context.Context) (*candidate, error) {
	if s.pos >= len(s.bills) {
		return nil, nil
	}
	bill := s.bills[s.pos]
	s.pos++
	return &candidate{id: bill.ID, kind: s.kind, bill: &bill}, nil
}

// freshSource yields unknown identifiers that still need enrichment.
type freshSource struct {
	ids []string
	pos int
}

func (s *freshSource) name() string { return "fresh" }

func (s *freshSource) next(context.Context) (*candidate, error) {
	if s.pos >= len(s.ids) {
		return nil, nil
	}
	id := s.ids[s.pos]
	s.pos++
	return &candidate{id: id, kind: kindFresh}, nil
}

// sweepSource queries the quarantine ledger for bills past their cooldown.
// The query runs on the first next call, after all feed-based avenues were
// exhausted, so in-feed recoveries of this run are already excluded by their
// consumed recheck flag.
type sweepSource struct {
	store    ports.BillStore
	cutoff   time.Time
	loaded   bool
	bills    []domain.Bill
	pos      int
}

func (s *sweepSource) name() string { return "sweep" }

func (s *sweepSource) next(ctx context.Context) (*candidate, error) {
	if !s.loaded {
		bills, err := s.store.ListQuarantinedEligibleForRecheck(ctx, s.cutoff)
		if err != nil {
			return nil, err
		}
		s.bills = bills
		s.loaded = true
	}
	if s.pos >= len(s.bills) {
		return nil, nil
	}
	bill := s.bills[s.pos]
	s.pos++
	return &candidate{id: bill.ID, kind: kindRecovery, bill: &bill}, nil
}

// claimSource locks at most one backlog row as the last resort of a run.
type claimSource struct {
	store ports.BillStore
	done  bool
}

func (s *claimSource) name() string { return "claim" }

func (s *claimSource) next(ctx context.Context) (*candidate, error) {
	if s.done {
		return nil, nil
	}
	s.done = true

	bill, claimed, release, err := s.store.ClaimOneUnpublished(ctx)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, nil
	}
	return &candidate{id: bill.ID, kind: kindClaimed, bill: bill, store: claimed, release: release}, nil
}
