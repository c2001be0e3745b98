package usecase

import (
	"context"
	"log/slog"

	"billwatch/internal/domain"
	"billwatch/internal/metrics"
	"billwatch/internal/validate"
)

// recoverBill attempts the single automatic recovery of a quarantined bill,
// whether it reappeared in today's feed or was picked up by the cooldown
// sweep. The recheck flag is consumed before any recovery logic runs, so an
// exception mid-recovery still spends the one attempt.
func (o *Orchestrator) recoverBill(ctx context.Context, log *slog.Logger, bill *domain.Bill) (*domain.Bill, bool) {
	if bill.RecheckAttempted {
		// Permanently locked; sources should never hand these in.
		log.Warn("refusing recovery of a locked bill")
		return nil, false
	}

	if err := o.store.MarkRecheckAttempted(ctx, bill.ID); err != nil {
		log.Error("consume recheck attempt failed", "error", err)
		return nil, false
	}
	bill.RecheckAttempted = true
	log.Info("recheck started", "state", domain.StateRecheckInProgress)

	data, err := o.enricher.Enrich(ctx, bill.ID)
	if err != nil || data == nil {
		log.Warn("recheck enrichment failed, bill permanently locked", "error", err)
		metrics.RecordLocked()
		return nil, false
	}

	refreshed := *bill
	refreshed.Title = data.Title
	refreshed.FullText = data.FullText
	refreshed.Sponsor = data.Sponsor
	refreshed.Status, refreshed.StatusCode = domain.DeriveStatus(data.Steps)
	// Any old summary was produced from the broken data; regenerate it.
	refreshed.Summary = nil

	res := validate.Bill(&refreshed, o.cfg.Thresholds)
	if !res.Valid {
		if qerr := o.store.Quarantine(ctx, bill.ID, res.Reason(), o.clock.Now()); qerr != nil {
			log.Error("requarantine failed", "error", qerr)
		}
		log.Info("recheck still invalid, bill permanently locked", "reasons", res.Reason())
		metrics.RecordLocked()
		return nil, false
	}

	err = o.store.UpdateFields(ctx, bill.ID, map[string]any{
		"title":         refreshed.Title,
		"full_text":     refreshed.FullText,
		"status":        refreshed.Status,
		"status_code":   refreshed.StatusCode,
		"sponsor_name":  refreshed.Sponsor.Name,
		"sponsor_party": refreshed.Sponsor.Party,
		"sponsor_state": refreshed.Sponsor.State,
	})
	if err != nil {
		log.Error("persist recovered fields failed", "error", err)
		return nil, false
	}

	if err := o.store.ClearQuarantine(ctx, bill.ID); err != nil {
		log.Error("clear quarantine failed", "error", err)
		return nil, false
	}
	refreshed.Problematic = false
	refreshed.ProblematicReason = ""
	refreshed.ProblematicMarkedAt = nil

	log.Info("bill recovered from quarantine")
	metrics.RecordRecovered()
	return &refreshed, true
}
