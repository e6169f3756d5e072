package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/budget"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/ledger"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// DefaultBatchSize is how many unconfirmed clicks one sweep loads
const DefaultBatchSize = 500

// ReconcileStore lists unconfirmed clicks and records how they settled
type ReconcileStore interface {
	ListUnreconciled(ctx context.Context, limit int) ([]models.AuctionEvent, error)
	RecordReconciliation(ctx context.Context, eventID string, status models.ChargeStatus) error
	IncrementStats(ctx context.Context, bidID string, delta models.StatsDelta) error
}

// ReconcileSummary counts the outcomes of one sweep
type ReconcileSummary struct {
	Confirmed  int
	WrittenOff int
	Pending    int
}

// Reconciler settles clicks whose charge outcome was unknown. Each sweep
// retries the charge once with the event id as the idempotency key, so a
// charge that did land earlier is reported as a duplicate and not applied
// again.
type Reconciler struct {
	charger   Charger
	store     ReconcileStore
	calendar  ledger.Calendar
	batchSize int
	recorder  Recorder
	logger    log.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(charger Charger, store ReconcileStore, calendar ledger.Calendar, batchSize int, recorder Recorder, logger log.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Reconciler{
		charger:   charger,
		store:     store,
		calendar:  calendar,
		batchSize: batchSize,
		recorder:  recorder,
		logger:    log.With(logger, "component", "reconciler"),
		now:       time.Now,
	}
}

// Run performs one sweep. A ledger outage stops the sweep and leaves the
// remaining clicks for the next one.
func (r *Reconciler) Run(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary

	pending, err := r.store.ListUnreconciled(ctx, r.batchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to list unconfirmed clicks: %w", err)
	}

	today := r.calendar.DayKey(r.now())
	for idx, e := range pending {
		if err := ctx.Err(); err != nil {
			summary.Pending += len(pending) - idx
			return summary, err
		}

		status, err := r.settle(ctx, e, today)
		if err != nil {
			if budget.IsUnavailable(err) {
				summary.Pending += len(pending) - idx
				level.Warn(r.logger).Log("msg", "ledger unavailable, sweep stopped", "pending", summary.Pending, "err", err)
				return summary, nil
			}
			return summary, err
		}

		if err := r.store.RecordReconciliation(ctx, e.ID, status); err != nil {
			return summary, fmt.Errorf("failed to record reconciliation for %s: %w", e.ID, err)
		}
		r.recorder.RecordReconciliation(string(status))

		switch status {
		case models.ChargeConfirmed:
			summary.Confirmed++
		default:
			summary.WrittenOff++
		}
	}

	if len(pending) > 0 {
		level.Info(r.logger).Log("msg", "reconciliation sweep", "confirmed", summary.Confirmed, "written_off", summary.WrittenOff)
	}
	return summary, nil
}

// settle decides the final status of one unconfirmed click. Clicks from an
// earlier budget day are written off: their day's cap can no longer be
// enforced.
func (r *Reconciler) settle(ctx context.Context, e models.AuctionEvent, today string) (models.ChargeStatus, error) {
	logger := log.With(r.logger, "event_id", e.ID, "campaign_id", e.CampaignID, "amount", e.Price.String())

	if r.calendar.DayKey(e.OccurredAt) != today {
		level.Info(logger).Log("msg", "click written off", "reason", "day_closed")
		return models.ChargeWrittenOff, nil
	}

	res, err := r.charger.Charge(ctx, budget.ChargeRequest{
		CampaignID:     e.CampaignID,
		Amount:         e.Price,
		IdempotencyKey: e.ID,
	})
	switch {
	case err != nil && errors.Is(err, models.ErrNotFound):
		level.Info(logger).Log("msg", "click written off", "reason", "campaign_gone")
		return models.ChargeWrittenOff, nil
	case err != nil && budget.IsUnavailable(err):
		return "", err
	case err != nil:
		level.Error(logger).Log("msg", "click written off", "reason", "charge_error", "err", err)
		return models.ChargeWrittenOff, nil
	case !res.OK:
		level.Info(logger).Log("msg", "click written off", "reason", res.Reason)
		return models.ChargeWrittenOff, nil
	}

	// the click was counted when it was recorded, only spend is owed
	if err := r.store.IncrementStats(ctx, e.BidID, models.StatsDelta{Spend: e.Price}); err != nil {
		level.Error(logger).Log("msg", "reconciled spend not counted", "err", err)
	}
	level.Info(logger).Log("msg", "click confirmed", "duplicate", res.Duplicate)
	return models.ChargeConfirmed, nil
}
