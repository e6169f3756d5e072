// Package budget applies daily caps, threshold alerts and auto-pause on top
// of the ledger
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/shopspring/decimal"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/ledger"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// ReasonExhausted is returned when a charge would exceed the daily budget
const ReasonExhausted = "exhausted"

// CampaignSource resolves the campaign a charge is made against
type CampaignSource interface {
	Campaign(ctx context.Context, id string) (models.Campaign, error)
}

// StatusStore is the durable campaign record
type StatusStore interface {
	SetCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, reason models.PauseReason) error
	ResumeBudgetPaused(ctx context.Context) ([]string, error)
}

// LiveView is the in-memory view auctions read, updated ahead of the store
type LiveView interface {
	PauseCampaign(id string, reason models.PauseReason)
	ResumeCampaign(id string)
}

// Recorder receives budget metrics
type Recorder interface {
	RecordCharge(outcome string)
	RecordAlert(threshold int)
	RecordAutoPause()
	RecordLedgerError(operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCharge(string)      {}
func (nopRecorder) RecordAlert(int)          {}
func (nopRecorder) RecordAutoPause()         {}
func (nopRecorder) RecordLedgerError(string) {}

// ChargeRequest is one click charge
type ChargeRequest struct {
	CampaignID     string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// ChargeResult reports the spend after a charge. A replayed idempotency key
// is OK with Duplicate set and nothing added.
type ChargeResult struct {
	OK        bool
	NewSpent  decimal.Decimal
	Reason    string
	Duplicate bool
}

// Manager wraps the ledger with the campaign's business rules
type Manager struct {
	ledger    ledger.Ledger
	campaigns CampaignSource
	store     StatusStore
	view      LiveView
	notifier  Notifier
	recorder  Recorder
	calendar  ledger.Calendar
	minCharge int64
	logger    log.Logger
	now       func() time.Time
}

// Config holds the manager's collaborators. View, Notifier and Recorder are
// optional.
type Config struct {
	Ledger    ledger.Ledger
	Campaigns CampaignSource
	Store     StatusStore
	View      LiveView
	Notifier  Notifier
	Recorder  Recorder
	Calendar  ledger.Calendar
	MinCharge decimal.Decimal
	Logger    log.Logger
}

// NewManager creates a budget manager
func NewManager(cfg Config) *Manager {
	m := &Manager{
		ledger:    cfg.Ledger,
		campaigns: cfg.Campaigns,
		store:     cfg.Store,
		view:      cfg.View,
		notifier:  cfg.Notifier,
		recorder:  cfg.Recorder,
		calendar:  cfg.Calendar,
		minCharge: ledger.ToMicros(cfg.MinCharge),
		logger:    cfg.Logger,
		now:       time.Now,
	}
	if m.logger == nil {
		m.logger = log.NewNopLogger()
	}
	m.logger = log.With(m.logger, "component", "budget")
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	if m.notifier == nil {
		m.notifier = NewLogNotifier(m.logger)
	}
	return m
}

// CanCharge reports whether amount fits in the campaign's remaining budget
// today. Any failure answers false.
func (m *Manager) CanCharge(ctx context.Context, campaignID string, amount decimal.Decimal) bool {
	c, err := m.campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return false
	}
	now := m.now()
	if !c.IsActiveAt(now) {
		return false
	}
	spent, err := m.ledger.Spent(ctx, c.ID, m.calendar.DayKey(now))
	if err != nil {
		m.recorder.RecordLedgerError("spent")
		level.Warn(m.logger).Log("msg", "spend lookup failed", "campaign_id", campaignID, "err", err)
		return false
	}
	return spent+ledger.ToMicros(amount) <= ledger.ToMicros(c.DailyBudget)
}

// Eligible reports whether a campaign may enter an auction: active, and the
// ledger has room for at least the platform minimum charge. A ledger error
// answers false.
func (m *Manager) Eligible(ctx context.Context, c models.Campaign) bool {
	now := m.now()
	if !c.IsActiveAt(now) {
		return false
	}
	spent, err := m.ledger.Spent(ctx, c.ID, m.calendar.DayKey(now))
	if err != nil {
		m.recorder.RecordLedgerError("spent")
		level.Warn(m.logger).Log("msg", "eligibility check failed", "campaign_id", c.ID, "err", err)
		return false
	}
	return ledger.ToMicros(c.DailyBudget)-spent >= m.minCharge
}

// SpentToday returns the ledger spend for the campaign's current day
func (m *Manager) SpentToday(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	spent, err := m.ledger.Spent(ctx, campaignID, m.calendar.DayKey(m.now()))
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.FromMicros(spent), nil
}

// Charge applies one atomic conditional increment. A cap rejection is not
// an error: the result carries OK false and ReasonExhausted. Ledger
// failures are returned wrapping ErrLedgerUnavailable and are never retried
// here.
func (m *Manager) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if !req.Amount.IsPositive() {
		return ChargeResult{}, fmt.Errorf("charge amount must be positive, got %s", req.Amount)
	}

	c, err := m.campaigns.Campaign(ctx, req.CampaignID)
	if err != nil {
		return ChargeResult{}, err
	}

	now := m.now()
	day := m.calendar.DayKey(now)
	expireAt := m.calendar.NextMidnight(now)

	res, err := m.ledger.Charge(ctx, ledger.Charge{
		CampaignID:     c.ID,
		Day:            day,
		AmountMicros:   ledger.ToMicros(req.Amount),
		CapMicros:      ledger.ToMicros(c.DailyBudget),
		IdempotencyKey: req.IdempotencyKey,
		ExpireAt:       expireAt,
	})
	if err != nil {
		m.recorder.RecordLedgerError("charge")
		level.Error(m.logger).Log("msg", "charge failed", "campaign_id", c.ID, "amount", req.Amount.String(), "idempotency_key", req.IdempotencyKey, "err", err)
		return ChargeResult{}, err
	}

	m.recorder.RecordCharge(res.Outcome.String())
	result := ChargeResult{NewSpent: ledger.FromMicros(res.SpentMicros)}

	switch res.Outcome {
	case ledger.Rejected:
		result.Reason = ReasonExhausted
		level.Info(m.logger).Log("msg", "charge rejected", "campaign_id", c.ID, "amount", req.Amount.String(), "idempotency_key", req.IdempotencyKey, "spent", result.NewSpent.String())
		return result, nil
	case ledger.Duplicate:
		result.OK = true
		result.Duplicate = true
		return result, nil
	}

	result.OK = true
	m.afterCharge(ctx, c, day, expireAt, res.SpentMicros)
	return result, nil
}

// afterCharge emits each threshold alert the new spend has reached, once
// per campaign day, and auto-pauses at 100%
func (m *Manager) afterCharge(ctx context.Context, c models.Campaign, day string, expireAt time.Time, spentMicros int64) {
	capMicros := ledger.ToMicros(c.DailyBudget)
	if capMicros <= 0 {
		return
	}

	for _, threshold := range models.AlertThresholds {
		if spentMicros*100 < int64(threshold)*capMicros {
			continue
		}
		first, err := m.ledger.MarkAlert(ctx, c.ID, day, threshold, expireAt)
		if err != nil {
			m.recorder.RecordLedgerError("mark_alert")
			level.Warn(m.logger).Log("msg", "alert mark failed", "campaign_id", c.ID, "threshold", threshold, "err", err)
			continue
		}
		if !first {
			continue
		}

		alert := models.BudgetAlert{
			CampaignID:  c.ID,
			Day:         day,
			Threshold:   threshold,
			Spent:       ledger.FromMicros(spentMicros),
			DailyBudget: c.DailyBudget,
		}
		m.recorder.RecordAlert(threshold)
		if err := m.notifier.Notify(ctx, alert); err != nil {
			level.Warn(m.logger).Log("msg", "alert delivery failed", "campaign_id", c.ID, "threshold", threshold, "err", err)
		}
	}

	if spentMicros >= capMicros {
		m.autoPause(ctx, c.ID)
	}
}

// autoPause writes the durable record first so a refresh that starts after
// the live view changes already reads the pause
func (m *Manager) autoPause(ctx context.Context, campaignID string) {
	if err := m.store.SetCampaignStatus(ctx, campaignID, models.StatusPaused, models.PauseReasonBudgetExhausted); err != nil {
		level.Error(m.logger).Log("msg", "auto-pause write failed", "campaign_id", campaignID, "err", err)
	}
	if m.view != nil {
		m.view.PauseCampaign(campaignID, models.PauseReasonBudgetExhausted)
	}
	m.recorder.RecordAutoPause()
	level.Info(m.logger).Log("msg", "campaign auto-paused", "campaign_id", campaignID, "reason", models.PauseReasonBudgetExhausted)
}

// ResetAtDayBoundary resumes campaigns auto-paused on an earlier day. Ledger
// entries expire on their own at local midnight.
func (m *Manager) ResetAtDayBoundary(ctx context.Context) ([]string, error) {
	ids, err := m.store.ResumeBudgetPaused(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resume budget-paused campaigns: %w", err)
	}
	for _, id := range ids {
		if m.view != nil {
			m.view.ResumeCampaign(id)
		}
	}
	level.Info(m.logger).Log("msg", "day boundary reset", "day", m.calendar.DayKey(m.now()), "resumed", len(ids))
	return ids, nil
}

// IsUnavailable reports whether err is a ledger outage rather than a
// business outcome
func IsUnavailable(err error) bool {
	return errors.Is(err, models.ErrLedgerUnavailable)
}
