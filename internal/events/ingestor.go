// Package events records impressions, clicks and conversions and charges
// clicks against campaign budgets
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/budget"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// Charger is the budget manager surface the click path needs
type Charger interface {
	CanCharge(ctx context.Context, campaignID string, amount decimal.Decimal) bool
	Charge(ctx context.Context, req budget.ChargeRequest) (budget.ChargeResult, error)
}

// Resolver finds the bid and campaign an event refers to
type Resolver interface {
	Bid(ctx context.Context, id string) (models.Bid, error)
	Campaign(ctx context.Context, id string) (models.Campaign, error)
}

// Store is where events and counters are written
type Store interface {
	AppendEvent(ctx context.Context, e *models.AuctionEvent) error
	IncrementStats(ctx context.Context, bidID string, delta models.StatsDelta) error
}

// Recorder receives event metrics
type Recorder interface {
	RecordEvent(eventType, chargeStatus string)
	RecordReconciliation(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string)  {}
func (nopRecorder) RecordReconciliation(string) {}

// Ingestor records tracked events. Clicks are charged exactly once per
// click id.
type Ingestor struct {
	charger  Charger
	resolver Resolver
	store    Store
	recorder Recorder
	logger   log.Logger
	now      func() time.Time
}

// NewIngestor creates an event ingestor. A nil recorder disables metrics.
func NewIngestor(charger Charger, resolver Resolver, store Store, recorder Recorder, logger log.Logger) *Ingestor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Ingestor{
		charger:  charger,
		resolver: resolver,
		store:    store,
		recorder: recorder,
		logger:   log.With(logger, "component", "events"),
		now:      time.Now,
	}
}

// RecordImpression counts an impression. Delivery is at-least-once, a
// replayed impression is counted again.
func (i *Ingestor) RecordImpression(ctx context.Context, imp models.Impression) (string, error) {
	bid, err := i.resolveBid(ctx, imp.BidID)
	if err != nil {
		return "", err
	}

	e := &models.AuctionEvent{
		Type:         models.EventImpression,
		BidID:        bid.ID,
		CampaignID:   bid.CampaignID,
		Context:      imp.Context,
		ChargeStatus: models.ChargeNotApplicable,
		OccurredAt:   i.now(),
	}
	if err := i.store.AppendEvent(ctx, e); err != nil {
		return "", fmt.Errorf("failed to record impression: %w", err)
	}
	if err := i.store.IncrementStats(ctx, bid.ID, models.StatsDelta{Impressions: 1}); err != nil {
		return e.ID, fmt.Errorf("failed to count impression: %w", err)
	}

	i.recorder.RecordEvent(string(models.EventImpression), string(models.ChargeNotApplicable))
	return e.ID, nil
}

// RecordClick charges the click price and records the click. The click id
// is the idempotency key and the event id, so a replayed click is never
// charged twice. A campaign without budget yields ErrInsufficientBudget; a
// ledger outage records the click as unconfirmed and still succeeds.
func (i *Ingestor) RecordClick(ctx context.Context, click models.Click) (models.ClickResult, error) {
	if !click.Price.IsPositive() {
		return models.ClickResult{}, fmt.Errorf("%w: click price must be positive", models.ErrInvalidBid)
	}
	if !models.WithinMoneyPrecision(click.Price) {
		return models.ClickResult{}, fmt.Errorf("%w: click price %s is finer than one micro-unit", models.ErrInvalidBid, click.Price)
	}
	if strings.TrimSpace(click.ClickID) == "" {
		click.ClickID = uuid.NewString()
		level.Debug(i.logger).Log("msg", "click without id, assigned one", "click_id", click.ClickID)
	}

	bid, err := i.resolveBid(ctx, click.BidID)
	if err != nil {
		level.Warn(i.logger).Log("msg", "click for unknown bid", "click_id", click.ClickID, "bid_id", click.BidID, "err", err)
		return models.ClickResult{}, err
	}
	if click.CampaignID != "" && click.CampaignID != bid.CampaignID {
		level.Warn(i.logger).Log("msg", "click campaign does not own bid", "click_id", click.ClickID, "bid_id", bid.ID, "campaign_id", click.CampaignID)
		return models.ClickResult{}, fmt.Errorf("bid %s in campaign %s: %w", bid.ID, click.CampaignID, models.ErrNotFound)
	}
	if _, err := i.resolver.Campaign(ctx, bid.CampaignID); err != nil {
		level.Warn(i.logger).Log("msg", "click for unknown campaign", "click_id", click.ClickID, "campaign_id", bid.CampaignID, "err", err)
		return models.ClickResult{}, err
	}

	logger := log.With(i.logger, "click_id", click.ClickID, "bid_id", bid.ID, "campaign_id", bid.CampaignID, "amount", click.Price.String())

	if !i.charger.CanCharge(ctx, bid.CampaignID, click.Price) {
		i.recorder.RecordEvent(string(models.EventClick), "insufficient_budget")
		level.Info(logger).Log("msg", "click not charged", "err", models.ErrInsufficientBudget)
		return models.ClickResult{}, models.ErrInsufficientBudget
	}

	res, err := i.charger.Charge(ctx, budget.ChargeRequest{
		CampaignID:     bid.CampaignID,
		Amount:         click.Price,
		IdempotencyKey: click.ClickID,
	})
	switch {
	case err != nil && budget.IsUnavailable(err):
		return i.recordUnconfirmed(ctx, logger, click, bid, err)
	case err != nil:
		level.Error(logger).Log("msg", "click charge failed", "err", err)
		return models.ClickResult{}, err
	case !res.OK:
		i.recorder.RecordEvent(string(models.EventClick), "insufficient_budget")
		level.Info(logger).Log("msg", "click not charged", "reason", res.Reason, "spent", res.NewSpent.String())
		return models.ClickResult{NewSpent: res.NewSpent}, models.ErrInsufficientBudget
	case res.Duplicate:
		level.Info(logger).Log("msg", "replayed click ignored")
		return models.ClickResult{OK: true, EventID: click.ClickID, ChargeStatus: models.ChargeConfirmed, NewSpent: res.NewSpent, Duplicate: true}, nil
	}

	e := &models.AuctionEvent{
		ID:           click.ClickID,
		Type:         models.EventClick,
		BidID:        bid.ID,
		CampaignID:   bid.CampaignID,
		Context:      click.Context,
		Price:        click.Price,
		ChargeStatus: models.ChargeConfirmed,
		OccurredAt:   i.now(),
	}
	// the charge has landed, a failed write is logged and not undone
	if err := i.store.AppendEvent(ctx, e); err != nil {
		level.Error(logger).Log("msg", "charged click not recorded", "err", err)
	} else if err := i.store.IncrementStats(ctx, bid.ID, models.StatsDelta{Clicks: 1, Spend: click.Price}); err != nil {
		level.Error(logger).Log("msg", "click stats not updated", "err", err)
	}

	i.recorder.RecordEvent(string(models.EventClick), string(models.ChargeConfirmed))
	return models.ClickResult{OK: true, EventID: e.ID, ChargeStatus: models.ChargeConfirmed, NewSpent: res.NewSpent}, nil
}

// recordUnconfirmed keeps a click whose charge outcome is unknown so the
// reconciler can settle it later
func (i *Ingestor) recordUnconfirmed(ctx context.Context, logger log.Logger, click models.Click, bid models.Bid, chargeErr error) (models.ClickResult, error) {
	e := &models.AuctionEvent{
		ID:           click.ClickID,
		Type:         models.EventClick,
		BidID:        bid.ID,
		CampaignID:   bid.CampaignID,
		Context:      click.Context,
		Price:        click.Price,
		ChargeStatus: models.ChargeUnconfirmed,
		OccurredAt:   i.now(),
	}
	if err := i.store.AppendEvent(ctx, e); err != nil {
		level.Error(logger).Log("msg", "unconfirmed click lost", "charge_err", chargeErr, "err", err)
		return models.ClickResult{}, fmt.Errorf("failed to record unconfirmed click: %w", err)
	}
	if err := i.store.IncrementStats(ctx, bid.ID, models.StatsDelta{Clicks: 1}); err != nil {
		level.Error(logger).Log("msg", "click stats not updated", "err", err)
	}

	i.recorder.RecordEvent(string(models.EventClick), string(models.ChargeUnconfirmed))
	level.Warn(logger).Log("msg", "click recorded unconfirmed", "event_id", e.ID, "err", chargeErr)
	return models.ClickResult{OK: true, EventID: e.ID, ChargeStatus: models.ChargeUnconfirmed}, nil
}

// RecordConversion attributes an order to a bid
func (i *Ingestor) RecordConversion(ctx context.Context, conv models.Conversion) (string, error) {
	if conv.OrderValue.IsNegative() {
		return "", fmt.Errorf("%w: order value must not be negative", models.ErrInvalidBid)
	}
	bid, err := i.resolveBid(ctx, conv.BidID)
	if err != nil {
		return "", err
	}

	e := &models.AuctionEvent{
		Type:         models.EventConversion,
		BidID:        bid.ID,
		CampaignID:   bid.CampaignID,
		OrderValue:   conv.OrderValue,
		ChargeStatus: models.ChargeNotApplicable,
		OccurredAt:   i.now(),
	}
	if err := i.store.AppendEvent(ctx, e); err != nil {
		return "", fmt.Errorf("failed to record conversion: %w", err)
	}
	if err := i.store.IncrementStats(ctx, bid.ID, models.StatsDelta{Conversions: 1, Revenue: conv.OrderValue}); err != nil {
		return e.ID, fmt.Errorf("failed to count conversion: %w", err)
	}

	i.recorder.RecordEvent(string(models.EventConversion), string(models.ChargeNotApplicable))
	return e.ID, nil
}

func (i *Ingestor) resolveBid(ctx context.Context, bidID string) (models.Bid, error) {
	if strings.TrimSpace(bidID) == "" {
		return models.Bid{}, fmt.Errorf("%w: bid_id is required", models.ErrInvalidBid)
	}
	bid, err := i.resolver.Bid(ctx, bidID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Bid{}, err
		}
		return models.Bid{}, fmt.Errorf("failed to resolve bid %s: %w", bidID, err)
	}
	return bid, nil
}
