package repository

import (
	"context"
	"errors"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/metrics"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// InstrumentedRepository wraps a repository with metrics collection
type InstrumentedRepository struct {
	next    Repository
	metrics *metrics.Metrics
}

// NewInstrumentedRepository creates a new instrumented repository
func NewInstrumentedRepository(repo Repository, metrics *metrics.Metrics) *InstrumentedRepository {
	return &InstrumentedRepository{
		next:    repo,
		metrics: metrics,
	}
}

// observe records one query and its error, if any. Not-found is an answer,
// not a database error.
func (r *InstrumentedRepository) observe(operation, table string, err error) {
	r.metrics.RecordDatabaseQuery(operation, table)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		r.metrics.RecordDatabaseError(operation, "query_error")
	}
}

func (r *InstrumentedRepository) ListCampaigns(ctx context.Context) (campaigns []models.Campaign, err error) {
	defer func() { r.observe("select", "campaigns", err) }()
	return r.next.ListCampaigns(ctx)
}

func (r *InstrumentedRepository) GetCampaign(ctx context.Context, id string) (c models.Campaign, err error) {
	defer func() { r.observe("select", "campaigns", err) }()
	return r.next.GetCampaign(ctx, id)
}

func (r *InstrumentedRepository) CreateCampaign(ctx context.Context, c *models.Campaign) (err error) {
	defer func() { r.observe("insert", "campaigns", err) }()
	return r.next.CreateCampaign(ctx, c)
}

func (r *InstrumentedRepository) SetCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, reason models.PauseReason) (err error) {
	defer func() { r.observe("update", "campaigns", err) }()
	return r.next.SetCampaignStatus(ctx, id, status, reason)
}

func (r *InstrumentedRepository) ResumeBudgetPaused(ctx context.Context) (ids []string, err error) {
	defer func() { r.observe("update", "campaigns", err) }()
	return r.next.ResumeBudgetPaused(ctx)
}

func (r *InstrumentedRepository) DeleteCampaign(ctx context.Context, id string) (err error) {
	defer func() { r.observe("delete", "campaigns", err) }()
	return r.next.DeleteCampaign(ctx, id)
}

func (r *InstrumentedRepository) ListActiveBids(ctx context.Context) (bids []models.Bid, err error) {
	defer func() { r.observe("select", "bids", err) }()
	return r.next.ListActiveBids(ctx)
}

func (r *InstrumentedRepository) GetBid(ctx context.Context, id string) (b models.Bid, err error) {
	defer func() { r.observe("select", "bids", err) }()
	return r.next.GetBid(ctx, id)
}

func (r *InstrumentedRepository) UpsertBid(ctx context.Context, b *models.Bid) (err error) {
	defer func() { r.observe("upsert", "bids", err) }()
	return r.next.UpsertBid(ctx, b)
}

func (r *InstrumentedRepository) SetBidStatus(ctx context.Context, id string, status models.BidStatus) (err error) {
	defer func() { r.observe("update", "bids", err) }()
	return r.next.SetBidStatus(ctx, id, status)
}

func (r *InstrumentedRepository) GetStats(ctx context.Context, bidID string) (s models.BidStats, err error) {
	defer func() { r.observe("select", "bid_stats", err) }()
	return r.next.GetStats(ctx, bidID)
}

func (r *InstrumentedRepository) ListStats(ctx context.Context, bidIDs []string) (out map[string]models.BidStats, err error) {
	defer func() { r.observe("select", "bid_stats", err) }()
	return r.next.ListStats(ctx, bidIDs)
}

func (r *InstrumentedRepository) IncrementStats(ctx context.Context, bidID string, delta models.StatsDelta) (err error) {
	defer func() { r.observe("upsert", "bid_stats", err) }()
	return r.next.IncrementStats(ctx, bidID, delta)
}

func (r *InstrumentedRepository) AppendEvent(ctx context.Context, e *models.AuctionEvent) (err error) {
	defer func() { r.observe("insert", "auction_events", err) }()
	return r.next.AppendEvent(ctx, e)
}

func (r *InstrumentedRepository) ListEvents(ctx context.Context, bidID string, limit int) (events []models.AuctionEvent, err error) {
	defer func() { r.observe("select", "auction_events", err) }()
	return r.next.ListEvents(ctx, bidID, limit)
}

func (r *InstrumentedRepository) ListUnreconciled(ctx context.Context, limit int) (events []models.AuctionEvent, err error) {
	defer func() { r.observe("select", "auction_events", err) }()
	return r.next.ListUnreconciled(ctx, limit)
}

func (r *InstrumentedRepository) RecordReconciliation(ctx context.Context, eventID string, status models.ChargeStatus) (err error) {
	defer func() { r.observe("insert", "charge_reconciliations", err) }()
	return r.next.RecordReconciliation(ctx, eventID, status)
}

func (r *InstrumentedRepository) GetProductQualities(ctx context.Context, productIDs []string) (out map[string]models.ProductQuality, err error) {
	defer func() { r.observe("select", "products", err) }()
	return r.next.GetProductQualities(ctx, productIDs)
}

func (r *InstrumentedRepository) UpsertProductQuality(ctx context.Context, p models.ProductQuality) (err error) {
	defer func() { r.observe("upsert", "products", err) }()
	return r.next.UpsertProductQuality(ctx, p)
}

func (r *InstrumentedRepository) Ping(ctx context.Context) error {
	err := r.next.Ping(ctx)
	r.metrics.SetHealthCheckStatus("database", err == nil)
	return err
}
