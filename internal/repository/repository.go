package repository

import (
	"context"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// CampaignStore is the durable campaign record owned by the lifecycle layer
type CampaignStore interface {
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	GetCampaign(ctx context.Context, id string) (models.Campaign, error)
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	// SetCampaignStatus writes status and pause reason in one update
	SetCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, reason models.PauseReason) error
	// ResumeBudgetPaused reactivates campaigns auto-paused for budget
	// exhaustion and returns their ids
	ResumeBudgetPaused(ctx context.Context) ([]string, error)
	DeleteCampaign(ctx context.Context, id string) error
}

// BidStore holds bids
type BidStore interface {
	ListActiveBids(ctx context.Context) ([]models.Bid, error)
	GetBid(ctx context.Context, id string) (models.Bid, error)
	UpsertBid(ctx context.Context, b *models.Bid) error
	SetBidStatus(ctx context.Context, id string, status models.BidStatus) error
}

// StatsStore holds per-bid counters
type StatsStore interface {
	GetStats(ctx context.Context, bidID string) (models.BidStats, error)
	ListStats(ctx context.Context, bidIDs []string) (map[string]models.BidStats, error)
	IncrementStats(ctx context.Context, bidID string, delta models.StatsDelta) error
}

// EventStore is the append-only event log. Reconciliation outcomes are
// appended to their own table, events are never rewritten.
type EventStore interface {
	AppendEvent(ctx context.Context, e *models.AuctionEvent) error
	ListEvents(ctx context.Context, bidID string, limit int) ([]models.AuctionEvent, error)
	// ListUnreconciled returns unconfirmed click events without a recorded
	// reconciliation outcome, oldest first
	ListUnreconciled(ctx context.Context, limit int) ([]models.AuctionEvent, error)
	RecordReconciliation(ctx context.Context, eventID string, status models.ChargeStatus) error
}

// ProductStore is the read view of catalog quality signals
type ProductStore interface {
	GetProductQualities(ctx context.Context, productIDs []string) (map[string]models.ProductQuality, error)
	UpsertProductQuality(ctx context.Context, p models.ProductQuality) error
}

// Repository is every store the engine reads and writes
type Repository interface {
	CampaignStore
	BidStore
	StatsStore
	EventStore
	ProductStore
	Ping(ctx context.Context) error
}
