package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// MemoryRepository implements Repository in process for tests and local runs
type MemoryRepository struct {
	mu              sync.RWMutex
	campaigns       map[string]models.Campaign
	bids            map[string]models.Bid
	stats           map[string]models.BidStats
	events          []models.AuctionEvent
	reconciliations map[string]models.ChargeStatus
	products        map[string]models.ProductQuality
	now             func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		campaigns:       make(map[string]models.Campaign),
		bids:            make(map[string]models.Bid),
		stats:           make(map[string]models.BidStats),
		reconciliations: make(map[string]models.ChargeStatus),
		products:        make(map[string]models.ProductQuality),
		now:             time.Now,
	}
}

// NewSampleRepository creates a repository with sample data
func NewSampleRepository() *MemoryRepository {
	r := NewMemoryRepository()
	now := r.now()

	campaigns := []models.Campaign{
		{
			ID:          "acme-shoes",
			OwnerID:     "seller-acme",
			Type:        models.CampaignTypeSearchSponsored,
			Status:      models.StatusActive,
			DailyBudget: decimal.NewFromInt(50),
			BiddingMode: models.BiddingModeManual,
			ProductIDs:  []string{"sku-runner-1"},
			StartDate:   now.Add(-24 * time.Hour),
		},
		{
			ID:          "trailco",
			OwnerID:     "seller-trail",
			Type:        models.CampaignTypeSearchSponsored,
			Status:      models.StatusActive,
			DailyBudget: decimal.NewFromInt(20),
			BiddingMode: models.BiddingModeManual,
			ProductIDs:  []string{"sku-trail-9"},
			StartDate:   now.Add(-24 * time.Hour),
		},
		{
			ID:          "homegoods-banner",
			OwnerID:     "seller-home",
			Type:        models.CampaignTypeBrandBanner,
			Status:      models.StatusActive,
			DailyBudget: decimal.NewFromInt(100),
			BiddingMode: models.BiddingModeAutomatic,
			StartDate:   now.Add(-24 * time.Hour),
		},
	}
	for i := range campaigns {
		_ = r.CreateCampaign(context.Background(), &campaigns[i])
	}

	bids := []models.Bid{
		{ID: "bid-acme-kw", CampaignID: "acme-shoes", Target: models.Target{Type: models.TargetKeyword, Value: "running shoes"}, Amount: decimal.NewFromInt(2), ProductID: "sku-runner-1"},
		{ID: "bid-acme-cat", CampaignID: "acme-shoes", Target: models.Target{Type: models.TargetCategory, Value: "footwear"}, Amount: decimal.RequireFromString("0.80"), ProductID: "sku-runner-1"},
		{ID: "bid-trail-kw", CampaignID: "trailco", Target: models.Target{Type: models.TargetKeyword, Value: "trail shoes"}, Amount: decimal.NewFromInt(1), ProductID: "sku-trail-9"},
		{ID: "bid-home-cat", CampaignID: "homegoods-banner", Target: models.Target{Type: models.TargetCategory, Value: "kitchen"}, Amount: decimal.RequireFromString("1.50")},
	}
	for i := range bids {
		_ = r.UpsertBid(context.Background(), &bids[i])
	}

	_ = r.UpsertProductQuality(context.Background(), models.ProductQuality{ProductID: "sku-runner-1", Rating: 4.6, ReviewCount: 320})
	_ = r.UpsertProductQuality(context.Background(), models.ProductQuality{ProductID: "sku-trail-9", Rating: 3.9, ReviewCount: 41})

	return r
}

// ListCampaigns returns every campaign that has not ended
func (r *MemoryRepository) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	campaigns := make([]models.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		if c.Status != models.StatusEnded {
			campaigns = append(campaigns, c)
		}
	}
	sort.Slice(campaigns, func(i, j int) bool { return campaigns[i].ID < campaigns[j].ID })
	return campaigns, nil
}

// GetCampaign returns one campaign
func (r *MemoryRepository) GetCampaign(ctx context.Context, id string) (models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.campaigns[id]
	if !exists {
		return models.Campaign{}, fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	return c, nil
}

// CreateCampaign stores a new campaign, assigning an id when missing
func (r *MemoryRepository) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.StatusActive
	}
	now := r.now()
	c.CreatedAt, c.UpdatedAt = now, now
	r.campaigns[c.ID] = *c
	return nil
}

// SetCampaignStatus updates status and pause reason
func (r *MemoryRepository) SetCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, reason models.PauseReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.campaigns[id]
	if !exists {
		return fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	c.Status = status
	c.PauseReason = reason
	c.UpdatedAt = r.now()
	r.campaigns[id] = c
	return nil
}

// ResumeBudgetPaused reactivates campaigns paused for budget exhaustion
func (r *MemoryRepository) ResumeBudgetPaused(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resumed []string
	for id, c := range r.campaigns {
		if c.Status == models.StatusPaused && c.PauseReason == models.PauseReasonBudgetExhausted {
			c.Status = models.StatusActive
			c.PauseReason = models.PauseReasonNone
			c.UpdatedAt = r.now()
			r.campaigns[id] = c
			resumed = append(resumed, id)
		}
	}
	sort.Strings(resumed)
	return resumed, nil
}

// DeleteCampaign removes a campaign and its bids
func (r *MemoryRepository) DeleteCampaign(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.campaigns[id]; !exists {
		return fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	delete(r.campaigns, id)
	for bidID, b := range r.bids {
		if b.CampaignID == id {
			delete(r.bids, bidID)
		}
	}
	return nil
}

// ListActiveBids returns active bids whose campaign still exists
func (r *MemoryRepository) ListActiveBids(ctx context.Context) ([]models.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := make([]models.Bid, 0, len(r.bids))
	for _, b := range r.bids {
		if _, exists := r.campaigns[b.CampaignID]; exists && b.IsActive() {
			bids = append(bids, b)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].ID < bids[j].ID })
	return bids, nil
}

// GetBid returns one bid
func (r *MemoryRepository) GetBid(ctx context.Context, id string) (models.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.bids[id]
	if !exists {
		return models.Bid{}, fmt.Errorf("bid %s: %w", id, models.ErrNotFound)
	}
	return b, nil
}

// UpsertBid creates or replaces a bid
func (r *MemoryRepository) UpsertBid(ctx context.Context, b *models.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.campaigns[b.CampaignID]; !exists {
		return fmt.Errorf("campaign %s: %w", b.CampaignID, models.ErrNotFound)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = models.BidStatusActive
	}
	now := r.now()
	if existing, exists := r.bids[b.ID]; exists {
		b.CreatedAt = existing.CreatedAt
	} else {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	r.bids[b.ID] = *b
	return nil
}

// SetBidStatus updates a bid's status
func (r *MemoryRepository) SetBidStatus(ctx context.Context, id string, status models.BidStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.bids[id]
	if !exists {
		return fmt.Errorf("bid %s: %w", id, models.ErrNotFound)
	}
	b.Status = status
	b.UpdatedAt = r.now()
	r.bids[id] = b
	return nil
}

// GetStats returns counters for a bid, zero when none recorded
func (r *MemoryRepository) GetStats(ctx context.Context, bidID string) (models.BidStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.stats[bidID]
	if !exists {
		return models.BidStats{BidID: bidID}, nil
	}
	return s, nil
}

// ListStats returns counters for the given bids, or all when bidIDs is empty
func (r *MemoryRepository) ListStats(ctx context.Context, bidIDs []string) (map[string]models.BidStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.BidStats)
	if len(bidIDs) == 0 {
		for id, s := range r.stats {
			out[id] = s
		}
		return out, nil
	}
	for _, id := range bidIDs {
		if s, exists := r.stats[id]; exists {
			out[id] = s
		}
	}
	return out, nil
}

// IncrementStats applies a delta to a bid's counters
func (r *MemoryRepository) IncrementStats(ctx context.Context, bidID string, delta models.StatsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.stats[bidID]
	if !exists {
		s = models.BidStats{BidID: bidID}
	}
	s.Apply(delta, r.now())
	r.stats[bidID] = s
	return nil
}

// AppendEvent appends an event, assigning an id when missing
func (r *MemoryRepository) AppendEvent(ctx context.Context, e *models.AuctionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}
	r.events = append(r.events, *e)
	return nil
}

// ListEvents returns the newest events for a bid, or all bids when bidID is empty
func (r *MemoryRepository) ListEvents(ctx context.Context, bidID string, limit int) ([]models.AuctionEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AuctionEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		if bidID != "" && r.events[i].BidID != bidID {
			continue
		}
		out = append(out, r.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListUnreconciled returns unconfirmed clicks without a reconciliation outcome
func (r *MemoryRepository) ListUnreconciled(ctx context.Context, limit int) ([]models.AuctionEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AuctionEvent
	for _, e := range r.events {
		if e.Type != models.EventClick || e.ChargeStatus != models.ChargeUnconfirmed {
			continue
		}
		if _, done := r.reconciliations[e.ID]; done {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RecordReconciliation stores the final charge status for an event
func (r *MemoryRepository) RecordReconciliation(ctx context.Context, eventID string, status models.ChargeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reconciliations[eventID] = status
	return nil
}

// Reconciliation returns the recorded outcome for an event
func (r *MemoryRepository) Reconciliation(eventID string) (models.ChargeStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.reconciliations[eventID]
	return status, ok
}

// GetProductQualities returns catalog signals for the known products
func (r *MemoryRepository) GetProductQualities(ctx context.Context, productIDs []string) (map[string]models.ProductQuality, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.ProductQuality, len(productIDs))
	for _, id := range productIDs {
		if p, exists := r.products[id]; exists {
			out[id] = p
		}
	}
	return out, nil
}

// UpsertProductQuality stores catalog signals for a product
func (r *MemoryRepository) UpsertProductQuality(ctx context.Context, p models.ProductQuality) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[p.ProductID] = p
	return nil
}

// Ping implements Repository
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}
