// Package index keeps an in-memory snapshot of biddable state keyed by
// targeting value. Auctions read it without touching storage.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/singleflight"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// Store is the durable state the index is built from
type Store interface {
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	GetCampaign(ctx context.Context, id string) (models.Campaign, error)
	ListActiveBids(ctx context.Context) ([]models.Bid, error)
	GetBid(ctx context.Context, id string) (models.Bid, error)
	ListStats(ctx context.Context, bidIDs []string) (map[string]models.BidStats, error)
}

// Catalog provides product quality signals
type Catalog interface {
	GetProductQualities(ctx context.Context, productIDs []string) (map[string]models.ProductQuality, error)
}

// DefaultOverrideTTL is how long a local pause, resume or removal outlives a
// store that does not reflect it
const DefaultOverrideTTL = time.Minute

// Candidate is one bid that may enter an auction, with everything the
// scorer and the eligibility check need
type Candidate struct {
	Bid      models.Bid
	Campaign models.Campaign
	Stats    models.BidStats
	Product  *models.ProductQuality
}

type snapshot struct {
	byKey     map[string][]string
	bids      map[string]models.Bid
	campaigns map[string]models.Campaign
	stats     map[string]models.BidStats
	products  map[string]models.ProductQuality
	builtAt   time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byKey:     make(map[string][]string),
		bids:      make(map[string]models.Bid),
		campaigns: make(map[string]models.Campaign),
		stats:     make(map[string]models.BidStats),
		products:  make(map[string]models.ProductQuality),
	}
}

// override is a campaign state change applied locally before the durable
// record is guaranteed to show it
type override struct {
	removed bool
	status  models.CampaignStatus
	reason  models.PauseReason
	at      time.Time
}

// BidIndex answers "which bids target this context" from a snapshot that is
// rebuilt on refresh. Pauses and removals apply immediately and survive
// refreshes until the store shows them or DefaultOverrideTTL passes.
type BidIndex struct {
	store    Store
	catalog  Catalog
	registry *models.TargetRegistry
	logger   log.Logger
	now      func() time.Time

	// overrideTTL bounds how long a local state change is kept while the
	// store still disagrees with it
	overrideTTL time.Duration

	mu        sync.RWMutex
	snap      *snapshot
	overrides map[string]override
	refreshes singleflight.Group
}

// New creates an empty index. Call Refresh before serving auctions.
func New(store Store, catalog Catalog, registry *models.TargetRegistry, logger log.Logger) *BidIndex {
	if registry == nil {
		registry = models.NewTargetRegistry()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BidIndex{
		store:       store,
		catalog:     catalog,
		registry:    registry,
		logger:      log.With(logger, "component", "bid_index"),
		now:         time.Now,
		overrideTTL: DefaultOverrideTTL,
		snap:        emptySnapshot(),
		overrides:   make(map[string]override),
	}
}

// Refresh rebuilds the snapshot from the store. Concurrent callers share one
// rebuild.
func (ix *BidIndex) Refresh(ctx context.Context) error {
	_, err, _ := ix.refreshes.Do("refresh", func() (interface{}, error) {
		return nil, ix.rebuild(ctx)
	})
	return err
}

func (ix *BidIndex) rebuild(ctx context.Context) error {
	startedAt := ix.now()

	campaigns, err := ix.store.ListCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load campaigns: %w", err)
	}
	bids, err := ix.store.ListActiveBids(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bids: %w", err)
	}

	snap := emptySnapshot()
	snap.builtAt = startedAt
	for _, c := range campaigns {
		snap.campaigns[c.ID] = c
	}

	bidIDs := make([]string, 0, len(bids))
	productSet := make(map[string]struct{})
	for _, b := range bids {
		if _, ok := snap.campaigns[b.CampaignID]; !ok {
			continue
		}
		if err := ix.registry.ValidateTarget(b.Target); err != nil {
			level.Warn(ix.logger).Log("msg", "skipping bid with invalid target", "bid_id", b.ID, "err", err)
			continue
		}
		snap.bids[b.ID] = b
		bidIDs = append(bidIDs, b.ID)
		for _, key := range ix.registry.IndexKeys(b.Target) {
			snap.byKey[key] = append(snap.byKey[key], b.ID)
		}
		if b.ProductID != "" {
			productSet[b.ProductID] = struct{}{}
		}
	}

	if len(bidIDs) > 0 {
		stats, err := ix.store.ListStats(ctx, bidIDs)
		if err != nil {
			return fmt.Errorf("failed to load stats: %w", err)
		}
		snap.stats = stats
	}

	if len(productSet) > 0 && ix.catalog != nil {
		productIDs := make([]string, 0, len(productSet))
		for id := range productSet {
			productIDs = append(productIDs, id)
		}
		sort.Strings(productIDs)
		products, err := ix.catalog.GetProductQualities(ctx, productIDs)
		if err != nil {
			return fmt.Errorf("failed to load products: %w", err)
		}
		snap.products = products
	}

	ix.mu.Lock()
	ix.snap = snap
	for id, o := range ix.overrides {
		c, present := snap.campaigns[id]
		settled := (o.removed && !present) || (!o.removed && present && c.Status == o.status)
		if settled || startedAt.Sub(o.at) > ix.overrideTTL {
			delete(ix.overrides, id)
		}
	}
	ix.mu.Unlock()

	level.Debug(ix.logger).Log("msg", "index refreshed", "campaigns", len(snap.campaigns), "bids", len(snap.bids))
	return nil
}

// Lookup returns every eligible-by-state candidate whose target matches the
// context, each bid once, ordered by bid id. Budget is not checked here.
func (ix *BidIndex) Lookup(actx models.AuctionContext) []Candidate {
	actx.Normalize()
	keys := ix.registry.LookupKeys(actx)
	now := ix.now()

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []Candidate
	for _, key := range keys {
		for _, bidID := range ix.snap.byKey[key] {
			if _, dup := seen[bidID]; dup {
				continue
			}
			seen[bidID] = struct{}{}

			b := ix.snap.bids[bidID]
			if !b.IsActive() {
				continue
			}
			c, ok := ix.campaignLocked(b.CampaignID)
			if !ok || !c.IsActiveAt(now) || !c.ServesPlacement(actx.Placement) {
				continue
			}

			cand := Candidate{
				Bid:      b,
				Campaign: c,
				Stats:    ix.snap.stats[bidID],
			}
			if cand.Stats.BidID == "" {
				cand.Stats.BidID = bidID
			}
			if p, ok := ix.snap.products[b.ProductID]; ok {
				p := p
				cand.Product = &p
			}
			out = append(out, cand)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Bid.ID < out[j].Bid.ID })
	return out
}

// campaignLocked applies overrides to the snapshot record. Caller holds mu.
func (ix *BidIndex) campaignLocked(id string) (models.Campaign, bool) {
	o, overridden := ix.overrides[id]
	if overridden && o.removed {
		return models.Campaign{}, false
	}
	c, ok := ix.snap.campaigns[id]
	if !ok {
		return models.Campaign{}, false
	}
	if overridden {
		c.Status = o.status
		c.PauseReason = o.reason
	}
	return c, true
}

// Campaign returns the indexed campaign, falling back to the store for
// campaigns created since the last refresh
func (ix *BidIndex) Campaign(ctx context.Context, id string) (models.Campaign, error) {
	ix.mu.RLock()
	c, ok := ix.campaignLocked(id)
	o, overridden := ix.overrides[id]
	ix.mu.RUnlock()
	if ok {
		return c, nil
	}
	if overridden && o.removed {
		return models.Campaign{}, fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	c, err := ix.store.GetCampaign(ctx, id)
	if err != nil {
		return models.Campaign{}, err
	}
	if overridden {
		c.Status = o.status
		c.PauseReason = o.reason
	}
	return c, nil
}

// Bid returns the indexed bid, falling back to the store
func (ix *BidIndex) Bid(ctx context.Context, id string) (models.Bid, error) {
	ix.mu.RLock()
	b, ok := ix.snap.bids[id]
	ix.mu.RUnlock()
	if ok {
		return b, nil
	}
	return ix.store.GetBid(ctx, id)
}

// PauseCampaign makes a campaign's bids ineligible now
func (ix *BidIndex) PauseCampaign(id string, reason models.PauseReason) {
	ix.mu.Lock()
	ix.overrides[id] = override{status: models.StatusPaused, reason: reason, at: ix.now()}
	ix.mu.Unlock()
}

// ResumeCampaign makes a campaign eligible again now
func (ix *BidIndex) ResumeCampaign(id string) {
	ix.mu.Lock()
	ix.overrides[id] = override{status: models.StatusActive, reason: models.PauseReasonNone, at: ix.now()}
	ix.mu.Unlock()
}

// RemoveCampaign drops a campaign and its bids from lookups now
func (ix *BidIndex) RemoveCampaign(id string) {
	ix.mu.Lock()
	ix.overrides[id] = override{removed: true, at: ix.now()}
	ix.mu.Unlock()
}

// Len returns the number of indexed bids
func (ix *BidIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.snap.bids)
}

// BuiltAt returns when the current snapshot started loading, zero before the
// first refresh
func (ix *BidIndex) BuiltAt() time.Time {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.snap.builtAt
}
