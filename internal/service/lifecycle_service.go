package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/shopspring/decimal"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/cache"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/repository"
)

// LifecycleService is the thin campaign and bid management surface. Every
// change is written to the store first, then applied to the live index.
type LifecycleService interface {
	CreateCampaign(ctx context.Context, c models.Campaign) (models.Campaign, error)
	GetCampaign(ctx context.Context, id string) (models.Campaign, error)
	PauseCampaign(ctx context.Context, id string) error
	ResumeCampaign(ctx context.Context, id string) error
	DeleteCampaign(ctx context.Context, id string) error
	UpsertBid(ctx context.Context, b models.Bid) (models.Bid, error)
	SetBidStatus(ctx context.Context, id string, status models.BidStatus) error
	GetStats(ctx context.Context, bidID string) (models.BidStats, error)
	ListEvents(ctx context.Context, bidID string, limit int) ([]models.AuctionEvent, error)
}

// LifecycleStore is the durable record the lifecycle service owns
type LifecycleStore interface {
	repository.CampaignStore
	repository.BidStore
	GetStats(ctx context.Context, bidID string) (models.BidStats, error)
	ListEvents(ctx context.Context, bidID string, limit int) ([]models.AuctionEvent, error)
}

// LiveIndex is the in-memory view auctions read
type LiveIndex interface {
	Campaign(ctx context.Context, id string) (models.Campaign, error)
	PauseCampaign(id string, reason models.PauseReason)
	ResumeCampaign(id string)
	RemoveCampaign(id string)
	Refresh(ctx context.Context) error
}

// Publisher tells other instances to refresh their index
type Publisher interface {
	Publish(ctx context.Context, inv cache.Invalidation) error
}

// SpendReader reports today's ledger spend
type SpendReader interface {
	SpentToday(ctx context.Context, campaignID string) (decimal.Decimal, error)
}

// DefaultEventLimit caps event listings when no limit is given
const DefaultEventLimit = 100

type lifecycleService struct {
	store     LifecycleStore
	index     LiveIndex
	spend     SpendReader
	publisher Publisher
	registry  *models.TargetRegistry
	limits    models.BidLimits
	logger    log.Logger
}

// NewLifecycleService creates the lifecycle service. publisher may be nil
// for a single instance.
func NewLifecycleService(store LifecycleStore, index LiveIndex, spend SpendReader, publisher Publisher, registry *models.TargetRegistry, limits models.BidLimits, logger log.Logger) LifecycleService {
	if registry == nil {
		registry = models.NewTargetRegistry()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &lifecycleService{
		store:     store,
		index:     index,
		spend:     spend,
		publisher: publisher,
		registry:  registry,
		limits:    limits,
		logger:    log.With(logger, "component", "lifecycle"),
	}
}

func (s *lifecycleService) CreateCampaign(ctx context.Context, c models.Campaign) (models.Campaign, error) {
	if c.Status == "" {
		c.Status = models.StatusActive
	}
	if c.Status != models.StatusActive && c.Status != models.StatusPaused {
		return models.Campaign{}, fmt.Errorf("%w: new campaigns start active or paused", models.ErrInvalidCampaign)
	}
	if c.BiddingMode == "" {
		c.BiddingMode = models.BiddingModeManual
	}
	if err := c.Validate(); err != nil {
		return models.Campaign{}, err
	}
	c.SpentToday = decimal.Zero

	if err := s.store.CreateCampaign(ctx, &c); err != nil {
		return models.Campaign{}, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.changed(ctx, cache.Invalidation{Kind: cache.InvalidateCampaign, ID: c.ID}, true)
	level.Info(s.logger).Log("msg", "campaign created", "campaign_id", c.ID, "owner_id", c.OwnerID, "type", c.Type, "daily_budget", c.DailyBudget.String())
	return c, nil
}

// GetCampaign returns the live campaign with today's ledger spend filled in
func (s *lifecycleService) GetCampaign(ctx context.Context, id string) (models.Campaign, error) {
	c, err := s.index.Campaign(ctx, id)
	if err != nil {
		return models.Campaign{}, err
	}
	if s.spend != nil {
		spent, err := s.spend.SpentToday(ctx, id)
		if err != nil {
			level.Warn(s.logger).Log("msg", "spend unavailable", "campaign_id", id, "err", err)
		} else {
			c.SpentToday = spent
		}
	}
	return c, nil
}

func (s *lifecycleService) PauseCampaign(ctx context.Context, id string) error {
	if err := s.store.SetCampaignStatus(ctx, id, models.StatusPaused, models.PauseReasonManual); err != nil {
		return err
	}
	s.index.PauseCampaign(id, models.PauseReasonManual)
	s.changed(ctx, cache.Invalidation{Kind: cache.InvalidateCampaign, ID: id}, false)
	level.Info(s.logger).Log("msg", "campaign paused", "campaign_id", id)
	return nil
}

// ResumeCampaign reactivates a paused campaign. Ended campaigns stay ended.
func (s *lifecycleService) ResumeCampaign(ctx context.Context, id string) error {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == models.StatusEnded {
		return fmt.Errorf("%w: campaign %s has ended", models.ErrInvalidCampaign, id)
	}

	if err := s.store.SetCampaignStatus(ctx, id, models.StatusActive, models.PauseReasonNone); err != nil {
		return err
	}
	s.index.ResumeCampaign(id)
	s.changed(ctx, cache.Invalidation{Kind: cache.InvalidateCampaign, ID: id}, false)
	level.Info(s.logger).Log("msg", "campaign resumed", "campaign_id", id)
	return nil
}

func (s *lifecycleService) DeleteCampaign(ctx context.Context, id string) error {
	if err := s.store.DeleteCampaign(ctx, id); err != nil {
		return err
	}
	s.index.RemoveCampaign(id)
	s.changed(ctx, cache.Invalidation{Kind: cache.InvalidateCampaign, ID: id}, false)
	level.Info(s.logger).Log("msg", "campaign deleted", "campaign_id", id)
	return nil
}

// UpsertBid validates a bid against the platform limits and the target
// registry before storing it
func (s *lifecycleService) UpsertBid(ctx context.Context, b models.Bid) (models.Bid, error) {
	if err := b.Validate(s.limits); err != nil {
		return models.Bid{}, err
	}
	if err := s.registry.ValidateTarget(b.Target); err != nil {
		return models.Bid{}, fmt.Errorf("%w: %v", models.ErrInvalidBid, err)
	}
	b.Target.Value = strings.TrimSpace(b.Target.Value)

	if err := s.store.UpsertBid(ctx, &b); err != nil {
		return models.Bid{}, err
	}

	s.changed(ctx, cache.Invalidation{Kind: cache.InvalidateBid, ID: b.ID}, true)
	level.Info(s.logger).Log("msg", "bid stored", "bid_id", b.ID, "campaign_id", b.CampaignID, "target_type", b.Target.Type, "amount", b.Amount.String())
	return b, nil
}

func (s *lifecycleService) SetBidStatus(ctx context.Context, id string, status models.BidStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", models.ErrInvalidBid, status)
	}
	if err := s.store.SetBidStatus(ctx, id, status); err != nil {
		return err
	}
	s.changed(ctx, cache.Invalidation{Kind: cache.InvalidateBid, ID: id}, true)
	return nil
}

func (s *lifecycleService) GetStats(ctx context.Context, bidID string) (models.BidStats, error) {
	return s.store.GetStats(ctx, bidID)
}

func (s *lifecycleService) ListEvents(ctx context.Context, bidID string, limit int) ([]models.AuctionEvent, error) {
	if limit <= 0 || limit > DefaultEventLimit {
		limit = DefaultEventLimit
	}
	return s.store.ListEvents(ctx, bidID, limit)
}

// changed publishes an invalidation and optionally rebuilds the local index.
// The durable write already succeeded, so failures here are only logged.
func (s *lifecycleService) changed(ctx context.Context, inv cache.Invalidation, refresh bool) {
	if refresh {
		if err := s.index.Refresh(ctx); err != nil {
			level.Warn(s.logger).Log("msg", "index refresh failed", "kind", inv.Kind, "id", inv.ID, "err", err)
		}
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, inv); err != nil {
		level.Warn(s.logger).Log("msg", "invalidation not published", "kind", inv.Kind, "id", inv.ID, "err", err)
	}
}
