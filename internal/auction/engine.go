// Package auction runs quality-weighted second-price auctions over the bid
// index
package auction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/index"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/scoring"
)

// pricePlaces is the precision clearing prices are rounded to
const pricePlaces = models.MoneyPlaces

// maxConcurrentChecks bounds eligibility lookups in flight per auction
const maxConcurrentChecks = 16

// CandidateSource finds bids targeting a context
type CandidateSource interface {
	Lookup(actx models.AuctionContext) []index.Candidate
}

// QualityScorer rates a bid in a context
type QualityScorer interface {
	Score(in scoring.Input) (float64, error)
}

// Budget decides whether a campaign may enter an auction
type Budget interface {
	Eligible(ctx context.Context, c models.Campaign) bool
}

// Recorder receives auction metrics
type Recorder interface {
	RecordAuction(placement string, winners int, duration float64)
	RecordBidSkipped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuction(string, int, float64) {}
func (nopRecorder) RecordBidSkipped(string)            {}

// Rules are the platform pricing and slot limits
type Rules struct {
	MinIncrement decimal.Decimal
	ReservePrice decimal.Decimal
	DefaultSlots int
	MaxSlots     int
}

// Engine selects winners and clearing prices. It never writes to the ledger
// or to stats.
type Engine struct {
	candidates CandidateSource
	scorer     QualityScorer
	budget     Budget
	rules      Rules
	recorder   Recorder
	logger     log.Logger
}

// NewEngine creates an auction engine. A nil recorder disables metrics and a
// nil logger discards logs.
func NewEngine(candidates CandidateSource, scorer QualityScorer, budget Budget, rules Rules, recorder Recorder, logger log.Logger) *Engine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if rules.DefaultSlots <= 0 {
		rules.DefaultSlots = 1
	}
	if rules.MaxSlots < rules.DefaultSlots {
		rules.MaxSlots = rules.DefaultSlots
	}
	return &Engine{
		candidates: candidates,
		scorer:     scorer,
		budget:     budget,
		rules:      rules,
		recorder:   recorder,
		logger:     log.With(logger, "component", "auction"),
	}
}

// ranked is a scored candidate
type ranked struct {
	index.Candidate
	quality float64
	adRank  float64
}

// RunAuction fills up to slotCount slots for the context. A slotCount of
// zero or less uses the default; counts above the maximum are clamped. No
// eligible bids yields an empty result, not an error.
func (e *Engine) RunAuction(ctx context.Context, actx models.AuctionContext, slotCount int) (models.AuctionResult, error) {
	start := time.Now()
	if err := actx.Validate(); err != nil {
		return nil, err
	}
	actx.Normalize()

	slots := e.slots(slotCount)
	cands := e.candidates.Lookup(actx)
	eligible, err := e.filterEligible(ctx, cands)
	if err != nil {
		return nil, err
	}

	ranking := e.rank(actx, eligible)

	result := make(models.AuctionResult, 0, min(slots, len(ranking)))
	for i := 0; i < len(ranking) && i < slots; i++ {
		w := ranking[i]
		var next *ranked
		if i+1 < len(ranking) {
			next = &ranking[i+1]
		}
		result = append(result, models.Winner{
			BidID:        w.Bid.ID,
			CampaignID:   w.Campaign.ID,
			ProductID:    w.Bid.ProductID,
			Slot:         i + 1,
			Bid:          w.Bid.Amount,
			QualityScore: w.quality,
			AdRank:       w.adRank,
			Price:        e.clearingPrice(w, next),
		})
	}

	e.recorder.RecordAuction(string(actx.Placement), len(result), time.Since(start).Seconds())
	level.Debug(e.logger).Log("msg", "auction complete", "query", actx.Query, "category", actx.Category, "product_id", actx.ProductID, "candidates", len(cands), "eligible", len(eligible), "winners", len(result))
	return result, nil
}

func (e *Engine) slots(requested int) int {
	if requested <= 0 {
		return e.rules.DefaultSlots
	}
	if requested > e.rules.MaxSlots {
		return e.rules.MaxSlots
	}
	return requested
}

// filterEligible asks the budget manager once per distinct campaign,
// concurrently. A failed check leaves the campaign out.
func (e *Engine) filterEligible(ctx context.Context, cands []index.Candidate) ([]index.Candidate, error) {
	if len(cands) == 0 {
		return nil, nil
	}

	campaigns := make(map[string]models.Campaign)
	for _, c := range cands {
		campaigns[c.Campaign.ID] = c.Campaign
	}

	var mu sync.Mutex
	eligible := make(map[string]bool, len(campaigns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for id, c := range campaigns {
		id, c := id, c
		g.Go(func() error {
			ok := e.budget.Eligible(gctx, c)
			mu.Lock()
			eligible[id] = ok
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]index.Candidate, 0, len(cands))
	for _, c := range cands {
		if !eligible[c.Campaign.ID] {
			e.recorder.RecordBidSkipped("ineligible")
			level.Debug(e.logger).Log("msg", "bid left out", "bid_id", c.Bid.ID, "campaign_id", c.Campaign.ID, "err", models.ErrIneligible)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// rank scores each candidate and sorts by ad rank. Ties go to the most
// recently updated bid, then to the lower bid id.
func (e *Engine) rank(actx models.AuctionContext, cands []index.Candidate) []ranked {
	out := make([]ranked, 0, len(cands))
	for _, c := range cands {
		quality, err := e.scorer.Score(scoring.Input{
			Bid:     c.Bid,
			Stats:   c.Stats,
			Product: c.Product,
			Context: actx,
		})
		if err != nil {
			reason := "score_error"
			if errors.Is(err, models.ErrMalformedBid) {
				reason = "malformed"
			}
			e.recorder.RecordBidSkipped(reason)
			level.Warn(e.logger).Log("msg", "skipping bid", "bid_id", c.Bid.ID, "err", err)
			continue
		}
		out = append(out, ranked{
			Candidate: c,
			quality:   quality,
			adRank:    c.Bid.Amount.InexactFloat64() * quality,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.adRank != b.adRank {
			return a.adRank > b.adRank
		}
		if !a.Bid.UpdatedAt.Equal(b.Bid.UpdatedAt) {
			return a.Bid.UpdatedAt.After(b.Bid.UpdatedAt)
		}
		return a.Bid.ID < b.Bid.ID
	})
	return out
}

// clearingPrice is next.adRank / winner.quality + minIncrement, never below
// the reserve and never above the winner's bid. Without a next bid the
// winner pays the reserve. Rounding happens before the cap so a rounded
// price cannot exceed the bid.
func (e *Engine) clearingPrice(w ranked, next *ranked) decimal.Decimal {
	price := e.rules.ReservePrice
	if next != nil {
		price = decimal.NewFromFloat(next.adRank / w.quality).Add(e.rules.MinIncrement)
		if price.LessThan(e.rules.ReservePrice) {
			price = e.rules.ReservePrice
		}
	}
	price = price.Round(pricePlaces)
	if price.GreaterThan(w.Bid.Amount) {
		price = w.Bid.Amount
	}
	return price
}
