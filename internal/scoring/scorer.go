package scoring

import (
	"fmt"
	"math"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// Score bounds and weights
const (
	MinScore = 0.1
	MaxScore = 10.0

	// AssumedCTR is used for bids without impression history so new
	// advertisers are not starved
	AssumedCTR = 0.05

	ctrMultiplier = 200.0
	ctrCap        = 10.0

	ctrWeight       = 0.5
	relevanceWeight = 0.3
	lpqWeight       = 0.2

	neutralLPQ = 0.5
)

// Input is everything the scorer reads for one bid
type Input struct {
	Bid     models.Bid
	Stats   models.BidStats
	Product *models.ProductQuality
	Context models.AuctionContext
}

// RelevanceFunc scores a target against a context in [0, 1]
type RelevanceFunc func(target models.Target, ctx models.AuctionContext) float64

// Scorer computes quality scores. It has no state beyond its relevance
// dispatcher and is safe for concurrent use.
type Scorer struct {
	relevance RelevanceFunc
}

// NewScorer creates a scorer that dispatches relevance through the target
// registry
func NewScorer(registry *models.TargetRegistry) *Scorer {
	if registry == nil {
		registry = models.NewTargetRegistry()
	}
	return &Scorer{relevance: registry.Relevance}
}

// NewScorerWithRelevance creates a scorer with a custom relevance function
func NewScorerWithRelevance(fn RelevanceFunc) *Scorer {
	return &Scorer{relevance: fn}
}

// Breakdown exposes the components of a score
type Breakdown struct {
	CTR       float64
	Relevance float64
	LPQ       float64
	Score     float64
}

// Score returns the clamped quality score for a bid in a context
func (s *Scorer) Score(in Input) (float64, error) {
	b, err := s.Explain(in)
	if err != nil {
		return 0, err
	}
	return b.Score, nil
}

// Explain returns the score together with its components
func (s *Scorer) Explain(in Input) (Breakdown, error) {
	if in.Stats.Impressions < 0 || in.Stats.Clicks < 0 {
		return Breakdown{}, fmt.Errorf("%w: negative counters for bid %s", models.ErrMalformedBid, in.Bid.ID)
	}

	rel := s.relevance(in.Bid.Target, in.Context)
	if !isFinite(rel) {
		return Breakdown{}, fmt.Errorf("%w: non-finite relevance for bid %s", models.ErrMalformedBid, in.Bid.ID)
	}

	ctr := CTRComponent(in.Stats)
	relevance := clamp(rel, 0, 1)
	lpq, err := LPQComponent(in.Product)
	if err != nil {
		return Breakdown{}, fmt.Errorf("%w: bid %s: %v", models.ErrMalformedBid, in.Bid.ID, err)
	}

	raw := ctr*ctrWeight + relevance*relevanceWeight + lpq*lpqWeight
	if !isFinite(raw) {
		return Breakdown{}, fmt.Errorf("%w: non-finite score for bid %s", models.ErrMalformedBid, in.Bid.ID)
	}

	return Breakdown{
		CTR:       ctr,
		Relevance: relevance,
		LPQ:       lpq,
		Score:     clamp(raw, MinScore, MaxScore),
	}, nil
}

// CTRComponent is min(CTR × 200, 10), using the assumed CTR when the bid has
// no impressions
func CTRComponent(stats models.BidStats) float64 {
	ctr, ok := stats.CTR()
	if !ok {
		ctr = AssumedCTR
	}
	return math.Min(ctr*ctrMultiplier, ctrCap)
}

// LPQComponent derives landing page quality from the linked product. An
// unknown product is neutral.
func LPQComponent(p *models.ProductQuality) (float64, error) {
	if p == nil {
		return neutralLPQ, nil
	}
	if !isFinite(p.Rating) {
		return 0, fmt.Errorf("rating is not finite")
	}

	rating := clamp(p.Rating, 0, 5)
	reviews := 0.0
	if p.ReviewCount > 0 {
		reviews = math.Min(float64(p.ReviewCount)/100, 1)
	}
	return (rating/5)*0.7 + reviews*0.3, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
