package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidStats holds per-bid counters. Only the event ingestor mutates them.
type BidStats struct {
	BidID       string          `json:"bid_id" db:"bid_id"`
	Impressions int64           `json:"impressions" db:"impressions"`
	Clicks      int64           `json:"clicks" db:"clicks"`
	Conversions int64           `json:"conversions" db:"conversions"`
	Spend       decimal.Decimal `json:"spend" db:"spend"`
	Revenue     decimal.Decimal `json:"revenue" db:"revenue"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// CTR returns clicks over impressions, and false when there is no history
func (s BidStats) CTR() (float64, bool) {
	if s.Impressions <= 0 {
		return 0, false
	}
	return float64(s.Clicks) / float64(s.Impressions), true
}

// StatsDelta is an increment applied to a BidStats row
type StatsDelta struct {
	Impressions int64
	Clicks      int64
	Conversions int64
	Spend       decimal.Decimal
	Revenue     decimal.Decimal
}

// Apply adds the delta to the stats in place
func (s *BidStats) Apply(d StatsDelta, at time.Time) {
	s.Impressions += d.Impressions
	s.Clicks += d.Clicks
	s.Conversions += d.Conversions
	s.Spend = s.Spend.Add(d.Spend)
	s.Revenue = s.Revenue.Add(d.Revenue)
	s.UpdatedAt = at
}

// ProductQuality is the read-only catalog view used for landing page quality
type ProductQuality struct {
	ProductID   string  `json:"product_id" db:"product_id"`
	Rating      float64 `json:"rating" db:"rating"`
	ReviewCount int64   `json:"review_count" db:"review_count"`
}
