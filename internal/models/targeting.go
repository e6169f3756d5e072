package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the finest precision money amounts carry, one micro-unit
const MoneyPlaces = 6

// WithinMoneyPrecision reports whether d has no digits below one micro-unit
func WithinMoneyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyPlaces))
}

// Bid is a campaign's offer for one targeting key. It only references its
// campaign, it never owns it.
type Bid struct {
	ID         string          `json:"id" db:"id"`
	CampaignID string          `json:"campaign_id" db:"campaign_id"`
	Target     Target          `json:"target"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	ProductID  string          `json:"product_id" db:"product_id"`
	Status     BidStatus       `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// Target is the tagged targeting variant of a bid
type Target struct {
	Type  TargetType `json:"type" db:"target_type"`
	Value string     `json:"value" db:"target_value"`
}

// TargetType represents targeting variants
type TargetType string

// enum values for TargetType
const (
	TargetKeyword  TargetType = "keyword"
	TargetCategory TargetType = "category"
	TargetProduct  TargetType = "product"
)

// BidStatus represents the status of a bid
type BidStatus string

const (
	BidStatusActive BidStatus = "active"
	BidStatusPaused BidStatus = "paused"
)

// IsValid methods for validation
func (tt TargetType) IsValid() bool {
	return tt == TargetKeyword || tt == TargetCategory || tt == TargetProduct
}

func (bs BidStatus) IsValid() bool {
	return bs == BidStatusActive || bs == BidStatusPaused
}

// IsActive returns true if the bid itself is active
func (b *Bid) IsActive() bool {
	return b.Status == BidStatusActive
}

// BidLimits are the platform bounds applied to every bid amount
type BidLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Validate checks if the bid is well formed and within platform bounds
func (b *Bid) Validate(limits BidLimits) error {
	if strings.TrimSpace(b.CampaignID) == "" {
		return fmt.Errorf("%w: campaign_id is required", ErrInvalidBid)
	}

	if !b.Target.Type.IsValid() {
		return fmt.Errorf("%w: invalid target type %q", ErrInvalidBid, b.Target.Type)
	}

	if strings.TrimSpace(b.Target.Value) == "" {
		return fmt.Errorf("%w: target value is required", ErrInvalidBid)
	}

	if b.Status != "" && !b.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidBid, b.Status)
	}

	if !b.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidBid)
	}

	if !WithinMoneyPrecision(b.Amount) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidBid, b.Amount, MoneyPlaces)
	}

	if !limits.Min.IsZero() && b.Amount.LessThan(limits.Min) {
		return fmt.Errorf("%w: amount %s below platform minimum %s", ErrInvalidBid, b.Amount, limits.Min)
	}

	if !limits.Max.IsZero() && b.Amount.GreaterThan(limits.Max) {
		return fmt.Errorf("%w: amount %s above platform maximum %s", ErrInvalidBid, b.Amount, limits.Max)
	}

	return nil
}
