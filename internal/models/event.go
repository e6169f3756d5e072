package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionEvent is an append-only record of an impression, click or conversion
type AuctionEvent struct {
	ID           string          `json:"id" db:"id"`
	Type         EventType       `json:"type" db:"type"`
	BidID        string          `json:"bid_id" db:"bid_id"`
	CampaignID   string          `json:"campaign_id" db:"campaign_id"`
	Context      AuctionContext  `json:"context"`
	Price        decimal.Decimal `json:"price" db:"price"`
	OrderValue   decimal.Decimal `json:"order_value" db:"order_value"`
	ChargeStatus ChargeStatus    `json:"charge_status" db:"charge_status"`
	OccurredAt   time.Time       `json:"occurred_at" db:"occurred_at"`
}

// EventType represents the kind of tracked event
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventConversion EventType = "conversion"
)

// ChargeStatus tracks whether a click's ledger charge landed
type ChargeStatus string

const (
	ChargeConfirmed     ChargeStatus = "confirmed"
	ChargeUnconfirmed   ChargeStatus = "unconfirmed"
	ChargeNotApplicable ChargeStatus = "not_applicable"
	ChargeWrittenOff    ChargeStatus = "written_off"
)

// Impression is a visibility-triggered impression report
type Impression struct {
	BidID   string         `json:"bid_id"`
	Context AuctionContext `json:"context"`
}

// Click is a click-redirect report. ClickID is the idempotency key for the
// charge; callers replaying a click must resend the same id.
type Click struct {
	ClickID    string          `json:"click_id"`
	BidID      string          `json:"bid_id"`
	CampaignID string          `json:"campaign_id"`
	Price      decimal.Decimal `json:"price"`
	Context    AuctionContext  `json:"context"`
}

// ClickResult is returned to the click-redirect caller
type ClickResult struct {
	OK           bool            `json:"ok"`
	EventID      string          `json:"event_id,omitempty"`
	ChargeStatus ChargeStatus    `json:"charge_status,omitempty"`
	NewSpent     decimal.Decimal `json:"new_spent"`
	Duplicate    bool            `json:"duplicate,omitempty"`
}

// Conversion is an order attributed to a bid
type Conversion struct {
	BidID      string          `json:"bid_id"`
	OrderValue decimal.Decimal `json:"order_value"`
}
