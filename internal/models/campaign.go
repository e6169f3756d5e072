package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Campaign is a seller-funded advertising budget with its own daily cap.
// A seller could for example run a search-sponsored campaign promoting a
// handful of products with a $50 daily budget.
type Campaign struct {
	ID          string          `json:"id" db:"id"`
	OwnerID     string          `json:"owner_id" db:"owner_id"`
	Type        CampaignType    `json:"type" db:"type"`
	Status      CampaignStatus  `json:"status" db:"status"`
	PauseReason PauseReason     `json:"pause_reason,omitempty" db:"pause_reason"`
	DailyBudget decimal.Decimal `json:"daily_budget" db:"daily_budget"`
	// SpentToday is informational only. The ledger is authoritative.
	SpentToday  decimal.Decimal `json:"spent_today" db:"spent_today"`
	BiddingMode BiddingMode     `json:"bidding_mode" db:"bidding_mode"`
	Targeting   Targeting       `json:"targeting" db:"targeting"`
	ProductIDs  []string        `json:"product_ids" db:"product_ids"`
	StartDate   time.Time       `json:"start_date" db:"start_date"`
	EndDate     *time.Time      `json:"end_date,omitempty" db:"end_date"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// CampaignType is the placement family a campaign buys
type CampaignType string

// enum values for CampaignType
const (
	CampaignTypeSearchSponsored CampaignType = "search_sponsored"
	CampaignTypeBrandBanner     CampaignType = "brand_banner"
	CampaignTypeDetailSidebar   CampaignType = "detail_sidebar"
)

// IsValid reports whether the type is a known placement family
func (t CampaignType) IsValid() bool {
	return t == CampaignTypeSearchSponsored || t == CampaignTypeBrandBanner || t == CampaignTypeDetailSidebar
}

// CampaignStatus represents the status of a campaign
type CampaignStatus string

// enum values for CampaignStatus
const (
	StatusActive CampaignStatus = "active"
	StatusPaused CampaignStatus = "paused"
	StatusEnded  CampaignStatus = "ended"
)

// PauseReason records why a campaign was paused
type PauseReason string

const (
	PauseReasonNone            PauseReason = ""
	PauseReasonManual          PauseReason = "manual"
	PauseReasonBudgetExhausted PauseReason = "budget_exhausted"
)

// BiddingMode is manual or automatic
type BiddingMode string

const (
	BiddingModeManual    BiddingMode = "manual"
	BiddingModeAutomatic BiddingMode = "automatic"
)

// Targeting narrows where a campaign's bids may serve
type Targeting struct {
	Keywords   []string `json:"keywords,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// IsActive returns true if campaign is active and, when an end date is set,
// the end date has not passed.
func (c *Campaign) IsActive() bool {
	return c.IsActiveAt(time.Now())
}

// IsActiveAt is IsActive evaluated at a given instant
func (c *Campaign) IsActiveAt(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if !c.StartDate.IsZero() && now.Before(c.StartDate) {
		return false
	}
	if c.EndDate != nil && !now.Before(*c.EndDate) {
		return false
	}
	return true
}

// ServesPlacement reports whether the campaign may fill the given placement.
// An empty placement accepts every campaign type.
func (c *Campaign) ServesPlacement(p Placement) bool {
	if p == "" {
		return true
	}
	return p.CampaignType() == c.Type
}

// Validate checks the campaign before it reaches durable storage
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.OwnerID) == "" {
		return fmt.Errorf("%w: owner_id is required", ErrInvalidCampaign)
	}
	if !c.Type.IsValid() {
		return fmt.Errorf("%w: invalid campaign type", ErrInvalidCampaign)
	}
	if !c.DailyBudget.IsPositive() {
		return fmt.Errorf("%w: daily_budget must be positive", ErrInvalidCampaign)
	}
	if c.BiddingMode != "" && c.BiddingMode != BiddingModeManual && c.BiddingMode != BiddingModeAutomatic {
		return fmt.Errorf("%w: invalid bidding_mode", ErrInvalidCampaign)
	}
	if c.EndDate != nil && !c.StartDate.IsZero() && !c.EndDate.After(c.StartDate) {
		return fmt.Errorf("%w: end_date must be after start_date", ErrInvalidCampaign)
	}
	return nil
}
