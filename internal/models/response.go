package models

import (
	"github.com/shopspring/decimal"
)

// ErrorResponse represents error response format
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

// Winner is one filled slot of an auction with its clearing price
type Winner struct {
	BidID        string          `json:"bid_id"`
	CampaignID   string          `json:"campaign_id"`
	ProductID    string          `json:"product_id,omitempty"`
	Slot         int             `json:"slot"`
	Bid          decimal.Decimal `json:"bid"`
	QualityScore float64         `json:"quality_score"`
	AdRank       float64         `json:"ad_rank"`
	Price        decimal.Decimal `json:"price"`
}

// AuctionResult is the ordered list of winners for one auction
type AuctionResult []Winner

// IsEmpty checks if no slot was filled
func (r AuctionResult) IsEmpty() bool {
	return len(r) == 0
}

// Alert thresholds, in percent of the daily budget
var AlertThresholds = []int{75, 90, 100}

// BudgetAlert is emitted once per campaign, day and threshold
type BudgetAlert struct {
	CampaignID  string          `json:"campaign_id"`
	Day         string          `json:"day"`
	Threshold   int             `json:"threshold"`
	Spent       decimal.Decimal `json:"spent"`
	DailyBudget decimal.Decimal `json:"daily_budget"`
}
