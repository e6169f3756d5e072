package models

import (
	"strings"
)

// Placement is the page slot family an auction fills
type Placement string

const (
	PlacementSearch  Placement = "search"
	PlacementBanner  Placement = "banner"
	PlacementSidebar Placement = "sidebar"
)

// CampaignType maps a placement to the campaign type allowed to fill it
func (p Placement) CampaignType() CampaignType {
	switch p {
	case PlacementSearch:
		return CampaignTypeSearchSponsored
	case PlacementBanner:
		return CampaignTypeBrandBanner
	case PlacementSidebar:
		return CampaignTypeDetailSidebar
	default:
		return ""
	}
}

// IsValid reports whether the placement is known. Empty is allowed.
func (p Placement) IsValid() bool {
	return p == "" || p.CampaignType() != ""
}

// AuctionContext is the search query, category, or product id that triggers
// a placement decision
type AuctionContext struct {
	Query     string    `json:"query,omitempty"`
	Category  string    `json:"category,omitempty"`
	ProductID string    `json:"product_id,omitempty"`
	Placement Placement `json:"placement,omitempty"`
}

// Validate checks that at least one targeting input is present
func (c *AuctionContext) Validate() error {
	if strings.TrimSpace(c.Query) == "" && strings.TrimSpace(c.Category) == "" && strings.TrimSpace(c.ProductID) == "" {
		return ErrInvalidAuctionContext
	}
	if !c.Placement.IsValid() {
		return ErrInvalidAuctionContext
	}
	return nil
}

// Normalize converts context values to a canonical form for consistent comparison
func (c *AuctionContext) Normalize() {
	c.Query = NormalizeText(c.Query)
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	c.ProductID = strings.TrimSpace(c.ProductID)
	c.Placement = Placement(strings.ToLower(strings.TrimSpace(string(c.Placement))))
}

// IsCategoryPage is true when the category is the primary input of the
// context, i.e. a category browse page without a search query
func (c *AuctionContext) IsCategoryPage() bool {
	return c.Category != "" && c.Query == "" && c.ProductID == ""
}

// NormalizeText lowercases and collapses whitespace
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokens splits normalized text into unique words, keeping first-seen order
func Tokens(s string) []string {
	fields := strings.Fields(NormalizeText(s))
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
