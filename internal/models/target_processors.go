package models

import (
	"fmt"
	"strings"
)

// Relevance weights
const (
	RelevanceExact      = 1.0
	RelevanceBroadMatch = 0.3
)

// KeywordProcessor handles keyword targeting against the search query
type KeywordProcessor struct{}

func NewKeywordProcessor() TargetProcessor {
	return &KeywordProcessor{}
}

func (kp *KeywordProcessor) Type() TargetType {
	return TargetKeyword
}

func (kp *KeywordProcessor) NormalizeValue(value string) string {
	return NormalizeText(value)
}

// IndexValues indexes a keyword phrase under each of its words so partial
// queries still find it
func (kp *KeywordProcessor) IndexValues(target Target) []string {
	return Tokens(target.Value)
}

func (kp *KeywordProcessor) LookupValues(ctx AuctionContext) []string {
	return Tokens(ctx.Query)
}

func (kp *KeywordProcessor) ValidateTarget(target Target) error {
	if len(Tokens(target.Value)) == 0 {
		return fmt.Errorf("%w: keyword target must contain at least one word", ErrInvalidBid)
	}
	return nil
}

// Relevance is 1.0 for an exact phrase match, otherwise the share of the
// target's words present in the query
func (kp *KeywordProcessor) Relevance(target Target, ctx AuctionContext) float64 {
	query := kp.NormalizeValue(ctx.Query)
	if query == "" {
		return 0
	}
	if kp.NormalizeValue(target.Value) == query {
		return RelevanceExact
	}

	targetTokens := Tokens(target.Value)
	if len(targetTokens) == 0 {
		return 0
	}
	queryTokens := make(map[string]struct{})
	for _, tok := range Tokens(query) {
		queryTokens[tok] = struct{}{}
	}

	overlap := 0
	for _, tok := range targetTokens {
		if _, ok := queryTokens[tok]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(targetTokens))
}

// CategoryProcessor handles category targeting
type CategoryProcessor struct{}

func NewCategoryProcessor() TargetProcessor {
	return &CategoryProcessor{}
}

func (cp *CategoryProcessor) Type() TargetType {
	return TargetCategory
}

func (cp *CategoryProcessor) NormalizeValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func (cp *CategoryProcessor) IndexValues(target Target) []string {
	v := cp.NormalizeValue(target.Value)
	if v == "" {
		return nil
	}
	return []string{v}
}

func (cp *CategoryProcessor) LookupValues(ctx AuctionContext) []string {
	v := cp.NormalizeValue(ctx.Category)
	if v == "" {
		return nil
	}
	return []string{v}
}

func (cp *CategoryProcessor) ValidateTarget(target Target) error {
	if cp.NormalizeValue(target.Value) == "" {
		return fmt.Errorf("%w: category target cannot be empty", ErrInvalidBid)
	}
	return nil
}

// Relevance is exact on a category browse page and a broad match when the
// category only accompanies a search query or product page
func (cp *CategoryProcessor) Relevance(target Target, ctx AuctionContext) float64 {
	category := cp.NormalizeValue(ctx.Category)
	if category == "" || cp.NormalizeValue(target.Value) != category {
		return 0
	}
	if ctx.IsCategoryPage() {
		return RelevanceExact
	}
	return RelevanceBroadMatch
}

// ProductProcessor handles product id targeting on product detail pages
type ProductProcessor struct{}

func NewProductProcessor() TargetProcessor {
	return &ProductProcessor{}
}

func (pp *ProductProcessor) Type() TargetType {
	return TargetProduct
}

func (pp *ProductProcessor) NormalizeValue(value string) string {
	// Product IDs are case-sensitive, only trim whitespace
	return strings.TrimSpace(value)
}

func (pp *ProductProcessor) IndexValues(target Target) []string {
	v := pp.NormalizeValue(target.Value)
	if v == "" {
		return nil
	}
	return []string{v}
}

func (pp *ProductProcessor) LookupValues(ctx AuctionContext) []string {
	v := pp.NormalizeValue(ctx.ProductID)
	if v == "" {
		return nil
	}
	return []string{v}
}

func (pp *ProductProcessor) ValidateTarget(target Target) error {
	trimmed := pp.NormalizeValue(target.Value)
	if trimmed == "" {
		return fmt.Errorf("%w: product target cannot be empty", ErrInvalidBid)
	}
	if strings.ContainsAny(trimmed, " \t\n") {
		return fmt.Errorf("%w: product id cannot contain whitespace", ErrInvalidBid)
	}
	return nil
}

func (pp *ProductProcessor) Relevance(target Target, ctx AuctionContext) float64 {
	if pp.NormalizeValue(ctx.ProductID) == "" {
		return 0
	}
	if pp.NormalizeValue(target.Value) == pp.NormalizeValue(ctx.ProductID) {
		return RelevanceExact
	}
	return 0
}
