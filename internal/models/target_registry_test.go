package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetRegistry(t *testing.T) {
	registry := NewTargetRegistry()

	assert.Equal(t, []TargetType{TargetCategory, TargetKeyword, TargetProduct}, registry.ListTypes())

	for _, tt := range []TargetType{TargetKeyword, TargetCategory, TargetProduct} {
		processor, exists := registry.GetProcessor(tt)
		require.True(t, exists, "expected processor for %s", tt)
		assert.Equal(t, tt, processor.Type())
	}

	_, exists := registry.GetProcessor("geo")
	assert.False(t, exists)
}

func TestTargetRegistry_IndexAndLookupKeys(t *testing.T) {
	registry := NewTargetRegistry()

	assert.Equal(t,
		[]string{"index:keyword:running", "index:keyword:shoes"},
		registry.IndexKeys(Target{Type: TargetKeyword, Value: "  Running SHOES running "}))
	assert.Equal(t,
		[]string{"index:category:footwear"},
		registry.IndexKeys(Target{Type: TargetCategory, Value: "Footwear"}))
	assert.Equal(t,
		[]string{"index:product:SKU-1"},
		registry.IndexKeys(Target{Type: TargetProduct, Value: " SKU-1 "}))
	assert.Nil(t, registry.IndexKeys(Target{Type: "geo", Value: "us"}))

	ctx := AuctionContext{Query: "red shoes", Category: "footwear", ProductID: "SKU-1"}
	ctx.Normalize()
	assert.Equal(t, []string{
		"index:category:footwear",
		"index:keyword:red",
		"index:keyword:shoes",
		"index:product:SKU-1",
	}, registry.LookupKeys(ctx))
}

func TestTargetRegistry_Relevance(t *testing.T) {
	registry := NewTargetRegistry()

	tests := []struct {
		name     string
		target   Target
		ctx      AuctionContext
		expected float64
	}{
		{
			name:     "exact keyword phrase",
			target:   Target{Type: TargetKeyword, Value: "Running Shoes"},
			ctx:      AuctionContext{Query: "running  shoes"},
			expected: 1.0,
		},
		{
			name:     "partial keyword overlap",
			target:   Target{Type: TargetKeyword, Value: "running shoes"},
			ctx:      AuctionContext{Query: "shoes"},
			expected: 0.5,
		},
		{
			name:     "keyword fully contained in longer query",
			target:   Target{Type: TargetKeyword, Value: "running shoes"},
			ctx:      AuctionContext{Query: "red running shoes"},
			expected: 1.0,
		},
		{
			name:     "keyword without query",
			target:   Target{Type: TargetKeyword, Value: "shoes"},
			ctx:      AuctionContext{Category: "footwear"},
			expected: 0,
		},
		{
			name:     "category browse page",
			target:   Target{Type: TargetCategory, Value: "Footwear"},
			ctx:      AuctionContext{Category: "footwear"},
			expected: 1.0,
		},
		{
			name:     "category broad match on search page",
			target:   Target{Type: TargetCategory, Value: "footwear"},
			ctx:      AuctionContext{Query: "shoes", Category: "footwear"},
			expected: 0.3,
		},
		{
			name:     "category mismatch",
			target:   Target{Type: TargetCategory, Value: "kitchen"},
			ctx:      AuctionContext{Category: "footwear"},
			expected: 0,
		},
		{
			name:     "product exact",
			target:   Target{Type: TargetProduct, Value: "SKU-1"},
			ctx:      AuctionContext{ProductID: "SKU-1"},
			expected: 1.0,
		},
		{
			name:     "product ids are case sensitive",
			target:   Target{Type: TargetProduct, Value: "sku-1"},
			ctx:      AuctionContext{ProductID: "SKU-1"},
			expected: 0,
		},
		{
			name:     "unknown type",
			target:   Target{Type: "geo", Value: "us"},
			ctx:      AuctionContext{Query: "us"},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx
			ctx.Normalize()
			assert.InDelta(t, tt.expected, registry.Relevance(tt.target, ctx), 1e-9)
		})
	}
}

func TestTargetRegistry_ValidateTarget(t *testing.T) {
	registry := NewTargetRegistry()

	tests := []struct {
		name          string
		target        Target
		shouldBeValid bool
	}{
		{"valid keyword", Target{Type: TargetKeyword, Value: "shoes"}, true},
		{"blank keyword", Target{Type: TargetKeyword, Value: "   "}, false},
		{"valid category", Target{Type: TargetCategory, Value: "footwear"}, true},
		{"valid product", Target{Type: TargetProduct, Value: "SKU-1"}, true},
		{"product with whitespace", Target{Type: TargetProduct, Value: "SKU 1"}, false},
		{"unknown type", Target{Type: "geo", Value: "us"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidateTarget(tt.target)
			if tt.shouldBeValid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidBid))
			}
		})
	}
}
