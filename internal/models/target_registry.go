package models

import (
	"fmt"
	"sort"
)

// TargetProcessor defines how one targeting variant is indexed, looked up and
// scored for relevance
type TargetProcessor interface {
	// Type returns the target type this processor handles
	Type() TargetType

	// NormalizeValue normalizes a value for consistent comparison
	NormalizeValue(value string) string

	// IndexValues returns the normalized values a bid target is indexed under
	IndexValues(target Target) []string

	// LookupValues returns the normalized values to probe for an auction context
	LookupValues(ctx AuctionContext) []string

	// ValidateTarget checks if a bid target is valid for this variant
	ValidateTarget(target Target) error

	// Relevance scores a target against a context in [0, 1]
	Relevance(target Target, ctx AuctionContext) float64
}

// TargetRegistry manages all available target processors
type TargetRegistry struct {
	processors map[TargetType]TargetProcessor
}

// NewTargetRegistry creates a new registry with the keyword, category and
// product processors
func NewTargetRegistry() *TargetRegistry {
	registry := &TargetRegistry{
		processors: make(map[TargetType]TargetProcessor),
	}

	registry.RegisterProcessor(NewKeywordProcessor())
	registry.RegisterProcessor(NewCategoryProcessor())
	registry.RegisterProcessor(NewProductProcessor())

	return registry
}

// RegisterProcessor adds a target processor to the registry
func (tr *TargetRegistry) RegisterProcessor(processor TargetProcessor) {
	tr.processors[processor.Type()] = processor
}

// GetProcessor retrieves a target processor by type
func (tr *TargetRegistry) GetProcessor(t TargetType) (TargetProcessor, bool) {
	processor, exists := tr.processors[t]
	return processor, exists
}

// ListTypes returns the registered target types in a stable order
func (tr *TargetRegistry) ListTypes() []TargetType {
	types := make([]TargetType, 0, len(tr.processors))
	for t := range tr.processors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ValidateTarget validates a bid target using the appropriate processor
func (tr *TargetRegistry) ValidateTarget(target Target) error {
	processor, exists := tr.processors[target.Type]
	if !exists {
		return fmt.Errorf("%w: unknown target type %q", ErrInvalidBid, target.Type)
	}
	return processor.ValidateTarget(target)
}

// IndexKeys returns every index key a bid target should be stored under
func (tr *TargetRegistry) IndexKeys(target Target) []string {
	processor, exists := tr.processors[target.Type]
	if !exists {
		return nil
	}
	values := processor.IndexValues(target)
	keys := make([]string, 0, len(values))
	for _, v := range values {
		keys = append(keys, BuildIndexKey(target.Type, v))
	}
	return keys
}

// LookupKeys returns every index key to probe for a context, across all
// registered target types
func (tr *TargetRegistry) LookupKeys(ctx AuctionContext) []string {
	var keys []string
	for _, t := range tr.ListTypes() {
		for _, v := range tr.processors[t].LookupValues(ctx) {
			keys = append(keys, BuildIndexKey(t, v))
		}
	}
	return keys
}

// Relevance dispatches relevance scoring on the target tag. Unknown types
// score zero.
func (tr *TargetRegistry) Relevance(target Target, ctx AuctionContext) float64 {
	processor, exists := tr.processors[target.Type]
	if !exists {
		return 0
	}
	return processor.Relevance(target, ctx)
}

// BuildIndexKey creates an index key for a target type and normalized value
func BuildIndexKey(t TargetType, value string) string {
	return fmt.Sprintf("index:%s:%s", t, value)
}
