package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// AdService is the engine's library boundary: auctions and event tracking
type AdService interface {
	RunAuction(ctx context.Context, actx models.AuctionContext, slots int) (models.AuctionResult, error)
	RecordImpression(ctx context.Context, imp models.Impression) (string, error)
	RecordClick(ctx context.Context, click models.Click) (models.ClickResult, error)
	RecordConversion(ctx context.Context, conv models.Conversion) (string, error)
}

// Auctioneer runs auctions
type Auctioneer interface {
	RunAuction(ctx context.Context, actx models.AuctionContext, slotCount int) (models.AuctionResult, error)
}

// EventRecorder ingests tracked events
type EventRecorder interface {
	RecordImpression(ctx context.Context, imp models.Impression) (string, error)
	RecordClick(ctx context.Context, click models.Click) (models.ClickResult, error)
	RecordConversion(ctx context.Context, conv models.Conversion) (string, error)
}

type adService struct {
	auctions Auctioneer
	events   EventRecorder
}

// NewAdService creates the ad service
func NewAdService(auctions Auctioneer, events EventRecorder) AdService {
	return &adService{
		auctions: auctions,
		events:   events,
	}
}

// RunAuction validates the context and runs one auction. An empty result
// means the caller falls back to organic results.
func (s *adService) RunAuction(ctx context.Context, actx models.AuctionContext, slots int) (models.AuctionResult, error) {
	check := actx
	check.Normalize()
	if err := check.Validate(); err != nil {
		return nil, err
	}
	if slots < 0 {
		return nil, fmt.Errorf("%w: slots must not be negative", models.ErrInvalidAuctionContext)
	}

	result, err := s.auctions.RunAuction(ctx, actx, slots)
	if err != nil {
		if errors.Is(err, models.ErrInvalidAuctionContext) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to run auction: %w", err)
	}
	return result, nil
}

func (s *adService) RecordImpression(ctx context.Context, imp models.Impression) (string, error) {
	return s.events.RecordImpression(ctx, imp)
}

// RecordClick charges and records a click. ErrInsufficientBudget and
// ErrNotFound are soft outcomes: the user's navigation proceeds either way.
func (s *adService) RecordClick(ctx context.Context, click models.Click) (models.ClickResult, error) {
	return s.events.RecordClick(ctx, click)
}

func (s *adService) RecordConversion(ctx context.Context, conv models.Conversion) (string, error) {
	return s.events.RecordConversion(ctx, conv)
}
