package endpoint

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/service"
)

// AdEndpoints holds the auction and event tracking endpoints
type AdEndpoints struct {
	AuctionEndpoint    endpoint.Endpoint
	ImpressionEndpoint endpoint.Endpoint
	ClickEndpoint      endpoint.Endpoint
	ConversionEndpoint endpoint.Endpoint
}

// MakeAdEndpoints creates endpoints for the ad service
func MakeAdEndpoints(s service.AdService) AdEndpoints {
	return AdEndpoints{
		AuctionEndpoint:    makeAuctionEndpoint(s),
		ImpressionEndpoint: makeImpressionEndpoint(s),
		ClickEndpoint:      makeClickEndpoint(s),
		ConversionEndpoint: makeConversionEndpoint(s),
	}
}

// AuctionRequest is a placement context plus the number of slots to fill.
// Zero slots means the configured default.
type AuctionRequest struct {
	models.AuctionContext
	Slots int `json:"slots,omitempty"`
}

// AuctionResponse carries the winners, empty when no slot was filled
type AuctionResponse struct {
	Winners models.AuctionResult `json:"winners"`
	Err     error                `json:"-"`
}

// Failed implements the endpoint.Failer interface
func (r AuctionResponse) Failed() error {
	return r.Err
}

// EventResponse carries the id of a recorded impression or conversion
type EventResponse struct {
	EventID string `json:"event_id,omitempty"`
	Err     error  `json:"-"`
}

// Failed implements the endpoint.Failer interface
func (r EventResponse) Failed() error {
	return r.Err
}

// ClickResponse carries the charge outcome of a click
type ClickResponse struct {
	models.ClickResult
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// Failed implements the endpoint.Failer interface
func (r ClickResponse) Failed() error {
	return r.Err
}

func makeAuctionEndpoint(s service.AdService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(AuctionRequest)
		winners, err := s.RunAuction(ctx, req.AuctionContext, req.Slots)
		return AuctionResponse{Winners: winners, Err: err}, nil
	}
}

func makeImpressionEndpoint(s service.AdService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		id, err := s.RecordImpression(ctx, request.(models.Impression))
		return EventResponse{EventID: id, Err: err}, nil
	}
}

// makeClickEndpoint turns the soft click outcomes into a negative result
// instead of a failure: the user's navigation proceeds either way
func makeClickEndpoint(s service.AdService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		res, err := s.RecordClick(ctx, request.(models.Click))
		switch {
		case err == nil:
			return ClickResponse{ClickResult: res}, nil
		case isSoftClickError(err):
			res.OK = false
			return ClickResponse{ClickResult: res, Reason: err.Error()}, nil
		default:
			return ClickResponse{Err: err}, nil
		}
	}
}

func isSoftClickError(err error) bool {
	return errors.Is(err, models.ErrInsufficientBudget) || errors.Is(err, models.ErrNotFound)
}

func makeConversionEndpoint(s service.AdService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		id, err := s.RecordConversion(ctx, request.(models.Conversion))
		return EventResponse{EventID: id, Err: err}, nil
	}
}

// RunAuction is a helper method to call the endpoint
func (e AdEndpoints) RunAuction(ctx context.Context, actx models.AuctionContext, slots int) (models.AuctionResult, error) {
	response, err := e.AuctionEndpoint(ctx, AuctionRequest{AuctionContext: actx, Slots: slots})
	if err != nil {
		return nil, err
	}
	resp := response.(AuctionResponse)
	return resp.Winners, resp.Err
}

// RecordClick is a helper method to call the endpoint
func (e AdEndpoints) RecordClick(ctx context.Context, click models.Click) (ClickResponse, error) {
	response, err := e.ClickEndpoint(ctx, click)
	if err != nil {
		return ClickResponse{}, err
	}
	resp := response.(ClickResponse)
	return resp, resp.Err
}
