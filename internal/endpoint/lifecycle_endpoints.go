package endpoint

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/service"
)

// LifecycleEndpoints holds the campaign and bid management endpoints
type LifecycleEndpoints struct {
	CreateCampaignEndpoint endpoint.Endpoint
	GetCampaignEndpoint    endpoint.Endpoint
	PauseCampaignEndpoint  endpoint.Endpoint
	ResumeCampaignEndpoint endpoint.Endpoint
	DeleteCampaignEndpoint endpoint.Endpoint
	UpsertBidEndpoint      endpoint.Endpoint
	SetBidStatusEndpoint   endpoint.Endpoint
	GetStatsEndpoint       endpoint.Endpoint
	ListEventsEndpoint     endpoint.Endpoint
}

// MakeLifecycleEndpoints creates endpoints for the lifecycle service
func MakeLifecycleEndpoints(s service.LifecycleService) LifecycleEndpoints {
	return LifecycleEndpoints{
		CreateCampaignEndpoint: makeCreateCampaignEndpoint(s),
		GetCampaignEndpoint:    makeGetCampaignEndpoint(s),
		PauseCampaignEndpoint:  makeCampaignActionEndpoint(s.PauseCampaign),
		ResumeCampaignEndpoint: makeCampaignActionEndpoint(s.ResumeCampaign),
		DeleteCampaignEndpoint: makeCampaignActionEndpoint(s.DeleteCampaign),
		UpsertBidEndpoint:      makeUpsertBidEndpoint(s),
		SetBidStatusEndpoint:   makeSetBidStatusEndpoint(s),
		GetStatsEndpoint:       makeGetStatsEndpoint(s),
		ListEventsEndpoint:     makeListEventsEndpoint(s),
	}
}

// IDRequest addresses one campaign or bid
type IDRequest struct {
	ID string
}

// SetBidStatusRequest pauses or activates one bid
type SetBidStatusRequest struct {
	ID     string           `json:"-"`
	Status models.BidStatus `json:"status"`
}

// ListEventsRequest pages a bid's newest events
type ListEventsRequest struct {
	BidID string
	Limit int
}

// CampaignResponse carries one campaign
type CampaignResponse struct {
	Campaign models.Campaign
	Err      error
}

// Failed implements the endpoint.Failer interface
func (r CampaignResponse) Failed() error {
	return r.Err
}

// BidResponse carries one bid
type BidResponse struct {
	Bid models.Bid
	Err error
}

// Failed implements the endpoint.Failer interface
func (r BidResponse) Failed() error {
	return r.Err
}

// StatsResponse carries a bid's counters
type StatsResponse struct {
	Stats models.BidStats
	Err   error
}

// Failed implements the endpoint.Failer interface
func (r StatsResponse) Failed() error {
	return r.Err
}

// EventsResponse carries a page of events
type EventsResponse struct {
	Events []models.AuctionEvent
	Err    error
}

// Failed implements the endpoint.Failer interface
func (r EventsResponse) Failed() error {
	return r.Err
}

// EmptyResponse is returned by state changes without a body
type EmptyResponse struct {
	Err error
}

// Failed implements the endpoint.Failer interface
func (r EmptyResponse) Failed() error {
	return r.Err
}

func makeCreateCampaignEndpoint(s service.LifecycleService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		c, err := s.CreateCampaign(ctx, request.(models.Campaign))
		return CampaignResponse{Campaign: c, Err: err}, nil
	}
}

func makeGetCampaignEndpoint(s service.LifecycleService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		c, err := s.GetCampaign(ctx, request.(IDRequest).ID)
		return CampaignResponse{Campaign: c, Err: err}, nil
	}
}

func makeCampaignActionEndpoint(action func(ctx context.Context, id string) error) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return EmptyResponse{Err: action(ctx, request.(IDRequest).ID)}, nil
	}
}

func makeUpsertBidEndpoint(s service.LifecycleService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		b, err := s.UpsertBid(ctx, request.(models.Bid))
		return BidResponse{Bid: b, Err: err}, nil
	}
}

func makeSetBidStatusEndpoint(s service.LifecycleService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(SetBidStatusRequest)
		return EmptyResponse{Err: s.SetBidStatus(ctx, req.ID, req.Status)}, nil
	}
}

func makeGetStatsEndpoint(s service.LifecycleService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		stats, err := s.GetStats(ctx, request.(IDRequest).ID)
		return StatsResponse{Stats: stats, Err: err}, nil
	}
}

func makeListEventsEndpoint(s service.LifecycleService) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(ListEventsRequest)
		events, err := s.ListEvents(ctx, req.BidID, req.Limit)
		return EventsResponse{Events: events, Err: err}, nil
	}
}
