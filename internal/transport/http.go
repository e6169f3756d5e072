package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/endpoint"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// errMalformedBody marks a request body that is not valid JSON
var errMalformedBody = errors.New("malformed request body")

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// HealthStatus receives per-dependency health for metrics
type HealthStatus interface {
	SetHealthCheckStatus(checkType string, healthy bool)
}

// Options configures the HTTP handler
type Options struct {
	Service string
	Version string
	// Checks are run by /health, keyed by dependency name
	Checks map[string]HealthCheck
	Health HealthStatus
	// Middlewares wrap every route, outermost first
	Middlewares []mux.MiddlewareFunc
	// Metrics serves /metrics when set
	Metrics http.Handler
	Logger  log.Logger
}

// NewHTTPHandler creates HTTP handlers for the ad and lifecycle services
func NewHTTPHandler(ad endpoint.AdEndpoints, lifecycle endpoint.LifecycleEndpoints, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(encodeError),
		httptransport.ServerErrorHandler(errorHandler{logger: logger}),
	}

	r := mux.NewRouter()
	for _, mw := range opts.Middlewares {
		r.Use(mw)
	}

	r.Handle("/v1/auctions", httptransport.NewServer(ad.AuctionEndpoint, decodeAuctionRequest, encodeAuctionResponse, options...)).Methods(http.MethodPost)
	r.Handle("/v1/events/impressions", httptransport.NewServer(ad.ImpressionEndpoint, decodeJSON[models.Impression], encodeCreated, options...)).Methods(http.MethodPost)
	r.Handle("/v1/events/clicks", httptransport.NewServer(ad.ClickEndpoint, decodeJSON[models.Click], encodeResponse, options...)).Methods(http.MethodPost)
	r.Handle("/v1/events/conversions", httptransport.NewServer(ad.ConversionEndpoint, decodeJSON[models.Conversion], encodeCreated, options...)).Methods(http.MethodPost)

	r.Handle("/v1/campaigns", httptransport.NewServer(lifecycle.CreateCampaignEndpoint, decodeJSON[models.Campaign], encodeCreated, options...)).Methods(http.MethodPost)
	r.Handle("/v1/campaigns/{id}", httptransport.NewServer(lifecycle.GetCampaignEndpoint, decodeIDRequest, encodeResponse, options...)).Methods(http.MethodGet)
	r.Handle("/v1/campaigns/{id}", httptransport.NewServer(lifecycle.DeleteCampaignEndpoint, decodeIDRequest, encodeResponse, options...)).Methods(http.MethodDelete)
	r.Handle("/v1/campaigns/{id}/pause", httptransport.NewServer(lifecycle.PauseCampaignEndpoint, decodeIDRequest, encodeResponse, options...)).Methods(http.MethodPost)
	r.Handle("/v1/campaigns/{id}/resume", httptransport.NewServer(lifecycle.ResumeCampaignEndpoint, decodeIDRequest, encodeResponse, options...)).Methods(http.MethodPost)

	r.Handle("/v1/bids", httptransport.NewServer(lifecycle.UpsertBidEndpoint, decodeJSON[models.Bid], encodeCreated, options...)).Methods(http.MethodPost)
	r.Handle("/v1/bids/{id}/status", httptransport.NewServer(lifecycle.SetBidStatusEndpoint, decodeSetBidStatusRequest, encodeResponse, options...)).Methods(http.MethodPut)
	r.Handle("/v1/bids/{id}/stats", httptransport.NewServer(lifecycle.GetStatsEndpoint, decodeIDRequest, encodeResponse, options...)).Methods(http.MethodGet)
	r.Handle("/v1/bids/{id}/events", httptransport.NewServer(lifecycle.ListEventsEndpoint, decodeListEventsRequest, encodeResponse, options...)).Methods(http.MethodGet)

	r.Handle("/health", healthHandler(opts)).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	return r
}

func decodeAuctionRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req endpoint.AuctionRequest
	if err := readJSON(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeJSON[T any](_ context.Context, r *http.Request) (interface{}, error) {
	var req T
	if err := readJSON(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

func decodeIDRequest(_ context.Context, r *http.Request) (interface{}, error) {
	return endpoint.IDRequest{ID: mux.Vars(r)["id"]}, nil
}

func decodeSetBidStatusRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req endpoint.SetBidStatusRequest
	if err := readJSON(r, &req); err != nil {
		return nil, err
	}
	req.ID = mux.Vars(r)["id"]
	return req, nil
}

func decodeListEventsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	req := endpoint.ListEventsRequest{BidID: mux.Vars(r)["id"]}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: limit must be a number", errMalformedBody)
		}
		req.Limit = limit
	}
	return req, nil
}

// encodeAuctionResponse answers 204 when no slot was filled so the caller
// renders organic results
func encodeAuctionResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	resp := response.(endpoint.AuctionResponse)
	if resp.Err != nil {
		encodeError(ctx, resp.Err, w)
		return nil
	}

	if resp.Winners.IsEmpty() {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	return writeJSON(w, http.StatusOK, resp)
}

// encodeCreated encodes resources and events created by the request
func encodeCreated(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	return encode(ctx, w, http.StatusCreated, response)
}

func encodeResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	return encode(ctx, w, http.StatusOK, response)
}

func encode(ctx context.Context, w http.ResponseWriter, status int, response interface{}) error {
	if f, ok := response.(interface{ Failed() error }); ok && f.Failed() != nil {
		encodeError(ctx, f.Failed(), w)
		return nil
	}

	switch resp := response.(type) {
	case endpoint.EmptyResponse:
		w.WriteHeader(http.StatusNoContent)
		return nil
	case endpoint.CampaignResponse:
		return writeJSON(w, status, resp.Campaign)
	case endpoint.BidResponse:
		return writeJSON(w, status, resp.Bid)
	case endpoint.StatsResponse:
		return writeJSON(w, status, resp.Stats)
	case endpoint.EventsResponse:
		events := resp.Events
		if events == nil {
			events = []models.AuctionEvent{}
		}
		return writeJSON(w, status, events)
	default:
		return writeJSON(w, status, response)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// StatusCode maps the engine's error taxonomy to HTTP statuses
func StatusCode(err error) int {
	switch {
	case errors.Is(err, errMalformedBody),
		errors.Is(err, models.ErrInvalidAuctionContext),
		errors.Is(err, models.ErrInvalidBid),
		errors.Is(err, models.ErrInvalidCampaign),
		errors.Is(err, models.ErrMalformedBid):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientBudget):
		return http.StatusConflict
	case errors.Is(err, models.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// encodeError encodes error to HTTP response
func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	status := StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	_ = writeJSON(w, status, models.NewErrorResponse(msg))
}

type errorHandler struct {
	logger log.Logger
}

func (h errorHandler) Handle(ctx context.Context, err error) {
	if StatusCode(err) == http.StatusInternalServerError {
		level.Error(h.logger).Log("msg", "request failed", "err", err)
	}
}

// healthHandler runs every dependency check. Any failure answers 503.
func healthHandler(opts Options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(opts.Checks))
		for name, check := range opts.Checks {
			err := check(ctx)
			if opts.Health != nil {
				opts.Health.SetHealthCheckStatus(name, err == nil)
			}
			if err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		response := map[string]any{
			"status":  "healthy",
			"service": opts.Service,
			"version": opts.Version,
			"checks":  checks,
		}
		if status != http.StatusOK {
			response["status"] = "unhealthy"
		}
		_ = writeJSON(w, status, response)
	})
}
