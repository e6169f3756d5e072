package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/auction"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/budget"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/endpoint"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/events"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/index"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/ledger"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/repository"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/scoring"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/service"
)

type recordedHealth map[string]bool

func (h recordedHealth) SetHealthCheckStatus(checkType string, healthy bool) {
	h[checkType] = healthy
}

// newTestServer wires the whole engine over the sample catalog
func newTestServer(t *testing.T, opts Options) (*httptest.Server, *repository.MemoryRepository) {
	t.Helper()
	logger := log.NewNopLogger()

	repo := repository.NewSampleRepository()
	ix := index.New(repo, repo, nil, logger)
	require.NoError(t, ix.Refresh(context.Background()))

	l := ledger.NewMemoryLedger()
	t.Cleanup(func() { l.Close() })

	manager := budget.NewManager(budget.Config{
		Ledger:    l,
		Campaigns: ix,
		Store:     repo,
		View:      ix,
		Calendar:  ledger.NewCalendar(time.UTC),
		MinCharge: decimal.RequireFromString("0.05"),
		Logger:    logger,
	})
	rules := auction.Rules{
		MinIncrement: decimal.RequireFromString("0.01"),
		ReservePrice: decimal.RequireFromString("0.05"),
		DefaultSlots: 3,
		MaxSlots:     5,
	}
	engine := auction.NewEngine(ix, scoring.NewScorer(nil), manager, rules, nil, logger)
	ingestor := events.NewIngestor(manager, ix, repo, nil, logger)

	ad := service.NewAdService(engine, ingestor)
	limits := models.BidLimits{Min: decimal.RequireFromString("0.05"), Max: decimal.NewFromInt(100)}
	lifecycle := service.NewLifecycleService(repo, ix, manager, nil, nil, limits, logger)

	opts.Service, opts.Version, opts.Logger = "bidbeacon", "test", logger
	handler := NewHTTPHandler(endpoint.MakeAdEndpoints(ad), endpoint.MakeLifecycleEndpoints(lifecycle), opts)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, repo
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if m, ok := raw.(map[string]any); ok {
			out = m
		} else {
			out = map[string]any{"items": raw}
		}
	}
	return resp, out
}

func TestAuctionRoute(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	t.Run("winners", func(t *testing.T) {
		resp, body := do(t, srv, http.MethodPost, "/v1/auctions", `{"query":"running shoes","placement":"search","slots":2}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		winners := body["winners"].([]any)
		require.Len(t, winners, 2)
		first := winners[0].(map[string]any)
		assert.Equal(t, "bid-acme-kw", first["bid_id"])
		assert.Equal(t, float64(1), first["slot"])
	})

	t.Run("no match is empty", func(t *testing.T) {
		resp, _ := do(t, srv, http.MethodPost, "/v1/auctions", `{"query":"garden hose"}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("empty context", func(t *testing.T) {
		resp, body := do(t, srv, http.MethodPost, "/v1/auctions", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid auction context", body["error"])
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := do(t, srv, http.MethodPost, "/v1/auctions", `{"query":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, _ := do(t, srv, http.MethodGet, "/v1/auctions", "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestClickRoute(t *testing.T) {
	srv, repo := newTestServer(t, Options{})

	resp, body := do(t, srv, http.MethodPost, "/v1/events/clicks", `{"click_id":"c-1","bid_id":"bid-acme-kw","price":"1.50"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "confirmed", body["charge_status"])
	assert.Equal(t, "1.5", body["new_spent"])

	// replay is acknowledged without a second charge
	_, body = do(t, srv, http.MethodPost, "/v1/events/clicks", `{"click_id":"c-1","bid_id":"bid-acme-kw","price":"1.50"}`)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, "1.5", body["new_spent"])

	stats, err := repo.GetStats(context.Background(), "bid-acme-kw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Clicks)

	t.Run("over budget is a soft failure", func(t *testing.T) {
		resp, body := do(t, srv, http.MethodPost, "/v1/events/clicks", `{"click_id":"c-2","bid_id":"bid-trail-kw","price":"25"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, "insufficient budget", body["reason"])
	})

	t.Run("unknown bid is a soft failure", func(t *testing.T) {
		resp, body := do(t, srv, http.MethodPost, "/v1/events/clicks", `{"click_id":"c-3","bid_id":"bid-ghost","price":"1"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["ok"])
		assert.Contains(t, body["reason"], "not found")
	})

	t.Run("non-positive price", func(t *testing.T) {
		resp, _ := do(t, srv, http.MethodPost, "/v1/events/clicks", `{"click_id":"c-4","bid_id":"bid-acme-kw","price":"0"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("price below one micro-unit", func(t *testing.T) {
		resp, _ := do(t, srv, http.MethodPost, "/v1/events/clicks", `{"click_id":"c-5","bid_id":"bid-acme-kw","price":"0.0000004"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestImpressionAndConversionRoutes(t *testing.T) {
	srv, repo := newTestServer(t, Options{})

	resp, body := do(t, srv, http.MethodPost, "/v1/events/impressions", `{"bid_id":"bid-trail-kw","context":{"query":"trail shoes"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["event_id"])

	resp, _ = do(t, srv, http.MethodPost, "/v1/events/conversions", `{"bid_id":"bid-trail-kw","order_value":"89.99"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/v1/events/impressions", `{"bid_id":"bid-ghost"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	stats, err := repo.GetStats(context.Background(), "bid-trail-kw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Impressions)
	assert.Equal(t, int64(1), stats.Conversions)
	assert.Equal(t, "89.99", stats.Revenue.String())

	resp, body = do(t, srv, http.MethodGet, "/v1/bids/bid-trail-kw/events?limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)

	resp, _ = do(t, srv, http.MethodGet, "/v1/bids/bid-trail-kw/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/v1/bids/bid-trail-kw/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["impressions"])
}

func TestCampaignLifecycleRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, body := do(t, srv, http.MethodPost, "/v1/campaigns", `{"owner_id":"seller-new","type":"search_sponsored","daily_budget":"25"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	require.NotEmpty(t, id)

	resp, body = do(t, srv, http.MethodPost, "/v1/bids", fmt.Sprintf(`{"campaign_id":%q,"target":{"type":"keyword","value":"garden hose"},"amount":"0.40"}`, id))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bidID := body["id"].(string)

	_, body = do(t, srv, http.MethodPost, "/v1/auctions", `{"query":"garden hose"}`)
	assert.Equal(t, bidID, body["winners"].([]any)[0].(map[string]any)["bid_id"])

	resp, _ = do(t, srv, http.MethodPost, "/v1/campaigns/"+id+"/pause", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/v1/auctions", `{"query":"garden hose"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/v1/campaigns/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paused", body["status"])

	resp, _ = do(t, srv, http.MethodPost, "/v1/campaigns/"+id+"/resume", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPut, "/v1/bids/"+bidID+"/status", `{"status":"paused"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/v1/auctions", `{"query":"garden hose"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/v1/campaigns/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/v1/campaigns/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLifecycleRoutes_Validation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, body := do(t, srv, http.MethodPost, "/v1/campaigns", `{"owner_id":"seller-new","type":"popup","daily_budget":"25"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "invalid campaign")

	resp, _ = do(t, srv, http.MethodPost, "/v1/bids", `{"campaign_id":"trailco","target":{"type":"keyword","value":"boots"},"amount":"500"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPut, "/v1/bids/bid-trail-kw/status", `{"status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/v1/campaigns/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthRoute(t *testing.T) {
	health := recordedHealth{}
	srv, _ := newTestServer(t, Options{
		Health: health,
		Checks: map[string]HealthCheck{
			"ledger":   func(ctx context.Context) error { return nil },
			"database": func(ctx context.Context) error { return errors.New("connection refused") },
		},
	})

	resp, body := do(t, srv, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["ledger"])
	assert.Equal(t, "connection refused", checks["database"])
	assert.Equal(t, recordedHealth{"ledger": true, "database": false}, health)
}

func TestHealthRoute_Healthy(t *testing.T) {
	srv, _ := newTestServer(t, Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})

	resp, body := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, _ = do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", models.ErrInvalidBid), http.StatusBadRequest},
		{models.ErrInvalidCampaign, http.StatusBadRequest},
		{models.ErrInvalidAuctionContext, http.StatusBadRequest},
		{fmt.Errorf("%w: bad json", errMalformedBody), http.StatusBadRequest},
		{fmt.Errorf("campaign x: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrInsufficientBudget, http.StatusConflict},
		{fmt.Errorf("%w: charge: timeout", models.ErrLedgerUnavailable), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestEncodeError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	encodeError(context.Background(), errors.New("pq: password authentication failed"), rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}
