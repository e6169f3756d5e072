package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/budget"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/index"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/ledger"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/metrics"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/repository"
)

var errTimeout = fmt.Errorf("%w: charge: i/o timeout", models.ErrLedgerUnavailable)

// flakyLedger wraps the memory ledger with switchable failures. lostReply
// applies the charge and then reports a timeout.
type flakyLedger struct {
	*ledger.MemoryLedger

	mu         sync.Mutex
	chargeDown bool
	lostReply  bool
}

func (f *flakyLedger) set(chargeDown, lostReply bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeDown, f.lostReply = chargeDown, lostReply
}

func (f *flakyLedger) Charge(ctx context.Context, c ledger.Charge) (ledger.Result, error) {
	f.mu.Lock()
	down, lost := f.chargeDown, f.lostReply
	f.mu.Unlock()

	if down {
		return ledger.Result{}, errTimeout
	}
	res, err := f.MemoryLedger.Charge(ctx, c)
	if err == nil && lost {
		return ledger.Result{}, errTimeout
	}
	return res, err
}

type fixture struct {
	ingestor   *Ingestor
	reconciler *Reconciler
	budget     *budget.Manager
	ledger     *flakyLedger
	repo       *repository.MemoryRepository
	index      *index.BidIndex
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewSampleRepository()
	ix := index.New(repo, repo, nil, log.NewNopLogger())
	require.NoError(t, ix.Refresh(ctx))

	ml := ledger.NewMemoryLedger()
	t.Cleanup(func() { ml.Close() })
	fl := &flakyLedger{MemoryLedger: ml}

	m := metrics.NewMetrics(prometheus.NewRegistry())
	calendar := ledger.NewCalendar(time.UTC)
	manager := budget.NewManager(budget.Config{
		Ledger:    fl,
		Campaigns: ix,
		Store:     repo,
		View:      ix,
		Recorder:  m,
		Calendar:  calendar,
		MinCharge: decimal.RequireFromString("0.05"),
		Logger:    log.NewNopLogger(),
	})

	return &fixture{
		ingestor:   NewIngestor(manager, ix, repo, m, log.NewNopLogger()),
		reconciler: NewReconciler(manager, repo, calendar, 0, m, log.NewNopLogger()),
		budget:     manager,
		ledger:     fl,
		repo:       repo,
		index:      ix,
		metrics:    m,
	}
}

func click(id, bidID, price string) models.Click {
	return models.Click{
		ClickID: id,
		BidID:   bidID,
		Price:   decimal.RequireFromString(price),
		Context: models.AuctionContext{Query: "running shoes", Placement: models.PlacementSearch},
	}
}

func (f *fixture) spent(t *testing.T, campaignID string) string {
	t.Helper()
	spent, err := f.budget.SpentToday(context.Background(), campaignID)
	require.NoError(t, err)
	return spent.String()
}

func TestRecordImpression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.ingestor.RecordImpression(ctx, models.Impression{BidID: "bid-acme-kw", Context: models.AuctionContext{Query: "running shoes"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// at-least-once: a replay counts again
	_, err = f.ingestor.RecordImpression(ctx, models.Impression{BidID: "bid-acme-kw"})
	require.NoError(t, err)

	stats, err := f.repo.GetStats(ctx, "bid-acme-kw")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Impressions)

	events, err := f.repo.ListEvents(ctx, "bid-acme-kw", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventImpression, events[0].Type)
	assert.Equal(t, "acme-shoes", events[0].CampaignID)

	_, err = f.ingestor.RecordImpression(ctx, models.Impression{BidID: "bid-nope"})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.ingestor.RecordImpression(ctx, models.Impression{})
	assert.ErrorIs(t, err, models.ErrInvalidBid)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EventsTotal.WithLabelValues("impression", "not_applicable")))
}

func TestRecordClick_ChargesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ingestor.RecordClick(ctx, click("click-1", "bid-acme-kw", "1.25"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "click-1", res.EventID)
	assert.Equal(t, models.ChargeConfirmed, res.ChargeStatus)
	assert.Equal(t, "1.25", res.NewSpent.String())

	replay, err := f.ingestor.RecordClick(ctx, click("click-1", "bid-acme-kw", "1.25"))
	require.NoError(t, err)
	assert.True(t, replay.OK)
	assert.True(t, replay.Duplicate)

	assert.Equal(t, "1.25", f.spent(t, "acme-shoes"))

	stats, err := f.repo.GetStats(ctx, "bid-acme-kw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Clicks)
	assert.Equal(t, "1.25", stats.Spend.String())

	events, err := f.repo.ListEvents(ctx, "bid-acme-kw", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ChargeConfirmed, events[0].ChargeStatus)
}

func TestRecordClick_ConcurrentClicksOverBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// acme-shoes has a $50 cap
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ingestor.RecordClick(ctx, click(fmt.Sprintf("click-%d", i), "bid-acme-kw", "30"))
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrInsufficientBudget):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, "30", f.spent(t, "acme-shoes"))
}

func TestRecordClick_RejectsUnknownTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		click models.Click
		err   error
	}{
		{"unknown bid", click("c1", "bid-nope", "1"), models.ErrNotFound},
		{"campaign does not own bid", models.Click{ClickID: "c2", BidID: "bid-acme-kw", CampaignID: "trailco", Price: decimal.NewFromInt(1)}, models.ErrNotFound},
		{"zero price", click("c3", "bid-acme-kw", "0"), models.ErrInvalidBid},
		{"price below one micro-unit", click("c5", "bid-acme-kw", "0.0000004"), models.ErrInvalidBid},
		{"price finer than one micro-unit", click("c6", "bid-acme-kw", "1.0000004"), models.ErrInvalidBid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ingestor.RecordClick(ctx, tt.click)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	// deleted between auction and click
	f.index.RemoveCampaign("trailco")
	_, err := f.ingestor.RecordClick(ctx, click("c4", "bid-trail-kw", "1"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, "0", f.spent(t, "acme-shoes"))
	assert.Equal(t, "0", f.spent(t, "trailco"))
}

func TestRecordClick_PausedCampaignIsInsufficientBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.RecordClick(ctx, click("c1", "bid-trail-kw", "20"))
	require.NoError(t, err)

	_, err = f.ingestor.RecordClick(ctx, click("c2", "bid-trail-kw", "0.10"))
	assert.ErrorIs(t, err, models.ErrInsufficientBudget)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsTotal.WithLabelValues("click", "insufficient_budget")))
}

func TestRecordClick_LedgerOutageIsReconciled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.set(true, false)
	res, err := f.ingestor.RecordClick(ctx, click("click-1", "bid-acme-kw", "2"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, models.ChargeUnconfirmed, res.ChargeStatus)

	stats, err := f.repo.GetStats(ctx, "bid-acme-kw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Clicks)
	assert.True(t, stats.Spend.IsZero())

	// still down: the sweep leaves it pending
	summary, err := f.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{Pending: 1}, summary)

	f.ledger.set(false, false)
	summary, err = f.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{Confirmed: 1}, summary)

	status, ok := f.repo.Reconciliation("click-1")
	require.True(t, ok)
	assert.Equal(t, models.ChargeConfirmed, status)
	assert.Equal(t, "2", f.spent(t, "acme-shoes"))

	stats, err = f.repo.GetStats(ctx, "bid-acme-kw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Clicks)
	assert.Equal(t, "2", stats.Spend.String())

	summary, err = f.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{}, summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reconciliations.WithLabelValues("confirmed")))
}

func TestReconcile_LandedChargeIsNotAppliedTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.set(false, true)
	res, err := f.ingestor.RecordClick(ctx, click("click-1", "bid-acme-kw", "2"))
	require.NoError(t, err)
	assert.Equal(t, models.ChargeUnconfirmed, res.ChargeStatus)
	assert.Equal(t, "2", f.spent(t, "acme-shoes"))

	f.ledger.set(false, false)
	summary, err := f.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Confirmed)
	assert.Equal(t, "2", f.spent(t, "acme-shoes"))
}

func TestReconcile_WritesOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	yesterday := &models.AuctionEvent{
		ID: "old-click", Type: models.EventClick, BidID: "bid-acme-kw", CampaignID: "acme-shoes",
		Price: decimal.NewFromInt(1), ChargeStatus: models.ChargeUnconfirmed, OccurredAt: time.Now().Add(-48 * time.Hour),
	}
	overBudget := &models.AuctionEvent{
		ID: "big-click", Type: models.EventClick, BidID: "bid-trail-kw", CampaignID: "trailco",
		Price: decimal.NewFromInt(25), ChargeStatus: models.ChargeUnconfirmed,
	}
	gone := &models.AuctionEvent{
		ID: "ghost-click", Type: models.EventClick, BidID: "bid-x", CampaignID: "ghost",
		Price: decimal.NewFromInt(1), ChargeStatus: models.ChargeUnconfirmed,
	}
	for _, e := range []*models.AuctionEvent{yesterday, overBudget, gone} {
		require.NoError(t, f.repo.AppendEvent(ctx, e))
	}

	summary, err := f.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{WrittenOff: 3}, summary)

	for _, id := range []string{"old-click", "big-click", "ghost-click"} {
		status, ok := f.repo.Reconciliation(id)
		require.True(t, ok, id)
		assert.Equal(t, models.ChargeWrittenOff, status, id)
	}
	assert.Equal(t, "0", f.spent(t, "acme-shoes"))
	assert.Equal(t, "0", f.spent(t, "trailco"))
}

func TestRecordConversion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.RecordConversion(ctx, models.Conversion{BidID: "bid-acme-kw", OrderValue: decimal.RequireFromString("89.90")})
	require.NoError(t, err)

	stats, err := f.repo.GetStats(ctx, "bid-acme-kw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Conversions)
	assert.Equal(t, "89.9", stats.Revenue.String())

	_, err = f.ingestor.RecordConversion(ctx, models.Conversion{BidID: "bid-acme-kw", OrderValue: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, models.ErrInvalidBid)
	_, err = f.ingestor.RecordConversion(ctx, models.Conversion{BidID: "bid-nope"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestNewIngestor_NilLogger(t *testing.T) {
	repo := repository.NewSampleRepository()
	ix := index.New(repo, repo, nil, nil)
	require.NoError(t, ix.Refresh(context.Background()))
	ingestor := NewIngestor(nil, ix, repo, nil, nil)

	assert.NotPanics(t, func() {
		_, err := ingestor.RecordClick(context.Background(), click("c1", "bid-nope", "1"))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
