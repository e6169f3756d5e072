package repository

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/metrics"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

func TestNewSampleRepository(t *testing.T) {
	repo := NewSampleRepository()
	ctx := context.Background()

	campaigns, err := repo.ListCampaigns(ctx)
	require.NoError(t, err)
	assert.Len(t, campaigns, 3)
	for _, c := range campaigns {
		assert.NoError(t, c.Validate(), "campaign %s", c.ID)
		assert.False(t, c.CreatedAt.IsZero())
	}

	bids, err := repo.ListActiveBids(ctx)
	require.NoError(t, err)
	assert.Len(t, bids, 4)

	products, err := repo.GetProductQualities(ctx, []string{"sku-runner-1", "sku-unknown"})
	require.NoError(t, err)
	assert.Len(t, products, 1)
	assert.Equal(t, int64(320), products["sku-runner-1"].ReviewCount)
}

func TestMemoryRepository_CampaignLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	c := models.Campaign{OwnerID: "s1", Type: models.CampaignTypeSearchSponsored, DailyBudget: decimal.NewFromInt(10)}
	require.NoError(t, repo.CreateCampaign(ctx, &c))
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, models.StatusActive, c.Status)

	require.NoError(t, repo.SetCampaignStatus(ctx, c.ID, models.StatusPaused, models.PauseReasonBudgetExhausted))
	got, err := repo.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)
	assert.Equal(t, models.PauseReasonBudgetExhausted, got.PauseReason)

	resumed, err := repo.ResumeBudgetPaused(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, resumed)

	got, err = repo.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, models.PauseReasonNone, got.PauseReason)

	// manual pauses are left alone
	require.NoError(t, repo.SetCampaignStatus(ctx, c.ID, models.StatusPaused, models.PauseReasonManual))
	resumed, err = repo.ResumeBudgetPaused(ctx)
	require.NoError(t, err)
	assert.Empty(t, resumed)

	require.NoError(t, repo.DeleteCampaign(ctx, c.ID))
	_, err = repo.GetCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.SetCampaignStatus(ctx, c.ID, models.StatusActive, ""), models.ErrNotFound)
}

func TestMemoryRepository_BidsFollowCampaign(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	c := models.Campaign{ID: "c1", OwnerID: "s1", Type: models.CampaignTypeSearchSponsored, DailyBudget: decimal.NewFromInt(10)}
	require.NoError(t, repo.CreateCampaign(ctx, &c))

	orphan := models.Bid{CampaignID: "missing", Target: models.Target{Type: models.TargetKeyword, Value: "x"}, Amount: decimal.NewFromInt(1)}
	assert.ErrorIs(t, repo.UpsertBid(ctx, &orphan), models.ErrNotFound)

	b := models.Bid{CampaignID: "c1", Target: models.Target{Type: models.TargetKeyword, Value: "shoes"}, Amount: decimal.NewFromInt(1)}
	require.NoError(t, repo.UpsertBid(ctx, &b))
	assert.Equal(t, models.BidStatusActive, b.Status)

	require.NoError(t, repo.SetBidStatus(ctx, b.ID, models.BidStatusPaused))
	bids, err := repo.ListActiveBids(ctx)
	require.NoError(t, err)
	assert.Empty(t, bids)

	require.NoError(t, repo.SetBidStatus(ctx, b.ID, models.BidStatusActive))
	require.NoError(t, repo.DeleteCampaign(ctx, "c1"))
	_, err = repo.GetBid(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryRepository_StatsAndEvents(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.IncrementStats(ctx, "b1", models.StatsDelta{Impressions: 1}))
	require.NoError(t, repo.IncrementStats(ctx, "b1", models.StatsDelta{Clicks: 1, Spend: decimal.RequireFromString("0.75")}))

	s, err := repo.GetStats(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Impressions)
	assert.Equal(t, int64(1), s.Clicks)
	assert.True(t, s.Spend.Equal(decimal.RequireFromString("0.75")))

	confirmed := models.AuctionEvent{Type: models.EventClick, BidID: "b1", ChargeStatus: models.ChargeConfirmed}
	unconfirmed := models.AuctionEvent{Type: models.EventClick, BidID: "b1", ChargeStatus: models.ChargeUnconfirmed}
	require.NoError(t, repo.AppendEvent(ctx, &confirmed))
	require.NoError(t, repo.AppendEvent(ctx, &unconfirmed))

	pending, err := repo.ListUnreconciled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, unconfirmed.ID, pending[0].ID)

	require.NoError(t, repo.RecordReconciliation(ctx, unconfirmed.ID, models.ChargeConfirmed))
	pending, err = repo.ListUnreconciled(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	events, err := repo.ListEvents(ctx, "b1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, unconfirmed.ID, events[0].ID)
	// the log itself is never rewritten
	assert.Equal(t, models.ChargeUnconfirmed, events[0].ChargeStatus)
}

func TestInstrumentedRepository(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	repo := NewInstrumentedRepository(NewMemoryRepository(), m)
	ctx := context.Background()

	_, err := repo.ListCampaigns(ctx)
	require.NoError(t, err)
	_, err = repo.GetCampaign(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DatabaseQueries.WithLabelValues("select", "campaigns")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DatabaseErrors.WithLabelValues("select", "query_error")))

	require.NoError(t, repo.Ping(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("database")))
}
