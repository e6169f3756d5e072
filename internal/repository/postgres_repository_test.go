package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/database"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewPostgresRepository(&database.DB{DB: db})
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }
	return repo, mock
}

var campaignCols = []string{"id", "owner_id", "type", "status", "pause_reason", "daily_budget", "bidding_mode",
	"keywords", "categories", "product_ids", "start_date", "end_date", "created_at", "updated_at"}

func TestPostgresRepository_GetCampaign(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM campaigns WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(campaignCols).AddRow(
			"c1", "seller-1", "search_sponsored", "active", "", "50.000000", "manual",
			"{running,shoes}", "{footwear}", "{sku-1}", now, nil, now, now,
		))

	c, err := repo.GetCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignTypeSearchSponsored, c.Type)
	assert.True(t, c.DailyBudget.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, []string{"running", "shoes"}, c.Targeting.Keywords)
	assert.Equal(t, []string{"sku-1"}, c.ProductIDs)
	assert.Nil(t, c.EndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetCampaignNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM campaigns WHERE id = \$1`).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetCampaign(context.Background(), "gone")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListActiveBids(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "campaign_id", "target_type", "target_value", "amount", "product_id", "status", "created_at", "updated_at"}).
		AddRow("b1", "c1", "keyword", "running shoes", "2.000000", "sku-1", "active", now, now).
		AddRow("b2", "c2", "product", "sku-9", "0.500000", "", "active", now, now)

	mock.ExpectQuery(`SELECT (.+) FROM bids WHERE status = \$1 ORDER BY id`).
		WithArgs("active").
		WillReturnRows(rows)

	bids, err := repo.ListActiveBids(context.Background())
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, models.Target{Type: models.TargetKeyword, Value: "running shoes"}, bids[0].Target)
	assert.True(t, bids[1].Amount.Equal(decimal.RequireFromString("0.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_SetCampaignStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE campaigns SET status = \$1, pause_reason = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("paused", "budget_exhausted", sqlmock.AnyArg(), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE campaigns SET status`).
		WithArgs("paused", "manual", sqlmock.AnyArg(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetCampaignStatus(context.Background(), "c1", models.StatusPaused, models.PauseReasonBudgetExhausted))
	err := repo.SetCampaignStatus(context.Background(), "gone", models.StatusPaused, models.PauseReasonManual)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ResumeBudgetPaused(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`UPDATE campaigns SET (.+) WHERE (.+) RETURNING id`).
		WithArgs("active", "", sqlmock.AnyArg(), "budget_exhausted", "paused").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1").AddRow("c7"))

	ids, err := repo.ResumeBudgetPaused(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c7"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpsertBidUnknownCampaign(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO bids (.+) ON CONFLICT \(id\) DO UPDATE`).
		WillReturnError(&pq.Error{Code: "23503"})

	b := models.Bid{CampaignID: "missing", Target: models.Target{Type: models.TargetKeyword, Value: "x"}, Amount: decimal.NewFromInt(1)}
	err := repo.UpsertBid(context.Background(), &b)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NotEmpty(t, b.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_IncrementStats(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO bid_stats (.+) ON CONFLICT \(bid_id\) DO UPDATE SET\s+impressions = bid_stats.impressions \+ EXCLUDED.impressions`).
		WithArgs("b1", int64(0), int64(1), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.IncrementStats(context.Background(), "b1", models.StatsDelta{Clicks: 1, Spend: decimal.RequireFromString("0.63")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListUnreconciled(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM auction_events e LEFT JOIN charge_reconciliations cr ON cr.event_id = e.id WHERE cr.event_id IS NULL AND (.+) ORDER BY e.occurred_at ASC LIMIT 50`).
		WithArgs("unconfirmed", "click").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "bid_id", "campaign_id", "query", "category", "product_id", "placement", "price", "order_value", "charge_status", "occurred_at"}).
			AddRow("e1", "click", "b1", "c1", "shoes", "", "", "search", "0.630000", "0", "unconfirmed", now))

	events, err := repo.ListUnreconciled(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ChargeUnconfirmed, events[0].ChargeStatus)
	assert.Equal(t, models.PlacementSearch, events[0].Context.Placement)
	assert.True(t, events[0].Price.Equal(decimal.RequireFromString("0.63")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetProductQualitiesEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)

	out, err := repo.GetProductQualities(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}
