package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/database"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

const (
	campaignColumns = "id, owner_id, type, status, pause_reason, daily_budget, bidding_mode, keywords, categories, product_ids, start_date, end_date, created_at, updated_at"
	bidColumns      = "id, campaign_id, target_type, target_value, amount, product_id, status, created_at, updated_at"
	statsColumns    = "bid_id, impressions, clicks, conversions, spend, revenue, updated_at"
	eventColumns    = "e.id, e.type, e.bid_id, e.campaign_id, e.query, e.category, e.product_id, e.placement, e.price, e.order_value, e.charge_status, e.occurred_at"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *database.DB) *PostgresRepository {
	return &PostgresRepository{
		db:  db,
		now: time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (models.Campaign, error) {
	var c models.Campaign
	var endDate sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&c.Type,
		&c.Status,
		&c.PauseReason,
		&c.DailyBudget,
		&c.BiddingMode,
		pq.Array(&c.Targeting.Keywords),
		pq.Array(&c.Targeting.Categories),
		pq.Array(&c.ProductIDs),
		&c.StartDate,
		&endDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return models.Campaign{}, err
	}
	if endDate.Valid {
		end := endDate.Time
		c.EndDate = &end
	}
	return c, nil
}

// ListCampaigns retrieves every campaign that has not ended
func (r *PostgresRepository) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	query, args, err := psql.
		Select(campaignColumns).
		From("campaigns").
		Where(squirrel.NotEq{"status": string(models.StatusEnded)}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build campaigns query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over campaign rows: %w", err)
	}

	return campaigns, nil
}

// GetCampaign retrieves one campaign by id
func (r *PostgresRepository) GetCampaign(ctx context.Context, id string) (models.Campaign, error) {
	query, args, err := psql.
		Select(campaignColumns).
		From("campaigns").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.Campaign{}, fmt.Errorf("failed to build campaign query: %w", err)
	}

	c, err := scanCampaign(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Campaign{}, fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Campaign{}, fmt.Errorf("failed to scan campaign: %w", err)
	}
	return c, nil
}

// CreateCampaign inserts a campaign, assigning an id when missing
func (r *PostgresRepository) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.StatusActive
	}
	now := r.now()
	c.CreatedAt, c.UpdatedAt = now, now

	var endDate any
	if c.EndDate != nil {
		endDate = *c.EndDate
	}

	query, args, err := psql.
		Insert("campaigns").
		Columns("id", "owner_id", "type", "status", "pause_reason", "daily_budget", "bidding_mode",
			"keywords", "categories", "product_ids", "start_date", "end_date", "created_at", "updated_at").
		Values(c.ID, c.OwnerID, c.Type, c.Status, c.PauseReason, c.DailyBudget, c.BiddingMode,
			pq.Array(c.Targeting.Keywords), pq.Array(c.Targeting.Categories), pq.Array(c.ProductIDs),
			c.StartDate, endDate, c.CreatedAt, c.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build campaign insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	return nil
}

// SetCampaignStatus updates status and pause reason
func (r *PostgresRepository) SetCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, reason models.PauseReason) error {
	query, args, err := psql.
		Update("campaigns").
		Set("status", status).
		Set("pause_reason", reason).
		Set("updated_at", r.now()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build campaign status update: %w", err)
	}

	return r.execOne(ctx, query, args, fmt.Sprintf("campaign %s", id))
}

// ResumeBudgetPaused reactivates campaigns paused for budget exhaustion
func (r *PostgresRepository) ResumeBudgetPaused(ctx context.Context) ([]string, error) {
	query, args, err := psql.
		Update("campaigns").
		Set("status", models.StatusActive).
		Set("pause_reason", models.PauseReasonNone).
		Set("updated_at", r.now()).
		Where(squirrel.Eq{"status": models.StatusPaused, "pause_reason": models.PauseReasonBudgetExhausted}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build resume update: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resume campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan resumed campaign: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCampaign removes a campaign. Bids cascade.
func (r *PostgresRepository) DeleteCampaign(ctx context.Context, id string) error {
	query, args, err := psql.
		Delete("campaigns").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build campaign delete: %w", err)
	}

	return r.execOne(ctx, query, args, fmt.Sprintf("campaign %s", id))
}

func scanBid(row rowScanner) (models.Bid, error) {
	var b models.Bid
	err := row.Scan(
		&b.ID,
		&b.CampaignID,
		&b.Target.Type,
		&b.Target.Value,
		&b.Amount,
		&b.ProductID,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

// ListActiveBids retrieves all active bids
func (r *PostgresRepository) ListActiveBids(ctx context.Context) ([]models.Bid, error) {
	query, args, err := psql.
		Select(bidColumns).
		From("bids").
		Where(squirrel.Eq{"status": models.BidStatusActive}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bids query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bid rows: %w", err)
	}

	return bids, nil
}

// GetBid retrieves one bid by id
func (r *PostgresRepository) GetBid(ctx context.Context, id string) (models.Bid, error) {
	query, args, err := psql.
		Select(bidColumns).
		From("bids").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.Bid{}, fmt.Errorf("failed to build bid query: %w", err)
	}

	b, err := scanBid(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Bid{}, fmt.Errorf("bid %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Bid{}, fmt.Errorf("failed to scan bid: %w", err)
	}
	return b, nil
}

// UpsertBid creates a bid or replaces its target, amount and status
func (r *PostgresRepository) UpsertBid(ctx context.Context, b *models.Bid) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = models.BidStatusActive
	}
	now := r.now()
	b.CreatedAt, b.UpdatedAt = now, now

	query, args, err := psql.
		Insert("bids").
		Columns("id", "campaign_id", "target_type", "target_value", "amount", "product_id", "status", "created_at", "updated_at").
		Values(b.ID, b.CampaignID, b.Target.Type, b.Target.Value, b.Amount, b.ProductID, b.Status, b.CreatedAt, b.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			target_type = EXCLUDED.target_type,
			target_value = EXCLUDED.target_value,
			amount = EXCLUDED.amount,
			product_id = EXCLUDED.product_id,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build bid upsert: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&b.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("campaign %s: %w", b.CampaignID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to upsert bid: %w", err)
	}
	return nil
}

// SetBidStatus updates a bid's status
func (r *PostgresRepository) SetBidStatus(ctx context.Context, id string, status models.BidStatus) error {
	query, args, err := psql.
		Update("bids").
		Set("status", status).
		Set("updated_at", r.now()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build bid status update: %w", err)
	}

	return r.execOne(ctx, query, args, fmt.Sprintf("bid %s", id))
}

func scanStats(row rowScanner) (models.BidStats, error) {
	var s models.BidStats
	err := row.Scan(&s.BidID, &s.Impressions, &s.Clicks, &s.Conversions, &s.Spend, &s.Revenue, &s.UpdatedAt)
	return s, err
}

// GetStats retrieves counters for one bid, zero when none recorded
func (r *PostgresRepository) GetStats(ctx context.Context, bidID string) (models.BidStats, error) {
	query, args, err := psql.
		Select(statsColumns).
		From("bid_stats").
		Where(squirrel.Eq{"bid_id": bidID}).
		ToSql()
	if err != nil {
		return models.BidStats{}, fmt.Errorf("failed to build stats query: %w", err)
	}

	s, err := scanStats(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BidStats{BidID: bidID}, nil
	}
	if err != nil {
		return models.BidStats{}, fmt.Errorf("failed to scan stats: %w", err)
	}
	return s, nil
}

// ListStats retrieves counters for the given bids, or all when bidIDs is empty
func (r *PostgresRepository) ListStats(ctx context.Context, bidIDs []string) (map[string]models.BidStats, error) {
	builder := psql.Select(statsColumns).From("bid_stats")
	if len(bidIDs) > 0 {
		builder = builder.Where("bid_id = ANY(?)", pq.Array(bidIDs))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stats query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.BidStats)
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		out[s.BidID] = s
	}
	return out, rows.Err()
}

// IncrementStats adds a delta to a bid's counters in one upsert
func (r *PostgresRepository) IncrementStats(ctx context.Context, bidID string, delta models.StatsDelta) error {
	query, args, err := psql.
		Insert("bid_stats").
		Columns("bid_id", "impressions", "clicks", "conversions", "spend", "revenue", "updated_at").
		Values(bidID, delta.Impressions, delta.Clicks, delta.Conversions, delta.Spend, delta.Revenue, r.now()).
		Suffix(`ON CONFLICT (bid_id) DO UPDATE SET
			impressions = bid_stats.impressions + EXCLUDED.impressions,
			clicks = bid_stats.clicks + EXCLUDED.clicks,
			conversions = bid_stats.conversions + EXCLUDED.conversions,
			spend = bid_stats.spend + EXCLUDED.spend,
			revenue = bid_stats.revenue + EXCLUDED.revenue,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build stats upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to increment stats: %w", err)
	}
	return nil
}

// AppendEvent inserts an event, assigning an id when missing
func (r *PostgresRepository) AppendEvent(ctx context.Context, e *models.AuctionEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}

	query, args, err := psql.
		Insert("auction_events").
		Columns("id", "type", "bid_id", "campaign_id", "query", "category", "product_id", "placement",
			"price", "order_value", "charge_status", "occurred_at").
		Values(e.ID, e.Type, e.BidID, e.CampaignID, e.Context.Query, e.Context.Category, e.Context.ProductID,
			e.Context.Placement, e.Price, e.OrderValue, e.ChargeStatus, e.OccurredAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build event insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]models.AuctionEvent, error) {
	var events []models.AuctionEvent
	for rows.Next() {
		var e models.AuctionEvent
		err := rows.Scan(
			&e.ID,
			&e.Type,
			&e.BidID,
			&e.CampaignID,
			&e.Context.Query,
			&e.Context.Category,
			&e.Context.ProductID,
			&e.Context.Placement,
			&e.Price,
			&e.OrderValue,
			&e.ChargeStatus,
			&e.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEvents retrieves the newest events for a bid, or all bids when bidID is empty
func (r *PostgresRepository) ListEvents(ctx context.Context, bidID string, limit int) ([]models.AuctionEvent, error) {
	builder := psql.Select(eventColumns).From("auction_events e").OrderBy("e.occurred_at DESC")
	if bidID != "" {
		builder = builder.Where(squirrel.Eq{"e.bid_id": bidID})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build events query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListUnreconciled retrieves unconfirmed clicks without a reconciliation outcome
func (r *PostgresRepository) ListUnreconciled(ctx context.Context, limit int) ([]models.AuctionEvent, error) {
	builder := psql.
		Select(eventColumns).
		From("auction_events e").
		LeftJoin("charge_reconciliations cr ON cr.event_id = e.id").
		Where(squirrel.Eq{
			"e.type":          models.EventClick,
			"e.charge_status": models.ChargeUnconfirmed,
			"cr.event_id":     nil,
		}).
		OrderBy("e.occurred_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build unreconciled query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreconciled events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RecordReconciliation appends the final charge status for an event
func (r *PostgresRepository) RecordReconciliation(ctx context.Context, eventID string, status models.ChargeStatus) error {
	query, args, err := psql.
		Insert("charge_reconciliations").
		Columns("event_id", "charge_status", "reconciled_at").
		Values(eventID, status, r.now()).
		Suffix("ON CONFLICT (event_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build reconciliation insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record reconciliation: %w", err)
	}
	return nil
}

// GetProductQualities retrieves catalog signals for the known products
func (r *PostgresRepository) GetProductQualities(ctx context.Context, productIDs []string) (map[string]models.ProductQuality, error) {
	out := make(map[string]models.ProductQuality, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	query, args, err := psql.
		Select("product_id, rating, review_count").
		From("products").
		Where("product_id = ANY(?)", pq.Array(productIDs)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build products query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.ProductQuality
		if err := rows.Scan(&p.ProductID, &p.Rating, &p.ReviewCount); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out[p.ProductID] = p
	}
	return out, rows.Err()
}

// UpsertProductQuality stores catalog signals for a product
func (r *PostgresRepository) UpsertProductQuality(ctx context.Context, p models.ProductQuality) error {
	query, args, err := psql.
		Insert("products").
		Columns("product_id", "rating", "review_count").
		Values(p.ProductID, p.Rating, p.ReviewCount).
		Suffix("ON CONFLICT (product_id) DO UPDATE SET rating = EXCLUDED.rating, review_count = EXCLUDED.review_count").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build product upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// Ping implements Repository
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// execOne runs an update or delete and maps zero affected rows to ErrNotFound
func (r *PostgresRepository) execOne(ctx context.Context, query string, args []any, what string) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}
