package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxConn is the subset of pgxpool.Pool the ledger uses
type pgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

const (
	insertChargeSQL = `INSERT INTO ledger_charges (campaign_id, day, idempotency_key, amount_micros)
VALUES ($1, $2, $3, $4)
ON CONFLICT (campaign_id, day, idempotency_key) DO NOTHING`

	// The upsert only lands when the new total stays within the cap, so two
	// concurrent charges on one row serialize on the row lock and re-check.
	upsertEntrySQL = `INSERT INTO ledger_entries (campaign_id, day, spent_micros, expires_at)
SELECT $1, $2, $3::bigint, $5
WHERE $3::bigint <= $4::bigint
ON CONFLICT (campaign_id, day) DO UPDATE
SET spent_micros = ledger_entries.spent_micros + EXCLUDED.spent_micros
WHERE ledger_entries.spent_micros + EXCLUDED.spent_micros <= $4::bigint
RETURNING spent_micros`

	selectSpentSQL = `SELECT spent_micros FROM ledger_entries WHERE campaign_id = $1 AND day = $2`

	insertAlertSQL = `INSERT INTO alert_marks (campaign_id, day, threshold, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (campaign_id, day, threshold) DO NOTHING`

	purgeEntriesSQL = `DELETE FROM ledger_entries WHERE expires_at <= $1`
	purgeChargesSQL = `DELETE FROM ledger_charges c USING ledger_entries e
WHERE c.campaign_id = e.campaign_id AND c.day = e.day AND e.expires_at <= $1`
	purgeAlertsSQL = `DELETE FROM alert_marks WHERE expires_at <= $1`
)

// PostgresLedger keeps ledger entries in Postgres through pgx
type PostgresLedger struct {
	db      pgxConn
	timeout time.Duration
}

// NewPostgresLedger creates a ledger on a pgx pool
func NewPostgresLedger(pool *pgxpool.Pool, timeout time.Duration) *PostgresLedger {
	return &PostgresLedger{db: pool, timeout: timeout}
}

func (pl *PostgresLedger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if pl.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, pl.timeout)
}

// Charge implements Ledger
func (pl *PostgresLedger) Charge(ctx context.Context, c Charge) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}

	ctx, cancel := pl.withTimeout(ctx)
	defer cancel()

	tx, err := pl.db.Begin(ctx)
	if err != nil {
		return Result{}, unavailable("begin charge", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, insertChargeSQL, c.CampaignID, c.Day, c.IdempotencyKey, c.AmountMicros)
	if err != nil {
		return Result{}, unavailable("record charge key", err)
	}
	if tag.RowsAffected() == 0 {
		spent, err := spentIn(ctx, tx, c.CampaignID, c.Day)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: Duplicate, SpentMicros: spent}, nil
	}

	var spent int64
	err = tx.QueryRow(ctx, upsertEntrySQL, c.CampaignID, c.Day, c.AmountMicros, c.CapMicros, c.ExpireAt).Scan(&spent)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := spentIn(ctx, tx, c.CampaignID, c.Day)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: Rejected, SpentMicros: current}, nil
	}
	if err != nil {
		return Result{}, unavailable("increment spend", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, unavailable("commit charge", err)
	}
	return Result{Outcome: Applied, SpentMicros: spent}, nil
}

func spentIn(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, campaignID, day string) (int64, error) {
	var spent int64
	err := q.QueryRow(ctx, selectSpentSQL, campaignID, day).Scan(&spent)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("read spend", err)
	}
	return spent, nil
}

// Spent implements Ledger
func (pl *PostgresLedger) Spent(ctx context.Context, campaignID, day string) (int64, error) {
	ctx, cancel := pl.withTimeout(ctx)
	defer cancel()
	return spentIn(ctx, pl.db, campaignID, day)
}

// MarkAlert implements Ledger
func (pl *PostgresLedger) MarkAlert(ctx context.Context, campaignID, day string, threshold int, expireAt time.Time) (bool, error) {
	ctx, cancel := pl.withTimeout(ctx)
	defer cancel()

	tag, err := pl.db.Exec(ctx, insertAlertSQL, campaignID, day, threshold, expireAt)
	if err != nil {
		return false, unavailable("mark alert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping implements Ledger
func (pl *PostgresLedger) Ping(ctx context.Context) error {
	ctx, cancel := pl.withTimeout(ctx)
	defer cancel()

	if err := pl.db.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// PurgeExpired deletes rows whose day has rolled over. Entries of past days
// are never read again, this only reclaims space.
func (pl *PostgresLedger) PurgeExpired(ctx context.Context, now time.Time) error {
	tx, err := pl.db.Begin(ctx)
	if err != nil {
		return unavailable("begin purge", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{purgeChargesSQL, purgeEntriesSQL, purgeAlertsSQL} {
		if _, err := tx.Exec(ctx, stmt, now); err != nil {
			return fmt.Errorf("purge ledger: %w", err)
		}
	}
	return tx.Commit(ctx)
}
