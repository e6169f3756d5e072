// Package ledger is the atomic per campaign-day spend store. Every backend
// evaluates "charge if under cap" as a single server-side operation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// Outcome of a charge attempt
type Outcome int

const (
	// Rejected means the charge would have exceeded the cap. Nothing was written.
	Rejected Outcome = iota
	// Applied means the amount was added to the day's spend
	Applied
	// Duplicate means the idempotency key was already charged for the same
	// campaign day. Keys are scoped to one campaign day on every backend.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

// Charge is one conditional increment against a (campaign, day) entry.
// Amounts are integer micro-units.
type Charge struct {
	CampaignID     string
	Day            string
	AmountMicros   int64
	CapMicros      int64
	IdempotencyKey string
	ExpireAt       time.Time
}

// Validate rejects charges no backend should evaluate
func (c Charge) Validate() error {
	if c.CampaignID == "" || c.Day == "" {
		return errors.New("ledger: campaign id and day are required")
	}
	if c.IdempotencyKey == "" {
		return errors.New("ledger: idempotency key is required")
	}
	if c.AmountMicros <= 0 {
		return fmt.Errorf("ledger: amount must be positive, got %d", c.AmountMicros)
	}
	if c.CapMicros < 0 {
		return fmt.Errorf("ledger: cap must not be negative, got %d", c.CapMicros)
	}
	return nil
}

// Result reports the outcome and the spend after it
type Result struct {
	Outcome     Outcome
	SpentMicros int64
}

// Ledger is implemented by the memory, redis and postgres stores
type Ledger interface {
	// Charge atomically adds the amount when spent+amount <= cap
	Charge(ctx context.Context, c Charge) (Result, error)

	// Spent returns the current spend for a campaign day, zero if absent
	Spent(ctx context.Context, campaignID, day string) (int64, error)

	// MarkAlert records a threshold alert and reports whether this call was
	// the first one for the campaign day
	MarkAlert(ctx context.Context, campaignID, day string, threshold int, expireAt time.Time) (bool, error)

	// Ping checks backend reachability
	Ping(ctx context.Context) error
}

// unavailable wraps a backend failure so callers can match ErrLedgerUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrLedgerUnavailable, op, err)
}
