package ledger

import (
	"context"
	"sync"
	"time"
)

// dayEntry is one (campaign, day) counter with its own lock
type dayEntry struct {
	mu        sync.Mutex
	spent     int64
	charges   map[string]struct{}
	alerts    map[int]struct{}
	expiresAt time.Time
}

// isExpired checks if the entry rolled over at its day boundary
func (e *dayEntry) isExpired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryLedger is a single-process ledger for tests and local development.
// Contention is scoped to one campaign-day key.
type MemoryLedger struct {
	entries  map[string]*dayEntry
	mu       sync.Mutex
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryLedger creates a new in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	ml := &MemoryLedger{
		entries:  make(map[string]*dayEntry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	// Start cleanup goroutine
	go ml.cleanup()

	return ml
}

func entryKey(campaignID, day string) string {
	return campaignID + ":" + day
}

// entry returns the live entry for a key, replacing an expired one
func (ml *MemoryLedger) entry(campaignID, day string, expireAt time.Time) *dayEntry {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	key := entryKey(campaignID, day)
	e, exists := ml.entries[key]
	if !exists || e.isExpired(ml.now()) {
		e = &dayEntry{
			charges:   make(map[string]struct{}),
			alerts:    make(map[int]struct{}),
			expiresAt: expireAt,
		}
		ml.entries[key] = e
	}
	return e
}

// Charge implements Ledger
func (ml *MemoryLedger) Charge(ctx context.Context, c Charge) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, unavailable("charge", err)
	}

	e := ml.entry(c.CampaignID, c.Day, c.ExpireAt)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, seen := e.charges[c.IdempotencyKey]; seen {
		return Result{Outcome: Duplicate, SpentMicros: e.spent}, nil
	}
	if e.spent+c.AmountMicros > c.CapMicros {
		return Result{Outcome: Rejected, SpentMicros: e.spent}, nil
	}

	e.spent += c.AmountMicros
	e.charges[c.IdempotencyKey] = struct{}{}
	return Result{Outcome: Applied, SpentMicros: e.spent}, nil
}

// Spent implements Ledger
func (ml *MemoryLedger) Spent(ctx context.Context, campaignID, day string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("spent", err)
	}

	ml.mu.Lock()
	e, exists := ml.entries[entryKey(campaignID, day)]
	expired := exists && e.isExpired(ml.now())
	ml.mu.Unlock()

	if !exists || expired {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spent, nil
}

// MarkAlert implements Ledger
func (ml *MemoryLedger) MarkAlert(ctx context.Context, campaignID, day string, threshold int, expireAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("mark alert", err)
	}

	e := ml.entry(campaignID, day, expireAt)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, sent := e.alerts[threshold]; sent {
		return false, nil
	}
	e.alerts[threshold] = struct{}{}
	return true, nil
}

// Ping implements Ledger
func (ml *MemoryLedger) Ping(ctx context.Context) error {
	return ctx.Err()
}

// cleanup periodically removes expired entries
func (ml *MemoryLedger) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.mu.Lock()
			now := ml.now()
			for key, e := range ml.entries {
				if e.isExpired(now) {
					delete(ml.entries, key)
				}
			}
			ml.mu.Unlock()
		case <-ml.stopChan:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (ml *MemoryLedger) Close() error {
	ml.stopOnce.Do(func() { close(ml.stopChan) })
	return nil
}
