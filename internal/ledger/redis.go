package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// chargeScript evaluates the idempotency check, the cap check and the
// increment in one step on the server.
//
// KEYS[1] spent counter, KEYS[2] idempotency marker
// ARGV[1] amount, ARGV[2] cap, ARGV[3] expire-at unix seconds
// Returns {outcome, spent}: 0 rejected, 1 applied, 2 duplicate.
var chargeScript = redis.NewScript(`
local spent = tonumber(redis.call('GET', KEYS[1]) or '0')
if redis.call('EXISTS', KEYS[2]) == 1 then
	return {2, spent}
end
local amount = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if spent + amount > cap then
	return {0, spent}
end
local newSpent = redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('EXPIREAT', KEYS[1], ARGV[3])
redis.call('SET', KEYS[2], '1')
redis.call('EXPIREAT', KEYS[2], ARGV[3])
return {1, newSpent}
`)

// RedisLedger keeps per campaign-day counters in Redis. Both keys of one
// charge share a hash tag so the script stays valid on a cluster.
type RedisLedger struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisLedger creates a ledger on an existing client
func NewRedisLedger(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "bidbeacon:ledger"
	}
	return &RedisLedger{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		now:     time.Now,
	}
}

func (rl *RedisLedger) slot(campaignID, day string) string {
	return fmt.Sprintf("%s:{%s:%s}", rl.prefix, campaignID, day)
}

func (rl *RedisLedger) spentKey(campaignID, day string) string {
	return rl.slot(campaignID, day) + ":spent"
}

func (rl *RedisLedger) chargeKey(campaignID, day, idempotencyKey string) string {
	return rl.slot(campaignID, day) + ":charge:" + idempotencyKey
}

func (rl *RedisLedger) alertKey(campaignID, day string, threshold int) string {
	return fmt.Sprintf("%s:alert:%d", rl.slot(campaignID, day), threshold)
}

func (rl *RedisLedger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if rl.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rl.timeout)
}

// Charge implements Ledger
func (rl *RedisLedger) Charge(ctx context.Context, c Charge) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}

	ctx, cancel := rl.withTimeout(ctx)
	defer cancel()

	keys := []string{
		rl.spentKey(c.CampaignID, c.Day),
		rl.chargeKey(c.CampaignID, c.Day, c.IdempotencyKey),
	}
	raw, err := chargeScript.Run(ctx, rl.client, keys, c.AmountMicros, c.CapMicros, c.ExpireAt.Unix()).Result()
	if err != nil {
		return Result{}, unavailable("charge", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return Result{}, unavailable("charge", fmt.Errorf("unexpected script reply %v", raw))
	}
	outcome, ok1 := reply[0].(int64)
	spent, ok2 := reply[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, unavailable("charge", fmt.Errorf("unexpected script reply %v", raw))
	}

	switch outcome {
	case 1:
		return Result{Outcome: Applied, SpentMicros: spent}, nil
	case 2:
		return Result{Outcome: Duplicate, SpentMicros: spent}, nil
	default:
		return Result{Outcome: Rejected, SpentMicros: spent}, nil
	}
}

// Spent implements Ledger
func (rl *RedisLedger) Spent(ctx context.Context, campaignID, day string) (int64, error) {
	ctx, cancel := rl.withTimeout(ctx)
	defer cancel()

	spent, err := rl.client.Get(ctx, rl.spentKey(campaignID, day)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, unavailable("spent", err)
	}
	return spent, nil
}

// MarkAlert implements Ledger
func (rl *RedisLedger) MarkAlert(ctx context.Context, campaignID, day string, threshold int, expireAt time.Time) (bool, error) {
	ctx, cancel := rl.withTimeout(ctx)
	defer cancel()

	ttl := expireAt.Sub(rl.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	first, err := rl.client.SetNX(ctx, rl.alertKey(campaignID, day, threshold), 1, ttl).Result()
	if err != nil {
		return false, unavailable("mark alert", err)
	}
	return first, nil
}

// Ping implements Ledger
func (rl *RedisLedger) Ping(ctx context.Context) error {
	ctx, cancel := rl.withTimeout(ctx)
	defer cancel()

	if err := rl.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
