package budget

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// Notifier delivers budget alerts
type Notifier interface {
	Notify(ctx context.Context, alert models.BudgetAlert) error
}

// LogNotifier writes alerts to the log
type LogNotifier struct {
	logger log.Logger
}

func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, alert models.BudgetAlert) error {
	return level.Warn(n.logger).Log(
		"msg", "budget threshold reached",
		"campaign_id", alert.CampaignID,
		"day", alert.Day,
		"threshold", alert.Threshold,
		"spent", alert.Spent.String(),
		"daily_budget", alert.DailyBudget.String(),
	)
}

// RedisNotifier publishes alerts as JSON on a pub/sub channel
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, alert models.BudgetAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("JSON marshal error: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("Redis publish error: %w", err)
	}
	return nil
}

// MultiNotifier fans out to every notifier and returns the first error
type MultiNotifier []Notifier

func (mn MultiNotifier) Notify(ctx context.Context, alert models.BudgetAlert) error {
	var first error
	for _, n := range mn {
		if err := n.Notify(ctx, alert); err != nil && first == nil {
			first = err
		}
	}
	return first
}
