package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Invalidation kinds
const (
	InvalidateCampaign = "campaign"
	InvalidateBid      = "bid"
	InvalidateProduct  = "product"
	InvalidateAll      = "all"
)

// Invalidation tells every instance that something the bid index holds has
// changed
type Invalidation struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

// InvalidationBus fans invalidations out over Redis pub/sub
type InvalidationBus struct {
	client  redis.UniversalClient
	channel string
}

// NewInvalidationBus creates a bus on channel
func NewInvalidationBus(client redis.UniversalClient, channel string) *InvalidationBus {
	return &InvalidationBus{client: client, channel: channel}
}

// Publish sends one invalidation
func (b *InvalidationBus) Publish(ctx context.Context, inv Invalidation) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("JSON marshal error: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("Redis publish error: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription, then delivers messages to handler on
// a goroutine until ctx is done or the returned close func is called.
// Malformed payloads are delivered as a full invalidation.
func (b *InvalidationBus) Subscribe(ctx context.Context, handler func(Invalidation)) (func() error, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("Redis subscribe error: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					inv = Invalidation{Kind: InvalidateAll}
				}
				handler(inv)
			}
		}
	}()

	return pubsub.Close, nil
}
