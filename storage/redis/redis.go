// Package redis provides a Redis implementation of the
// entitlement.EventDeduper interface. Processed webhook event ids are kept
// with a TTL comfortably longer than the provider's redelivery window.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper implements entitlement.EventDeduper using Redis
type Deduper struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis deduper configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "entitlesync:events:")
	KeyPrefix string

	// TTL is how long processed event marks are kept (default: 72h; Stripe
	// retries failed deliveries for up to three days)
	TTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "entitlesync:events:",
		TTL:       72 * time.Hour,
	}
}

// New creates a new Redis deduper.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Deduper, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "entitlesync:events:"
	}
	if config.TTL <= 0 {
		config.TTL = 72 * time.Hour
	}

	return &Deduper{client: client, config: config}, nil
}

// Seen implements entitlement.EventDeduper
func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	_, err := d.client.Get(ctx, d.key(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return true, nil
}

// Mark implements entitlement.EventDeduper
func (d *Deduper) Mark(ctx context.Context, eventID string) error {
	if err := d.client.Set(ctx, d.key(eventID), "1", d.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return nil
}

func (d *Deduper) key(eventID string) string {
	return d.config.KeyPrefix + eventID
}
