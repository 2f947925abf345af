package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stock-reconciler/internal/models"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// MarkDelivery records a webhook delivery fingerprint. Returns true if this
// is the first time the fingerprint is seen within the TTL, false for a
// duplicate redelivery.
func (c *Client) MarkDelivery(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("webhook:delivery:%s", fingerprint), "1", ttl).Result()
}

// SaveCycleStats mirrors the last polling cycle summary so the admin status
// endpoint survives restarts.
func (c *Client) SaveCycleStats(ctx context.Context, stats *models.CycleStats) error {
	b, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, "sync:last_cycle", b, 0).Err()
}

// LoadCycleStats returns the persisted last cycle summary, or (nil, nil)
// when none has been recorded yet.
func (c *Client) LoadCycleStats(ctx context.Context) (*models.CycleStats, error) {
	b, err := c.rdb.Get(ctx, "sync:last_cycle").Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stats models.CycleStats
	if err := json.Unmarshal(b, &stats); err != nil {
		return nil, fmt.Errorf("corrupt cycle stats: %w", err)
	}
	return &stats, nil
}
