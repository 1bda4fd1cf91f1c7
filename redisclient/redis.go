// Package redisclient wraps the go-redis client used by the shared dedupe store.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/alloybilling/ingestion-gateway/config"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	Raw *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Client{Raw: redis.NewClient(opt)}, nil
}

func (c *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Raw.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Raw.Close()
}
