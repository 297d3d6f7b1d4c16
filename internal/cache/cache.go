// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package cache wraps the shared Redis instance. Three concerns live here:
// the flat canvas buffer all workers serve reads from, the sliding-window
// sets and cooldown keys of the rate limiter, and the last webhook message
// id used to edit the posted canvas image in place.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tessera-app/tessera/internal/config"
	"github.com/tessera-app/tessera/internal/logging"
)

const lastWebhookMessageKey = "webhook-last-message"

// Client wraps the Redis connection.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies connectivity.
func New(cfg *config.RedisConfig) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logging.Info().Str("addr", opts.Addr).Msg("Redis connection established")

	return &Client{rdb: rdb}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// LastWebhookMessage returns the id of the previously posted webhook
// message, or empty when none was recorded.
func (c *Client) LastWebhookMessage(ctx context.Context) (string, error) {
	id, err := c.rdb.Get(ctx, lastWebhookMessageKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last webhook message: %w", err)
	}
	return id, nil
}

// SetLastWebhookMessage records the id of the posted webhook message.
func (c *Client) SetLastWebhookMessage(ctx context.Context, id string) error {
	if err := c.rdb.Set(ctx, lastWebhookMessageKey, id, 0).Err(); err != nil {
		return fmt.Errorf("failed to set last webhook message: %w", err)
	}
	return nil
}
