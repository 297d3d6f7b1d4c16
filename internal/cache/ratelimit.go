// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rate limiter storage. Each (route, user) pair owns a sorted set of
// interaction marks whose scores are the unix time at which the mark leaves
// the window, plus a plain cooldown key whose TTL is the remaining penalty.

// unixScore converts a point in time to a sorted set score.
func unixScore(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// AddMark records one interaction in the set, expiring at expiresAt.
func (c *Client) AddMark(ctx context.Context, set, member string, expiresAt time.Time) error {
	err := c.rdb.ZAdd(ctx, set, redis.Z{Score: unixScore(expiresAt), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("failed to add interaction mark: %w", err)
	}
	return nil
}

// PruneAndCount drops marks that expired before now and returns how many
// remain. Both steps run in one pipeline round trip.
func (c *Client) PruneAndCount(ctx context.Context, set string, now time.Time) (int64, error) {
	var card *redis.IntCmd
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		maxScore := strconv.FormatFloat(unixScore(now), 'f', -1, 64)
		pipe.ZRemRangeByScore(ctx, set, "-inf", maxScore)
		card = pipe.ZCard(ctx, set)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune interaction set: %w", err)
	}
	return card.Val(), nil
}

// OldestMark returns when the earliest remaining mark expires. The second
// return is false when the set is empty.
func (c *Client) OldestMark(ctx context.Context, set string) (time.Time, bool, error) {
	members, err := c.rdb.ZRangeWithScores(ctx, set, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read oldest mark: %w", err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}
	sec, frac := int64(members[0].Score), members[0].Score-float64(int64(members[0].Score))
	return time.Unix(sec, int64(frac*float64(time.Second))), true, nil
}

// RemoveMark retracts a previously added mark. Used to refund the quota when
// a request fails and the route does not count failures.
func (c *Client) RemoveMark(ctx context.Context, set, member string) error {
	if err := c.rdb.ZRem(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("failed to remove interaction mark: %w", err)
	}
	return nil
}

// SetCooldown starts (or restarts) the penalty timer.
func (c *Client) SetCooldown(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cooldown: %w", err)
	}
	return nil
}

// CooldownTTL returns the remaining penalty, or zero when no cooldown is
// active.
func (c *Client) CooldownTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read cooldown ttl: %w", err)
	}
	if ttl < 0 {
		// -1 no expiry, -2 no key; neither is an active cooldown
		return 0, nil
	}
	return ttl, nil
}

// ClearBucket removes a user's interaction set and cooldown key for one
// route, lifting any active penalty immediately.
func (c *Client) ClearBucket(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear rate limit bucket: %w", err)
	}
	return nil
}

// PruneInteractionSets walks every interaction set and drops expired marks,
// deleting sets that end up empty. Cooldown keys expire on their own; the
// sorted sets only shrink when their route is hit, so an idle user's set
// would otherwise linger forever. Returns the number of sets touched.
func (c *Client) PruneInteractionSets(ctx context.Context, now time.Time) (int, error) {
	maxScore := strconv.FormatFloat(unixScore(now), 'f', -1, 64)

	var (
		cursor  uint64
		touched int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, "interaction-*", 100).Result()
		if err != nil {
			return touched, fmt.Errorf("failed to scan interaction sets: %w", err)
		}

		for _, key := range keys {
			if err := c.rdb.ZRemRangeByScore(ctx, key, "-inf", maxScore).Err(); err != nil {
				return touched, fmt.Errorf("failed to prune %s: %w", key, err)
			}
			n, err := c.rdb.ZCard(ctx, key).Result()
			if err != nil {
				return touched, fmt.Errorf("failed to count %s: %w", key, err)
			}
			if n == 0 {
				if err := c.rdb.Del(ctx, key).Err(); err != nil {
					return touched, fmt.Errorf("failed to delete empty set %s: %w", key, err)
				}
			}
			touched++
		}

		cursor = next
		if cursor == 0 {
			return touched, nil
		}
	}
}
