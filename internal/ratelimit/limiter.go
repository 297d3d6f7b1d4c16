// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package ratelimit implements per-user sliding window quotas backed by
// Redis, shared across every worker. Each (route, user) pair owns a sorted
// set of interaction marks expiring window seconds after they were recorded;
// exhausting the window starts a cooldown penalty tracked by a plain key's
// TTL. Quota headers go out on every allowed response and on HEAD probes.
package ratelimit

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-app/tessera/internal/config"
	"github.com/tessera-app/tessera/internal/logging"
)

// Store is the Redis surface the limiter needs. *cache.Client implements
// it; tests substitute an in-memory fake.
type Store interface {
	AddMark(ctx context.Context, set, member string, expiresAt time.Time) error
	PruneAndCount(ctx context.Context, set string, now time.Time) (int64, error)
	OldestMark(ctx context.Context, set string) (time.Time, bool, error)
	RemoveMark(ctx context.Context, set, member string) error
	SetCooldown(ctx context.Context, key string, ttl time.Duration) error
	CooldownTTL(ctx context.Context, key string) (time.Duration, error)
	ClearBucket(ctx context.Context, keys ...string) error
}

// Config tunes one limiter.
type Config struct {
	// Bucket is the requests / window / cooldown tuple.
	Bucket config.Bucket

	// CountFailed keeps marks recorded for requests that end in a 4xx.
	// When false, the mark is refunded after the response.
	CountFailed bool
}

// Decision is the outcome of charging (or probing) a user's quota.
type Decision struct {
	// Allowed is false when the user is on cooldown.
	Allowed bool

	// Remaining is the quota left after this request. Negative values are
	// clamped to zero in headers.
	Remaining int

	// Reset is the time until the oldest recorded mark expires, or -1
	// when no marks remain.
	Reset time.Duration

	// CooldownReset is the remaining penalty when Allowed is false.
	CooldownReset time.Duration

	// mark identifies the recorded interaction so it can be refunded.
	mark string
}

// Limiter enforces one bucket over one logical route. Routes sharing a
// limiter (a GET and its HEAD probe, or grouped moderation endpoints) share
// the quota: the identity joins the hash of every registered route name.
type Limiter struct {
	store  Store
	cfg    Config
	name   string
	hashes []string
}

// New returns a limiter with no routes registered yet.
func New(store Store, cfg Config) *Limiter {
	return &Limiter{store: store, cfg: cfg}
}

// Register adds a route to the limiter's identity. Must be called before
// the limiter serves traffic; not safe for concurrent use with Take.
func (l *Limiter) Register(route string) *Limiter {
	sum := md5.Sum([]byte(route))
	l.hashes = append(l.hashes, hex.EncodeToString(sum[:]))
	l.name = strings.Join(l.hashes, "|")
	return l
}

// Name returns the joined route identity.
func (l *Limiter) Name() string { return l.name }

// Limit returns the configured request quota.
func (l *Limiter) Limit() int { return l.cfg.Bucket.Amount }

// Window returns the configured window.
func (l *Limiter) Window() time.Duration { return l.cfg.Bucket.Window }

func (l *Limiter) interactionKey(userID int64) string {
	return fmt.Sprintf("interaction-%s-%d", l.name, userID)
}

func (l *Limiter) cooldownKey(userID int64) string {
	return fmt.Sprintf("cooldown-%s-%d", l.name, userID)
}

// Take charges one request against the user's quota. The mark is recorded
// before counting, so the very request that overflows the window is the one
// that starts the cooldown. Backend failures return an error; the caller
// must fail the request rather than letting it through unmetered.
func (l *Limiter) Take(ctx context.Context, userID int64) (Decision, error) {
	if d, onCooldown, err := l.checkCooldown(ctx, userID); err != nil || onCooldown {
		return d, err
	}

	now := time.Now()
	set := l.interactionKey(userID)
	mark := uuid.New().String()

	if err := l.store.AddMark(ctx, set, mark, now.Add(l.cfg.Bucket.Window)); err != nil {
		return Decision{}, err
	}

	count, err := l.store.PruneAndCount(ctx, set, now)
	if err != nil {
		return Decision{}, err
	}
	remaining := l.cfg.Bucket.Amount - int(count)

	if remaining < 0 {
		logging.Info().
			Int64("user_id", userID).
			Str("route", l.name).
			Dur("cooldown", l.cfg.Bucket.Cooldown).
			Msg("Rate limit exhausted, starting cooldown")

		if err := l.store.SetCooldown(ctx, l.cooldownKey(userID), l.cfg.Bucket.Cooldown); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: false, CooldownReset: l.cfg.Bucket.Cooldown}, nil
	}

	reset, err := l.resetIn(ctx, set, now)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true, Remaining: remaining, Reset: reset, mark: mark}, nil
}

// Peek reports the user's quota without charging it. Used by HEAD probes.
func (l *Limiter) Peek(ctx context.Context, userID int64) (Decision, error) {
	if d, onCooldown, err := l.checkCooldown(ctx, userID); err != nil || onCooldown {
		return d, err
	}

	now := time.Now()
	set := l.interactionKey(userID)

	count, err := l.store.PruneAndCount(ctx, set, now)
	if err != nil {
		return Decision{}, err
	}

	reset, err := l.resetIn(ctx, set, now)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true, Remaining: l.cfg.Bucket.Amount - int(count), Reset: reset}, nil
}

// Refund retracts the mark a Decision recorded. Called when the request
// failed with a client error and the limiter does not count failures.
func (l *Limiter) Refund(ctx context.Context, userID int64, d Decision) error {
	if d.mark == "" {
		return nil
	}
	return l.store.RemoveMark(ctx, l.interactionKey(userID), d.mark)
}

// Clear drops the user's marks and lifts any active cooldown on this route.
func (l *Limiter) Clear(ctx context.Context, userID int64) error {
	return l.store.ClearBucket(ctx, l.interactionKey(userID), l.cooldownKey(userID))
}

// checkCooldown returns a deny decision when a cooldown is active.
func (l *Limiter) checkCooldown(ctx context.Context, userID int64) (Decision, bool, error) {
	ttl, err := l.store.CooldownTTL(ctx, l.cooldownKey(userID))
	if err != nil {
		return Decision{}, false, err
	}
	if ttl > 0 {
		return Decision{Allowed: false, CooldownReset: ttl}, true, nil
	}
	return Decision{}, false, nil
}

// resetIn returns the time until the oldest mark leaves the window, or -1
// when the set is empty.
func (l *Limiter) resetIn(ctx context.Context, set string, now time.Time) (time.Duration, error) {
	oldest, ok, err := l.store.OldestMark(ctx, set)
	if err != nil {
		return 0, err
	}
	if !ok {
		return -1, nil
	}
	return oldest.Sub(now), nil
}

// Seconds renders a duration as whole seconds for a quota header, rounding
// up so a client sleeping the advertised time never retries early.
func Seconds(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(math.Ceil(d.Seconds()))
}
