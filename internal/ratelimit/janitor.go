// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package ratelimit

import (
	"context"
	"time"

	"github.com/tessera-app/tessera/internal/logging"
)

// JanitorStore is the sweep surface the janitor needs.
type JanitorStore interface {
	PruneInteractionSets(ctx context.Context, now time.Time) (int, error)
}

// Janitor periodically sweeps expired interaction marks out of Redis.
// Cooldown keys carry their own TTL; the sorted sets only shrink when their
// route is hit again, so idle users' sets need an external sweep. Runs as a
// supervised service and recovers from transient backend failures by
// backing off instead of exiting.
type Janitor struct {
	store    JanitorStore
	interval time.Duration
	backoff  time.Duration
}

// NewJanitor returns a janitor sweeping every five minutes.
func NewJanitor(store JanitorStore) *Janitor {
	return &Janitor{
		store:    store,
		interval: 5 * time.Minute,
		backoff:  time.Minute,
	}
}

// Serve implements suture.Service.
func (j *Janitor) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", j.interval).Msg("Rate limit janitor started")

	for {
		touched, err := j.store.PruneInteractionSets(ctx, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error().Err(err).Msg("Rate limit sweep failed, backing off")
			if sleepErr := sleep(ctx, j.backoff); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		logging.Debug().Int("sets", touched).Msg("Rate limit sweep complete")

		if err := sleep(ctx, j.interval); err != nil {
			return err
		}
	}
}

// String names the service in supervisor logs.
func (j *Janitor) String() string { return "ratelimit-janitor" }

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
