// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package canvas implements the cache coherence engine between the
// append-only pixel history in Postgres and the flat RGB buffer in Redis.
//
// Every read and write first ensures the buffer is fresh. When it is stale,
// exactly one worker across the fleet rebuilds it: workers race for a
// database-backed lock, the losers poll until the leader finishes, and a
// leader that dies mid-rebuild is dispossessed once its lock stamp exceeds
// the deadlock threshold.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-app/tessera/internal/logging"
	"github.com/tessera-app/tessera/internal/metrics"
	"github.com/tessera-app/tessera/internal/models"
)

// ErrOutOfBounds is returned for coordinates outside the canvas.
var ErrOutOfBounds = errors.New("coordinates out of bounds")

// lockPollInterval is how often a waiting worker re-reads the sync lock.
const lockPollInterval = 100 * time.Millisecond

// HistoryStore is the database surface the engine needs. *database.Session
// implements it; tests substitute an in-memory fake.
type HistoryStore interface {
	// Freshness returns the last_modified and last_synced stamps.
	Freshness(ctx context.Context) (lastModified, lastSynced time.Time, err error)

	// TryAcquireSyncLock stamps the lock and returns the previous holder's
	// stamp, nil meaning the lock was free and the caller now leads.
	TryAcquireSyncLock(ctx context.Context) (*time.Time, error)

	// StealSyncLock reclaims a lock stamped longer ago than the deadlock
	// threshold, reporting whether the caller won it.
	StealSyncLock(ctx context.Context) (bool, error)

	// ReleaseSyncLock clears the lock.
	ReleaseSyncLock(ctx context.Context) error

	// MarkSynced records that the buffer now reflects the history.
	MarkSynced(ctx context.Context) error

	// SyncLock returns the current lock stamp, nil when free.
	SyncLock(ctx context.Context) (*time.Time, error)

	// CurrentPixels streams the visible pixel of every touched position.
	CurrentPixels(ctx context.Context, fn func(x, y int, c models.RGB) error) error

	// InsertPixel appends a placement, running patch in the same transaction.
	InsertPixel(ctx context.Context, x, y int, c models.RGB, userID int64, patch func(context.Context) error) error
}

// BufferStore is the shared flat buffer. *cache.CanvasBuffer implements it.
type BufferStore interface {
	Get(ctx context.Context) ([]byte, error)
	Set(ctx context.Context, buf []byte) error
	SetRange(ctx context.Context, offset int64, value []byte) error
	GetRange(ctx context.Context, start, end int64) ([]byte, error)
	Len(ctx context.Context) (int64, error)
}

// Engine serves canvas reads and writes against the shared buffer.
type Engine struct {
	width  int
	height int
	buffer BufferStore
}

// New returns an engine for a width x height canvas.
func New(width, height int, buffer BufferStore) *Engine {
	return &Engine{width: width, height: height, buffer: buffer}
}

// Size returns the canvas dimensions.
func (e *Engine) Size() models.CanvasSize {
	return models.CanvasSize{Width: e.width, Height: e.height}
}

// position returns the byte offset of (x, y) in the flat buffer.
func (e *Engine) position(x, y int) int64 {
	return int64((y*e.width + x) * 3)
}

// inBounds reports whether (x, y) is on the canvas.
func (e *Engine) inBounds(x, y int) bool {
	return x >= 0 && x < e.width && y >= 0 && y < e.height
}

// stale reports whether the buffer must be rebuilt: either its length no
// longer matches the configured dimensions (a deploy resized the canvas) or
// the history has been modified since the last synchronization.
func (e *Engine) stale(ctx context.Context, store HistoryStore) (bool, error) {
	n, err := e.buffer.Len(ctx)
	if err != nil {
		return false, err
	}
	if n != int64(e.width*e.height*3) {
		return true, nil
	}

	lastModified, lastSynced, err := store.Freshness(ctx)
	if err != nil {
		return false, err
	}
	return lastModified.After(lastSynced), nil
}

// Sync ensures the buffer is fresh, rebuilding it if this worker wins the
// lock and waiting for the leader otherwise. With force set, one rebuild
// round happens regardless of the freshness stamps.
func (e *Engine) Sync(ctx context.Context, store HistoryStore, force bool) error {
	lockCleared := false

	for {
		if !force {
			stale, err := e.stale(ctx, store)
			if err != nil {
				return err
			}
			if !stale {
				return nil
			}
		}
		force = false

		acquired := lockCleared
		lockCleared = false
		if !acquired {
			previous, err := store.TryAcquireSyncLock(ctx)
			if err != nil {
				return err
			}
			acquired = previous == nil
		}

		if acquired {
			logging.Info().Msg("Sync lock acquired, rebuilding canvas buffer")
			rebuildErr := e.rebuild(ctx, store)
			if err := store.ReleaseSyncLock(ctx); err != nil {
				logging.Error().Err(err).Msg("Failed to release sync lock")
				if rebuildErr == nil {
					rebuildErr = err
				}
			}
			if rebuildErr != nil {
				return rebuildErr
			}
			continue
		}

		// Another worker leads. Wait for it, dispossessing it if its lock
		// stamp exceeds the deadlock threshold.
		logging.Debug().Msg("Sync lock in use, waiting for leader")
		for {
			lock, err := store.SyncLock(ctx)
			if err != nil {
				return err
			}
			if lock == nil {
				break
			}

			stolen, err := store.StealSyncLock(ctx)
			if err != nil {
				return err
			}
			if stolen {
				logging.Warn().Time("stamped_at", *lock).Msg("Sync lock deadlocked, stealing it")
				lockCleared = true
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(lockPollInterval):
			}
		}
	}
}

// rebuild derives the buffer from scratch: background everywhere, then the
// visible pixel of every touched position, then one atomic swap of the key.
func (e *Engine) rebuild(ctx context.Context, store HistoryStore) error {
	start := time.Now()

	buf := make([]byte, e.width*e.height*3)
	for i := range buf {
		buf[i] = 0xFF
	}

	err := store.CurrentPixels(ctx, func(x, y int, c models.RGB) error {
		if !e.inBounds(x, y) {
			// History written under larger dimensions; drop it.
			return nil
		}
		copy(buf[e.position(x, y):], c[:])
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild canvas: %w", err)
	}

	if err := e.buffer.Set(ctx, buf); err != nil {
		return err
	}
	if err := store.MarkSynced(ctx); err != nil {
		return err
	}

	metrics.RecordCacheRebuild(time.Since(start))
	logging.Info().Dur("took", time.Since(start)).Msg("Canvas buffer rebuilt")
	return nil
}

// GetPixels returns the whole canvas as a flat row-major RGB buffer.
func (e *Engine) GetPixels(ctx context.Context, store HistoryStore) ([]byte, error) {
	if err := e.Sync(ctx, store, false); err != nil {
		return nil, err
	}
	return e.buffer.Get(ctx)
}

// GetPixel returns the color at (x, y), or ErrOutOfBounds.
func (e *Engine) GetPixel(ctx context.Context, store HistoryStore, x, y int) (models.RGB, error) {
	if !e.inBounds(x, y) {
		return models.RGB{}, ErrOutOfBounds
	}
	if err := e.Sync(ctx, store, false); err != nil {
		return models.RGB{}, err
	}

	pos := e.position(x, y)
	data, err := e.buffer.GetRange(ctx, pos, pos+2)
	if err != nil {
		return models.RGB{}, err
	}
	if len(data) != 3 {
		return models.RGB{}, fmt.Errorf("canvas buffer inconsistent at (%d, %d)", x, y)
	}

	var c models.RGB
	copy(c[:], data)
	return c, nil
}

// SetPixel places a pixel: the history row and the buffer patch commit
// together, and the freshness stamps stay balanced so other workers do not
// rebuild over a write they can already see.
func (e *Engine) SetPixel(ctx context.Context, store HistoryStore, x, y int, c models.RGB, userID int64) error {
	if !e.inBounds(x, y) {
		return ErrOutOfBounds
	}
	if err := e.Sync(ctx, store, false); err != nil {
		return err
	}

	return store.InsertPixel(ctx, x, y, c, userID, func(ctx context.Context) error {
		return e.buffer.SetRange(ctx, e.position(x, y), c[:])
	})
}
