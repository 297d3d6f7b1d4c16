// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tessera-app/tessera/internal/metrics"
)

// DeadlockThreshold is how long a worker may hold the sync lock before
// another worker is allowed to dispossess it.
const DeadlockThreshold = 10 * time.Second

// Freshness returns the cache coherence timestamps. The shared buffer is
// stale whenever last_modified is ahead of last_synced.
func (s *Session) Freshness(ctx context.Context) (lastModified, lastSynced time.Time, err error) {
	start := time.Now()
	err = s.conn.QueryRowContext(ctx,
		`SELECT last_modified, last_synced FROM cache_state`,
	).Scan(&lastModified, &lastSynced)
	metrics.RecordDBQuery("cache_freshness", time.Since(start), err)
	if err != nil {
		err = fmt.Errorf("failed to query cache freshness: %w", err)
	}
	return lastModified, lastSynced, err
}

// TryAcquireSyncLock attempts to take the rebuild lock. The row is locked,
// stamped with now(), and the previous holder's stamp returned: nil means
// the lock was free and this worker now holds it; non-nil means another
// worker holds it since the returned time.
func (s *Session) TryAcquireSyncLock(ctx context.Context) (*time.Time, error) {
	start := time.Now()
	var previous sql.NullTime
	err := s.conn.QueryRowContext(ctx,
		`UPDATE cache_state x SET sync_lock = now()
		 FROM (SELECT sync_lock FROM cache_state FOR UPDATE) y
		 RETURNING y.sync_lock AS previous_state`,
	).Scan(&previous)
	metrics.RecordDBQuery("cache_lock_acquire", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !previous.Valid {
		return nil, nil
	}
	return &previous.Time, nil
}

// StealSyncLock reclaims a lock held longer than the deadlock threshold.
// The guard is part of the statement, so two stealing workers cannot both
// succeed on the same expired stamp. Returns whether this worker won.
func (s *Session) StealSyncLock(ctx context.Context) (bool, error) {
	start := time.Now()
	res, err := s.conn.ExecContext(ctx,
		`UPDATE cache_state SET sync_lock = now()
		 WHERE now() - sync_lock > interval '10 seconds'`)
	metrics.RecordDBQuery("cache_lock_steal", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to steal sync lock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		metrics.CacheLockSteals.Inc()
	}
	return n > 0, nil
}

// ReleaseSyncLock clears the rebuild lock.
func (s *Session) ReleaseSyncLock(ctx context.Context) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`UPDATE cache_state SET sync_lock = NULL`)
	metrics.RecordDBQuery("cache_lock_release", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// MarkSynced records that the shared buffer now reflects the history.
func (s *Session) MarkSynced(ctx context.Context) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`UPDATE cache_state SET last_synced = now()`)
	metrics.RecordDBQuery("cache_mark_synced", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to mark cache synced: %w", err)
	}
	return nil
}

// SyncLock returns the current lock stamp, or nil when the lock is free.
// Used by waiting workers to poll for the leader finishing.
func (s *Session) SyncLock(ctx context.Context) (*time.Time, error) {
	start := time.Now()
	var lock sql.NullTime
	err := s.conn.QueryRowContext(ctx,
		`SELECT sync_lock FROM cache_state`,
	).Scan(&lock)
	metrics.RecordDBQuery("cache_lock_get", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync lock: %w", err)
	}
	if !lock.Valid {
		return nil, nil
	}
	return &lock.Time, nil
}
