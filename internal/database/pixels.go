// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-app/tessera/internal/metrics"
	"github.com/tessera-app/tessera/internal/models"
)

// LastPlacer returns the user who placed the visible pixel at (x, y), or
// ErrNotFound if the position has never been touched (or only by banned
// users whose history is deleted).
func (s *Session) LastPlacer(ctx context.Context, x, y int) (int64, error) {
	start := time.Now()
	var userID int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT user_id FROM pixel_history
		 WHERE x = $1 AND y = $2 AND NOT deleted
		 ORDER BY pixel_history_id DESC
		 LIMIT 1`,
		x, y,
	).Scan(&userID)
	metrics.RecordDBQuery("pixel_last_placer", time.Since(start), err)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query last placer of (%d, %d): %w", x, y, err)
	}
	return userID, nil
}

// CurrentPixels streams the visible pixel for every touched position, in
// undefined order. The callback is invoked once per position; returning an
// error aborts the scan.
func (s *Session) CurrentPixels(ctx context.Context, fn func(x, y int, c models.RGB) error) error {
	start := time.Now()
	err := s.currentPixels(ctx, fn)
	metrics.RecordDBQuery("pixels_current", time.Since(start), err)
	return err
}

func (s *Session) currentPixels(ctx context.Context, fn func(x, y int, c models.RGB) error) error {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT DISTINCT ON (x, y) x, y, rgb FROM pixel_history
		 WHERE NOT deleted
		 ORDER BY x, y, pixel_history_id DESC`)
	if err != nil {
		return fmt.Errorf("failed to query current pixels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			x, y int
			hex  string
		)
		if err := rows.Scan(&x, &y, &hex); err != nil {
			return fmt.Errorf("failed to scan pixel row: %w", err)
		}
		c, err := models.ParseRGB(hex)
		if err != nil {
			return fmt.Errorf("corrupt color in history at (%d, %d): %w", x, y, err)
		}
		if err := fn(x, y, c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// InsertPixel appends one placement to the history and runs patch inside the
// same transaction, so the shared buffer write and the history row commit or
// roll back together. On success the cache is marked synced, cancelling the
// last-modified advance the insert trigger caused.
func (s *Session) InsertPixel(ctx context.Context, x, y int, c models.RGB, userID int64, patch func(context.Context) error) error {
	start := time.Now()
	err := s.insertPixel(ctx, x, y, c, userID, patch)
	metrics.RecordDBQuery("pixel_insert", time.Since(start), err)
	if err == nil {
		metrics.PixelsPlaced.Inc()
	}
	return err
}

func (s *Session) insertPixel(ctx context.Context, x, y int, c models.RGB, userID int64, patch func(context.Context) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin pixel transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pixel_history (x, y, rgb, user_id) VALUES ($1, $2, $3, $4)`,
		x, y, c.Hex(), userID,
	); err != nil {
		return fmt.Errorf("failed to insert pixel: %w", err)
	}

	if patch != nil {
		if err := patch(ctx); err != nil {
			return fmt.Errorf("failed to patch canvas buffer: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE cache_state SET last_synced = now()`); err != nil {
		return fmt.Errorf("failed to mark cache synced: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pixel transaction: %w", err)
	}
	return nil
}
