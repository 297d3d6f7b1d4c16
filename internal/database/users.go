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

// User returns the user row for id, or ErrNotFound.
func (s *Session) User(ctx context.Context, userID int64) (*models.UserRecord, error) {
	start := time.Now()
	var u models.UserRecord
	err := s.conn.QueryRowContext(ctx,
		`SELECT user_id, key_salt, is_mod, is_banned FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.KeySalt, &u.IsMod, &u.IsBanned)
	metrics.RecordDBQuery("user_get", time.Since(start), err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %d: %w", userID, err)
	}
	return &u, nil
}

// UpsertUserSalt creates the user row or replaces its token salt.
// Replacing the salt invalidates every token minted before this call.
// The mod flag only applies on first insert; existing flags are untouched.
func (s *Session) UpsertUserSalt(ctx context.Context, userID int64, salt string, isMod bool) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (user_id, key_salt, is_mod) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET key_salt = EXCLUDED.key_salt`,
		userID, salt, isMod,
	)
	metrics.RecordDBQuery("user_upsert_salt", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert salt for user %d: %w", userID, err)
	}
	return nil
}

// SetMod sets the moderator flag on an existing user, or ErrNotFound.
func (s *Session) SetMod(ctx context.Context, userID int64, isMod bool) error {
	start := time.Now()
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET is_mod = $2 WHERE user_id = $1`,
		userID, isMod,
	)
	metrics.RecordDBQuery("user_set_mod", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to set mod for user %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BanUsers bans each listed user and soft-deletes their pixel history in a
// single transaction. Unknown ids are reported rather than failing the whole
// batch. The history update fires the last-modified trigger, so the next
// freshness check rebuilds the canvas without the banned pixels.
func (s *Session) BanUsers(ctx context.Context, userIDs []int64) (*models.ModBan, error) {
	start := time.Now()
	result, err := s.banUsers(ctx, userIDs)
	metrics.RecordDBQuery("users_ban", time.Since(start), err)
	return result, err
}

func (s *Session) banUsers(ctx context.Context, userIDs []int64) (*models.ModBan, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ban transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &models.ModBan{Banned: []int64{}, NotFound: []int64{}}
	for _, id := range userIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET is_banned = true WHERE user_id = $1`, id)
		if err != nil {
			return nil, fmt.Errorf("failed to ban user %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			result.NotFound = append(result.NotFound, id)
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE pixel_history SET deleted = true WHERE user_id = $1 AND NOT deleted`, id); err != nil {
			return nil, fmt.Errorf("failed to delete pixels of user %d: %w", id, err)
		}
		result.Banned = append(result.Banned, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ban transaction: %w", err)
	}
	return result, nil
}
