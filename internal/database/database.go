// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package database wraps the Postgres connection pool and provides the data
// access methods for users, pixel history and the cache coherence state row.
//
// Handlers do not touch *sql.DB directly: middleware acquires a *Session
// (one dedicated connection) per request and stores it in the request
// context, so every query a request makes observes a consistent view of the
// pool and the canvas engine can pass the same session through a whole
// synchronization round.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tessera-app/tessera/internal/config"
	"github.com/tessera-app/tessera/internal/logging"
	"github.com/tessera-app/tessera/internal/metrics"
)

// DB wraps the Postgres connection pool.
type DB struct {
	pool *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens the connection pool and verifies connectivity.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	pool, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pool.SetMaxOpenConns(cfg.MaxPoolSize)
	pool.SetMaxIdleConns(cfg.MinPoolSize)
	pool.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{pool: pool, cfg: cfg}

	logging.Info().
		Int("min_pool_size", cfg.MinPoolSize).
		Int("max_pool_size", cfg.MaxPoolSize).
		Msg("Database pool established")

	return db, nil
}

// InitSchema creates the tables, the cache state singleton and the
// last-modified trigger if they do not exist. Safe to run on every start.
func (db *DB) InitSchema(ctx context.Context) error {
	start := time.Now()
	_, err := db.pool.ExecContext(ctx, schema)
	metrics.RecordDBQuery("init_schema", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Msg("Database schema initialized")
	return nil
}

// Acquire checks a dedicated connection out of the pool and wraps it in a
// Session. The caller must Release it; middleware does this per request.
func (db *DB) Acquire(ctx context.Context) (*Session, error) {
	conn, err := db.pool.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() error {
	return db.pool.Close()
}

// Session is one pooled connection with the domain query methods on it.
type Session struct {
	conn *sql.Conn
}

// Release returns the connection to the pool.
func (s *Session) Release() {
	if err := s.conn.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to release database connection")
	}
}
