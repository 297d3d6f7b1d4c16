// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package database

// schema is the complete DDL. pixel_history is append-only: the current
// pixel at (x, y) is the highest-id row that is not soft-deleted. cache_state
// is a singleton whose timestamps drive cache coherence:
//
//   - last_modified advances on every history write (via trigger)
//   - last_synced records when the shared buffer last matched the table
//   - sync_lock is the distributed rebuild lock; a worker holding it longer
//     than the deadlock threshold can be dispossessed
const schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id   bigint PRIMARY KEY,
    key_salt  text NOT NULL,
    is_mod    boolean NOT NULL DEFAULT false,
    is_banned boolean NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS pixel_history (
    pixel_history_id bigserial PRIMARY KEY,
    x          integer NOT NULL,
    y          integer NOT NULL,
    rgb        char(6) NOT NULL,
    user_id    bigint NOT NULL REFERENCES users (user_id),
    deleted    boolean NOT NULL DEFAULT false,
    created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS pixel_history_xy_idx
    ON pixel_history (x, y, pixel_history_id DESC);

CREATE INDEX IF NOT EXISTS pixel_history_user_idx
    ON pixel_history (user_id);

CREATE TABLE IF NOT EXISTS cache_state (
    one           boolean PRIMARY KEY DEFAULT true CHECK (one),
    last_modified timestamptz NOT NULL DEFAULT now(),
    last_synced   timestamptz NOT NULL DEFAULT to_timestamp(0),
    sync_lock     timestamptz
);

INSERT INTO cache_state DEFAULT VALUES ON CONFLICT DO NOTHING;

CREATE OR REPLACE FUNCTION touch_last_modified() RETURNS trigger AS $$
BEGIN
    UPDATE cache_state SET last_modified = now();
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS pixel_history_touch ON pixel_history;
CREATE TRIGGER pixel_history_touch
    AFTER INSERT OR UPDATE ON pixel_history
    FOR EACH STATEMENT EXECUTE FUNCTION touch_last_modified();
`
