// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package models defines the request, response and persistence types shared
// across the API surface, the canvas engine and the database layer.
package models

import "time"

// Pixel is a single placement as accepted and returned by the API.
// Coordinate upper bounds depend on the configured canvas size and are
// checked by the handlers; the tags cover the static part of validation.
type Pixel struct {
	X   int    `json:"x" validate:"min=0"`
	Y   int    `json:"y" validate:"min=0"`
	RGB string `json:"rgb" validate:"required,rgbhex"`
}

// User identifies an account by its snowflake id.
type User struct {
	UserID int64 `json:"user_id" validate:"required,snowflake"`
}

// UserRecord is a row of the users table.
type UserRecord struct {
	UserID   int64
	KeySalt  string
	IsMod    bool
	IsBanned bool
}

// HistoryEntry is a row of the append-only pixel_history table.
// The current pixel at (x, y) is the highest-id non-deleted entry.
type HistoryEntry struct {
	ID        int64
	X         int
	Y         int
	RGB       string
	UserID    int64
	Deleted   bool
	CreatedAt time.Time
}

// CanvasSize is the public canvas dimension response.
type CanvasSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Message is a plain informational API response.
type Message struct {
	Message string `json:"message"`
}

// ModBan reports the outcome of a bulk ban request.
type ModBan struct {
	Banned   []int64 `json:"banned"`
	NotFound []int64 `json:"not_found"`
}

// PixelHistory reports the last placer of a pixel to moderators.
type PixelHistory struct {
	UserID int64 `json:"user_id"`
}

// APIError is the error payload carried inside an error response.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
