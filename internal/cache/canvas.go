// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CanvasBuffer is the shared flat RGB buffer. The key is namespaced by the
// build identifier so a new deployment never adopts a buffer written by an
// older build with a different layout.
type CanvasBuffer struct {
	rdb *redis.Client
	key string
}

// NewCanvasBuffer returns the buffer handle for the given build.
func NewCanvasBuffer(c *Client, gitSHA string) *CanvasBuffer {
	return &CanvasBuffer{
		rdb: c.rdb,
		key: fmt.Sprintf("canvas-cache:%s", gitSHA),
	}
}

// Get returns the whole buffer, or nil when the key does not exist.
func (b *CanvasBuffer) Get(ctx context.Context) ([]byte, error) {
	data, err := b.rdb.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get canvas buffer: %w", err)
	}
	return data, nil
}

// Set replaces the whole buffer.
func (b *CanvasBuffer) Set(ctx context.Context, buf []byte) error {
	if err := b.rdb.Set(ctx, b.key, buf, 0).Err(); err != nil {
		return fmt.Errorf("failed to set canvas buffer: %w", err)
	}
	return nil
}

// SetRange overwrites bytes starting at offset, patching one pixel in place.
func (b *CanvasBuffer) SetRange(ctx context.Context, offset int64, value []byte) error {
	if err := b.rdb.SetRange(ctx, b.key, offset, string(value)).Err(); err != nil {
		return fmt.Errorf("failed to patch canvas buffer at %d: %w", offset, err)
	}
	return nil
}

// Len returns the buffer length in bytes, zero when the key does not exist.
func (b *CanvasBuffer) Len(ctx context.Context) (int64, error) {
	n, err := b.rdb.StrLen(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read canvas buffer length: %w", err)
	}
	return n, nil
}

// GetRange returns the bytes in [start, end], both inclusive.
func (b *CanvasBuffer) GetRange(ctx context.Context, start, end int64) ([]byte, error) {
	data, err := b.rdb.GetRange(ctx, b.key, start, end).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read canvas buffer range [%d, %d]: %w", start, end, err)
	}
	return data, nil
}
