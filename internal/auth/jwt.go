// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package auth implements the token lifecycle: OAuth code exchange, HS256
// API tokens bound to a per-user salt, and verification against the user
// table. Rotating the salt invalidates every previously minted token; there
// is no token expiry, only rotation and bans.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tessera-app/tessera/internal/database"
	"github.com/tessera-app/tessera/internal/models"
)

// ErrUserBanned is returned when a banned user tries to mint a token.
var ErrUserBanned = errors.New("user is banned")

// Verdict classifies one authentication attempt.
type Verdict int

const (
	// NoToken means the Authorization header was absent.
	NoToken Verdict = iota
	// BadHeader means the header was present but not a bearer token.
	BadHeader
	// Invalid covers unparseable tokens, unknown users and rotated salts.
	Invalid
	// Banned means the token was valid but its user is banned. Banned
	// outranks Moderator.
	Banned
	// User is a valid regular account.
	User
	// Moderator is a valid account holding the mod flag.
	Moderator
)

// Outcome is the result of verifying a request's credentials. UserID is only
// meaningful for User and Moderator verdicts.
type Outcome struct {
	Verdict Verdict
	UserID  int64
}

// Claims is the API token payload. The user id is carried as a string, the
// salt must match the user's current key_salt.
type Claims struct {
	ID   string `json:"id"`
	Salt string `json:"salt"`
	jwt.RegisteredClaims
}

// UserStore is the database surface the token lifecycle needs.
type UserStore interface {
	User(ctx context.Context, userID int64) (*models.UserRecord, error)
	UpsertUserSalt(ctx context.Context, userID int64, salt string, isMod bool) error
}

// Service mints and verifies API tokens.
type Service struct {
	secret []byte
}

// NewService returns a token service signing with the given secret.
func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// newSalt returns a fresh 22 character url-safe salt.
func newSalt() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Mint signs a token for the user with the given salt.
func (s *Service) Mint(userID int64, salt string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:   strconv.FormatInt(userID, 10),
		Salt: salt,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ResetToken rotates the user's salt and mints a new token, creating the
// user row on first authentication. Every token minted before this call
// stops verifying. Banned users get ErrUserBanned.
func (s *Service) ResetToken(ctx context.Context, store UserStore, userID int64, isMod bool) (string, error) {
	existing, err := store.User(ctx, userID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return "", err
	}
	if existing != nil && existing.IsBanned {
		return "", ErrUserBanned
	}

	salt, err := newSalt()
	if err != nil {
		return "", err
	}
	if err := store.UpsertUserSalt(ctx, userID, salt, isMod); err != nil {
		return "", err
	}
	return s.Mint(userID, salt)
}

// Verify classifies the Authorization header value against the user table.
// The error return is reserved for backend failures; every credential
// problem is expressed as a verdict.
func (s *Service) Verify(ctx context.Context, store UserStore, authorization string) (Outcome, error) {
	if authorization == "" {
		return Outcome{Verdict: NoToken}, nil
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return Outcome{Verdict: BadHeader}, nil
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(authorization, prefix), claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return Outcome{Verdict: Invalid}, nil
	}

	userID, err := strconv.ParseInt(claims.ID, 10, 64)
	if err != nil {
		return Outcome{Verdict: Invalid}, nil
	}

	user, err := store.User(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return Outcome{Verdict: Invalid}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	switch {
	case user.KeySalt != claims.Salt:
		return Outcome{Verdict: Invalid}, nil
	case user.IsBanned:
		return Outcome{Verdict: Banned}, nil
	case user.IsMod:
		return Outcome{Verdict: Moderator, UserID: userID}, nil
	default:
		return Outcome{Verdict: User, UserID: userID}, nil
	}
}
