// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package api is the HTTP surface: routing, per-request middleware and the
// handlers for the canvas, authentication and moderation endpoints.
//
// Every handler that touches the database gets a dedicated pooled
// connection for the request's lifetime, acquired by middleware and carried
// in the request context together with the authentication outcome.
package api

import (
	"context"
	"net/http"

	"github.com/tessera-app/tessera/internal/auth"
	"github.com/tessera-app/tessera/internal/cache"
	"github.com/tessera-app/tessera/internal/canvas"
	"github.com/tessera-app/tessera/internal/config"
	"github.com/tessera-app/tessera/internal/database"
	"github.com/tessera-app/tessera/internal/logging"
	"github.com/tessera-app/tessera/internal/ratelimit"
	"github.com/tessera-app/tessera/internal/webhook"
)

// App holds the shared handles the handlers work with. One App serves the
// whole process; per-request state lives in the request context.
type App struct {
	cfg     *config.Config
	db      *database.DB
	engine  *canvas.Engine
	tokens  *auth.Service
	oauth   *auth.OAuth
	cookies *auth.CookieCodec
	webhook *webhook.Client
	mods    map[int64]bool

	limGetPixels *ratelimit.Limiter
	limGetPixel  *ratelimit.Limiter
	limPutPixel  *ratelimit.Limiter
	limMod       *ratelimit.Limiter
}

// NewApp wires the handler state and the per-route limiters.
func NewApp(cfg *config.Config, db *database.DB, redis *cache.Client, engine *canvas.Engine, mods map[int64]bool) *App {
	return &App{
		cfg:     cfg,
		db:      db,
		engine:  engine,
		tokens:  auth.NewService(cfg.Auth.JWTSecret),
		oauth:   auth.NewOAuth(&cfg.Auth, cfg.Server.BaseURL),
		cookies: auth.NewCookieCodec(),
		webhook: webhook.New(&cfg.Webhook, redis),
		mods:    mods,

		limGetPixels: ratelimit.New(redis, ratelimit.Config{
			Bucket: cfg.RateLimits.GetPixels, CountFailed: true,
		}).Register("get_pixels"),
		limGetPixel: ratelimit.New(redis, ratelimit.Config{
			Bucket: cfg.RateLimits.GetPixel, CountFailed: true,
		}).Register("get_pixel"),
		limPutPixel: ratelimit.New(redis, ratelimit.Config{
			Bucket: cfg.RateLimits.PutPixel, CountFailed: false,
		}).Register("put_pixel"),
		limMod: ratelimit.New(redis, ratelimit.Config{
			Bucket: cfg.RateLimits.Mod, CountFailed: true,
		}).Register("set_mod").Register("mod_ban").Register("pixel_history").
			Register("webhook").Register("refresh_cache"),
	}
}

type contextKey string

const (
	sessionKey contextKey = "db_session"
	outcomeKey contextKey = "auth_outcome"
)

// sessionFrom returns the request's database session.
func sessionFrom(ctx context.Context) *database.Session {
	s, _ := ctx.Value(sessionKey).(*database.Session)
	return s
}

// outcomeFrom returns the request's authentication outcome.
func outcomeFrom(ctx context.Context) auth.Outcome {
	o, _ := ctx.Value(outcomeKey).(auth.Outcome)
	return o
}

// withSession acquires one pooled connection for the request and releases
// it on every exit path.
func (a *App) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := a.db.Acquire(r.Context())
		if err != nil {
			logging.Error().Err(err).Msg("Failed to acquire database connection")
			respondMessage(w, http.StatusInternalServerError, genericErrorMessage)
			return
		}
		defer session.Release()

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withAuth classifies the request's credentials. Enforcement is separate:
// requireUser and requireMod gate route groups on the stored outcome.
func (a *App) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome, err := a.tokens.Verify(r.Context(), sessionFrom(r.Context()), r.Header.Get("Authorization"))
		if err != nil {
			logging.Error().Err(err).Msg("Failed to verify credentials")
			respondMessage(w, http.StatusInternalServerError, genericErrorMessage)
			return
		}

		ctx := context.WithValue(r.Context(), outcomeKey, outcome)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser rejects requests whose credentials do not resolve to a live
// account.
func (a *App) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enforce(w, outcomeFrom(r.Context()), false) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireMod additionally demands the moderator flag.
func (a *App) requireMod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enforce(w, outcomeFrom(r.Context()), true) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// enforce maps a failed outcome to its response, returning whether the
// request may proceed.
func (a *App) enforce(w http.ResponseWriter, outcome auth.Outcome, needMod bool) bool {
	switch outcome.Verdict {
	case auth.NoToken:
		respondMessage(w, http.StatusUnauthorized, "No token provided.")
	case auth.BadHeader:
		respondMessage(w, http.StatusUnauthorized, "Invalid authorization header.")
	case auth.Invalid:
		respondMessage(w, http.StatusForbidden, "Invalid token.")
	case auth.Banned:
		respondMessage(w, http.StatusForbidden, "You are banned.")
	case auth.User:
		if needMod {
			respondMessage(w, http.StatusForbidden, "This endpoint is limited to moderators.")
			return false
		}
		return true
	case auth.Moderator:
		return true
	}
	return false
}

// identity resolves the authenticated user for the rate limiters.
func (a *App) identity(r *http.Request) (int64, bool) {
	outcome := outcomeFrom(r.Context())
	if outcome.Verdict == auth.User || outcome.Verdict == auth.Moderator {
		return outcome.UserID, true
	}
	return 0, false
}
