// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tessera-app/tessera/internal/middleware"
)

// Router builds the HTTP surface. Authenticated routes run behind the
// session and auth middleware; per-user quotas wrap the canvas and
// moderation handlers, each with a HEAD probe on the same path.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(a.handleNotFound)

	r.Handle("/metrics", promhttp.Handler())

	// Public pages get a coarse per-IP limit; per-user quotas need a token.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))

		r.Get("/", a.handleRoot)
		r.Get("/docs", a.handleDocs)
		r.Get("/size", a.handleSize)
		r.Get("/authorize", a.handleAuthorize)
		r.Get("/show_token", a.handleShowToken)
	})

	// The callback touches the user table, so it needs a session but no
	// bearer token.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(20, time.Minute))
		r.Use(a.withSession)

		r.Get("/callback", a.handleCallback)
	})

	// Canvas routes: bearer token required, per-user quotas.
	r.Group(func(r chi.Router) {
		r.Use(a.withSession, a.withAuth, a.requireUser)

		r.Method(http.MethodGet, "/canvas/pixels",
			a.limGetPixels.Wrap(a.identity, nil, http.HandlerFunc(a.handleGetPixels)))
		r.Method(http.MethodHead, "/canvas/pixels", a.limGetPixels.Probe(a.identity))

		r.Method(http.MethodGet, "/canvas/pixel",
			a.limGetPixel.Wrap(a.identity, nil, http.HandlerFunc(a.handleGetPixel)))
		r.Method(http.MethodPut, "/canvas/pixel",
			a.limPutPixel.Wrap(a.identity, nil, http.HandlerFunc(a.handlePutPixel)))
		// One path, two buckets: the probe reports the placement quota,
		// which is the one clients poll for.
		r.Method(http.MethodHead, "/canvas/pixel", a.limPutPixel.Probe(a.identity))

		r.Delete("/token", a.handleDeleteToken)
	})

	// Moderation routes share one bucket; the probe endpoint itself is
	// unlimited.
	r.Group(func(r chi.Router) {
		r.Use(a.withSession, a.withAuth, a.requireMod)

		r.Get("/mod", a.handleModCheck)

		wrap := func(h http.HandlerFunc) http.Handler {
			return a.limMod.Wrap(a.identity, nil, h)
		}
		r.Method(http.MethodPost, "/set_mod", wrap(a.handleSetMod))
		r.Method(http.MethodPost, "/mod_ban", wrap(a.handleModBan))
		r.Method(http.MethodGet, "/pixel_history", wrap(a.handlePixelHistory))
		r.Method(http.MethodPost, "/webhook", wrap(a.handleWebhook))
		r.Method(http.MethodPost, "/refresh_cache", wrap(a.handleRefreshCache))

		probe := a.limMod.Probe(a.identity)
		r.Method(http.MethodHead, "/set_mod", probe)
		r.Method(http.MethodHead, "/mod_ban", probe)
		r.Method(http.MethodHead, "/pixel_history", probe)
		r.Method(http.MethodHead, "/webhook", probe)
		r.Method(http.MethodHead, "/refresh_cache", probe)
	})

	return r
}
