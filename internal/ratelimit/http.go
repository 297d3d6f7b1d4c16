// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tessera-app/tessera/internal/logging"
	"github.com/tessera-app/tessera/internal/metrics"
)

// Identity resolves the authenticated user behind a request. The API layer
// supplies one reading the auth outcome from the request context; requests
// it cannot resolve pass through unmetered (they were already rejected by
// the auth middleware or belong to an unauthenticated route).
type Identity func(r *http.Request) (int64, bool)

// Bypass lets privileged users skip the quota entirely. May be nil.
type Bypass func(r *http.Request) bool

// Wrap meters next with this limiter. The quota is charged before the
// handler runs; when the handler answers with a client error and the
// limiter does not count failures, the charge is refunded afterwards.
func (l *Limiter) Wrap(identity Identity, bypass Bypass, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity(r)
		if !ok || (bypass != nil && bypass(r)) {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := l.Take(r.Context(), userID)
		if err != nil {
			l.backendError(w, err)
			return
		}
		if !decision.Allowed {
			l.cooldownResponse(w, decision)
			return
		}

		setQuotaHeaders(w.Header(), l, decision)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		if !l.cfg.CountFailed && recorder.status >= 400 && recorder.status < 500 {
			if err := l.Refund(r.Context(), userID, decision); err != nil {
				logging.Warn().Err(err).Str("route", l.name).Msg("Failed to refund rate limit mark")
			}
		}
	})
}

// Probe answers a HEAD request with the user's quota headers without
// charging it.
func (l *Limiter) Probe(identity Identity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity(r)
		if !ok {
			w.WriteHeader(http.StatusOK)
			return
		}

		decision, err := l.Peek(r.Context(), userID)
		if err != nil {
			l.backendError(w, err)
			return
		}

		if !decision.Allowed {
			w.Header().Set("Cooldown-Reset", strconv.Itoa(Seconds(decision.CooldownReset)))
		} else {
			setQuotaHeaders(w.Header(), l, decision)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// setQuotaHeaders writes the standard quota headers. Remaining is clamped
// at zero: the request that overflowed already pays with a cooldown.
func setQuotaHeaders(h http.Header, l *Limiter, d Decision) {
	remaining := d.Remaining
	if remaining < 0 {
		remaining = 0
	}
	h.Set("Requests-Remaining", strconv.Itoa(remaining))
	h.Set("Requests-Limit", strconv.Itoa(l.cfg.Bucket.Amount))
	h.Set("Requests-Period", strconv.Itoa(Seconds(l.cfg.Bucket.Window)))
	h.Set("Requests-Reset", strconv.Itoa(Seconds(d.Reset)))
}

// cooldownResponse answers 429 with the remaining penalty.
func (l *Limiter) cooldownResponse(w http.ResponseWriter, d Decision) {
	metrics.RateLimitRejections.WithLabelValues(l.name).Inc()

	w.Header().Set("Cooldown-Reset", strconv.Itoa(Seconds(d.CooldownReset)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "You are currently on cooldown. Try again later.",
	})
}

// backendError answers 500. A broken quota backend must never let traffic
// through unmetered.
func (l *Limiter) backendError(w http.ResponseWriter, err error) {
	metrics.RateLimitBackendErrors.Inc()
	logging.Error().Err(err).Str("route", l.name).Msg("Rate limit backend failure")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "Unknown error occurred, please contact staff.",
	})
}

// statusRecorder captures the handler's status code for the refund check.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
