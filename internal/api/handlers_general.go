// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package api

import (
	"errors"
	"net/http"

	"github.com/tessera-app/tessera/internal/auth"
	"github.com/tessera-app/tessera/internal/logging"
)

// handleRoot sends visitors to the docs.
func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/docs", http.StatusMovedPermanently)
}

// handleDocs renders the API documentation page. Moderation endpoints are
// hidden from the rendered page in production.
func (a *App) handleDocs(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusOK, "docs.html", map[string]interface{}{
		"BaseURL":    a.cfg.Server.BaseURL,
		"Production": a.cfg.Server.Production,
	})
}

// handleSize returns the canvas dimensions. Unauthenticated.
func (a *App) handleSize(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.engine.Size())
}

// handleNotFound renders the HTML 404 page.
func (a *App) handleNotFound(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusNotFound, "not_found.html", nil)
}

// handleAuthorize redirects to the identity provider; the flow continues in
// /callback.
func (a *App) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, a.oauth.AuthCodeURL(), http.StatusTemporaryRedirect)
}

// handleCallback exchanges the authorization code, mints a token and hands
// it to /show_token through the short-lived cookie. Provider failures fold
// into a fixed 401 so the page never leaks exchange details.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		respondMessage(w, http.StatusUnauthorized, "Unknown error while creating token")
		return
	}

	userID, err := a.oauth.ExchangeUser(r.Context(), code)
	if err != nil {
		logging.Error().Err(err).Msg("OAuth exchange failed")
		respondMessage(w, http.StatusUnauthorized, "Unknown error while creating token")
		return
	}

	token, err := a.tokens.ResetToken(r.Context(), sessionFrom(r.Context()), userID, a.mods[userID])
	if errors.Is(err, auth.ErrUserBanned) {
		respondMessage(w, http.StatusForbidden, "You are banned.")
		return
	}
	if err != nil {
		respondInternal(w, err, "Failed to mint token")
		return
	}

	if err := a.cookies.SetToken(w, token); err != nil {
		respondInternal(w, err, "Failed to set token cookie")
		return
	}
	http.Redirect(w, r, "/show_token", http.StatusSeeOther)
}

// handleShowToken displays the freshly minted token, or the cookie help
// page when the cookie is missing or stale.
func (a *App) handleShowToken(w http.ResponseWriter, r *http.Request) {
	token, ok := a.cookies.Token(r)
	if !ok {
		renderPage(w, http.StatusOK, "cookie_disabled.html", nil)
		return
	}
	renderPage(w, http.StatusOK, "api_token.html", map[string]interface{}{"Token": token})
}

// handleDeleteToken rotates the caller's salt, invalidating every token
// they hold. Self-service: any authenticated user may rotate their own.
func (a *App) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	userID := outcomeFrom(r.Context()).UserID

	_, err := a.tokens.ResetToken(r.Context(), sessionFrom(r.Context()), userID, a.mods[userID])
	if errors.Is(err, auth.ErrUserBanned) {
		respondMessage(w, http.StatusForbidden, "You are banned.")
		return
	}
	if err != nil {
		respondInternal(w, err, "Failed to rotate token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
