// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tessera-app/tessera/internal/database"
	"github.com/tessera-app/tessera/internal/logging"
	"github.com/tessera-app/tessera/internal/models"
	"github.com/tessera-app/tessera/internal/validation"
)

// handleModCheck is a trivial probe for moderator status; reaching it at
// all means the middleware accepted the caller as a moderator.
func (a *App) handleModCheck(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, http.StatusOK, "Hello fellow moderator!")
}

// handleSetMod grants the moderator flag. Idempotent: repeated grants and
// unknown users answer with a message instead of an error status.
func (a *App) handleSetMod(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		respondMessage(w, http.StatusUnprocessableEntity, "request body must be JSON {user_id}")
		return
	}
	if verr := validation.ValidateStruct(user); verr != nil {
		respondValidation(w, verr)
		return
	}

	session := sessionFrom(r.Context())
	existing, err := session.User(r.Context(), user.UserID)
	if errors.Is(err, database.ErrNotFound) {
		respondMessage(w, http.StatusOK, fmt.Sprintf("User with user_id %d does not exist.", user.UserID))
		return
	}
	if err != nil {
		respondInternal(w, err, "Failed to look up user")
		return
	}
	if existing.IsMod {
		respondMessage(w, http.StatusOK, fmt.Sprintf("User with user_id %d is already a mod.", user.UserID))
		return
	}

	if err := session.SetMod(r.Context(), user.UserID, true); err != nil {
		respondInternal(w, err, "Failed to set mod")
		return
	}
	respondMessage(w, http.StatusOK, fmt.Sprintf("Successfully set user with user_id %d to mod", user.UserID))
}

// handleModBan bans the listed users and soft-deletes their pixels, then
// forces a rebuild so the canvas no longer shows them.
func (a *App) handleModBan(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := json.NewDecoder(r.Body).Decode(&users); err != nil {
		respondMessage(w, http.StatusUnprocessableEntity, "request body must be a JSON list of {user_id}")
		return
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		if verr := validation.ValidateStruct(u); verr != nil {
			respondValidation(w, verr)
			return
		}
		ids = append(ids, u.UserID)
	}

	session := sessionFrom(r.Context())
	result, err := session.BanUsers(r.Context(), ids)
	if err != nil {
		respondInternal(w, err, "Failed to ban users")
		return
	}

	logging.Info().Ints64("banned", result.Banned).Msg("Users banned")

	if err := a.engine.Sync(r.Context(), session, true); err != nil {
		respondInternal(w, err, "Failed to rebuild canvas after ban")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handlePixelHistory reports who last placed the pixel at the queried
// position.
func (a *App) handlePixelHistory(w http.ResponseWriter, r *http.Request) {
	x, y, ok := a.coordinates(w, r)
	if !ok {
		return
	}

	userID, err := sessionFrom(r.Context()).LastPlacer(r.Context(), x, y)
	if errors.Is(err, database.ErrNotFound) {
		respondMessage(w, http.StatusOK, fmt.Sprintf("No user history for pixel (%d, %d)", x, y))
		return
	}
	if err != nil {
		respondInternal(w, err, "Failed to read pixel history")
		return
	}
	respondJSON(w, http.StatusOK, models.PixelHistory{UserID: userID})
}

// handleWebhook renders the canvas and pushes it to the configured webhook.
func (a *App) handleWebhook(w http.ResponseWriter, r *http.Request) {
	pixels, err := a.engine.GetPixels(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		respondInternal(w, err, "Failed to read canvas for webhook")
		return
	}

	size := a.engine.Size()
	if err := a.webhook.Push(r.Context(), pixels, size.Width, size.Height); err != nil {
		respondInternal(w, err, "Failed to push webhook")
		return
	}
	respondMessage(w, http.StatusOK, "Webhook posted successfully.")
}

// handleRefreshCache forces a full canvas rebuild.
func (a *App) handleRefreshCache(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Sync(r.Context(), sessionFrom(r.Context()), true); err != nil {
		respondInternal(w, err, "Failed to refresh canvas cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
