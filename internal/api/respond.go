// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tessera-app/tessera/internal/logging"
	"github.com/tessera-app/tessera/internal/models"
	"github.com/tessera-app/tessera/internal/validation"
)

const genericErrorMessage = "Unknown error occurred, please contact staff."

// respondJSON writes v as the JSON response body.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondMessage writes the {"message": ...} shape used by informational
// responses and plain errors alike.
func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.Message{Message: message})
}

// respondValidation writes a 422 with per-field details.
func respondValidation(w http.ResponseWriter, verr *validation.RequestValidationError) {
	respondJSON(w, http.StatusUnprocessableEntity, models.APIError{
		Code:    "validation_failed",
		Message: verr.Error(),
		Details: verr.Detail(),
	})
}

// respondInternal logs the failure and hides it behind the generic message.
func respondInternal(w http.ResponseWriter, err error, context string) {
	logging.Error().Err(err).Msg(context)
	respondMessage(w, http.StatusInternalServerError, genericErrorMessage)
}
