// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tessera-app/tessera/internal/canvas"
	"github.com/tessera-app/tessera/internal/logging"
	"github.com/tessera-app/tessera/internal/models"
	"github.com/tessera-app/tessera/internal/validation"
)

// handleGetPixels returns the whole canvas as raw RGB bytes.
func (a *App) handleGetPixels(w http.ResponseWriter, r *http.Request) {
	pixels, err := a.engine.GetPixels(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		respondInternal(w, err, "Failed to read canvas")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixels)
}

// coordinates parses the x/y query parameters: 422 for non-integers, 400
// for values off the canvas.
func (a *App) coordinates(w http.ResponseWriter, r *http.Request) (x, y int, ok bool) {
	var err error
	if x, err = strconv.Atoi(r.URL.Query().Get("x")); err != nil {
		respondMessage(w, http.StatusUnprocessableEntity, "x must be an integer")
		return 0, 0, false
	}
	if y, err = strconv.Atoi(r.URL.Query().Get("y")); err != nil {
		respondMessage(w, http.StatusUnprocessableEntity, "y must be an integer")
		return 0, 0, false
	}

	size := a.engine.Size()
	if x < 0 || x >= size.Width || y < 0 || y >= size.Height {
		respondMessage(w, http.StatusBadRequest,
			fmt.Sprintf("coordinates (%d, %d) are outside the %dx%d canvas", x, y, size.Width, size.Height))
		return 0, 0, false
	}
	return x, y, true
}

// handleGetPixel returns the color at the queried position.
func (a *App) handleGetPixel(w http.ResponseWriter, r *http.Request) {
	x, y, ok := a.coordinates(w, r)
	if !ok {
		return
	}

	c, err := a.engine.GetPixel(r.Context(), sessionFrom(r.Context()), x, y)
	if err != nil {
		respondInternal(w, err, "Failed to read pixel")
		return
	}
	respondJSON(w, http.StatusOK, models.Pixel{X: x, Y: y, RGB: c.Hex()})
}

// handlePutPixel places one pixel for the authenticated user.
func (a *App) handlePutPixel(w http.ResponseWriter, r *http.Request) {
	var pixel models.Pixel
	if err := json.NewDecoder(r.Body).Decode(&pixel); err != nil {
		respondMessage(w, http.StatusUnprocessableEntity, "request body must be JSON {x, y, rgb}")
		return
	}
	if verr := validation.ValidateStruct(pixel); verr != nil {
		respondValidation(w, verr)
		return
	}

	c, err := models.ParseRGB(pixel.RGB)
	if err != nil {
		respondMessage(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	size := a.engine.Size()
	if pixel.X >= size.Width || pixel.Y >= size.Height {
		respondMessage(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("coordinates (%d, %d) are outside the %dx%d canvas", pixel.X, pixel.Y, size.Width, size.Height))
		return
	}

	userID := outcomeFrom(r.Context()).UserID
	logging.Info().
		Int64("user_id", userID).
		Int("x", pixel.X).Int("y", pixel.Y).
		Str("rgb", c.Hex()).
		Msg("Placing pixel")

	err = a.engine.SetPixel(r.Context(), sessionFrom(r.Context()), pixel.X, pixel.Y, c, userID)
	if errors.Is(err, canvas.ErrOutOfBounds) {
		respondMessage(w, http.StatusUnprocessableEntity, "coordinates are outside the canvas")
		return
	}
	if err != nil {
		respondInternal(w, err, "Failed to place pixel")
		return
	}

	respondMessage(w, http.StatusOK,
		fmt.Sprintf("added pixel at x=%d,y=%d of color %s", pixel.X, pixel.Y, pixel.RGB))
}
