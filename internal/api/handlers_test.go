// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-app/tessera/internal/auth"
	"github.com/tessera-app/tessera/internal/canvas"
	"github.com/tessera-app/tessera/internal/config"
)

// testApp builds an App for the handler paths that never reach the
// database: parameter validation, auth enforcement and the HTML pages.
func testApp() *App {
	return &App{
		cfg: &config.Config{
			Server: config.ServerConfig{BaseURL: "http://localhost:8000"},
		},
		engine:  canvas.New(160, 90, nil),
		tokens:  auth.NewService("test-secret"),
		cookies: auth.NewCookieCodec(),
	}
}

func withOutcome(r *http.Request, outcome auth.Outcome) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), outcomeKey, outcome))
}

func TestHandleRootRedirectsToDocs(t *testing.T) {
	rec := httptest.NewRecorder()
	testApp().handleRoot(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/docs", rec.Header().Get("Location"))
}

func TestHandleSize(t *testing.T) {
	rec := httptest.NewRecorder()
	testApp().handleSize(rec, httptest.NewRequest(http.MethodGet, "/size", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"width": 160, "height": 90}`, rec.Body.String())
}

func TestHandleDocsRendersHTML(t *testing.T) {
	rec := httptest.NewRecorder()
	testApp().handleDocs(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "http://localhost:8000")
}

func TestHandleNotFoundRendersHTML(t *testing.T) {
	rec := httptest.NewRecorder()
	testApp().handleNotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestCoordinatesValidation(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{name: "missing x", query: "y=5", wantCode: http.StatusUnprocessableEntity, wantBody: "x must be an integer"},
		{name: "non integer x", query: "x=abc&y=5", wantCode: http.StatusUnprocessableEntity, wantBody: "x must be an integer"},
		{name: "non integer y", query: "x=5&y=1.5", wantCode: http.StatusUnprocessableEntity, wantBody: "y must be an integer"},
		{name: "negative x", query: "x=-1&y=5", wantCode: http.StatusBadRequest, wantBody: "outside the 160x90 canvas"},
		{name: "x at width", query: "x=160&y=5", wantCode: http.StatusBadRequest, wantBody: "coordinates (160, 5)"},
		{name: "y past height", query: "x=0&y=90", wantCode: http.StatusBadRequest, wantBody: "outside the 160x90 canvas"},
	}

	app := testApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/canvas/pixel?"+tt.query, nil)

			_, _, ok := app.coordinates(rec, req)
			assert.False(t, ok)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestCoordinatesAccepted(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/canvas/pixel?x=159&y=89", nil)

	x, y, ok := testApp().coordinates(rec, req)
	require.True(t, ok)
	assert.Equal(t, 159, x)
	assert.Equal(t, 89, y)
}

func TestHandlePutPixelRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantBody string
	}{
		{name: "not json", body: "not json", wantBody: "must be JSON"},
		{name: "missing rgb", body: `{"x": 1, "y": 1}`, wantBody: "validation"},
		{name: "short rgb", body: `{"x": 1, "y": 1, "rgb": "fff"}`, wantBody: "validation"},
		{name: "non hex rgb", body: `{"x": 1, "y": 1, "rgb": "zzzzzz"}`, wantBody: "validation"},
		{name: "negative coordinate", body: `{"x": -1, "y": 1, "rgb": "ff00aa"}`, wantBody: "validation"},
		{name: "x past width", body: `{"x": 160, "y": 1, "rgb": "ff00aa"}`, wantBody: "outside the 160x90 canvas"},
		{name: "y past height", body: `{"x": 1, "y": 90, "rgb": "ff00aa"}`, wantBody: "outside the 160x90 canvas"},
	}

	app := testApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/canvas/pixel", strings.NewReader(tt.body))
			req = withOutcome(req, auth.Outcome{Verdict: auth.User, UserID: 1})

			app.handlePutPixel(rec, req)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestEnforceVerdicts(t *testing.T) {
	tests := []struct {
		name     string
		outcome  auth.Outcome
		needMod  bool
		wantCode int
		wantBody string
	}{
		{name: "no token", outcome: auth.Outcome{Verdict: auth.NoToken},
			wantCode: http.StatusUnauthorized, wantBody: "No token provided."},
		{name: "bad header", outcome: auth.Outcome{Verdict: auth.BadHeader},
			wantCode: http.StatusUnauthorized, wantBody: "Invalid authorization header."},
		{name: "invalid token", outcome: auth.Outcome{Verdict: auth.Invalid},
			wantCode: http.StatusForbidden, wantBody: "Invalid token."},
		{name: "banned", outcome: auth.Outcome{Verdict: auth.Banned},
			wantCode: http.StatusForbidden, wantBody: "You are banned."},
		{name: "banned needs mod", outcome: auth.Outcome{Verdict: auth.Banned}, needMod: true,
			wantCode: http.StatusForbidden, wantBody: "You are banned."},
		{name: "user on mod route", outcome: auth.Outcome{Verdict: auth.User, UserID: 1}, needMod: true,
			wantCode: http.StatusForbidden, wantBody: "This endpoint is limited to moderators."},
	}

	app := testApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := app.requireUser
			if tt.needMod {
				gate = app.requireMod
			}

			called := false
			handler := gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			rec := httptest.NewRecorder()
			req := withOutcome(httptest.NewRequest(http.MethodGet, "/canvas/pixels", nil), tt.outcome)
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestEnforceAllowsUserAndModerator(t *testing.T) {
	app := testApp()

	for _, outcome := range []auth.Outcome{
		{Verdict: auth.User, UserID: 1},
		{Verdict: auth.Moderator, UserID: 2},
	} {
		called := false
		handler := app.requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withOutcome(httptest.NewRequest(http.MethodGet, "/", nil), outcome))
		assert.True(t, called)
	}

	// Moderators pass the mod gate.
	called := false
	handler := app.requireMod(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withOutcome(httptest.NewRequest(http.MethodGet, "/mod", nil),
		auth.Outcome{Verdict: auth.Moderator, UserID: 2}))
	assert.True(t, called)
}

func TestIdentityResolvesAuthenticatedUsers(t *testing.T) {
	app := testApp()

	id, ok := app.identity(withOutcome(httptest.NewRequest(http.MethodGet, "/", nil),
		auth.Outcome{Verdict: auth.User, UserID: 42}))
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = app.identity(withOutcome(httptest.NewRequest(http.MethodGet, "/", nil),
		auth.Outcome{Verdict: auth.Invalid}))
	assert.False(t, ok)

	_, ok = app.identity(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestHandleShowToken(t *testing.T) {
	app := testApp()

	// With the cookie: the token page.
	rec := httptest.NewRecorder()
	require.NoError(t, app.cookies.SetToken(rec, "my-api-token"))

	req := httptest.NewRequest(http.MethodGet, "/show_token", nil)
	req.AddCookie(rec.Result().Cookies()[0])

	page := httptest.NewRecorder()
	app.handleShowToken(page, req)
	assert.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "my-api-token")

	// Without it: the cookie help page, not an error.
	page = httptest.NewRecorder()
	app.handleShowToken(page, httptest.NewRequest(http.MethodGet, "/show_token", nil))
	assert.Equal(t, http.StatusOK, page.Code)
	assert.NotContains(t, page.Body.String(), "my-api-token")
}

func TestHandleCallbackMissingCode(t *testing.T) {
	rec := httptest.NewRecorder()
	testApp().handleCallback(rec, httptest.NewRequest(http.MethodGet, "/callback", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown error while creating token")
}
