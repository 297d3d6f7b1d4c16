// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package auth

import (
	"net/http"

	"github.com/gorilla/securecookie"
)

const (
	tokenCookieName = "token"
	tokenCookiePath = "/show_token"

	// The cookie only has to survive the redirect hop from /callback to
	// /show_token.
	tokenCookieMaxAge = 10
)

// CookieCodec carries the freshly minted token across the redirect from
// /callback to /show_token. Keys are generated per process: the cookie is
// short-lived and never has to verify on another worker after a restart.
type CookieCodec struct {
	sc *securecookie.SecureCookie
}

// NewCookieCodec returns a codec with fresh random keys.
func NewCookieCodec() *CookieCodec {
	return &CookieCodec{
		sc: securecookie.New(
			securecookie.GenerateRandomKey(32),
			securecookie.GenerateRandomKey(16),
		),
	}
}

// SetToken encodes the token into the short-lived, path-restricted cookie.
func (c *CookieCodec) SetToken(w http.ResponseWriter, token string) error {
	encoded, err := c.sc.Encode(tokenCookieName, token)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    encoded,
		Path:     tokenCookiePath,
		MaxAge:   tokenCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Token decodes the cookie, returning false when it is absent or invalid.
func (c *CookieCodec) Token(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return "", false
	}
	var token string
	if err := c.sc.Decode(tokenCookieName, cookie.Value, &token); err != nil {
		return "", false
	}
	return token, true
}
