// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/tessera-app/tessera/internal/config"
)

// OAuth drives the authorization code flow against the identity provider.
type OAuth struct {
	config  *oauth2.Config
	userURL string
}

// NewOAuth builds the flow from the configured provider endpoints. The
// redirect URI is derived from the server's external base URL.
func NewOAuth(cfg *config.AuthConfig, baseURL string) *OAuth {
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  baseURL + "/callback",
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userURL: cfg.UserURL,
	}
}

// AuthCodeURL returns the provider page to send the user to.
func (o *OAuth) AuthCodeURL() string {
	return o.config.AuthCodeURL("")
}

// ExchangeUser trades the authorization code for an access token and
// resolves the account id behind it.
func (o *OAuth) ExchangeUser(ctx context.Context, code string) (int64, error) {
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build user request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := o.config.Client(ctx, token).Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch user identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("identity provider returned %d", resp.StatusCode)
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return 0, fmt.Errorf("failed to decode user identity: %w", err)
	}

	userID, err := strconv.ParseInt(user.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identity provider returned invalid id %q: %w", user.ID, err)
	}
	return userID, nil
}
