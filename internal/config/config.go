// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package config provides layered configuration for Tessera using Koanf v2.
//
// Precedence: environment variables > optional YAML config file > defaults.
// The environment surface keeps the flat names the deployment already uses
// (DATABASE_URL, REDIS_URL, JWT_SECRET, ...), mapped onto the nested
// structure below.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Canvas     CanvasConfig     `koanf:"canvas"`
	Auth       AuthConfig       `koanf:"auth"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	RateLimits RateLimitsConfig `koanf:"ratelimits"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// BaseURL is the externally visible origin, used to build the OAuth
	// redirect URI.
	BaseURL string `koanf:"base_url"`

	// GitSHA identifies the running build. It namespaces the canvas cache
	// key so a new deployment never adopts a stale buffer.
	GitSHA string `koanf:"git_sha"`

	// Production hides moderation endpoints from the rendered docs and
	// enables stricter config validation.
	Production bool `koanf:"production"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	MinPoolSize int    `koanf:"min_pool_size"`
	MaxPoolSize int    `koanf:"max_pool_size"`
}

// RedisConfig holds the shared cache connection settings.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// CanvasConfig holds the canvas dimensions. Changing them is an
// admin-scale event: the first freshness check after a restart notices the
// buffer length mismatch and forces a full rebuild.
type CanvasConfig struct {
	Width  int `koanf:"width"`
	Height int `koanf:"height"`
}

// AuthConfig holds the OAuth provider endpoints and token signing secret.
type AuthConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	JWTSecret    string `koanf:"jwt_secret"`
	AuthURL      string `koanf:"auth_url"`
	TokenURL     string `koanf:"token_url"`
	UserURL      string `koanf:"user_url"`

	// ModsFile is a whitespace separated snowflake allow-list granting
	// moderator status at token mint.
	ModsFile string `koanf:"mods_file"`
}

// WebhookConfig holds the external image webhook target.
type WebhookConfig struct {
	URL string `koanf:"url"`

	// Scale is the nearest-neighbour upscale factor applied before
	// PNG-encoding the canvas for the webhook embed.
	Scale int `koanf:"scale"`
}

// Bucket is one rate-limit tuple: Amount requests per Window, with a
// Cooldown penalty once the window is exhausted.
type Bucket struct {
	Amount   int           `koanf:"amount"`
	Window   time.Duration `koanf:"window"`
	Cooldown time.Duration `koanf:"cooldown"`
}

// RateLimitsConfig holds the per-route quota knobs.
type RateLimitsConfig struct {
	GetPixels Bucket `koanf:"get_pixels"`
	GetPixel  Bucket `koanf:"get_pixel"`
	PutPixel  Bucket `koanf:"put_pixel"`
	Mod       Bucket `koanf:"mod"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8000,
			Timeout: 30 * time.Second,
			BaseURL: "http://localhost:8000",
			GitSHA:  "dev",
		},
		Database: DatabaseConfig{
			MinPoolSize: 2,
			MaxPoolSize: 5,
		},
		Canvas: CanvasConfig{
			Width:  160,
			Height: 90,
		},
		Auth: AuthConfig{
			TokenURL: "https://discord.com/api/oauth2/token",
			UserURL:  "https://discord.com/api/users/@me",
			ModsFile: "mods.txt",
		},
		Webhook: WebhookConfig{
			Scale: 10,
		},
		RateLimits: RateLimitsConfig{
			GetPixels: Bucket{Amount: 5, Window: 10 * time.Second, Cooldown: 60 * time.Second},
			GetPixel:  Bucket{Amount: 8, Window: 10 * time.Second, Cooldown: 120 * time.Second},
			PutPixel:  Bucket{Amount: 2, Window: 2 * time.Minute, Cooldown: 3 * time.Minute},
			Mod:       Bucket{Amount: 60, Window: time.Minute, Cooldown: time.Minute},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks that required settings are present and coherent.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.Production {
		if c.Auth.ClientID == "" || c.Auth.ClientSecret == "" {
			return fmt.Errorf("CLIENT_ID and CLIENT_SECRET are required in production")
		}
		if c.Auth.AuthURL == "" {
			return fmt.Errorf("AUTH_URL is required in production")
		}
		if c.Webhook.URL == "" {
			return fmt.Errorf("WEBHOOK_URL is required in production")
		}
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		return fmt.Errorf("canvas dimensions must be positive, got %dx%d", c.Canvas.Width, c.Canvas.Height)
	}
	if c.Database.MinPoolSize < 1 || c.Database.MaxPoolSize < c.Database.MinPoolSize {
		return fmt.Errorf("invalid pool sizing: min=%d max=%d", c.Database.MinPoolSize, c.Database.MaxPoolSize)
	}
	for name, b := range map[string]Bucket{
		"get_pixels": c.RateLimits.GetPixels,
		"get_pixel":  c.RateLimits.GetPixel,
		"put_pixel":  c.RateLimits.PutPixel,
		"mod":        c.RateLimits.Mod,
	} {
		if b.Amount < 1 || b.Window <= 0 || b.Cooldown <= 0 {
			return fmt.Errorf("invalid rate limit bucket %q: %+v", name, b)
		}
	}
	return nil
}
