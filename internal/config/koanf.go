// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tessera/config.yaml",
	"/etc/tessera/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envMappings maps the flat deployment environment variables onto koanf
// config paths. Only listed variables are consumed; everything else in the
// environment is ignored.
var envMappings = map[string]string{
	"HOST":       "server.host",
	"PORT":       "server.port",
	"BASE_URL":   "server.base_url",
	"GIT_SHA":    "server.git_sha",
	"PRODUCTION": "server.production",

	"DATABASE_URL":  "database.url",
	"MIN_POOL_SIZE": "database.min_pool_size",
	"MAX_POOL_SIZE": "database.max_pool_size",

	"REDIS_URL": "redis.url",

	"CANVAS_WIDTH":  "canvas.width",
	"CANVAS_HEIGHT": "canvas.height",

	"CLIENT_ID":     "auth.client_id",
	"CLIENT_SECRET": "auth.client_secret",
	"JWT_SECRET":    "auth.jwt_secret",
	"AUTH_URL":      "auth.auth_url",
	"TOKEN_URL":     "auth.token_url",
	"USER_URL":      "auth.user_url",
	"MODS_FILE":     "auth.mods_file",

	"WEBHOOK_URL": "webhook.url",

	"LOG_LEVEL":  "logging.level",
	"LOG_FORMAT": "logging.format",
}

// quotaMappings maps the quota knob variables onto bucket paths. The knob
// values are plain second counts, converted to durations in Load.
var quotaMappings = map[string]string{
	"GET_PIXELS_AMOUNT":        "ratelimits.get_pixels.amount",
	"GET_PIXELS_RATE_LIMIT":    "ratelimits.get_pixels.window",
	"GET_PIXELS_RATE_COOLDOWN": "ratelimits.get_pixels.cooldown",
	"GET_PIXEL_AMOUNT":         "ratelimits.get_pixel.amount",
	"GET_PIXEL_RATE_LIMIT":     "ratelimits.get_pixel.window",
	"GET_PIXEL_RATE_COOLDOWN":  "ratelimits.get_pixel.cooldown",
	"PUT_PIXEL_AMOUNT":         "ratelimits.put_pixel.amount",
	"PUT_PIXEL_RATE_LIMIT":     "ratelimits.put_pixel.window",
	"PUT_PIXEL_RATE_COOLDOWN":  "ratelimits.put_pixel.cooldown",
}

// Load builds the configuration from layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: highest priority
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", func(key string) string {
		if path, ok := envMappings[key]; ok {
			return path
		}
		// Quota knobs are handled below so they can be converted from
		// second counts to durations.
		return ""
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := loadQuotaKnobs(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadQuotaKnobs applies the *_AMOUNT / *_RATE_LIMIT / *_RATE_COOLDOWN
// environment knobs. Rate and cooldown knobs are integer second counts.
func loadQuotaKnobs(k *koanf.Koanf) error {
	for name, path := range quotaMappings {
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q: %w", name, raw, err)
		}

		var value interface{} = n
		if !strings.HasSuffix(path, ".amount") {
			value = time.Duration(n) * time.Second
		}
		if err := k.Set(path, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
