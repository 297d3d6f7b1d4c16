// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Command server runs the Tessera API: config, storage and cache wiring,
// a startup canvas warm, then the supervised HTTP server and janitor.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tessera-app/tessera/internal/api"
	"github.com/tessera-app/tessera/internal/cache"
	"github.com/tessera-app/tessera/internal/canvas"
	"github.com/tessera-app/tessera/internal/config"
	"github.com/tessera-app/tessera/internal/database"
	"github.com/tessera-app/tessera/internal/logging"
	"github.com/tessera-app/tessera/internal/ratelimit"
	"github.com/tessera-app/tessera/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if err := run(cfg); err != nil && err != context.Canceled {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
	logging.Info().Msg("Server stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	redis, err := cache.New(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redis.Close()

	buffer := cache.NewCanvasBuffer(redis, cfg.Server.GitSHA)
	engine := canvas.New(cfg.Canvas.Width, cfg.Canvas.Height, buffer)

	if err := warmCanvas(ctx, db, engine); err != nil {
		return err
	}

	mods, err := config.LoadMods(cfg.Auth.ModsFile)
	if err != nil {
		return err
	}
	logging.Info().Int("mods", len(mods)).Msg("Moderator allow-list loaded")

	app := api.NewApp(cfg, db, redis, engine, mods)

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	tree.AddBackgroundService(ratelimit.NewJanitor(redis))
	tree.AddAPIService(supervisor.NewHTTPServer(&cfg.Server, app.Router()))

	return tree.Serve(ctx)
}

// warmCanvas forces one rebuild before serving, so the first request never
// pays for it and a resized canvas is detected at startup.
func warmCanvas(ctx context.Context, db *database.DB, engine *canvas.Engine) error {
	session, err := db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer session.Release()

	return engine.Sync(ctx, session, true)
}
