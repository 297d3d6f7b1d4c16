// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tessera-app/tessera/internal/config"
	"github.com/tessera-app/tessera/internal/logging"
)

// HTTPServer runs the API as a supervised service: Serve blocks until the
// listener fails or the context is canceled, then shuts down gracefully.
type HTTPServer struct {
	addr    string
	handler http.Handler
	timeout time.Duration
}

// NewHTTPServer builds the service from the listener config.
func NewHTTPServer(cfg *config.ServerConfig, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		handler: handler,
		timeout: cfg.Timeout,
	}
}

// Serve implements suture.Service.
func (s *HTTPServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.timeout,
		WriteTimeout:      s.timeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *HTTPServer) String() string { return "http-server" }
