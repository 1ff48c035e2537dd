// Command dataplane runs the chatfleet data-plane service: the relational
// store of bots, entities, and moderation configuration, exposed over HTTP
// to the manager and worker fleet.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/faceit-mod/chatfleet/internal/config"
	"github.com/faceit-mod/chatfleet/internal/dataplane"
	"github.com/faceit-mod/chatfleet/internal/dataplane/store"
	"github.com/faceit-mod/chatfleet/internal/logging"
)

func main() {
	logging.Setup()

	cfg, err := config.LoadDataPlaneConfig()
	if err != nil {
		slog.Error("dataplane: config load failed", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("dataplane: store open failed", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}

	var oauth *dataplane.OAuthRefresher
	if cfg.OAuthClientID != "" && cfg.OAuthClientSecret != "" && cfg.OAuthTokenURL != "" {
		oauth = dataplane.NewOAuthRefresher(cfg.OAuthTokenURL, cfg.OAuthClientID, cfg.OAuthClientSecret)
	} else {
		slog.Warn("dataplane: OAuth client not configured, access credential refresh disabled")
	}

	srv := dataplane.New(cfg, st, oauth)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dataplane: listening", "host", cfg.Host, "port", cfg.Port)
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("dataplane: fatal error", "error", err)
	case sig := <-sigCh:
		slog.Info("dataplane: received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		slog.Error("dataplane: graceful shutdown failed", "error", err)
	}

	if err := st.Close(); err != nil {
		slog.Error("dataplane: store close failed", "error", err)
	}

	slog.Info("dataplane: exited")
}
