// Command manager runs the chatfleet fleet supervisor: it spawns one
// worker process per active bot, restarts them on a schedule, and recovers
// bots stuck in a persistent failure state.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/faceit-mod/chatfleet/internal/config"
	"github.com/faceit-mod/chatfleet/internal/dataplaneclient"
	"github.com/faceit-mod/chatfleet/internal/logging"
	"github.com/faceit-mod/chatfleet/internal/manager"
)

func main() {
	logging.Setup()

	cfg, err := config.LoadManagerConfig()
	if err != nil {
		slog.Error("manager: config load failed", "error", err)
		os.Exit(1)
	}

	dataPlane := dataplaneclient.New(cfg.DataPlaneURL, cfg.DataPlaneToken, cfg.HTTPTimeout)
	m := manager.New(cfg, dataPlane)

	healthSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HealthHost, cfg.HealthPort),
		Handler: manager.NewHTTPServer(m.Supervisor(), dataPlane),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("manager: health surface listening", "addr", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health surface: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := m.Run(ctx); err != nil {
			errCh <- fmt.Errorf("manager run: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("manager: fatal error", "error", err)
	case sig := <-sigCh:
		slog.Info("manager: received signal, shutting down", "signal", sig.String())
	}

	// cancel triggers Manager.Run's own ctx.Done branch, which shuts every
	// spawned worker down gracefully before Run returns.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	slog.Info("manager: exited")
}
