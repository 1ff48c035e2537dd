// Command worker runs one chatfleet worker process: a single bot identity
// connected to the upstream chat service over XMPP-over-WebSocket,
// moderating whatever entities the manager assigns to it.
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
	"github.com/faceit-mod/chatfleet/internal/worker"
)

func main() {
	logging.Setup()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		slog.Error("worker: config load failed", "error", err)
		os.Exit(1)
	}

	dataPlane := dataplaneclient.New(cfg.DataPlaneURL, cfg.DataPlaneToken, cfg.HTTPTimeout)
	w := worker.New(cfg, dataPlane)

	controlSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ControlHost, cfg.ControlPort),
		Handler: worker.NewHTTPServer(w),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("worker: control surface listening", "addr", controlSrv.Addr, "botId", cfg.BotID)
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("control surface: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := w.Run(ctx); err != nil {
			errCh <- fmt.Errorf("worker run: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("worker: fatal error", "error", err)
	case sig := <-sigCh:
		slog.Info("worker: received signal, shutting down", "signal", sig.String())
	}

	cancel()
	w.RequestExit()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownWSCloseWait+cfg.ShutdownForceGrace)
	defer shutdownCancel()
	_ = controlSrv.Shutdown(shutdownCtx)

	select {
	case <-w.Done():
	case <-shutdownCtx.Done():
		slog.Warn("worker: shutdown grace period exceeded, exiting anyway")
	}

	slog.Info("worker: exited", "botId", cfg.BotID)
}
