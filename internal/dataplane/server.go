// Package dataplane implements the data-plane service of spec §4.5: the
// single HTTP surface fronting the relational store that hands out bot and
// entity configuration, refreshes upstream OAuth credentials under a rate
// limit, and fans out entity/preset mutations to the owning worker.
package dataplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/faceit-mod/chatfleet/internal/config"
	"github.com/faceit-mod/chatfleet/internal/dataplane/store"
	"github.com/faceit-mod/chatfleet/internal/metrics"
)

// Server is the data-plane's HTTP service.
type Server struct {
	cfg     *config.DataPlaneConfig
	store   *store.Store
	oauth   *OAuthRefresher
	gate    *RefreshGate
	fanout  *Fanout
	httpSrv *http.Server
}

// New wires a Server from its dependencies. oauth may be nil when no
// upstream OAuth client is configured (e.g. local development against a
// store seeded with pre-filled access credentials).
func New(cfg *config.DataPlaneConfig, st *store.Store, oauth *OAuthRefresher) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		oauth:  oauth,
		gate:   NewRefreshGate(),
		fanout: NewFanout(cfg.WorkerHost, cfg.FanoutTimeout),
	}
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.metricsMiddleware)
	if s.cfg.AuthToken != "" {
		r.Use(s.authMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Get("/bots/active", s.handleActiveBots)
	r.Get("/bots/{botID}/config", s.handleBotConfig)
	r.Get("/bots/{botID}/entities", s.handleBotEntities)

	r.Get("/entities/{entityID}/data", s.handleEntityData)
	r.Post("/entities/{entityID}/update", s.handleEntityMutate("update"))
	r.Post("/entities/{entityID}/assign", s.handleEntityMutate("assign"))
	r.Post("/entities/{entityID}/unassign", s.handleEntityMutate("unassign"))
	r.Post("/entities/{entityID}/status", s.handleEntityStatus)

	r.Get("/profanity-filter-presets/{presetID}", s.handlePreset)
	r.Post("/profanity-filter-presets/{presetID}/refresh", s.handlePresetRefresh)
	r.Get("/profanity-filter-config/{entityID}", s.handleProfanityConfig)

	return r
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	slog.Info("dataplane: listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dataplane listen: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		want := "Bearer " + s.cfg.AuthToken
		if r.Header.Get("Authorization") != want {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer promotes any unhandled panic to a 500 without leaking internals
// (spec §4.5 "MUST promote any unhandled exception... to a 500 without
// leaking internals").
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("dataplane: handler panic", "route", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.DataPlaneRequestsTotal.WithLabelValues(route, statusClass(sw.status)).Inc()
		slog.Debug("dataplane: request", "route", route, "status", sw.status, "duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
