package dataplane

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
	"github.com/faceit-mod/chatfleet/internal/dataplane/store"
	"github.com/faceit-mod/chatfleet/internal/metrics"
)

var startedAt = time.Now()

// handleHealth reports liveness plus the diagnostics SPEC_FULL.md §12
// calls for: store connection-pool stats and schema version, not a bare 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.SchemaVersion()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	stats := s.store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"uptime":        time.Since(startedAt).String(),
		"schemaVersion": version,
		"openConns":     stats.OpenConnections,
		"inUseConns":    stats.InUse,
		"goroutines":    runtime.NumGoroutine(),
	})
}

func (s *Server) handleActiveBots(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ActiveBotIDs()
	if err != nil {
		slog.Error("dataplane: list active bots", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]apitypes.ActiveBot, len(ids))
	for i, id := range ids {
		out[i] = apitypes.ActiveBot{BotID: id}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBotConfig serves GET /bots/:id/config[?force=1], optionally
// refreshing the upstream access credential under the rate limit of §4.5.
func (s *Server) handleBotConfig(w http.ResponseWriter, r *http.Request) {
	botID, err := strconv.Atoi(chi.URLParam(r, "botID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bot id")
		return
	}
	forced := r.URL.Query().Get("force") == "1"

	bot, err := s.store.GetBot(botID)
	if errors.Is(err, store.ErrBotNotFound) {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	if err != nil {
		slog.Error("dataplane: get bot", "botID", botID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if s.oauth != nil && ShouldRefresh(bot.LastRefreshAt, forced, s.cfg.NonForcedRefreshWindow, s.cfg.ForcedRefreshWindow) {
		s.gate.Do(botID, func() {
			token, rerr := s.oauth.Refresh(r.Context(), bot.RefreshCredential)
			if rerr != nil {
				slog.Warn("dataplane: upstream refresh failed, serving stale access credential", "botID", botID, "error", rerr)
				return
			}
			if uerr := s.store.UpdateBotCredential(botID, token); uerr != nil {
				slog.Error("dataplane: persist refreshed credential", "botID", botID, "error", uerr)
				return
			}
			bot.AccessCredential = token
			metrics.OAuthRefreshesTotal.WithLabelValues(strconv.FormatBool(forced)).Inc()
		})
	}

	writeJSON(w, http.StatusOK, apitypes.BotConfig{
		BotID:    bot.ID,
		BotGUID:  bot.AccountGUID,
		BotToken: bot.AccessCredential,
		Nickname: bot.Nickname,
	})
}

func (s *Server) handleBotEntities(w http.ResponseWriter, r *http.Request) {
	botID, err := strconv.Atoi(chi.URLParam(r, "botID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bot id")
		return
	}
	entities, err := s.store.EntitiesForBot(botID)
	if err != nil {
		slog.Error("dataplane: list bot entities", "botID", botID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entities)
}
