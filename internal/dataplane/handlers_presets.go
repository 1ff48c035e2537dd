package dataplane

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faceit-mod/chatfleet/internal/dataplane/store"
)

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	presetID := chi.URLParam(r, "presetID")
	preset, err := s.store.GetPreset(presetID)
	if errors.Is(err, store.ErrPresetNotFound) {
		writeError(w, http.StatusNotFound, "preset not found")
		return
	}
	if err != nil {
		slog.Error("dataplane: get preset", "presetID", presetID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, preset)
}

// handlePresetRefresh serves POST /profanity-filter-presets/:id/refresh: a
// best-effort fan-out of POST /refresh-preset/:id to every active worker
// (spec §4.5). Unlike the per-entity mutate handlers this never returns
// 202 — individual worker misses are logged and otherwise ignored, since
// there is no single "owner" to report back to the caller about.
func (s *Server) handlePresetRefresh(w http.ResponseWriter, r *http.Request) {
	presetID := chi.URLParam(r, "presetID")

	if _, err := s.store.GetPreset(presetID); err != nil {
		if errors.Is(err, store.ErrPresetNotFound) {
			writeError(w, http.StatusNotFound, "preset not found")
			return
		}
		slog.Error("dataplane: get preset", "presetID", presetID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	botIDs, err := s.store.ActiveBotIDs()
	if err != nil {
		slog.Error("dataplane: list active bots for preset refresh", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	for _, botID := range botIDs {
		reached, err := s.fanout.Notify(r.Context(), botID, http.MethodPost, presetRefreshPath(presetID))
		if err != nil || !reached {
			slog.Warn("dataplane: preset refresh fanout missed worker", "botID", botID, "presetID", presetID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProfanityConfig(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	cfg, err := s.store.GetProfanityConfig(entityID)
	if err != nil {
		slog.Error("dataplane: get profanity config", "entityID", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
