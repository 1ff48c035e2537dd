package dataplane

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
	"github.com/faceit-mod/chatfleet/internal/dataplane/store"
)

func (s *Server) handleEntityData(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	entity, err := s.store.GetEntity(entityID)
	if errors.Is(err, store.ErrEntityNotFound) {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		slog.Error("dataplane: get entity", "entityID", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// handleEntityMutate builds the handler for /entities/:id/update,
// /entities/:id/assign, and /entities/:id/unassign: each fans out to the
// owning worker's matching control-surface verb (spec §4.5, §6).
func (s *Server) handleEntityMutate(verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID := chi.URLParam(r, "entityID")
		s.fanOutToOwner(w, r, entityID, verb)
	}
}

// fanOutToOwner looks up the bot owning entityID and relays verb to that
// bot's worker control surface, responding 200 if the worker acknowledged
// synchronously and 202 otherwise (spec §4.5: "202 when the worker could
// not be notified").
func (s *Server) fanOutToOwner(w http.ResponseWriter, r *http.Request, entityID, verb string) {
	botID, ok, err := s.store.OwningBot(entityID)
	if err != nil {
		slog.Error("dataplane: lookup owning bot", "entityID", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "entity has no owning bot")
		return
	}

	reached, err := s.fanout.Notify(r.Context(), botID, http.MethodPost, entityPath(verb, entityID))
	if err != nil {
		slog.Error("dataplane: fanout", "entityID", entityID, "botID", botID, "verb", verb, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !reached {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted, worker will reconcile on next poll"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEntityStatus serves POST /entities/:id/status, called both by
// admins (via the dashboard, out of scope) and by a worker itself when it
// discovers a 404'd room (spec §4.1.5). It persists the new status, then
// fans out the matching verb so the owning worker's in-memory map tracks
// it (unassign on "inactive", assign on "active").
func (s *Server) handleEntityStatus(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	var body apitypes.EntityStatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Status != "active" && body.Status != "inactive" {
		writeError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}

	if err := s.store.SetEntityStatus(entityID, body.Status); err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		slog.Error("dataplane: set entity status", "entityID", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	verb := "assign"
	if body.Status == "inactive" {
		verb = "unassign"
	}
	s.fanOutToOwner(w, r, entityID, verb)
}
