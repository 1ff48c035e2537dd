package worker

import (
	"encoding/json"
	"net/http"
)

// HTTPServer exposes the worker's control surface (spec §6): assignment,
// unassignment, configuration update, preset refresh, reconnection-state
// inspection, and a graceful exit trigger. Like the manager's surface, it
// uses the standard library mux — six small routes with path parameters
// don't need chi's middleware chains.
type HTTPServer struct {
	mux    *http.ServeMux
	worker *Worker
}

func NewHTTPServer(worker *Worker) *HTTPServer {
	s := &HTTPServer{mux: http.NewServeMux(), worker: worker}
	s.mux.HandleFunc("POST /assign/{entityId}", s.handleAssign)
	s.mux.HandleFunc("POST /unassign/{entityId}", s.handleUnassign)
	s.mux.HandleFunc("POST /update/{entityId}", s.handleUpdate)
	s.mux.HandleFunc("POST /refresh-preset/{presetId}", s.handleRefreshPreset)
	s.mux.HandleFunc("GET /reconnection-state", s.handleReconnectionState)
	s.mux.HandleFunc("POST /exit-process", s.handleExitProcess)
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *HTTPServer) handleAssign(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("entityId")
	if err := s.worker.AssignEntity(r.Context(), entityID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleUnassign(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("entityId")
	s.worker.UnassignEntity(entityID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("entityId")
	if err := s.worker.UpdateEntity(r.Context(), entityID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleRefreshPreset(w http.ResponseWriter, r *http.Request) {
	presetID := r.PathValue("presetId")
	if err := s.worker.RefreshPreset(r.Context(), presetID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleReconnectionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.ReconnectionState())
}

func (s *HTTPServer) handleExitProcess(w http.ResponseWriter, r *http.Request) {
	s.worker.RequestExit()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
