package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/faceit-mod/chatfleet/internal/dataplaneclient"
)

// HTTPServer exposes the manager's small control surface (spec §6):
// GET /health, GET /status, POST /restart-bot. It uses the standard
// library mux — chi's routing features (params, middleware chains) aren't
// needed for three endpoints this small.
type HTTPServer struct {
	mux        *http.ServeMux
	supervisor *Supervisor
	dataPlane  *dataplaneclient.Client
	startedAt  time.Time
}

func NewHTTPServer(supervisor *Supervisor, dataPlane *dataplaneclient.Client) *HTTPServer {
	s := &HTTPServer{mux: http.NewServeMux(), supervisor: supervisor, dataPlane: dataPlane, startedAt: time.Now()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /restart-bot", s.handleRestartBot)
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.supervisor.Snapshot()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"activeBots":  snap.ActiveBots,
		"failedBots":  snap.FailedBots,
		"totalBots":   snap.TotalBots,
		"uptime":      time.Since(s.startedAt).Seconds(),
		"memoryUsage": mem.Alloc,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.supervisor.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"childProcesses": snap.TotalBots,
		"botFailures":    snap.BotFailures,
		"health": map[string]any{
			"activeBots": snap.ActiveBots,
			"failedBots": snap.FailedBots,
		},
	})
}

type restartBotRequest struct {
	BotID int `json:"botId"`
}

// handleRestartBot implements POST /restart-bot: it first confirms the
// data-plane is reachable (spec §4.6 requires re-polling before a manual
// restart, since a restart while the data-plane is down would just spin)
// before tearing down and respawning the bot's child.
func (s *HTTPServer) handleRestartBot(w http.ResponseWriter, r *http.Request) {
	var req restartBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BotID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid bot id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.dataPlane.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "data-plane unreachable"})
		return
	}

	result := s.supervisor.RestartBot(req.BotID)
	if !result.Success {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": result.Error})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": result.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
