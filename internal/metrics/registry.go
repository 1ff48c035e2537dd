// Package metrics exposes the prometheus counters/gauges shared by the
// manager and data-plane processes (worker processes increment the same
// vars but do not expose their own /metrics route, per DESIGN.md).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChildProcessesRunning is the manager's live-worker gauge.
	ChildProcessesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatfleet",
		Subsystem: "manager",
		Name:      "child_processes_running",
		Help:      "Number of worker child processes currently alive.",
	})

	// ChildRestartsTotal counts every child restart the manager schedules,
	// labeled by bot id.
	ChildRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfleet",
		Subsystem: "manager",
		Name:      "child_restarts_total",
		Help:      "Total number of worker restarts scheduled by the manager.",
	}, []string{"bot_id"})

	// ModerationActionsTotal counts moderation actions dispatched by the
	// pipeline, labeled by stage and action (delete, mute, webhook, reply).
	ModerationActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfleet",
		Subsystem: "moderation",
		Name:      "actions_total",
		Help:      "Total number of moderation actions dispatched.",
	}, []string{"stage", "action"})

	// DataPlaneRequestsTotal counts HTTP requests served by the data-plane,
	// labeled by route and status class.
	DataPlaneRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfleet",
		Subsystem: "dataplane",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests served by the data-plane.",
	}, []string{"route", "status"})

	// OAuthRefreshesTotal counts upstream token refreshes actually performed
	// (post-throttle), labeled by forced/non-forced.
	OAuthRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfleet",
		Subsystem: "dataplane",
		Name:      "oauth_refreshes_total",
		Help:      "Total number of upstream OAuth refreshes performed, post rate-limit.",
	}, []string{"forced"})
)

// Handler returns the standard promhttp handler for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
