package dataplane

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ShouldRefresh implements the refresh rate limit of spec §4.5: a
// non-forced call refreshes only if at least nonForcedWindow has elapsed
// since lastRefreshAt; a forced call only if at least forcedWindow has
// elapsed. The persisted bot.last_refresh_at column (not in-process state)
// is the source of truth, so the limit holds across data-plane restarts
// and multiple data-plane replicas sharing the same store (property P9).
func ShouldRefresh(lastRefreshAt time.Time, forced bool, nonForcedWindow, forcedWindow time.Duration) bool {
	if lastRefreshAt.IsZero() {
		return true
	}
	window := nonForcedWindow
	if forced {
		window = forcedWindow
	}
	return time.Since(lastRefreshAt) >= window
}

// dedupeWindow is deliberately shorter than even the forced refresh window
// (§4.5): it exists only to collapse genuinely concurrent requests racing
// in before the persisted last_refresh_at write lands, not to implement the
// business rule itself (ShouldRefresh does that).
const dedupeWindow = 2 * time.Second

// RefreshGate collapses concurrent refresh attempts for the same bot within
// one data-plane process into a single upstream call, keyed by bot id, on
// top of the persisted-timestamp check above. It uses golang.org/x/time/rate's
// Sometimes primitive rather than a hand-rolled mutex-guarded timestamp map.
type RefreshGate struct {
	mu    sync.Mutex
	gates map[int]*rate.Sometimes
}

// NewRefreshGate builds an empty gate.
func NewRefreshGate() *RefreshGate {
	return &RefreshGate{gates: make(map[int]*rate.Sometimes)}
}

func (g *RefreshGate) gateFor(botID int) *rate.Sometimes {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.gates[botID]
	if !ok {
		s = &rate.Sometimes{Interval: dedupeWindow}
		g.gates[botID] = s
	}
	return s
}

// Do runs f for botID if the in-process gate allows it (first call, or at
// least dedupeWindow since the last call for this bot).
func (g *RefreshGate) Do(botID int, f func()) {
	g.gateFor(botID).Do(f)
}
