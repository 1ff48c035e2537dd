package worker

import (
	"sync"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// entityState is the worker's private runtime record for one joined room,
// holding the pieces invariant I5/ownership rules require the Worker to
// exclusively own: its entry in the entity map and its per-room counters.
type entityState struct {
	config        apitypes.EntityConfig
	presenceGroup string
	messageCount  int
	timerCursor   int
}

// EntityStore is the worker's in-memory entity map plus the "non-existent"
// and "recently-unassigned" sets from spec §4.1.4/§4.1.5. All mutation goes
// through a single lock, matching the single-actor requirement of §5.
type EntityStore struct {
	mu                 sync.Mutex
	entities           map[string]*entityState
	nonExistent        map[string]struct{}
	recentlyUnassigned map[string]time.Time
	unassignDebounce   time.Duration
}

// NewEntityStore returns an empty store. unassignDebounce suppresses race
// messages arriving just after a room leave (spec §4.1.4).
func NewEntityStore(unassignDebounce time.Duration) *EntityStore {
	return &EntityStore{
		entities:           make(map[string]*entityState),
		nonExistent:        make(map[string]struct{}),
		recentlyUnassigned: make(map[string]time.Time),
		unassignDebounce:   unassignDebounce,
	}
}

// Get returns a copy of the tracked configuration for id, if any.
func (s *EntityStore) Get(id string) (apitypes.EntityConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entities[id]
	if !ok {
		return apitypes.EntityConfig{}, false
	}
	return st.config, true
}

// PresenceGroup returns the presence-group identifier recorded for id, once
// the MUC-Light configuration query has completed.
func (s *EntityStore) PresenceGroup(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entities[id]
	if !ok || st.presenceGroup == "" {
		return "", false
	}
	return st.presenceGroup, true
}

// SetPresenceGroup records the presence-group identifier for id.
func (s *EntityStore) SetPresenceGroup(id, presenceGroup string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.entities[id]; ok {
		st.presenceGroup = presenceGroup
	}
}

// Assign adds or overwrites an entity's configuration and clears it from the
// non-existent/recently-unassigned sets (spec §4.1.4 assignment case).
func (s *EntityStore) Assign(cfg apitypes.EntityConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nonExistent, cfg.GUID)
	delete(s.recentlyUnassigned, cfg.GUID)
	if existing, ok := s.entities[cfg.GUID]; ok {
		existing.config = cfg
		return
	}
	s.entities[cfg.GUID] = &entityState{config: cfg}
}

// Update overwrites configuration in place without touching counters or the
// presence-group (spec §4.1.4 old∩new case).
func (s *EntityStore) Update(cfg apitypes.EntityConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entities[cfg.GUID]
	if !ok {
		return false
	}
	st.config = cfg
	return true
}

// Unassign drops an entity from the map and starts its debounce window
// (spec §4.1.4 unassignment case).
func (s *EntityStore) Unassign(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
	s.recentlyUnassigned[id] = now.Add(s.unassignDebounce)
}

// MarkNonExistent removes id from the map and records it as non-existent
// (spec §4.1.5).
func (s *EntityStore) MarkNonExistent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
	s.nonExistent[id] = struct{}{}
}

// IsSuppressed reports whether outgoing stanzas to id must be dropped: it is
// marked non-existent, or it is still inside its recently-unassigned window.
func (s *EntityStore) IsSuppressed(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nonExistent[id]; ok {
		return true
	}
	if until, ok := s.recentlyUnassigned[id]; ok && now.Before(until) {
		return true
	}
	return false
}

// PruneRecentlyUnassigned drops expired debounce entries. Called from the
// hourly memory-cleanup pass (spec §4.1.6).
func (s *EntityStore) PruneRecentlyUnassigned(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, until := range s.recentlyUnassigned {
		if now.After(until) {
			delete(s.recentlyUnassigned, id)
		}
	}
}

// IDs returns the currently-assigned entity ids, used by reconciliation and
// by the memory-cleanup pass to discard stale counters.
func (s *EntityStore) IDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.entities))
	for id := range s.entities {
		out[id] = struct{}{}
	}
	return out
}

// IncrementMessageCount increments entity id's moderation message counter
// and returns the new value, or ok=false if id is not tracked (spec §4.3
// stage C).
func (s *EntityStore) IncrementMessageCount(id string) (count int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, exists := s.entities[id]
	if !exists {
		return 0, false
	}
	st.messageCount++
	return st.messageCount, true
}

// ResetMessageCount zeroes entity id's moderation message counter.
func (s *EntityStore) ResetMessageCount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.entities[id]; ok {
		st.messageCount = 0
	}
}

// AdvanceTimerCursor advances the round-robin timer cursor for id before
// emission, per P4, and returns the new cursor position.
func (s *EntityStore) AdvanceTimerCursor(id string, numTimers int) (cursor int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, exists := s.entities[id]
	if !exists || numTimers == 0 {
		return 0, false
	}
	st.timerCursor = (st.timerCursor + 1) % numTimers
	return st.timerCursor, true
}

// ReconcileResult reports the diff produced by Reconcile.
type ReconcileResult struct {
	Assigned   []apitypes.EntityConfig
	Unassigned []string
}

// Reconcile implements spec §4.1.4: diff the authoritative entity set
// against what's currently tracked, applying assign/unassign/update
// semantics and returning which ids were newly assigned or unassigned so
// the caller can emit the corresponding stanzas and moderation setup.
func (s *EntityStore) Reconcile(authoritative map[string]apitypes.EntityConfig, now time.Time) ReconcileResult {
	s.mu.Lock()
	current := make(map[string]struct{}, len(s.entities))
	for id := range s.entities {
		current[id] = struct{}{}
	}
	s.mu.Unlock()

	var result ReconcileResult
	for id, cfg := range authoritative {
		if _, tracked := current[id]; tracked {
			s.Update(cfg)
			continue
		}
		s.Assign(cfg)
		result.Assigned = append(result.Assigned, cfg)
	}
	for id := range current {
		if _, stillPresent := authoritative[id]; !stillPresent {
			s.Unassign(id, now)
			result.Unassigned = append(result.Unassigned, id)
		}
	}
	return result
}
