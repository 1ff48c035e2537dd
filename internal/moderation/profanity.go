package moderation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// entityProfanity is the per-entity state ProfanityState tracks between
// Configure calls: the entity's raw config, which preset (if any) it holds
// a reference to, and the resulting effective word list.
type entityProfanity struct {
	config      apitypes.ProfanityConfig
	presetID    string
	presetWords []string
	words       []string
}

// ProfanityState is the worker-wide moderation configuration cache: one
// entry per assigned entity, backed by the reference-counted PresetCache
// and the compiled-pattern WordMatcher (spec §4.3, invariants M1/M2).
type ProfanityState struct {
	mu       sync.Mutex
	entities map[string]entityProfanity
	presets  *PresetCache
	matcher  *WordMatcher
}

// NewProfanityState returns an empty state.
func NewProfanityState() *ProfanityState {
	return &ProfanityState{
		entities: make(map[string]entityProfanity),
		presets:  NewPresetCache(),
		matcher:  NewWordMatcher(),
	}
}

// Configure installs or replaces entityGUID's profanity configuration. It
// acquires a reference to cfg.PresetID if the entity did not already hold
// one (so repeated Configure calls for an unchanged preset never inflate
// the refcount, preserving invariant M1), releases any prior preset
// reference the entity no longer needs, and drops the entity's compiled
// patterns if the effective word list actually changed (invariant M2).
// fetchPreset is only invoked on a genuine cache miss.
func (s *ProfanityState) Configure(entityGUID string, cfg apitypes.ProfanityConfig, fetchPreset func() (apitypes.Preset, error)) error {
	s.mu.Lock()
	prior, existed := s.entities[entityGUID]
	s.mu.Unlock()

	samePreset := existed && cfg.PresetID != "" && prior.presetID == cfg.PresetID

	var presetWords []string
	switch {
	case samePreset:
		presetWords = prior.presetWords
	case cfg.Active && cfg.PresetID != "":
		words, err := s.presets.Acquire(cfg.PresetID, fetchPreset)
		if err != nil {
			return fmt.Errorf("acquire preset %s: %w", cfg.PresetID, err)
		}
		presetWords = words
	}

	if existed && prior.presetID != "" && prior.presetID != cfg.PresetID {
		s.presets.Release(prior.presetID)
	}

	words := mergeWords(presetWords, cfg.CustomWords)
	if !samePreset || !wordsEqual(words, prior.words) {
		s.matcher.DropEntity(entityGUID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entityGUID] = entityProfanity{
		config:      cfg,
		presetID:    cfg.PresetID,
		presetWords: presetWords,
		words:       words,
	}
	return nil
}

// Drop removes entityGUID's tracked configuration entirely, releasing its
// preset reference and compiled patterns (called on unassign).
func (s *ProfanityState) Drop(entityGUID string) {
	s.mu.Lock()
	prior, existed := s.entities[entityGUID]
	delete(s.entities, entityGUID)
	s.mu.Unlock()

	if existed && prior.presetID != "" {
		s.presets.Release(prior.presetID)
	}
	s.matcher.DropEntity(entityGUID)
}

// RefreshPreset re-fetches presetID and updates every currently assigned
// entity that references it, dropping their compiled patterns so the next
// message recompiles against the refreshed list (spec §6 POST
// /refresh-preset/:presetId, invariant M2). A presetID nothing references
// is a no-op.
func (s *ProfanityState) RefreshPreset(presetID string, fetch func() (apitypes.Preset, error)) error {
	if !s.presets.Referenced(presetID) {
		return nil
	}
	s.presets.Invalidate(presetID)

	preset, err := fetch()
	if err != nil {
		return fmt.Errorf("refresh preset %s: %w", presetID, err)
	}
	words := lowercaseAll(preset.Words)

	s.mu.Lock()
	defer s.mu.Unlock()
	for guid, ent := range s.entities {
		if ent.presetID != presetID {
			continue
		}
		ent.presetWords = words
		ent.words = mergeWords(words, ent.config.CustomWords)
		s.entities[guid] = ent
		s.matcher.DropEntity(guid)
	}
	return nil
}

// Lookup returns entityGUID's active profanity config and effective word
// list. ok is false if the entity is unconfigured or its config is
// inactive (stage A step 1: skip the stage).
func (s *ProfanityState) Lookup(entityGUID string) (cfg apitypes.ProfanityConfig, words []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, exists := s.entities[entityGUID]
	if !exists || !ent.config.Active {
		return apitypes.ProfanityConfig{}, nil, false
	}
	return ent.config, ent.words, true
}

// Match checks lowercasedMessage against entityGUID's cached compiled
// patterns for words.
func (s *ProfanityState) Match(entityGUID, lowercasedMessage string, words []string) (hit string, matched bool) {
	return s.matcher.Match(entityGUID, lowercasedMessage, words)
}

func mergeWords(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	add := func(w string) {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			return
		}
		if _, dup := seen[w]; dup {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	for _, w := range a {
		add(w)
	}
	for _, w := range b {
		add(w)
	}
	return out
}

func wordsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
