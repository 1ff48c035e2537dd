// Package moderation implements the banned-word, read-only, timer, and
// command pipeline applied to inbound groupchat messages, plus the
// reference-counted preset cache and admin-API dispatch it depends on.
package moderation

import (
	"strings"
	"sync"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// PresetCache caches profanity-filter presets by id with reference counting,
// so a preset is retained iff at least one live entity references it
// (invariants I6/M1, property P5).
type PresetCache struct {
	mu    sync.Mutex
	words map[string][]string // presetID -> lowercased words
	refs  map[string]int
}

// NewPresetCache returns an empty cache.
func NewPresetCache() *PresetCache {
	return &PresetCache{
		words: make(map[string][]string),
		refs:  make(map[string]int),
	}
}

// Acquire increments presetID's reference count, fetching and caching it via
// fetch if not already cached. fetch is only called on a cache miss.
func (c *PresetCache) Acquire(presetID string, fetch func() (apitypes.Preset, error)) ([]string, error) {
	if presetID == "" {
		return nil, nil
	}

	c.mu.Lock()
	if words, ok := c.words[presetID]; ok {
		c.refs[presetID]++
		c.mu.Unlock()
		return words, nil
	}
	c.mu.Unlock()

	preset, err := fetch()
	if err != nil {
		return nil, err
	}
	words := lowercaseAll(preset.Words)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have populated it first; don't double count.
	if existing, ok := c.words[presetID]; ok {
		c.refs[presetID]++
		return existing, nil
	}
	c.words[presetID] = words
	c.refs[presetID]++
	return words, nil
}

// Release decrements presetID's reference count, evicting it (and its
// compiled-regex cache entries, via the caller's own eviction hook) once the
// count reaches zero.
func (c *PresetCache) Release(presetID string) (evicted bool) {
	if presetID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs[presetID] <= 1 {
		delete(c.refs, presetID)
		delete(c.words, presetID)
		return true
	}
	c.refs[presetID]--
	return false
}

// Invalidate forces presetID out of the cache regardless of refcount,
// without disturbing the refcount itself, so the next Acquire-driven message
// re-fetches it (used by the refresh-preset control endpoint, spec §6).
func (c *PresetCache) Invalidate(presetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.words, presetID)
}

// Referenced reports whether presetID currently has a positive refcount,
// the cache-integrity condition property P5 checks.
func (c *PresetCache) Referenced(presetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[presetID] > 0
}

func lowercaseAll(in []string) []string {
	out := make([]string, len(in))
	for i, w := range in {
		out[i] = strings.ToLower(w)
	}
	return out
}
