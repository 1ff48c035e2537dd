package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// GetPreset fetches an active preset by id, for GET
// /profanity-filter-presets/:id. Returns ErrPresetNotFound if absent or
// inactive.
func (s *Store) GetPreset(id string) (apitypes.Preset, error) {
	var p apitypes.Preset
	var wordsJSON, status string
	err := s.db.QueryRow(`SELECT id, name, language, words, status FROM presets WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Language, &wordsJSON, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return apitypes.Preset{}, ErrPresetNotFound
	}
	if err != nil {
		return apitypes.Preset{}, fmt.Errorf("get preset: %w", err)
	}
	if status != "active" {
		return apitypes.Preset{}, ErrPresetNotFound
	}
	if err := json.Unmarshal([]byte(wordsJSON), &p.Words); err != nil {
		slog.Warn("dataplane: malformed preset words JSON, substituting empty list", "preset", id, "error", err)
		p.Words = nil
	}
	return p, nil
}

// UpsertPreset inserts or replaces a preset row, used by test fixtures and
// wherever the out-of-scope admin surface would write this table.
func (s *Store) UpsertPreset(p apitypes.Preset) error {
	wordsJSON, err := json.Marshal(p.Words)
	if err != nil {
		return fmt.Errorf("marshal words: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO presets (id, name, language, words, status)
		VALUES (?, ?, ?, ?, 'active')
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, language = excluded.language, words = excluded.words
	`, p.ID, p.Name, p.Language, string(wordsJSON))
	if err != nil {
		return fmt.Errorf("upsert preset: %w", err)
	}
	return nil
}
