package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// GetProfanityConfig fetches the ProfanityConfig for entityID plus its
// manager-exemption guids (spec §6 GET /profanity-filter-config/:entityId).
// A missing row is not an error: it simply means moderation is unconfigured
// for that entity (spec §4.3 stage A step 1, "if absent... skip stage").
func (s *Store) GetProfanityConfig(entityID string) (apitypes.ProfanityConfig, error) {
	var cfg apitypes.ProfanityConfig
	var customWordsJSON string
	var active int
	err := s.db.QueryRow(`
		SELECT preset_id, custom_words, webhook_url, webhook_message, reply_message, mute_duration_seconds, active
		FROM profanity_configs WHERE entity_guid = ?
	`, entityID).Scan(&cfg.PresetID, &customWordsJSON, &cfg.WebhookURL, &cfg.WebhookMessage, &cfg.ReplyMessage, &cfg.MuteDurationSeconds, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return apitypes.ProfanityConfig{Active: false}, nil
	}
	if err != nil {
		return apitypes.ProfanityConfig{}, fmt.Errorf("get profanity config: %w", err)
	}
	cfg.Active = active != 0

	if err := json.Unmarshal([]byte(customWordsJSON), &cfg.CustomWords); err != nil {
		slog.Warn("dataplane: malformed custom_words JSON, substituting empty list", "entity", entityID, "error", err)
		cfg.CustomWords = nil
	}

	guids, err := s.managerGUIDs(entityID)
	if err != nil {
		return apitypes.ProfanityConfig{}, err
	}
	cfg.ManagerGUIDs = guids
	return cfg, nil
}

func (s *Store) managerGUIDs(entityID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT user_guid FROM manager_relations WHERE entity_guid = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query manager relations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("scan manager guid: %w", err)
		}
		out = append(out, guid)
	}
	return out, rows.Err()
}

// UpsertProfanityConfig inserts or replaces a profanity config row, used by
// test fixtures (configuration authoring itself is out of scope per §1).
func (s *Store) UpsertProfanityConfig(entityID string, cfg apitypes.ProfanityConfig) error {
	customWordsJSON, err := json.Marshal(cfg.CustomWords)
	if err != nil {
		return fmt.Errorf("marshal custom words: %w", err)
	}
	active := 0
	if cfg.Active {
		active = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO profanity_configs (entity_guid, preset_id, custom_words, webhook_url, webhook_message, reply_message, mute_duration_seconds, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_guid) DO UPDATE SET
			preset_id = excluded.preset_id, custom_words = excluded.custom_words,
			webhook_url = excluded.webhook_url, webhook_message = excluded.webhook_message,
			reply_message = excluded.reply_message, mute_duration_seconds = excluded.mute_duration_seconds,
			active = excluded.active
	`, entityID, cfg.PresetID, string(customWordsJSON), cfg.WebhookURL, cfg.WebhookMessage, cfg.ReplyMessage, cfg.MuteDurationSeconds, active)
	if err != nil {
		return fmt.Errorf("upsert profanity config: %w", err)
	}
	return nil
}

// AddManagerGUID grants user a moderation exemption on entityID, used by
// test fixtures.
func (s *Store) AddManagerGUID(entityID, userGUID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO manager_relations (entity_guid, user_guid) VALUES (?, ?)`, entityID, userGUID)
	if err != nil {
		return fmt.Errorf("add manager relation: %w", err)
	}
	return nil
}
