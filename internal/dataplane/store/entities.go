package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// entityRow is the raw scanned shape before JSON columns are decoded.
type entityRow struct {
	GUID            string
	Type            string
	ParentGUID      string
	Status          string
	Name            string
	CommandsJSON    string
	TimersJSON      string
	TimerCounterMax int
	ReadOnly        bool
	WelcomeMessage  string
}

const entityColumns = `guid, type, parent_guid, status, name, commands, timers, timer_counter_max, read_only, welcome_message`

func scanEntityRow(scan func(dest ...any) error) (entityRow, error) {
	var r entityRow
	var readOnly int
	err := scan(&r.GUID, &r.Type, &r.ParentGUID, &r.Status, &r.Name, &r.CommandsJSON, &r.TimersJSON, &r.TimerCounterMax, &readOnly, &r.WelcomeMessage)
	r.ReadOnly = readOnly != 0
	return r, err
}

// toEntityConfig decodes the JSON columns, substituting safe empty defaults
// for malformed JSON per spec §7 ConfigMalformed ("substitute safe
// defaults... log") rather than failing the whole read.
func (r entityRow) toEntityConfig() apitypes.EntityConfig {
	cfg := apitypes.EntityConfig{
		GUID:            r.GUID,
		Name:            r.Name,
		Type:            apitypes.EntityType(r.Type),
		ParentGUID:      r.ParentGUID,
		Status:          r.Status,
		TimerCounterMax: r.TimerCounterMax,
		ReadOnly:        r.ReadOnly,
		WelcomeMessage:  r.WelcomeMessage,
	}

	cfg.Commands = make(map[string]apitypes.Command)
	if err := json.Unmarshal([]byte(r.CommandsJSON), &cfg.Commands); err != nil {
		slog.Warn("dataplane: malformed commands JSON, substituting empty map", "entity", r.GUID, "error", err)
		cfg.Commands = make(map[string]apitypes.Command)
	}

	if err := json.Unmarshal([]byte(r.TimersJSON), &cfg.Timers); err != nil {
		slog.Warn("dataplane: malformed timers JSON, substituting empty list", "entity", r.GUID, "error", err)
		cfg.Timers = nil
	}

	return cfg
}

// GetEntity fetches one entity by guid. Returns ErrEntityNotFound if absent.
func (s *Store) GetEntity(guid string) (apitypes.EntityConfig, error) {
	row, err := scanEntityRow(s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE guid = ?`, guid).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return apitypes.EntityConfig{}, ErrEntityNotFound
	}
	if err != nil {
		return apitypes.EntityConfig{}, fmt.Errorf("get entity: %w", err)
	}
	return row.toEntityConfig(), nil
}

// EntitiesForBot returns the active entities owned by botID, keyed by guid,
// for GET /bots/:id/entities (invariant I5: a worker's map is a subset of
// these rows).
func (s *Store) EntitiesForBot(botID int) (map[string]apitypes.EntityConfig, error) {
	rows, err := s.db.Query(`
		SELECT e.guid, e.type, e.parent_guid, e.status, e.name, e.commands, e.timers,
		       e.timer_counter_max, e.read_only, e.welcome_message
		FROM entities e
		JOIN bot_entity_relations r ON r.entity_guid = e.guid
		WHERE r.bot_id = ? AND e.status = 'active'
	`, botID)
	if err != nil {
		return nil, fmt.Errorf("query bot entities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]apitypes.EntityConfig)
	for rows.Next() {
		row, err := scanEntityRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out[row.GUID] = row.toEntityConfig()
	}
	return out, rows.Err()
}

// OwningBot returns the bot id that owns entityGUID, or ok=false if the
// entity has no relation row (invariant I2: unique entity->bot ownership).
func (s *Store) OwningBot(entityGUID string) (botID int, ok bool, err error) {
	row := s.db.QueryRow(`SELECT bot_id FROM bot_entity_relations WHERE entity_guid = ?`, entityGUID)
	if scanErr := row.Scan(&botID); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup owning bot: %w", scanErr)
	}
	return botID, true, nil
}

// SetEntityStatus updates an entity's status (spec §6 POST
// /entities/:id/status, also called by the worker itself per §4.1.5).
func (s *Store) SetEntityStatus(guid, status string) error {
	res, err := s.db.Exec(`UPDATE entities SET status = ? WHERE guid = ?`, status, guid)
	if err != nil {
		return fmt.Errorf("update entity status: %w", err)
	}
	return requireRowsAffected(res, ErrEntityNotFound)
}

// UpsertEntity inserts or replaces an entity row plus its bot ownership
// relation, used by test fixtures (entity creation itself is out of scope
// per spec §1).
func (s *Store) UpsertEntity(cfg apitypes.EntityConfig, botID int) error {
	commandsJSON, err := json.Marshal(cfg.Commands)
	if err != nil {
		return fmt.Errorf("marshal commands: %w", err)
	}
	timersJSON, err := json.Marshal(cfg.Timers)
	if err != nil {
		return fmt.Errorf("marshal timers: %w", err)
	}

	readOnly := 0
	if cfg.ReadOnly {
		readOnly = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO entities (guid, type, parent_guid, status, name, commands, timers, timer_counter_max, read_only, welcome_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			type = excluded.type, parent_guid = excluded.parent_guid, status = excluded.status,
			name = excluded.name, commands = excluded.commands, timers = excluded.timers,
			timer_counter_max = excluded.timer_counter_max, read_only = excluded.read_only,
			welcome_message = excluded.welcome_message
	`, cfg.GUID, string(cfg.Type), cfg.ParentGUID, orDefault(cfg.Status, "active"), cfg.Name,
		string(commandsJSON), string(timersJSON), cfg.TimerCounterMax, readOnly, cfg.WelcomeMessage); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}

	if botID > 0 {
		if _, err := tx.Exec(`
			INSERT INTO bot_entity_relations (entity_guid, bot_id) VALUES (?, ?)
			ON CONFLICT(entity_guid) DO UPDATE SET bot_id = excluded.bot_id
		`, cfg.GUID, botID); err != nil {
			return fmt.Errorf("upsert relation: %w", err)
		}
	}

	return tx.Commit()
}

