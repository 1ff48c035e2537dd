// Package store is the relational store of record for the data-plane
// service: bots, entities, the bot/entity ownership relation, profanity
// configs, presets, and manager exemptions (spec §3). It follows the same
// database/sql + hand-rolled versioned-migration idiom as the teacher's
// persistence.Store, backed by the same modernc.org/sqlite driver.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors matched with errors.Is by data-plane handlers to decide
// between a 404 and a 500 (spec §4.5).
var (
	ErrBotNotFound    = errors.New("store: bot not found")
	ErrEntityNotFound = errors.New("store: entity not found")
	ErrPresetNotFound = errors.New("store: preset not found")
)

// Store wraps the sqlite connection pool used by the data-plane process.
// Concurrent callers are safe: database/sql pools its own connections, and
// sqlite's single-writer model plus WAL mode is enough for this workload
// (the teacher's Store made the identical choice for its own tables).
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dbPath and applies any pending
// migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats exposes the connection-pool counters the data-plane's /health
// handler reports (SPEC_FULL.md §12 "health is actually diagnostic").
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// SchemaVersion reports the highest applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1Bots,
		migrateV2Entities,
		migrateV3Relations,
		migrateV4Profanity,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("dataplane: applying migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

func migrateV1Bots(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bots (
			id INTEGER PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active',
			account_guid TEXT NOT NULL DEFAULT '',
			nickname TEXT NOT NULL DEFAULT '',
			refresh_credential TEXT NOT NULL DEFAULT '',
			access_credential TEXT NOT NULL DEFAULT '',
			last_refresh_at TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);
	`)
	return err
}

func migrateV2Entities(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			guid TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			parent_guid TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			name TEXT NOT NULL DEFAULT '',
			commands TEXT NOT NULL DEFAULT '{}',
			timers TEXT NOT NULL DEFAULT '[]',
			timer_counter_max INTEGER NOT NULL DEFAULT 0,
			read_only INTEGER NOT NULL DEFAULT 0,
			welcome_message TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status);
	`)
	return err
}

func migrateV3Relations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bot_entity_relations (
			entity_guid TEXT PRIMARY KEY,
			bot_id INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_relations_bot ON bot_entity_relations(bot_id);

		CREATE TABLE IF NOT EXISTS presets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			words TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'active'
		);
	`)
	return err
}

func migrateV4Profanity(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS profanity_configs (
			entity_guid TEXT PRIMARY KEY,
			preset_id TEXT NOT NULL DEFAULT '',
			custom_words TEXT NOT NULL DEFAULT '[]',
			webhook_url TEXT NOT NULL DEFAULT '',
			webhook_message TEXT NOT NULL DEFAULT '',
			reply_message TEXT NOT NULL DEFAULT '',
			mute_duration_seconds INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS manager_relations (
			entity_guid TEXT NOT NULL,
			user_guid TEXT NOT NULL,
			PRIMARY KEY (entity_guid, user_guid)
		);
	`)
	return err
}

// nowRFC3339 is the timestamp format used for the bot.last_refresh_at
// column, matching the ISO-8601 instants spec §4.4's mute body also uses.
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
