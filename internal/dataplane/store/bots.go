package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Bot is the store's row shape for a bot identity (spec §3).
type Bot struct {
	ID                int
	Status            string
	AccountGUID       string
	Nickname          string
	RefreshCredential string
	AccessCredential  string
	LastRefreshAt     time.Time
}

// ActiveBotIDs returns the ids of every bot whose status is active, ordered
// by id, for GET /bots/active.
func (s *Store) ActiveBotIDs() ([]int, error) {
	rows, err := s.db.Query(`SELECT id FROM bots WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active bots: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan bot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetBot fetches one bot row by id. Returns ErrBotNotFound if absent.
func (s *Store) GetBot(id int) (Bot, error) {
	var b Bot
	var lastRefresh string
	err := s.db.QueryRow(`SELECT id, status, account_guid, nickname, refresh_credential, access_credential, last_refresh_at FROM bots WHERE id = ?`, id).
		Scan(&b.ID, &b.Status, &b.AccountGUID, &b.Nickname, &b.RefreshCredential, &b.AccessCredential, &lastRefresh)
	if errors.Is(err, sql.ErrNoRows) {
		return Bot{}, ErrBotNotFound
	}
	if err != nil {
		return Bot{}, fmt.Errorf("get bot: %w", err)
	}
	if lastRefresh != "" {
		if t, perr := time.Parse(time.RFC3339, lastRefresh); perr == nil {
			b.LastRefreshAt = t
		}
	}
	return b, nil
}

// UpdateBotCredential persists a freshly refreshed access credential and
// bumps last_refresh_at to now (spec §4.5 refresh throttle bookkeeping).
func (s *Store) UpdateBotCredential(id int, accessCredential string) error {
	res, err := s.db.Exec(`UPDATE bots SET access_credential = ?, last_refresh_at = ? WHERE id = ?`,
		accessCredential, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("update bot credential: %w", err)
	}
	return requireRowsAffected(res, ErrBotNotFound)
}

// UpsertBot inserts or replaces a bot row; used by test fixtures and
// wherever the out-of-scope admin surface (§1 Non-goals) would otherwise
// write this table.
func (s *Store) UpsertBot(b Bot) error {
	_, err := s.db.Exec(`
		INSERT INTO bots (id, status, account_guid, nickname, refresh_credential, access_credential, last_refresh_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			account_guid = excluded.account_guid,
			nickname = excluded.nickname,
			refresh_credential = excluded.refresh_credential,
			access_credential = excluded.access_credential,
			last_refresh_at = excluded.last_refresh_at
	`, b.ID, orDefault(b.Status, "active"), b.AccountGUID, b.Nickname, b.RefreshCredential, b.AccessCredential, formatRefreshTime(b.LastRefreshAt))
	if err != nil {
		return fmt.Errorf("upsert bot: %w", err)
	}
	return nil
}

func formatRefreshTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func requireRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
