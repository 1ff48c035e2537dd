package store

import (
	"path/filepath"
	"testing"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "chatfleet.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActiveBotIDs(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertBot(Bot{ID: 1, Status: "active", AccountGUID: "acc1"}); err != nil {
		t.Fatalf("UpsertBot: %v", err)
	}
	if err := s.UpsertBot(Bot{ID: 2, Status: "inactive", AccountGUID: "acc2"}); err != nil {
		t.Fatalf("UpsertBot: %v", err)
	}

	ids, err := s.ActiveBotIDs()
	if err != nil {
		t.Fatalf("ActiveBotIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("ActiveBotIDs = %v, want [1]", ids)
	}
}

func TestGetBotNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetBot(99); err != ErrBotNotFound {
		t.Fatalf("GetBot = %v, want ErrBotNotFound", err)
	}
}

func TestUpdateBotCredentialBumpsRefreshTime(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertBot(Bot{ID: 1, Status: "active", AccountGUID: "acc1"}); err != nil {
		t.Fatalf("UpsertBot: %v", err)
	}

	if err := s.UpdateBotCredential(1, "new-token"); err != nil {
		t.Fatalf("UpdateBotCredential: %v", err)
	}

	b, err := s.GetBot(1)
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if b.AccessCredential != "new-token" {
		t.Fatalf("AccessCredential = %q, want new-token", b.AccessCredential)
	}
	if b.LastRefreshAt.IsZero() {
		t.Fatal("LastRefreshAt not set")
	}
}

func TestEntitiesForBotOnlyActive(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertBot(Bot{ID: 1, Status: "active", AccountGUID: "acc1"}); err != nil {
		t.Fatalf("UpsertBot: %v", err)
	}

	active := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity, Status: "active", Commands: map[string]apitypes.Command{}}
	inactive := apitypes.EntityConfig{GUID: "e2", Type: apitypes.EntityCommunity, Status: "inactive", Commands: map[string]apitypes.Command{}}
	if err := s.UpsertEntity(active, 1); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	if err := s.UpsertEntity(inactive, 1); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	entities, err := s.EntitiesForBot(1)
	if err != nil {
		t.Fatalf("EntitiesForBot: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("len(entities) = %d, want 1", len(entities))
	}
	if _, ok := entities["e1"]; !ok {
		t.Fatal("e1 missing from active entities")
	}
}

func TestSetEntityStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetEntityStatus("missing", "inactive"); err != ErrEntityNotFound {
		t.Fatalf("SetEntityStatus = %v, want ErrEntityNotFound", err)
	}
}

func TestMalformedCommandsJSONFallsBackToEmptyMap(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.db.Exec(`INSERT INTO entities (guid, type, commands, timers) VALUES (?, ?, ?, ?)`,
		"e1", "community", "not json", "[]"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg, err := s.GetEntity("e1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if cfg.Commands == nil || len(cfg.Commands) != 0 {
		t.Fatalf("Commands = %#v, want empty map", cfg.Commands)
	}
}

func TestGetPresetInactiveIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertPreset(apitypes.Preset{ID: "p1", Name: "Basic", Words: []string{"bad"}}); err != nil {
		t.Fatalf("UpsertPreset: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE presets SET status = 'inactive' WHERE id = ?`, "p1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := s.GetPreset("p1"); err != ErrPresetNotFound {
		t.Fatalf("GetPreset = %v, want ErrPresetNotFound", err)
	}
}

func TestProfanityConfigIncludesManagerGUIDs(t *testing.T) {
	s := newTestStore(t)
	cfg := apitypes.ProfanityConfig{PresetID: "p1", CustomWords: []string{"shoot"}, Active: true, MuteDurationSeconds: 60}
	if err := s.UpsertProfanityConfig("e1", cfg); err != nil {
		t.Fatalf("UpsertProfanityConfig: %v", err)
	}
	if err := s.AddManagerGUID("e1", "u1"); err != nil {
		t.Fatalf("AddManagerGUID: %v", err)
	}

	got, err := s.GetProfanityConfig("e1")
	if err != nil {
		t.Fatalf("GetProfanityConfig: %v", err)
	}
	if !got.Active || got.PresetID != "p1" || len(got.ManagerGUIDs) != 1 || got.ManagerGUIDs[0] != "u1" {
		t.Fatalf("GetProfanityConfig = %+v", got)
	}
}

func TestProfanityConfigAbsentIsInactiveNotError(t *testing.T) {
	s := newTestStore(t)
	cfg, err := s.GetProfanityConfig("unconfigured")
	if err != nil {
		t.Fatalf("GetProfanityConfig: %v", err)
	}
	if cfg.Active {
		t.Fatal("expected Active=false for unconfigured entity")
	}
}

func TestOwningBot(t *testing.T) {
	s := newTestStore(t)
	cfg := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity, Status: "active", Commands: map[string]apitypes.Command{}}
	if err := s.UpsertEntity(cfg, 7); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	botID, ok, err := s.OwningBot("e1")
	if err != nil || !ok || botID != 7 {
		t.Fatalf("OwningBot = (%d, %v, %v), want (7, true, nil)", botID, ok, err)
	}

	_, ok, err = s.OwningBot("missing")
	if err != nil || ok {
		t.Fatalf("OwningBot(missing) = (_, %v, %v), want ok=false", ok, err)
	}
}
