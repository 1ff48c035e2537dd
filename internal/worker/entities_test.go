package worker

import (
	"testing"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

func TestAssignThenGet(t *testing.T) {
	s := NewEntityStore(5 * time.Minute)
	s.Assign(apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity})
	cfg, ok := s.Get("e1")
	if !ok || cfg.GUID != "e1" {
		t.Fatalf("expected e1 tracked, got %+v ok=%v", cfg, ok)
	}
}

func TestUnassignStartsDebounceWindow(t *testing.T) {
	s := NewEntityStore(5 * time.Minute)
	now := time.Now()
	s.Assign(apitypes.EntityConfig{GUID: "e1"})
	s.Unassign("e1", now)

	if _, ok := s.Get("e1"); ok {
		t.Fatalf("e1 should no longer be tracked")
	}
	if !s.IsSuppressed("e1", now.Add(time.Minute)) {
		t.Fatalf("e1 should be suppressed inside the debounce window")
	}
	if s.IsSuppressed("e1", now.Add(6*time.Minute)) {
		t.Fatalf("e1 should no longer be suppressed after the debounce window")
	}
}

func TestAssignClearsNonExistentAndDebounce(t *testing.T) {
	s := NewEntityStore(5 * time.Minute)
	now := time.Now()
	s.Assign(apitypes.EntityConfig{GUID: "e1"})
	s.MarkNonExistent("e1")
	if !s.IsSuppressed("e1", now) {
		t.Fatalf("e1 should be suppressed after MarkNonExistent")
	}
	s.Assign(apitypes.EntityConfig{GUID: "e1"})
	if s.IsSuppressed("e1", now) {
		t.Fatalf("assign must clear non-existent suppression")
	}
}

func TestReconcileAssignsUpdatesUnassigns(t *testing.T) {
	s := NewEntityStore(5 * time.Minute)
	now := time.Now()
	s.Assign(apitypes.EntityConfig{GUID: "keep", Name: "old"})
	s.Assign(apitypes.EntityConfig{GUID: "drop"})

	authoritative := map[string]apitypes.EntityConfig{
		"keep": {GUID: "keep", Name: "new"},
		"new":  {GUID: "new"},
	}
	result := s.Reconcile(authoritative, now)

	if len(result.Assigned) != 1 || result.Assigned[0].GUID != "new" {
		t.Fatalf("expected only 'new' assigned, got %+v", result.Assigned)
	}
	if len(result.Unassigned) != 1 || result.Unassigned[0] != "drop" {
		t.Fatalf("expected only 'drop' unassigned, got %+v", result.Unassigned)
	}
	keep, ok := s.Get("keep")
	if !ok || keep.Name != "new" {
		t.Fatalf("expected 'keep' updated in place, got %+v ok=%v", keep, ok)
	}
	if _, ok := s.Get("drop"); ok {
		t.Fatalf("'drop' should no longer be tracked")
	}
}

func TestTimerCursorAdvancesBeforeEmission(t *testing.T) {
	s := NewEntityStore(5 * time.Minute)
	s.Assign(apitypes.EntityConfig{GUID: "e1"})

	first, ok := s.AdvanceTimerCursor("e1", 3)
	if !ok || first != 1 {
		t.Fatalf("expected cursor 1 after first advance, got %d ok=%v", first, ok)
	}
	second, _ := s.AdvanceTimerCursor("e1", 3)
	if second != 2 {
		t.Fatalf("expected cursor 2, got %d", second)
	}
	third, _ := s.AdvanceTimerCursor("e1", 3)
	if third != 0 {
		t.Fatalf("expected cursor to wrap to 0, got %d", third)
	}
}

func TestMessageCounterIncrementsAndResets(t *testing.T) {
	s := NewEntityStore(5 * time.Minute)
	s.Assign(apitypes.EntityConfig{GUID: "e1"})
	s.IncrementMessageCount("e1")
	count, ok := s.IncrementMessageCount("e1")
	if !ok || count != 2 {
		t.Fatalf("expected count 2, got %d ok=%v", count, ok)
	}
	s.ResetMessageCount("e1")
	count, _ = s.IncrementMessageCount("e1")
	if count != 1 {
		t.Fatalf("expected count reset to 1 after increment, got %d", count)
	}
}

func TestUnknownEntityCounterNoOp(t *testing.T) {
	s := NewEntityStore(5 * time.Minute)
	if _, ok := s.IncrementMessageCount("ghost"); ok {
		t.Fatalf("unknown entity must not report ok")
	}
	if _, ok := s.AdvanceTimerCursor("ghost", 3); ok {
		t.Fatalf("unknown entity must not report ok")
	}
}
