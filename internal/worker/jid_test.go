package worker

import (
	"testing"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

func TestMUCLightJIDCommunity(t *testing.T) {
	e := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity}
	got := MUCLightJID(e, "muclight.chat.example")
	want := "club-e1-general@muclight.chat.example"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMUCLightJIDChatChannel(t *testing.T) {
	e := apitypes.EntityConfig{GUID: "c1", ParentGUID: "p1", Type: apitypes.EntityChat}
	got := MUCLightJID(e, "muclight.chat.example")
	want := "club-p1-channel-c1@muclight.chat.example"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSupergroupJIDUsesParentForIHL(t *testing.T) {
	e := apitypes.EntityConfig{GUID: "i1", ParentGUID: "p2", Type: apitypes.EntityIHL}
	got := SupergroupJID(e, "supergroup.chat.example")
	want := "club-p2@supergroup.chat.example"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPresenceGroupPath(t *testing.T) {
	community := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity}
	if got := PresenceGroupPath(community); got != "general" {
		t.Fatalf("community: got %q, want general", got)
	}

	chat := apitypes.EntityConfig{GUID: "c1", Type: apitypes.EntityChat}
	if got := PresenceGroupPath(chat); got != "channel-c1" {
		t.Fatalf("chat: got %q, want channel-c1", got)
	}
}
