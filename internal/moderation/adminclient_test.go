package moderation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

func newTestAdminClient(t *testing.T, handler http.HandlerFunc) *AdminClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewAdminClient(srv.URL, 5*time.Second)
	c.sleep = func(time.Duration) {} // skip the real race delay in tests
	return c
}

func TestDeleteMessageTreats500AsSuccess(t *testing.T) {
	c := newTestAdminClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if err := c.DeleteMessage(context.Background(), "tok", "m1", "u1@chat", "room@muc"); err != nil {
		t.Fatalf("DeleteMessage = %v, want nil (500 treated as success)", err)
	}
}

func TestDeleteMessageOtherErrorsFail(t *testing.T) {
	c := newTestAdminClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if err := c.DeleteMessage(context.Background(), "tok", "m1", "u1@chat", "room@muc"); err == nil {
		t.Fatal("DeleteMessage = nil, want error for 502")
	}
}

func TestDeleteMessageSendsExpectedQuery(t *testing.T) {
	var gotPath, gotFrom, gotMuc, gotAuth string
	c := newTestAdminClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFrom = r.URL.Query().Get("from")
		gotMuc = r.URL.Query().Get("muc")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	if err := c.DeleteMessage(context.Background(), "tok", "m1", "u1@chat", "room@muc"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if gotPath != "/messages/retract/m1" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotFrom != "u1@chat" || gotMuc != "room@muc" {
		t.Fatalf("from=%q muc=%q", gotFrom, gotMuc)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestMuteMemberForbiddenIsNonFatal(t *testing.T) {
	c := newTestAdminClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	err := c.MuteMember(context.Background(), "tok", "club1", "u1", time.Minute, time.Now())
	if err != nil {
		t.Fatalf("MuteMember = %v, want nil (403 logged as non-fatal)", err)
	}
}

func TestMuteMemberRequestPath(t *testing.T) {
	var gotPath string
	c := newTestAdminClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	if err := c.MuteMember(context.Background(), "tok", "club1", "u1", time.Minute, time.Now()); err != nil {
		t.Fatalf("MuteMember: %v", err)
	}
	if gotPath != "/club/club1/member/u1:mute" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestClubIDDerivation(t *testing.T) {
	community := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity, ParentGUID: "p1"}
	if got := ClubID(community); got != "e1" {
		t.Fatalf("ClubID(community) = %q, want e1", got)
	}
	chat := apitypes.EntityConfig{GUID: "e2", Type: apitypes.EntityChat, ParentGUID: "p1"}
	if got := ClubID(chat); got != "p1" {
		t.Fatalf("ClubID(chat) = %q, want p1", got)
	}
}
