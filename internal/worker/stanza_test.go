package worker

import (
	"encoding/xml"
	"strings"
	"testing"
)

func classify(t *testing.T, raw string) Stanza {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		t.Fatalf("expected start element, got %T", tok)
	}
	s, err := ClassifyElement(start.Name, []byte(raw))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	return s
}

func TestClassifyPingIQ(t *testing.T) {
	s := classify(t, `<iq type='get' from='server' to='bot@x' id='1'><ping xmlns='urn:xmpp:ping'/></iq>`)
	if s.Kind != KindIQGetPing {
		t.Fatalf("got kind %v", s.Kind)
	}
}

func TestClassifyEntityGoneError(t *testing.T) {
	s := classify(t, `<iq type='error' from='room@muclight.x' to='bot@x' id='2'><error code='404' type='cancel'/></iq>`)
	if s.Kind != KindIQErrorEntityGone {
		t.Fatalf("got kind %v", s.Kind)
	}
}

func TestClassifyOtherIQError(t *testing.T) {
	s := classify(t, `<iq type='error' from='room@muclight.x' to='bot@x' id='2'><error code='500' type='wait'/></iq>`)
	if s.Kind == KindIQErrorEntityGone {
		t.Fatalf("500 must not classify as entity-gone")
	}
}

func TestClassifyMUCLightConfigResult(t *testing.T) {
	s := classify(t, `<iq type='result' from='room@muclight.x' to='bot@x' id='3'><query xmlns='urn:xmpp:muclight:0#configuration'><presence-group> club-e1 </presence-group></query></iq>`)
	if s.Kind != KindIQResultMUCLightConfig {
		t.Fatalf("got kind %v", s.Kind)
	}
	if s.PresenceGroup != "club-e1" {
		t.Fatalf("got presence group %q", s.PresenceGroup)
	}
}

func TestClassifyGroupchatMessage(t *testing.T) {
	s := classify(t, `<message type='groupchat' from='room@muclight.x/u1' to='bot@x' id='4'><body>hello</body></message>`)
	if s.Kind != KindGroupchatMessage {
		t.Fatalf("got kind %v", s.Kind)
	}
	if s.Body != "hello" {
		t.Fatalf("got body %q", s.Body)
	}
}

func TestClassifyDelayedMessageIgnored(t *testing.T) {
	s := classify(t, `<message type='groupchat' from='room@muclight.x/u1' to='bot@x' id='5'><body>old</body><delay xmlns='urn:xmpp:delay' stamp='2020-01-01T00:00:00Z'/></message>`)
	if s.Kind != KindOther {
		t.Fatalf("delayed message should classify as Other, got %v", s.Kind)
	}
}

func TestClassifyMemberAddedPresence(t *testing.T) {
	s := classify(t, `<presence from='room@muclight.x/u2' to='bot@x'><x xmlns='http://jabber.org/protocol/muc#user'><status code='210'/></x></presence>`)
	if s.Kind != KindPresenceMemberAdded {
		t.Fatalf("got kind %v", s.Kind)
	}
}

func TestGroupchatMessageStanzaWithAttachment(t *testing.T) {
	out := GroupchatMessageStanza("room@muclight.x", "hi", "img-1")
	if !strings.Contains(out, "img id='img-1'") {
		t.Fatalf("missing attachment in %s", out)
	}
}

func TestMUCLightConfigQueryStanzaTargetsRoom(t *testing.T) {
	out := MUCLightConfigQueryStanza("room@muclight.x")
	if !strings.Contains(out, "to='room@muclight.x'") {
		t.Fatalf("missing target in %s", out)
	}
}
