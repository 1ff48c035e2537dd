package worker

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Namespaces used by the upstream chat service (spec §6).
const (
	nsPing        = "urn:xmpp:ping"
	nsMUCLightCfg = "urn:xmpp:muclight:0#configuration"
	nsSupergroup  = "faceit:supergroup:group:0"
	nsDelay       = "urn:xmpp:delay"
	nsUpload      = "msg:upload:1"
	nsMUCUser     = "http://jabber.org/protocol/muc#user"
)

// StanzaKind classifies a top-level inbound stanza (spec §4.2).
type StanzaKind int

const (
	KindUnknown StanzaKind = iota
	KindIQGetPing
	KindIQResultMUCLightConfig
	KindIQErrorEntityGone
	KindIQGetOther
	KindGroupchatMessage
	KindPresenceMemberAdded
	KindOther
)

// rawElement captures an arbitrary child element's namespace-qualified name
// and unparsed inner content, used to classify IQ payloads without a
// hand-written struct per possible namespace.
type rawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content []byte     `xml:",innerxml"`
}

// inboundIQ mirrors the wire shape of <iq>.
type inboundIQ struct {
	XMLName xml.Name   `xml:"iq"`
	ID      string     `xml:"id,attr"`
	Type    string     `xml:"type,attr"`
	From    string     `xml:"from,attr"`
	To      string     `xml:"to,attr"`
	Payload rawElement `xml:",any"`
}

type stanzaError struct {
	XMLName xml.Name `xml:"error"`
	Code    string   `xml:"code,attr"`
	Type    string   `xml:"type,attr"`
}

// inboundMessage mirrors the wire shape of <message>.
type inboundMessage struct {
	XMLName xml.Name `xml:"message"`
	ID      string   `xml:"id,attr"`
	Type    string   `xml:"type,attr"`
	From    string   `xml:"from,attr"`
	To      string   `xml:"to,attr"`
	Body    string   `xml:"body"`
	Delay   *struct {
		XMLName xml.Name `xml:"urn:xmpp:delay delay"`
	} `xml:"delay"`
	Upload *struct {
		Img struct {
			ID string `xml:"id,attr"`
		} `xml:"img"`
	} `xml:"x"`
}

// inboundPresence mirrors the wire shape of <presence>.
type inboundPresence struct {
	XMLName xml.Name `xml:"presence"`
	Type    string   `xml:"type,attr"`
	From    string   `xml:"from,attr"`
	To      string   `xml:"to,attr"`
	MUCUser *struct {
		Status []struct {
			Code string `xml:"code,attr"`
		} `xml:"status"`
	} `xml:"x"`
}

// Stanza is the normalized, classified form of an inbound XML stanza that
// the rest of the worker operates on, replacing repeated XML walks with a
// single switch on Kind.
type Stanza struct {
	Kind          StanzaKind
	ID            string
	From          string
	To            string
	Body          string
	ErrorCode     string
	PresenceGroup string
	AttachmentID  string
}

// ClassifyElement decodes a raw top-level XML element (the worker's
// websocket read loop hands it the bytes of one <iq>/<message>/<presence>)
// into a Stanza, applying the classification rules of spec §4.2.
func ClassifyElement(root xml.Name, raw []byte) (Stanza, error) {
	switch root.Local {
	case "iq":
		var iq inboundIQ
		if err := xml.Unmarshal(raw, &iq); err != nil {
			return Stanza{}, fmt.Errorf("decode iq: %w", err)
		}
		return classifyIQ(iq), nil
	case "message":
		var msg inboundMessage
		if err := xml.Unmarshal(raw, &msg); err != nil {
			return Stanza{}, fmt.Errorf("decode message: %w", err)
		}
		return classifyMessage(msg), nil
	case "presence":
		var pres inboundPresence
		if err := xml.Unmarshal(raw, &pres); err != nil {
			return Stanza{}, fmt.Errorf("decode presence: %w", err)
		}
		return classifyPresence(pres), nil
	default:
		return Stanza{Kind: KindOther}, nil
	}
}

func classifyIQ(iq inboundIQ) Stanza {
	s := Stanza{ID: iq.ID, From: iq.From, To: iq.To}

	if iq.Type == "get" && iq.Payload.XMLName.Space == nsPing {
		s.Kind = KindIQGetPing
		return s
	}

	if iq.Type == "error" || iq.Type == "cancel" {
		s.ErrorCode = errorCodeFromIQ(iq)
		if s.ErrorCode == "404" {
			s.Kind = KindIQErrorEntityGone
			return s
		}
	}

	if iq.Type == "result" && iq.Payload.XMLName.Space == nsMUCLightCfg {
		s.Kind = KindIQResultMUCLightConfig
		s.PresenceGroup = extractPresenceGroup(iq.Payload.Content)
		return s
	}

	if iq.Type == "get" {
		s.Kind = KindIQGetOther
		return s
	}

	s.Kind = KindOther
	return s
}

// errorCodeFromIQ digs the <error code='...'/> child out of the raw payload,
// since it's a sibling of Payload rather than part of it once Type=="error".
func errorCodeFromIQ(iq inboundIQ) string {
	// The generic Payload capture above grabs whichever child element comes
	// first; when that child is the <error/> element itself, its "code"
	// attribute is already present on iq.Payload.Attrs.
	if iq.Payload.XMLName.Local == "error" {
		for _, a := range iq.Payload.Attrs {
			if a.Name.Local == "code" {
				return a.Value
			}
		}
	}
	return ""
}

func extractPresenceGroup(content []byte) string {
	const open, close = "<presence-group>", "</presence-group>"
	s := string(content)
	start := strings.Index(s, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(s[start:], close)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(s[start : start+end])
}

func classifyMessage(msg inboundMessage) Stanza {
	s := Stanza{ID: msg.ID, From: msg.From, To: msg.To, Body: msg.Body}
	if msg.Type != "groupchat" {
		s.Kind = KindOther
		return s
	}
	if msg.Delay != nil {
		// History replay; spec §4.2 item 6 and P3 require these be ignored
		// entirely, so the caller never even sees a groupchat kind.
		s.Kind = KindOther
		return s
	}
	if msg.Upload != nil {
		s.AttachmentID = msg.Upload.Img.ID
	}
	s.Kind = KindGroupchatMessage
	return s
}

func classifyPresence(pres inboundPresence) Stanza {
	s := Stanza{From: pres.From, To: pres.To}
	if pres.Type != "" {
		s.Kind = KindOther
		return s
	}
	if pres.MUCUser != nil {
		for _, st := range pres.MUCUser.Status {
			if st.Code == "210" {
				s.Kind = KindPresenceMemberAdded
				return s
			}
		}
	}
	s.Kind = KindOther
	return s
}

// --- Outgoing stanza construction ---

func newID() string {
	return uuid.NewString()
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// PingResultStanza answers an inbound ping (§4.2 item 1).
func PingResultStanza(to, id string) string {
	return fmt.Sprintf(`<iq type='result' to='%s' id='%s'/>`, xmlEscape(to), xmlEscape(id))
}

// FeatureNotImplementedStanza answers an unrecognized IQ get (§4.2 item 3).
func FeatureNotImplementedStanza(to, id string) string {
	return fmt.Sprintf(`<iq type='error' to='%s' id='%s'><error type='cancel'><feature-not-implemented xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></iq>`, xmlEscape(to), xmlEscape(id))
}

// MUCLightConfigQueryStanza issues the configuration query of spec §4.1.1
// step 5, whose reply carries the presence-group.
func MUCLightConfigQueryStanza(roomJID string) string {
	return fmt.Sprintf(`<iq type='get' to='%s' id='%s'><query xmlns='%s'/></iq>`, xmlEscape(roomJID), newID(), nsMUCLightCfg)
}

// SupergroupSubscribeStanza issues a subscribe/unsubscribe against a
// presence group (spec §6).
func SupergroupSubscribeStanza(presenceGroupJID string, subscribe bool) string {
	return fmt.Sprintf(`<iq type='set' to='%s' id='%s'><query xmlns='%s'><subscribe set='%t'/></query></iq>`,
		xmlEscape(presenceGroupJID), newID(), nsSupergroup, subscribe)
}

// GroupchatMessageStanza builds an outgoing groupchat message, optionally
// carrying an attachment reference.
func GroupchatMessageStanza(to, body, attachmentID string) string {
	if attachmentID == "" {
		return fmt.Sprintf(`<message type='groupchat' to='%s' id='%s'><body>%s</body></message>`,
			xmlEscape(to), newID(), xmlEscape(body))
	}
	return fmt.Sprintf(`<message type='groupchat' to='%s' id='%s'><body>%s</body><x xmlns='%s'><img id='%s'/></x></message>`,
		xmlEscape(to), newID(), xmlEscape(body), nsUpload, xmlEscape(attachmentID))
}

// DirectMessageStanza builds an outgoing chat-type message (used for the
// welcome message, spec §4.2 item 5).
func DirectMessageStanza(to, body string) string {
	return fmt.Sprintf(`<message type='chat' to='%s' id='%s'><body>%s</body></message>`, xmlEscape(to), newID(), xmlEscape(body))
}

// PresenceStanza builds the initial global presence sent on session
// establishment (spec §4.1.1 step 4).
func PresenceStanza() string {
	return fmt.Sprintf(`<presence id='%s'/>`, newID())
}
