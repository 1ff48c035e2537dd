package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Session owns the single authenticated WebSocket connection to the
// upstream chat service for one bot identity (spec §4.1.1). Send is called
// only from the worker's queue ticker; Close is also called from the Run
// loop and the watchdog. Session itself adds no locking.
type Session struct {
	conn       *websocket.Conn
	wsURL      string
	boundJID   string
	onInbound  func(Stanza)
	onClosed   func(error)
	readDone   chan struct{}
}

// SASLPlain builds the SASL-PLAIN initial response for accountGuid/chatToken
// against domain, per spec §4.1.1 step 4.
func SASLPlain(accountGUID, domain, chatToken string) string {
	raw := fmt.Sprintf("%s@%s\x00%s\x00%s", accountGUID, domain, accountGUID, chatToken)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Dial opens the WebSocket, sends the SASL-PLAIN auth frame (carrying the
// resource worker-<botID>) and then the initial presence (spec §4.1.1
// steps 4). It does not wait for or check the server's reply to the auth
// frame; the bound JID is computed locally. onInbound is
// invoked for every classified inbound stanza; onClosed is invoked once the
// read loop exits for any reason (remote close, transport error, or Close
// being called).
func Dial(ctx context.Context, wsURL, accountGUID, chatDomain, chatToken string, botID int, onInbound func(Stanza), onClosed func(error)) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial upstream: %w", err)
	}

	resource := fmt.Sprintf("worker-%d", botID)
	boundJID := fmt.Sprintf("%s@%s/%s", accountGUID, chatDomain, resource)

	authFrame := fmt.Sprintf(`<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='PLAIN' resource='%s'>%s</auth>`,
		xmlEscape(resource), SASLPlain(accountGUID, chatDomain, chatToken))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(authFrame)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send sasl-plain: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(PresenceStanza())); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send initial presence: %w", err)
	}

	s := &Session{
		conn:      conn,
		wsURL:     wsURL,
		boundJID:  boundJID,
		onInbound: onInbound,
		onClosed:  onClosed,
		readDone:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// BoundJID returns the worker's own full JID for this session
// (accountGuid@chatDomain/worker-<botID>).
func (s *Session) BoundJID() string {
	return s.boundJID
}

func (s *Session) readLoop() {
	defer close(s.readDone)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.onClosed != nil {
				s.onClosed(err)
			}
			return
		}

		dec := xml.NewDecoder(bytes.NewReader(data))
		tok, err := dec.Token()
		if err != nil {
			slog.Warn("worker: malformed inbound stanza", "error", err)
			continue
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		stanza, err := ClassifyElement(start.Name, data)
		if err != nil {
			slog.Warn("worker: failed to classify inbound stanza", "error", err)
			continue
		}
		if s.onInbound != nil {
			s.onInbound(stanza)
		}
	}
}

// Send writes a raw stanza frame to the WebSocket.
func (s *Session) Send(payload string) error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Close sends a close frame and tears down the connection, waiting briefly
// for the read loop to observe it (spec §5 bounded WebSocket close wait).
func (s *Session) Close(wait time.Duration) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = s.conn.Close()
	select {
	case <-s.readDone:
	case <-time.After(wait):
	}
}
