package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// defaultDeleteRaceDelay is the pause before issuing a delete, to avoid racing the
// upstream's own message commit (spec §4.4).
const defaultDeleteRaceDelay = 300 * time.Millisecond

// AdminClient dispatches delete/mute actions against the upstream chat
// service's admin HTTP API (spec §4.4). It is deliberately separate from
// dataplaneclient.Client: this talks to the chat service itself, not the
// data-plane.
type AdminClient struct {
	baseURL   string
	http      *http.Client
	raceDelay time.Duration
	sleep     func(time.Duration)
}

// NewAdminClient builds a client against baseURL (spec §6 "admin URL
// configured by environment").
func NewAdminClient(baseURL string, timeout time.Duration) *AdminClient {
	return &AdminClient{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
		raceDelay: defaultDeleteRaceDelay,
		sleep:     time.Sleep,
	}
}

// SetRaceDelay overrides the pause before a delete request, for deployments
// that tune it away from the spec's ≈300ms default.
func (c *AdminClient) SetRaceDelay(d time.Duration) {
	c.raceDelay = d
}

// DeleteMessage retracts messageID, authored by authorJID in room mucJID,
// using bot's access credential as a bearer token.
//
// The upstream is known to return HTTP 500 on a successful retraction, so
// this client treats 2xx and 500 alike as success; every other status is a
// failure. A short delay precedes the request to avoid racing the
// upstream's own commit of the message being retracted.
func (c *AdminClient) DeleteMessage(ctx context.Context, accessCredential, messageID, authorJID, mucJID string) error {
	c.sleep(c.raceDelay)

	u := fmt.Sprintf("%s/messages/retract/%s?from=%s&muc=%s",
		c.baseURL, url.PathEscape(messageID), url.QueryEscape(authorJID), url.QueryEscape(mucJID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessCredential)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	defer resp.Body.Close()

	return c.evaluateAdminResponse(resp.StatusCode, "delete")
}

// muteBody is the JSON body of the mute request.
type muteBody struct {
	Until string `json:"until"`
}

// MuteMember mutes userGUID until now+duration in clubID, using bot's
// access credential as a bearer token. Callers derive clubID per spec §4.4
// (parent guid for chat/ihl, entity guid for community) via ClubID.
func (c *AdminClient) MuteMember(ctx context.Context, accessCredential, clubID, userGUID string, duration time.Duration, now time.Time) error {
	body, err := json.Marshal(muteBody{Until: now.Add(duration).UTC().Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("marshal mute body: %w", err)
	}

	u := fmt.Sprintf("%s/club/%s/member/%s:mute", c.baseURL, url.PathEscape(clubID), url.PathEscape(userGUID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mute request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessCredential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mute member: %w", err)
	}
	defer resp.Body.Close()

	return c.evaluateAdminResponse(resp.StatusCode, "mute")
}

// evaluateAdminResponse applies the shared 403/error-tolerance policy of
// spec §4.4: 403 is logged as non-fatal "insufficient permissions", other
// non-2xx/non-500 statuses are reported as errors for the caller to log,
// but never propagated as a reason to undo the moderation action already
// considered taken.
func (c *AdminClient) evaluateAdminResponse(status int, action string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if action == "delete" && status == http.StatusInternalServerError {
		return nil
	}
	if status == http.StatusForbidden {
		slog.Warn("moderation: admin API denied permission", "action", action)
		return nil
	}
	return fmt.Errorf("admin API %s: unexpected status %d", action, status)
}

// ClubID derives the club id a mute request targets (spec §4.4): the
// parent guid for chat/ihl entities, the entity guid itself for community.
func ClubID(e apitypes.EntityConfig) string {
	if e.Type == apitypes.EntityChat || e.Type == apitypes.EntityIHL {
		return e.ParentGUID
	}
	return e.GUID
}
