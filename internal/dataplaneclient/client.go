// Package dataplaneclient is the typed HTTP client workers and the manager
// use to call the data-plane service (spec §4.5). It follows the POST-client
// shape of vm-agent's errorreport.Reporter, generalized to the handful of
// GET/POST operations the fleet needs. Each call makes a single request;
// there is no retry.
package dataplaneclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// ErrNotFound is returned when the data-plane responds 404.
var ErrNotFound = errors.New("dataplane: not found")

// Client calls the data-plane's HTTP surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. token may be empty if the data-plane has no auth
// configured (spec §13 open question: deployment-time decision).
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s %s: %w", method, path, err)
	}
	return nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// ActiveBots calls GET /bots/active.
func (c *Client) ActiveBots(ctx context.Context) ([]apitypes.ActiveBot, error) {
	var bots []apitypes.ActiveBot
	if err := c.do(ctx, http.MethodGet, "/bots/active", nil, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

// BotConfig calls GET /bots/:id/config[?force=1].
func (c *Client) BotConfig(ctx context.Context, botID int, force bool) (apitypes.BotConfig, error) {
	path := "/bots/" + strconv.Itoa(botID) + "/config"
	if force {
		path += "?force=1"
	}
	var cfg apitypes.BotConfig
	if err := c.do(ctx, http.MethodGet, path, nil, &cfg); err != nil {
		return apitypes.BotConfig{}, err
	}
	return cfg, nil
}

// BotEntities calls GET /bots/:id/entities.
func (c *Client) BotEntities(ctx context.Context, botID int) (map[string]apitypes.EntityConfig, error) {
	var entities map[string]apitypes.EntityConfig
	if err := c.do(ctx, http.MethodGet, "/bots/"+strconv.Itoa(botID)+"/entities", nil, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// EntityData calls GET /entities/:id/data.
func (c *Client) EntityData(ctx context.Context, entityID string) (apitypes.EntityConfig, error) {
	var entity apitypes.EntityConfig
	if err := c.do(ctx, http.MethodGet, "/entities/"+entityID+"/data", nil, &entity); err != nil {
		return apitypes.EntityConfig{}, err
	}
	return entity, nil
}

// MarkEntityStatus calls POST /entities/:id/status.
func (c *Client) MarkEntityStatus(ctx context.Context, entityID, status string) error {
	return c.do(ctx, http.MethodPost, "/entities/"+entityID+"/status", apitypes.EntityStatusUpdate{Status: status}, nil)
}

// ProfanityPreset calls GET /profanity-filter-presets/:id.
func (c *Client) ProfanityPreset(ctx context.Context, presetID string) (apitypes.Preset, error) {
	var preset apitypes.Preset
	if err := c.do(ctx, http.MethodGet, "/profanity-filter-presets/"+presetID, nil, &preset); err != nil {
		return apitypes.Preset{}, err
	}
	return preset, nil
}

// ProfanityConfig calls GET /profanity-filter-config/:entityId.
func (c *Client) ProfanityConfig(ctx context.Context, entityID string) (apitypes.ProfanityConfig, error) {
	var cfg apitypes.ProfanityConfig
	if err := c.do(ctx, http.MethodGet, "/profanity-filter-config/"+entityID, nil, &cfg); err != nil {
		return apitypes.ProfanityConfig{}, err
	}
	return cfg, nil
}
