package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to a duel service.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Unlocks the admin tools when set
}

// DuelyardClient is a read-only HTTP client for the duel service API.
type DuelyardClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewDuelyardClient creates a new client.
func NewDuelyardClient(cfg Config) *DuelyardClient {
	return &DuelyardClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// HasAdmin reports whether admin endpoints are reachable with this config.
func (c *DuelyardClient) HasAdmin() bool {
	return c.cfg.AdminSecret != ""
}

// apiError represents an error response from the service.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes a GET request and returns the response body.
func (c *DuelyardClient) doRequest(ctx context.Context, path string, query url.Values, admin bool) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if admin {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(bytes.TrimSpace(respBody)))
	}

	return json.RawMessage(respBody), nil
}

// ListArenas returns every arena and its lease state.
func (c *DuelyardClient) ListArenas(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, "/v1/arenas", nil, false)
}

// GetStats returns one player's duel record.
func (c *DuelyardClient) GetStats(ctx context.Context, player string) (json.RawMessage, error) {
	return c.doRequest(ctx, "/v1/stats/"+url.PathEscape(player), nil, false)
}

// TopPlayers returns the leaderboard.
func (c *DuelyardClient) TopPlayers(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, "/v1/stats/top", q, false)
}

// ActiveDuels lists every duel in progress. Admin only.
func (c *DuelyardClient) ActiveDuels(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, "/v1/admin/duels", nil, true)
}

// Status returns service counters. Admin only.
func (c *DuelyardClient) Status(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, "/v1/admin/status", nil, true)
}
