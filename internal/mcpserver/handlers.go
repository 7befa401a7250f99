package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *DuelyardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *DuelyardClient) *Handlers {
	return &Handlers{client: client}
}

// HandleListArenas lists arenas, optionally for one group.
func (h *Handlers) HandleListArenas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	group := req.GetString("group", "")

	raw, err := h.client.ListArenas(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list arenas: %v", err)), nil
	}

	text, err := formatArenas(raw, group)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arenas: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetPlayerStats returns one player's record.
func (h *Handlers) HandleGetPlayerStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	player := strings.TrimSpace(req.GetString("player", ""))
	if player == "" {
		return mcp.NewToolResultError("player is required"), nil
	}

	raw, err := h.client.GetStats(ctx, player)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}

	text, err := formatStats(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse stats: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleTopPlayers returns the leaderboard.
func (h *Handlers) HandleTopPlayers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)

	raw, err := h.client.TopPlayers(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get leaderboard: %v", err)), nil
	}

	text, err := formatLeaderboard(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse leaderboard: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListActiveDuels lists duels in progress.
func (h *Handlers) HandleListActiveDuels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !h.client.HasAdmin() {
		return mcp.NewToolResultError("admin secret not configured"), nil
	}
	raw, err := h.client.ActiveDuels(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list duels: %v", err)), nil
	}

	text, err := formatDuels(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse duels: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleServiceStatus returns the admin status counters.
func (h *Handlers) HandleServiceStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !h.client.HasAdmin() {
		return mcp.NewToolResultError("admin secret not configured"), nil
	}
	raw, err := h.client.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}
	return mcp.NewToolResultText("Service status:\n" + formatJSON(raw)), nil
}

// --- formatting ---

func formatArenas(raw json.RawMessage, group string) (string, error) {
	var resp struct {
		Arenas []map[string]any `json:"arenas"`
		Groups []string         `json:"groups"`
		InUse  int              `json:"inUse"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected arenas response format")
	}

	arenas := resp.Arenas
	if group != "" {
		arenas = arenas[:0:0]
		for _, a := range resp.Arenas {
			if getString(a, "group") == group {
				arenas = append(arenas, a)
			}
		}
	}
	if len(arenas) == 0 {
		if group != "" {
			return fmt.Sprintf("No arenas in group %q.", group), nil
		}
		return "No arenas configured.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d arena(s), %d in use. Groups: %s\n\n", len(arenas), resp.InUse, strings.Join(resp.Groups, ", "))
	for _, a := range arenas {
		state := "free"
		if inUse, _ := a["inUse"].(bool); inUse {
			state = "in use by " + getString(a, "holder")
		}
		ready := "ready"
		if a["spawn1"] == nil || a["spawn2"] == nil {
			ready = "missing spawn"
		}
		fmt.Fprintf(&sb, "- %s [%s] %s, %s\n", getString(a, "name"), getString(a, "group"), ready, state)
	}
	return sb.String(), nil
}

func formatStats(raw json.RawMessage) (string, error) {
	var resp struct {
		Stats map[string]any `json:"stats"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Stats == nil {
		return "", fmt.Errorf("unexpected stats response format")
	}
	s := resp.Stats
	total, _ := getFloat(s, "totalDuels")
	if total == 0 {
		return fmt.Sprintf("%s has not fought any duels.", getString(s, "player")), nil
	}
	wins, _ := getFloat(s, "wins")
	losses, _ := getFloat(s, "losses")
	rate, _ := getFloat(s, "winRate")
	return fmt.Sprintf("%s: %d wins, %d losses over %d duels (%.1f%% win rate)",
		getString(s, "player"), int(wins), int(losses), int(total), rate), nil
}

func formatLeaderboard(raw json.RawMessage) (string, error) {
	var resp struct {
		Players []map[string]any `json:"players"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected leaderboard response format")
	}
	if len(resp.Players) == 0 {
		return "No duels have been fought yet.", nil
	}

	var sb strings.Builder
	sb.WriteString("Top players:\n\n")
	for i, p := range resp.Players {
		wins, _ := getFloat(p, "wins")
		losses, _ := getFloat(p, "losses")
		rate, _ := getFloat(p, "winRate")
		fmt.Fprintf(&sb, "%d. %s: %d-%d (%.1f%%)\n", i+1, getString(p, "player"), int(wins), int(losses), rate)
	}
	return sb.String(), nil
}

func formatDuels(raw json.RawMessage) (string, error) {
	var resp struct {
		Duels   []map[string]any `json:"duels"`
		Closing int              `json:"closing"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected duels response format")
	}
	if len(resp.Duels) == 0 {
		if resp.Closing > 0 {
			return fmt.Sprintf("No active duels. %d arena(s) still closing.", resp.Closing), nil
		}
		return "No active duels.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d active duel(s):\n\n", len(resp.Duels))
	for _, d := range resp.Duels {
		fmt.Fprintf(&sb, "- %s vs %s: %s", getString(d, "challenger"), getString(d, "target"), getString(d, "state"))
		if arena := getString(d, "arena"); arena != "" {
			fmt.Fprintf(&sb, " in %s", arena)
		}
		if betting, _ := d["bettingEnabled"].(bool); betting {
			sb.WriteString(" (betting)")
		}
		fmt.Fprintf(&sb, " [%s]\n", getString(d, "id"))
	}
	if resp.Closing > 0 {
		fmt.Fprintf(&sb, "\n%d arena(s) closing.\n", resp.Closing)
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
