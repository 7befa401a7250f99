package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler, adminSecret string) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewDuelyardClient(Config{APIURL: ts.URL, AdminSecret: adminSecret})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_AdminHeaderOnlyOnAdminCalls(t *testing.T) {
	got := map[string]string{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got[r.URL.Path] = r.Header.Get("X-Admin-Secret")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewDuelyardClient(Config{APIURL: ts.URL, AdminSecret: "s3cret"})
	_, err := client.ListArenas(context.Background())
	require.NoError(t, err)
	_, err = client.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "", got["/v1/arenas"])
	assert.Equal(t, "s3cret", got["/v1/admin/status"])
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":   "forbidden",
			"message": "Admin access required",
		})
	}))
	defer ts.Close()

	client := NewDuelyardClient(Config{APIURL: ts.URL, AdminSecret: "wrong"})
	_, err := client.ActiveDuels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Admin access required")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout\n"))
	}))
	defer ts.Close()

	client := NewDuelyardClient(Config{APIURL: ts.URL})
	_, err := client.ListArenas(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewDuelyardClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.ListArenas(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_TopPlayersQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"players":[]}`))
	}))
	defer ts.Close()

	client := NewDuelyardClient(Config{APIURL: ts.URL})
	_, err := client.TopPlayers(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "limit=5", gotQuery)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleListArenas(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/arenas", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"arenas": []map[string]any{
				{"name": "classic1", "group": "classic", "spawn1": map[string]any{}, "spawn2": map[string]any{}, "inUse": true, "holder": "duel-1"},
				{"name": "classic2", "group": "classic", "spawn1": map[string]any{}, "inUse": false},
				{"name": "pit1", "group": "pit", "spawn1": map[string]any{}, "spawn2": map[string]any{}, "inUse": false},
			},
			"groups": []string{"classic", "pit"},
			"inUse":  1,
		})
	}), "")
	defer cleanup()

	result, err := h.HandleListArenas(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "3 arena(s), 1 in use")
	assert.Contains(t, text, "classic1 [classic] ready, in use by duel-1")
	assert.Contains(t, text, "classic2 [classic] missing spawn, free")

	result, err = h.HandleListArenas(context.Background(), makeRequest(map[string]any{"group": "pit"}))
	require.NoError(t, err)
	text = resultText(t, result)
	assert.Contains(t, text, "pit1")
	assert.NotContains(t, text, "classic1")

	result, err = h.HandleListArenas(context.Background(), makeRequest(map[string]any{"group": "void"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `No arenas in group "void"`)
}

func TestHandleGetPlayerStats(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stats/Notch", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"stats": map[string]any{"player": "Notch", "wins": 3, "losses": 1, "totalDuels": 4, "winRate": 75.0},
		})
	}), "")
	defer cleanup()

	result, err := h.HandleGetPlayerStats(context.Background(), makeRequest(map[string]any{"player": "Notch"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "Notch: 3 wins, 1 losses over 4 duels (75.0% win rate)", resultText(t, result))
}

func TestHandleGetPlayerStats_NoDuels(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"stats": map[string]any{"player": "jeb_", "wins": 0, "losses": 0, "totalDuels": 0, "winRate": 0},
		})
	}), "")
	defer cleanup()

	result, err := h.HandleGetPlayerStats(context.Background(), makeRequest(map[string]any{"player": "jeb_"}))
	require.NoError(t, err)
	assert.Equal(t, "jeb_ has not fought any duels.", resultText(t, result))
}

func TestHandleGetPlayerStats_MissingPlayer(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler(), "")
	defer cleanup()

	result, err := h.HandleGetPlayerStats(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "player is required")
}

func TestHandleGetPlayerStats_InvalidPlayer(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_player", "message": "Invalid player id"})
	}), "")
	defer cleanup()

	result, err := h.HandleGetPlayerStats(context.Background(), makeRequest(map[string]any{"player": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Invalid player id")
}

func TestHandleTopPlayers(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"players": []map[string]any{
				{"player": "alice", "wins": 5, "losses": 1, "winRate": 83.33},
				{"player": "bob", "wins": 2, "losses": 2, "winRate": 50.0},
			},
			"count": 2,
		})
	}), "")
	defer cleanup()

	result, err := h.HandleTopPlayers(context.Background(), makeRequest(map[string]any{"limit": float64(3)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1. alice: 5-1 (83.3%)")
	assert.Contains(t, text, "2. bob: 2-2 (50.0%)")
}

func TestHandleTopPlayers_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"players": []any{}, "count": 0})
	}), "")
	defer cleanup()

	result, err := h.HandleTopPlayers(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No duels have been fought yet.", resultText(t, result))
}

func TestHandleListActiveDuels(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "admin", r.Header.Get("X-Admin-Secret"))
		writeJSON(w, http.StatusOK, map[string]any{
			"duels": []map[string]any{
				{"id": "d1", "challenger": "alice", "target": "bob", "state": "fighting", "arena": "classic1", "bettingEnabled": true},
				{"id": "d2", "challenger": "carol", "target": "dave", "state": "pending"},
			},
			"count":   2,
			"closing": 1,
		})
	}), "admin")
	defer cleanup()

	result, err := h.HandleListActiveDuels(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2 active duel(s)")
	assert.Contains(t, text, "- alice vs bob: fighting in classic1 (betting) [d1]")
	assert.Contains(t, text, "- carol vs dave: pending [d2]")
	assert.Contains(t, text, "1 arena(s) closing")
}

func TestHandleListActiveDuels_NoAdmin(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler(), "")
	defer cleanup()

	result, err := h.HandleListActiveDuels(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleServiceStatus(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"activeDuels": 2, "tick": 1200})
	}), "admin")
	defer cleanup()

	result, err := h.HandleServiceStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Service status:")
	assert.Contains(t, text, `"activeDuels": 2`)
}

func TestFormatters_RejectGarbage(t *testing.T) {
	_, err := formatArenas(json.RawMessage(`[`), "")
	assert.Error(t, err)
	_, err = formatStats(json.RawMessage(`{}`))
	assert.Error(t, err)
	_, err = formatDuels(json.RawMessage(`"nope"`))
	assert.Error(t, err)
	assert.Equal(t, "not json", formatJSON(json.RawMessage("not json")))
}

func TestNewMCPServer(t *testing.T) {
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080"}))
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080", AdminSecret: "x"}))
}
