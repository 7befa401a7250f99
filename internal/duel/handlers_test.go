package duel

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/auth"
	"github.com/mbd888/duelyard/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminSecret = "letmein"

func newRouter(f *fixture) *gin.Engine {
	h := NewHandler(f.svc)
	r := gin.New()
	r.Use(auth.Middleware())
	v1 := r.Group("/v1")
	protected := v1.Group("")
	protected.Use(auth.RequirePlayer())
	h.RegisterProtectedRoutes(protected)
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(testAdminSecret))
	h.RegisterAdminRoutes(admin)
	return r
}

func call(t *testing.T, r *gin.Engine, method, path string, player world.PlayerID, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if player != "" {
		req.Header.Set(auth.HeaderPlayerID, string(player))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHandler_ChallengeFlow(t *testing.T) {
	f := newFixture(t, "classic")
	r := newRouter(f)

	w, body := call(t, r, http.MethodPost, "/v1/duels", alice, ChallengeRequest{Target: bob})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	duel := body["duel"].(map[string]any)
	assert.Equal(t, "creating", duel["state"])

	w, body = call(t, r, http.MethodPost, "/v1/duels/current/options", alice, OptionRequest{Option: OptionKeepInventory})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["duel"].(map[string]any)["keepInventory"])

	w, _ = call(t, r, http.MethodPost, "/v1/duels/current/setup/confirm", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = call(t, r, http.MethodPost, "/v1/duels/current/accept", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "countdown", body["duel"].(map[string]any)["state"])

	call(t, r, http.MethodPost, "/v1/duels/current/skip", alice, nil)
	w, body = call(t, r, http.MethodPost, "/v1/duels/current/skip", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fighting", body["duel"].(map[string]any)["state"])

	w, body = call(t, r, http.MethodPost, "/v1/duels/current/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", body["error"])

	w, _ = call(t, r, http.MethodPost, "/v1/duels/current/forfeit", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = call(t, r, http.MethodGet, "/v1/duels/current", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_in_duel", body["error"])
}

func TestHandler_ChallengeErrors(t *testing.T) {
	f := newFixture(t, "classic")
	r := newRouter(f)

	w, _ := call(t, r, http.MethodPost, "/v1/duels", "", ChallengeRequest{Target: bob})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := call(t, r, http.MethodPost, "/v1/duels", alice, ChallengeRequest{Target: "not a player"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["error"])

	w, body = call(t, r, http.MethodPost, "/v1/duels", alice, ChallengeRequest{Target: alice})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", body["error"])

	w, body = call(t, r, http.MethodPost, "/v1/duels", alice, ChallengeRequest{Target: carol})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "player_offline", body["error"])

	call(t, r, http.MethodPost, "/v1/duels", alice, ChallengeRequest{Target: bob})
	w, body = call(t, r, http.MethodPost, "/v1/duels", bob, ChallengeRequest{Target: alice})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_in_duel", body["error"])

	w, _ = call(t, r, http.MethodPost, "/v1/duels/current/accept", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_BetRejectsBadItems(t *testing.T) {
	f := newFixture(t, "classic")
	r := newRouter(f)
	f.betting()

	w, body := call(t, r, http.MethodPut, "/v1/duels/current/bet", alice, BetRequest{
		Items: []world.Item{{Kind: "Diamond Sword", Amount: 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["error"])

	w, body = call(t, r, http.MethodPut, "/v1/duels/current/bet", alice, BetRequest{Items: []world.Item{gold(4)}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bet := body["duel"].(map[string]any)["bet"].(map[string]any)
	assert.NotNil(t, bet)

	w, _ = call(t, r, http.MethodPost, "/v1/duels/current/bet/confirm", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = call(t, r, http.MethodPost, "/v1/views/close", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = call(t, r, http.MethodGet, "/v1/duels/current/bet", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.svc.Views().BettingViewOpen(bob))
}

func TestHandler_BridgeEvents(t *testing.T) {
	f := newFixture(t, "classic")
	r := newRouter(f)

	w, body := call(t, r, http.MethodPost, "/v1/events/death", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["handled"])

	w, body = call(t, r, http.MethodPost, "/v1/events/block-edit", alice, BlockEditRequest{
		Location: world.Location{World: "duels", X: 900},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["allowed"])

	f.fighting()
	w, body = call(t, r, http.MethodPost, "/v1/events/block-edit", alice, BlockEditRequest{
		Location: world.Location{World: "duels", X: 900},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["allowed"])

	w, body = call(t, r, http.MethodPost, "/v1/events/death", bob, DeathRequest{Drops: []world.Item{}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["handled"])
	assert.Equal(t, 1, f.stats.Get(alice).Wins)

	w, body = call(t, r, http.MethodPost, "/v1/events/join", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["teleportQueued"])

	w, _ = call(t, r, http.MethodPost, "/v1/events/quit", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_AdminListDuels(t *testing.T) {
	f := newFixture(t, "classic")
	r := newRouter(f)
	f.pending()

	w, _ := call(t, r, http.MethodGet, "/v1/admin/duels", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/duels", nil)
	req.Header.Set(auth.HeaderAdminSecret, testAdminSecret)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Duels []Info `json:"duels"`
		Count int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, StatePending, out.Duels[0].State)
}
