package prize

import (
	"bytes"
	"context"
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

type openedViews struct {
	player world.PlayerID
	page   int
}

func (o *openedViews) OpenPrizes(player world.PlayerID, page int) {
	o.player = player
	o.page = page
}

func setupTestRouter(t *testing.T) (*gin.Engine, *Ledger, *openedViews) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l, _, _ := newTestLedger(nil)
	views := &openedViews{}

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(auth.Middleware(), auth.RequirePlayer())
	NewHandler(l, views).RegisterProtectedRoutes(v1)
	return r, l, views
}

func do(r *gin.Engine, method, path, player string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if player != "" {
		req.Header.Set(auth.HeaderPlayerID, player)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_ListPrizesOpensView(t *testing.T) {
	r, l, views := setupTestRouter(t)
	_, err := l.Credit(context.Background(), "alice", []world.Item{diamonds(3)}, SourceBetWinnings, "")
	require.NoError(t, err)

	w := do(r, "GET", "/v1/prizes?page=0", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Prizes []Batch `json:"prizes"`
		Total  int     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Prizes, 1)
	assert.Equal(t, SourceBetWinnings, resp.Prizes[0].Source)
	assert.Equal(t, world.PlayerID("alice"), views.player)
}

func TestHandler_RequiresPlayer(t *testing.T) {
	r, _, _ := setupTestRouter(t)
	w := do(r, "GET", "/v1/prizes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_Withdraw(t *testing.T) {
	r, l, _ := setupTestRouter(t)
	b, err := l.Credit(context.Background(), "alice", []world.Item{diamonds(3)}, SourceBetWinnings, "")
	require.NoError(t, err)

	w := do(r, "POST", "/v1/prizes/"+b.ID+"/withdraw", "alice", WithdrawRequest{Item: diamonds(2)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, "POST", "/v1/prizes/"+b.ID+"/withdraw", "alice", WithdrawRequest{Item: diamonds(2)})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, "POST", "/v1/prizes/prz_missing/withdraw", "alice", WithdrawRequest{Item: diamonds(1)})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, "POST", "/v1/prizes/"+b.ID+"/withdraw", "alice", WithdrawRequest{Item: world.Item{Kind: "minecraft:diamond"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
