package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNew_LevelGates(t *testing.T) {
	logger := New("error", "text")
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))

	logger = New("debug", "json")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, DuelID(ctx))
	assert.Empty(t, PlayerID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithDuelID(ctx, "duel-9")
	ctx = WithPlayerID(ctx, "alex")
	assert.Equal(t, "req-123", RequestID(ctx))
	assert.Equal(t, "duel-9", DuelID(ctx))
	assert.Equal(t, "alex", PlayerID(ctx))
}

func TestFromContext_Default(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestL_AnnotatesIDs(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, "info", "json")

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithDuelID(ctx, "duel-1")

	L(ctx).Info("fight started")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "fight started", rec["msg"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "duel-1", rec["duel_id"])
	assert.NotContains(t, rec, "player_id")
}
