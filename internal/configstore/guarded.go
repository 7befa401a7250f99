package configstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mbd888/duelyard/internal/circuitbreaker"
	"github.com/mbd888/duelyard/internal/retry"
	"github.com/mbd888/duelyard/internal/world"
)

// ErrUnavailable is returned by a guarded store while its circuit is open,
// marked permanent so retry loops give up at once.
var ErrUnavailable = errors.New("configstore: backend unavailable")

// Circuit keys, one per record kind.
const (
	KindArenas = "arenas"
	KindStats  = "stats"
)

// Guarded wraps a Store so that saves fail fast once the backend has failed
// repeatedly. Loads are not guarded; they only run at startup.
type Guarded struct {
	inner   Store
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps inner with breaker and logs circuit changes.
func NewGuarded(inner Store, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Guarded {
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		logger.Warn("config store circuit changed", "kind", key, "from", from.String(), "to", to.String())
	})
	return &Guarded{inner: inner, breaker: breaker}
}

func (g *Guarded) LoadArenaDefinitions(ctx context.Context) (map[string][]ArenaDef, error) {
	return g.inner.LoadArenaDefinitions(ctx)
}

func (g *Guarded) SaveArenaDefinitions(ctx context.Context, groups map[string][]ArenaDef) error {
	return g.call(KindArenas, func() error { return g.inner.SaveArenaDefinitions(ctx, groups) })
}

func (g *Guarded) LoadStats(ctx context.Context) (map[world.PlayerID]StatsRecord, error) {
	return g.inner.LoadStats(ctx)
}

func (g *Guarded) SaveStats(ctx context.Context, stats map[world.PlayerID]StatsRecord) error {
	return g.call(KindStats, func() error { return g.inner.SaveStats(ctx, stats) })
}

// Ping forwards to the wrapped store when it supports health checks.
func (g *Guarded) Ping(ctx context.Context) error {
	if p, ok := g.inner.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Circuits returns the circuit state per record kind.
func (g *Guarded) Circuits() map[string]string {
	return g.breaker.States()
}

func (g *Guarded) call(kind string, fn func() error) error {
	if !g.breaker.Allow(kind) {
		return retry.Permanent(ErrUnavailable)
	}
	if err := fn(); err != nil {
		g.breaker.RecordFailure(kind)
		return err
	}
	g.breaker.RecordSuccess(kind)
	return nil
}
