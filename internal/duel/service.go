package duel

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/duelyard/internal/arena"
	"github.com/mbd888/duelyard/internal/escrow"
	"github.com/mbd888/duelyard/internal/logging"
	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/session"
	"github.com/mbd888/duelyard/internal/stats"
	"github.com/mbd888/duelyard/internal/syncutil"
	"github.com/mbd888/duelyard/internal/tick"
	"github.com/mbd888/duelyard/internal/world"
)

// Config sets the duel timings.
type Config struct {
	Countdown         time.Duration
	PvPGrace          time.Duration
	TeleportBackDelay time.Duration
	// ArenaReleaseTicks is the gap between teleport-back and arena release.
	ArenaReleaseTicks uint64
	// RejoinTeleportTicks delays a queued teleport after the player joins.
	RejoinTeleportTicks uint64
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		Countdown:           30 * time.Second,
		PvPGrace:            5 * time.Second,
		TeleportBackDelay:   10 * time.Second,
		ArenaReleaseTicks:   5,
		RejoinTeleportTicks: 20,
	}
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Loop     *tick.Loop
	Pool     *arena.Pool
	Escrow   *escrow.Service
	Prizes   escrow.Crediter
	Stats    *stats.Service
	Players  session.Players
	Returns  *session.ReturnQueue
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Service validates player intents and game events against each duel's
// state and drives the timers between states.
type Service struct {
	cfg      Config
	loop     *tick.Loop
	locks    *syncutil.KeyedMutex
	pool     *arena.Pool
	escrow   *escrow.Service
	prizes   escrow.Crediter
	stats    *stats.Service
	players  session.Players
	returns  *session.ReturnQueue
	notifier notify.Notifier
	logger   *slog.Logger

	registry *Registry
	views    *ViewTracker
	now      func() time.Time

	// closing holds finished duels whose teleport-back or arena release is
	// still scheduled.
	closingMu sync.Mutex
	closing   map[string]*Duel

	draining atomic.Bool
	flushes  sync.WaitGroup
}

// NewService wires a duel service and registers it as the escrow's hooks.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Returns == nil {
		deps.Returns = session.NewReturnQueue(deps.Players, deps.Logger)
	}
	if cfg.ArenaReleaseTicks == 0 {
		cfg.ArenaReleaseTicks = 1
	}
	s := &Service{
		cfg:      cfg,
		loop:     deps.Loop,
		locks:    deps.Loop.Locks(),
		pool:     deps.Pool,
		escrow:   deps.Escrow,
		prizes:   deps.Prizes,
		stats:    deps.Stats,
		players:  deps.Players,
		returns:  deps.Returns,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		registry: NewRegistry(),
		views:    NewViewTracker(deps.Notifier),
		now:      time.Now,
		closing:  make(map[string]*Duel),
	}
	if s.escrow != nil {
		s.escrow.WithHooks(s).WithViews(s.views)
	}
	return s
}

// Registry exposes the live duel index.
func (s *Service) Registry() *Registry { return s.registry }

// Views exposes the view tracker.
func (s *Service) Views() *ViewTracker { return s.views }

// lockPlayer finds p's duel and takes its key lock. The duel is looked up
// again under the lock since it may have ended while we waited.
func (s *Service) lockPlayer(ctx context.Context, p world.PlayerID) (*Duel, func(), error) {
	d, ok := s.registry.ByPlayer(p)
	if !ok {
		return nil, nil, ErrNotInDuel
	}
	unlock, err := s.locks.LockContext(ctx, d.ID)
	if err != nil {
		return nil, nil, err
	}
	if cur, ok := s.registry.ByPlayer(p); !ok || cur != d {
		unlock()
		return nil, nil, ErrNotInDuel
	}
	return d, unlock, nil
}

// withDuel runs fn on p's duel under its lock.
func (s *Service) withDuel(ctx context.Context, p world.PlayerID, fn func(ctx context.Context, d *Duel) error) error {
	d, unlock, err := s.lockPlayer(ctx, p)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(logging.WithDuelID(ctx, d.ID), d)
}

// Current returns p's duel.
func (s *Service) Current(ctx context.Context, p world.PlayerID) (Info, error) {
	var inf Info
	err := s.withDuel(ctx, p, func(_ context.Context, d *Duel) error {
		inf = s.describe(d)
		return nil
	})
	return inf, err
}

// ListActive returns every registered duel, oldest first.
func (s *Service) ListActive(ctx context.Context) ([]Info, error) {
	duels := s.registry.Active()
	out := make([]Info, 0, len(duels))
	for _, d := range duels {
		unlock, err := s.locks.LockContext(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if cur, ok := s.registry.ByID(d.ID); ok && cur == d {
			out = append(out, s.describe(d))
		}
		unlock()
	}
	return out, nil
}

func (s *Service) describe(d *Duel) Info {
	inf := d.info()
	if d.BettingEnabled && s.escrow != nil {
		if book, ok := s.escrow.Snapshot(d.ID); ok {
			inf.Bet = &book
		}
	}
	return inf
}

func (s *Service) emitState(ctx context.Context, d *Duel) {
	s.notifier.Notify(ctx, notify.New(notify.DuelStateChanged, d.ID, map[string]any{
		"state":          string(d.State),
		"keepInventory":  d.KeepInventory,
		"bettingEnabled": d.BettingEnabled,
		"arenaGroup":     d.info().ArenaLabel(),
		"reason":         d.Reason,
	}, d.Parties()...))
}

// seconds converts a duration to whole seconds, rounding up, at least one.
func seconds(d time.Duration) int {
	n := int((d + time.Second - 1) / time.Second)
	return max(n, 1)
}

func (s *Service) perSecond() uint64 {
	return uint64(s.loop.Rate())
}

func (s *Service) trackClosing(d *Duel) {
	s.closingMu.Lock()
	s.closing[d.ID] = d
	s.closingMu.Unlock()
}

func (s *Service) untrackClosing(d *Duel) {
	s.closingMu.Lock()
	delete(s.closing, d.ID)
	s.closingMu.Unlock()
}

func (s *Service) closingDuels() []*Duel {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	out := make([]*Duel, 0, len(s.closing))
	for _, d := range s.closing {
		out = append(out, d)
	}
	return out
}

// isClosing reports whether any of players is still waiting to leave the
// arena of a finished duel.
func (s *Service) isClosing(players ...world.PlayerID) bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	for _, d := range s.closing {
		for _, p := range players {
			if slices.Contains(d.Parties(), p) {
				return true
			}
		}
	}
	return false
}

// Closing returns the number of finished duels still returning players or
// releasing their arena.
func (s *Service) Closing() int {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return len(s.closing)
}
