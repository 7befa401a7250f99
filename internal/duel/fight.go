package duel

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/duelyard/internal/arena"
	"github.com/mbd888/duelyard/internal/logging"
	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/session"
	"github.com/mbd888/duelyard/internal/world"
)

// maxLeaseAttempts bounds how many arenas fight start tries before giving up.
const maxLeaseAttempts = 3

// startCountdown enters the countdown and ticks it down once a second. The
// fight starts when it reaches zero.
func (s *Service) startCountdown(ctx context.Context, d *Duel) {
	d.State = StateCountdown
	clear(d.skipVotes)
	s.emitState(ctx, d)

	remaining := seconds(s.cfg.Countdown)
	s.notifyCountdown(ctx, d, remaining)
	rate := s.perSecond()
	d.timers.Set(timerCountdown, s.loop.Every(d.ID, rate, rate, func() {
		ctx := logging.WithDuelID(context.Background(), d.ID)
		remaining--
		if remaining <= 0 {
			s.startFight(ctx, d)
			return
		}
		s.notifyCountdown(ctx, d, remaining)
	}))
}

func (s *Service) notifyCountdown(ctx context.Context, d *Duel, remaining int) {
	s.notifier.Notify(ctx, notify.New(notify.CountdownTick, d.ID, map[string]any{
		"seconds": remaining,
	}, d.Parties()...))
}

// SkipVote records the player's vote to skip the countdown. Once both have
// voted the fight starts at once.
func (s *Service) SkipVote(ctx context.Context, player world.PlayerID) (Info, error) {
	var inf Info
	err := s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if d.State != StateCountdown {
			return ErrInvalidState
		}
		d.skipVotes[player] = true
		s.notifier.Notify(ctx, notify.New(notify.SkipVoteCast, d.ID, map[string]any{
			"player": player,
			"votes":  len(d.skipVotes),
			"needed": 2,
		}, d.Parties()...))
		if len(d.skipVotes) == 2 {
			s.startFight(ctx, d)
		}
		inf = s.describe(d)
		return nil
	})
	return inf, err
}

// startFight leases an arena, moves both players onto its spawns and starts
// the PvP grace period. Without an arena the duel is cancelled, and so is a
// duel whose start faults after the lease was taken.
func (s *Service) startFight(ctx context.Context, d *Duel) {
	d.timers.Cancel(timerCountdown)
	if d.State != StateCountdown {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL: fight start panicked", "duel_id", d.ID, "error", r)
			s.cancel(ctx, d, ReasonStartFailed)
		}
	}()

	lease, err := s.leaseArena(ctx, d)
	if err != nil {
		s.logger.Warn("no arena for duel", "duel_id", d.ID, "group", d.ArenaGroup, "error", err)
		s.cancel(ctx, d, ReasonNoArena)
		return
	}
	d.Lease = lease

	spawns := []*world.Location{lease.Arena.Spawn1, lease.Arena.Spawn2}
	for i, p := range d.Parties() {
		if loc, ok := s.players.Location(p); ok {
			d.previous[p] = loc
		}
		if err := s.players.Teleport(p, *spawns[i]); err != nil {
			s.logger.Warn("teleport to spawn failed", "duel_id", d.ID, "player", p, "error", err)
		}
		if err := s.players.SetVitals(p, session.FullVitals); err != nil {
			s.logger.Warn("set vitals failed", "duel_id", d.ID, "player", p, "error", err)
		}
		if err := s.players.SetMode(p, session.ModeAdventure); err != nil {
			s.logger.Warn("set mode failed", "duel_id", d.ID, "player", p, "error", err)
		}
	}

	d.State = StateFighting
	d.StartedAt = s.now()
	clear(d.skipVotes)
	s.logger.Info("fight started", "duel_id", d.ID, "arena", lease.Arena.Name)
	s.notifier.Notify(ctx, notify.New(notify.FightStarted, d.ID, map[string]any{
		"arena": lease.Arena.Name,
		"group": lease.Arena.Group,
	}, d.Parties()...))
	s.emitState(ctx, d)
	s.startGrace(ctx, d)
}

// leaseArena takes the first free arena in the preferred group, falling back
// to any group. An arena taken by someone else between Acquire and Lease is
// skipped.
func (s *Service) leaseArena(ctx context.Context, d *Duel) (*arena.Lease, error) {
	var last error
	for range maxLeaseAttempts {
		a := s.pool.Acquire(d.ArenaGroup)
		if a == nil && d.ArenaGroup != "" {
			a = s.pool.Acquire("")
		}
		if a == nil {
			break
		}
		lease, err := s.pool.Lease(ctx, a, d.ID)
		if err == nil {
			return lease, nil
		}
		last = err
		if !errors.Is(err, arena.ErrArenaLeased) && !errors.Is(err, arena.ErrArenaNotReady) {
			break
		}
	}
	if last != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoArena, last)
	}
	return nil, ErrNoArena
}

// startGrace counts down the no-damage period at the start of a fight.
func (s *Service) startGrace(ctx context.Context, d *Duel) {
	remaining := seconds(s.cfg.PvPGrace)
	s.notifyGrace(ctx, d, remaining)
	rate := s.perSecond()
	d.timers.Set(timerGrace, s.loop.Every(d.ID, rate, rate, func() {
		ctx := logging.WithDuelID(context.Background(), d.ID)
		remaining--
		if remaining > 0 {
			s.notifyGrace(ctx, d, remaining)
			return
		}
		d.timers.Cancel(timerGrace)
		for _, p := range d.Parties() {
			if err := s.players.SetMode(p, session.ModeSurvival); err != nil {
				s.logger.Warn("set mode failed", "duel_id", d.ID, "player", p, "error", err)
			}
		}
		s.notifier.Notify(ctx, notify.New(notify.PvPEnabled, d.ID, nil, d.Parties()...))
	}))
}

func (s *Service) notifyGrace(ctx context.Context, d *Duel, remaining int) {
	s.notifier.Notify(ctx, notify.New(notify.GraceTick, d.ID, map[string]any{
		"seconds": remaining,
	}, d.Parties()...))
}

// Forfeit concedes a running fight.
func (s *Service) Forfeit(ctx context.Context, player world.PlayerID) error {
	return s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if d.State != StateFighting {
			return ErrInvalidState
		}
		s.settle(ctx, d, d.Opponent(player), player, ReasonForfeit, nil)
		return nil
	})
}

// PlayerDied ends the fight with player as the loser. drops are the items the
// player dropped; nil means take whatever is left in their inventory.
func (s *Service) PlayerDied(ctx context.Context, player world.PlayerID, drops []world.Item) error {
	return s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if d.State != StateFighting {
			return ErrInvalidState
		}
		s.settle(ctx, d, d.Opponent(player), player, ReasonDeath, drops)
		return nil
	})
}

// PlayerQuit handles a disconnect. During a fight the opponent wins at once;
// before it the duel is cancelled. Quitting outside a duel is a no-op.
func (s *Service) PlayerQuit(ctx context.Context, player world.PlayerID) error {
	s.views.Close(player)
	err := s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if d.State == StateFighting {
			s.settle(ctx, d, d.Opponent(player), player, ReasonDisconnect, nil)
			return nil
		}
		s.cancel(ctx, d, ReasonDisconnect)
		return nil
	})
	if errors.Is(err, ErrNotInDuel) {
		return nil
	}
	return err
}

// PlayerJoined schedules any teleport-back owed to player. It reports whether
// one was scheduled.
func (s *Service) PlayerJoined(ctx context.Context, player world.PlayerID) bool {
	loc, ok := s.returns.Pending(player)
	if !ok {
		return false
	}
	logging.L(ctx).Info("delivering queued teleport", "player", player, "location", loc.String())
	s.loop.After("", s.cfg.RejoinTeleportTicks, func() {
		s.returns.Deliver(player)
	})
	return true
}

// BlockEdit reports whether player may change the block at loc. Edits are
// frozen during the countdown and confined to the arena during a fight.
func (s *Service) BlockEdit(ctx context.Context, player world.PlayerID, loc world.Location) (bool, error) {
	allowed := true
	err := s.withDuel(ctx, player, func(_ context.Context, d *Duel) error {
		switch d.State {
		case StateCountdown:
			allowed = false
		case StateFighting:
			allowed = d.Lease != nil && d.Lease.Arena.Bounds.Contains(loc)
		}
		return nil
	})
	if errors.Is(err, ErrNotInDuel) {
		return true, nil
	}
	return allowed, err
}
