package duel

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/duelyard/internal/escrow"
	"github.com/mbd888/duelyard/internal/logging"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/prize"
	"github.com/mbd888/duelyard/internal/session"
	"github.com/mbd888/duelyard/internal/traces"
	"github.com/mbd888/duelyard/internal/world"
)

// settle records the result of a fight, pays out drops and stakes, and
// schedules the players' return and the arena's release. The return is
// scheduled before any payout so a fault while paying out still frees the
// arena.
func (s *Service) settle(ctx context.Context, d *Duel, winner, loser world.PlayerID, reason string, drops []world.Item) {
	ctx, span := traces.StartSpan(ctx, "duel.settle",
		traces.DuelID(d.ID),
		traces.PlayerID(string(winner)),
		traces.Outcome(reason),
	)
	defer span.End()

	d.timers.CancelAll()
	d.State = StateFinished
	d.Winner = winner
	d.Loser = loser
	d.Reason = reason
	d.EndedAt = s.now()

	s.trackClosing(d)
	remaining := s.scheduleTeleportBack(d)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("settle panic: %v", r)
			traces.RecordError(span, err)
			s.logger.Error("CRITICAL: duel settlement panicked", "duel_id", d.ID, "winner", winner, "error", err)
			s.registry.Remove(d)
			if !d.timers.Active(timerClosing) && !d.timers.Active(timerRelease) {
				s.returnNow(ctx, d)
			}
		}
	}()

	s.recordStats(ctx, winner, loser)
	if !d.KeepInventory {
		s.awardDrops(ctx, d, drops)
	}
	if d.BettingEnabled && s.escrow != nil {
		if err := s.escrow.SettleWin(ctx, d.ID, winner); err != nil && !errors.Is(err, escrow.ErrNoBook) {
			traces.RecordError(span, err)
			s.logger.Error("bet settlement failed", "duel_id", d.ID, "winner", winner, "error", err)
		}
	}

	metrics.DuelsTotal.WithLabelValues(reason).Inc()
	s.logger.Info("duel finished", "duel_id", d.ID, "winner", winner, "loser", loser, "reason", reason,
		"duration", d.EndedAt.Sub(d.StartedAt).String())
	s.notifier.Notify(ctx, notify.New(notify.FightEnded, d.ID, map[string]any{
		"winner": winner,
		"loser":  loser,
		"reason": reason,
	}, d.Parties()...))
	s.emitState(ctx, d)
	s.notifyClosing(ctx, d, remaining)

	s.registry.Remove(d)
}

// returnNow sends both players back and frees the arena without waiting. A
// fault here is logged; the duel is already out of the registry.
func (s *Service) returnNow(ctx context.Context, d *Duel) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL: arena cleanup panicked", "duel_id", d.ID, "error", r)
			s.untrackClosing(d)
		}
	}()
	d.timers.CancelAll()
	s.teleportBack(d)
	s.releaseArena(ctx, d)
}

func (s *Service) recordStats(ctx context.Context, winner, loser world.PlayerID) {
	if s.stats == nil {
		return
	}
	s.stats.RecordResult(ctx, winner, loser)
	s.flushes.Add(1)
	go func() {
		defer s.flushes.Done()
		if err := s.stats.Flush(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("stats flush failed", "error", err)
		}
	}()
}

// awardDrops credits the loser's items to the winner. With no supplied drops
// the loser's inventory is taken.
func (s *Service) awardDrops(ctx context.Context, d *Duel, drops []world.Item) {
	items := drops
	if items == nil {
		items = s.players.Inventory(d.Loser)
		if len(items) > 0 {
			if err := s.players.ClearInventory(d.Loser); err != nil {
				s.logger.Error("clear loser inventory failed, drops not awarded", "duel_id", d.ID,
					"player", d.Loser, "error", err)
				return
			}
		}
	}
	if len(items) == 0 || s.prizes == nil {
		return
	}
	if _, err := s.prizes.Credit(ctx, d.Winner, world.Clone(items), prize.SourceDuelDrops, d.ID); err != nil {
		s.logger.Error("CRITICAL: duel drops not credited", "duel_id", d.ID, "winner", d.Winner,
			"items", items, "error", err)
	}
}

// scheduleTeleportBack counts the arena closing down once a second and then
// returns both players. The arena is released a few ticks after they leave.
// It returns the seconds left for the caller's first announcement.
func (s *Service) scheduleTeleportBack(d *Duel) int {
	remaining := seconds(s.cfg.TeleportBackDelay)
	left := remaining
	rate := s.perSecond()
	d.timers.Set(timerClosing, s.loop.Every(d.ID, rate, rate, func() {
		ctx := logging.WithDuelID(context.Background(), d.ID)
		left--
		if left > 0 {
			s.notifyClosing(ctx, d, left)
			return
		}
		d.timers.Cancel(timerClosing)
		d.timers.Set(timerRelease, s.loop.After(d.ID, s.cfg.ArenaReleaseTicks, func() {
			s.releaseArena(ctx, d)
		}))
		s.teleportBack(d)
	}))
	return remaining
}

func (s *Service) notifyClosing(ctx context.Context, d *Duel, remaining int) {
	s.notifier.Notify(ctx, notify.New(notify.ArenaClosing, d.ID, map[string]any{
		"seconds": remaining,
	}, d.Parties()...))
}

// teleportBack returns both players to where they stood before the fight.
// Offline players are queued for their next join.
func (s *Service) teleportBack(d *Duel) {
	for _, p := range d.Parties() {
		loc, ok := d.previous[p]
		if !ok {
			continue
		}
		delete(d.previous, p)
		if s.players.IsOnline(p) {
			if err := s.players.SetMode(p, session.ModeSurvival); err != nil {
				s.logger.Warn("set mode failed", "duel_id", d.ID, "player", p, "error", err)
			}
		}
		if !s.returns.Send(p, loc) {
			s.logger.Info("teleport back queued", "duel_id", d.ID, "player", p)
		}
	}
}

func (s *Service) releaseArena(ctx context.Context, d *Duel) {
	defer s.untrackClosing(d)
	if d.Lease == nil || d.Lease.Released() {
		return
	}
	if err := s.pool.Release(ctx, d.Lease); err != nil {
		s.logger.Error("arena release failed", "duel_id", d.ID, "arena", d.Lease.Arena.Name, "error", err)
	}
	s.notifier.Notify(ctx, notify.New(notify.ArenaReleased, d.ID, map[string]any{
		"arena": d.Lease.Arena.Name,
	}, d.Parties()...))
}

// endNoWinner stops a running fight without a result. Stakes are refunded,
// players are sent back and the arena is released immediately.
func (s *Service) endNoWinner(ctx context.Context, d *Duel, reason string) {
	d.timers.CancelAll()
	d.State = StateFinished
	d.Reason = reason
	d.EndedAt = s.now()

	if d.BettingEnabled && s.escrow != nil {
		if err := s.escrow.Refund(ctx, d.ID); err != nil && !errors.Is(err, escrow.ErrNoBook) {
			s.logger.Error("escrow refund failed", "duel_id", d.ID, "error", err)
		}
	}
	metrics.DuelsTotal.WithLabelValues(reason).Inc()
	s.notifier.Notify(ctx, notify.New(notify.FightEnded, d.ID, map[string]any{
		"reason": reason,
	}, d.Parties()...))
	s.emitState(ctx, d)

	s.teleportBack(d)
	s.releaseArena(ctx, d)
	s.registry.Remove(d)
}

// Drain ends every duel for shutdown. New challenges are refused from the
// first call. Duels not yet fighting are cancelled, running fights end
// without a winner and finished duels still closing are completed at once.
func (s *Service) Drain(ctx context.Context) error {
	s.draining.Store(true)

	for _, d := range s.registry.Active() {
		unlock, err := s.locks.LockContext(ctx, d.ID)
		if err != nil {
			return err
		}
		if cur, ok := s.registry.ByID(d.ID); ok && cur == d {
			dctx := logging.WithDuelID(ctx, d.ID)
			if d.State == StateFighting {
				s.endNoWinner(dctx, d, ReasonShutdown)
			} else {
				s.cancel(dctx, d, ReasonShutdown)
			}
		}
		unlock()
	}

	for _, d := range s.closingDuels() {
		unlock, err := s.locks.LockContext(ctx, d.ID)
		if err != nil {
			return err
		}
		d.timers.CancelAll()
		s.teleportBack(d)
		s.releaseArena(logging.WithDuelID(ctx, d.ID), d)
		unlock()
	}

	done := make(chan struct{})
	go func() {
		s.flushes.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.stats != nil {
		if err := s.stats.Flush(ctx); err != nil {
			return fmt.Errorf("flush stats: %w", err)
		}
	}
	s.logger.Info("duels drained")
	return nil
}

// Draining reports whether Drain has started.
func (s *Service) Draining() bool {
	return s.draining.Load()
}
