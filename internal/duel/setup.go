package duel

import (
	"context"
	"errors"
	"slices"

	"github.com/mbd888/duelyard/internal/escrow"
	"github.com/mbd888/duelyard/internal/idgen"
	"github.com/mbd888/duelyard/internal/logging"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/world"
)

// Challenge registers a new duel from challenger to target and opens the
// challenger's setup view.
func (s *Service) Challenge(ctx context.Context, challenger, target world.PlayerID) (Info, error) {
	if s.draining.Load() {
		return Info{}, ErrShuttingDown
	}
	if challenger == target {
		return Info{}, ErrSelfChallenge
	}
	if !s.players.IsOnline(target) {
		return Info{}, ErrPlayerOffline
	}

	d := newDuel(idgen.New(), challenger, target, s.now())
	unlock, err := s.locks.LockContext(ctx, d.ID)
	if err != nil {
		return Info{}, err
	}
	defer unlock()
	if err := s.registry.Register(d); err != nil {
		return Info{}, err
	}
	// Settlement marks a duel closing before it leaves the registry, so this
	// check after Register cannot miss one.
	if s.isClosing(challenger, target) {
		s.registry.Remove(d)
		return Info{}, ErrAlreadyInDuel
	}

	ctx = logging.WithDuelID(ctx, d.ID)
	s.logger.Info("duel created", "duel_id", d.ID, "challenger", challenger, "target", target)
	s.views.Open(ctx, challenger, SetupView{DuelID: d.ID})
	s.emitState(ctx, d)
	return s.describe(d), nil
}

// ToggleOption flips a setup option. Only the challenger may, and only
// before the challenge is sent.
func (s *Service) ToggleOption(ctx context.Context, player world.PlayerID, opt Option) (Info, error) {
	var inf Info
	err := s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if err := s.requireSetup(d, player); err != nil {
			return err
		}
		switch opt {
		case OptionKeepInventory:
			d.KeepInventory = !d.KeepInventory
		case OptionBetting:
			if s.escrow == nil {
				return ErrBettingDisabled
			}
			d.BettingEnabled = !d.BettingEnabled
		default:
			return ErrUnknownOption
		}
		s.emitState(ctx, d)
		inf = s.describe(d)
		return nil
	})
	return inf, err
}

// CycleArena moves the preferred arena group to the next choice: AUTO, then
// each defined group in name order, then back to AUTO.
func (s *Service) CycleArena(ctx context.Context, player world.PlayerID) (Info, error) {
	var inf Info
	err := s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if err := s.requireSetup(d, player); err != nil {
			return err
		}
		choices := append([]string{""}, s.pool.Groups()...)
		next := slices.Index(choices, d.ArenaGroup) + 1
		d.ArenaGroup = choices[next%len(choices)]
		s.emitState(ctx, d)
		inf = s.describe(d)
		return nil
	})
	return inf, err
}

func (s *Service) requireSetup(d *Duel, player world.PlayerID) error {
	if player != d.Challenger {
		return ErrNotChallenger
	}
	if d.State != StateCreating {
		return ErrInvalidState
	}
	return nil
}

// ConfirmSetup sends the challenge to the target.
func (s *Service) ConfirmSetup(ctx context.Context, player world.PlayerID) (Info, error) {
	var inf Info
	err := s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if err := s.requireSetup(d, player); err != nil {
			return err
		}
		d.State = StatePending
		s.views.Dismiss(ctx, d.Challenger, KindSetup)
		inf = s.describe(d)
		s.notifier.Notify(ctx, notify.New(notify.ChallengeReceived, d.ID, map[string]any{
			"challenger":     d.Challenger,
			"keepInventory":  d.KeepInventory,
			"bettingEnabled": d.BettingEnabled,
			"arenaGroup":     inf.ArenaLabel(),
		}, d.Target))
		s.emitState(ctx, d)
		return nil
	})
	return inf, err
}

// CloseView handles a player closing whatever menu they had open. Closing the
// setup view abandons the duel and closing the betting view withdraws the
// player's confirmation.
func (s *Service) CloseView(ctx context.Context, player world.PlayerID) error {
	v, ok := s.views.Close(player)
	if !ok {
		return nil
	}
	switch v := v.(type) {
	case SetupView:
		return s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
			if d.ID != v.DuelID || d.State != StateCreating {
				return nil
			}
			s.cancel(ctx, d, ReasonSetupClosed)
			return nil
		})
	case BettingView:
		return s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
			if d.ID != v.DuelID || d.State != StateSettingUp {
				return nil
			}
			err := s.escrow.Unconfirm(ctx, d.ID, player)
			if errors.Is(err, escrow.ErrFinalized) || errors.Is(err, escrow.ErrNoBook) {
				return nil
			}
			return err
		})
	}
	return nil
}

// Accept takes up a pending challenge. With betting on, both players get the
// betting view; otherwise the countdown starts.
func (s *Service) Accept(ctx context.Context, player world.PlayerID) (Info, error) {
	var inf Info
	err := s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if player != d.Target {
			return ErrNotTarget
		}
		if d.State != StatePending {
			return ErrInvalidState
		}
		s.logger.Info("duel accepted", "duel_id", d.ID, "betting", d.BettingEnabled)
		if !d.BettingEnabled {
			s.startCountdown(ctx, d)
			inf = s.describe(d)
			return nil
		}
		if err := s.escrow.Initialize(ctx, d.ID, d.Challenger, d.Target); err != nil {
			return err
		}
		d.State = StateSettingUp
		for _, p := range d.Parties() {
			s.views.Open(ctx, p, BettingView{DuelID: d.ID})
		}
		s.emitState(ctx, d)
		inf = s.describe(d)
		return nil
	})
	return inf, err
}

// Deny turns down a pending challenge.
func (s *Service) Deny(ctx context.Context, player world.PlayerID) error {
	return s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if player != d.Target {
			return ErrNotTarget
		}
		if d.State != StatePending {
			return ErrInvalidState
		}
		s.cancel(ctx, d, ReasonDenied)
		return nil
	})
}

// Cancel abandons a duel that has not started fighting.
func (s *Service) Cancel(ctx context.Context, player world.PlayerID) error {
	return s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		switch d.State {
		case StateCreating, StatePending, StateSettingUp, StateCountdown:
			s.cancel(ctx, d, ReasonCancelled)
			return nil
		case StateFighting:
			return ErrUseForfeit
		}
		return ErrInvalidState
	})
}

// OpenBetting reopens the betting view for a party who closed it.
func (s *Service) OpenBetting(ctx context.Context, player world.PlayerID) error {
	return s.withBook(ctx, player, func(ctx context.Context, d *Duel) error {
		s.views.Open(ctx, player, BettingView{DuelID: d.ID})
		return nil
	})
}

// UpdateBetItems replaces the player's stake.
func (s *Service) UpdateBetItems(ctx context.Context, player world.PlayerID, items []world.Item) (Info, error) {
	var inf Info
	err := s.withBook(ctx, player, func(ctx context.Context, d *Duel) error {
		if err := s.escrow.UpdateItems(ctx, d.ID, player, items); err != nil {
			return err
		}
		inf = s.describe(d)
		return nil
	})
	return inf, err
}

// ConfirmBet agrees to the current stakes.
func (s *Service) ConfirmBet(ctx context.Context, player world.PlayerID) (Info, error) {
	var inf Info
	err := s.withBook(ctx, player, func(ctx context.Context, d *Duel) error {
		if err := s.escrow.Confirm(ctx, d.ID, player); err != nil {
			return err
		}
		inf = s.describe(d)
		return nil
	})
	return inf, err
}

// UnconfirmBet withdraws agreement to the stakes.
func (s *Service) UnconfirmBet(ctx context.Context, player world.PlayerID) (Info, error) {
	var inf Info
	err := s.withBook(ctx, player, func(ctx context.Context, d *Duel) error {
		if err := s.escrow.Unconfirm(ctx, d.ID, player); err != nil {
			return err
		}
		inf = s.describe(d)
		return nil
	})
	return inf, err
}

func (s *Service) withBook(ctx context.Context, player world.PlayerID, fn func(ctx context.Context, d *Duel) error) error {
	return s.withDuel(ctx, player, func(ctx context.Context, d *Duel) error {
		if !d.BettingEnabled || s.escrow == nil {
			return ErrBettingDisabled
		}
		if d.State != StateSettingUp {
			return ErrInvalidState
		}
		return fn(ctx, d)
	})
}

// BettingFinalized starts the countdown once the stakes are locked in. The
// escrow calls it from a tick callback holding the duel's key lock.
func (s *Service) BettingFinalized(ctx context.Context, duelID string) {
	d, ok := s.registry.ByID(duelID)
	if !ok || d.State != StateSettingUp {
		return
	}
	for _, p := range d.Parties() {
		s.views.Forget(p, KindBetting)
	}
	s.startCountdown(ctx, d)
}

// BettingTimedOut cancels the duel after the stakes were returned. The escrow
// calls it holding the duel's key lock.
func (s *Service) BettingTimedOut(ctx context.Context, duelID string) {
	d, ok := s.registry.ByID(duelID)
	if !ok || d.State != StateSettingUp {
		return
	}
	s.cancel(ctx, d, ReasonBetTimeout)
}

// cancel ends a duel that never reached a result. Staked items go back to
// their owners, and a lease taken by a fight start that did not finish is
// released after the players are sent back.
func (s *Service) cancel(ctx context.Context, d *Duel, reason string) {
	d.timers.CancelAll()
	d.State = StateCancelled
	d.Reason = reason
	d.EndedAt = s.now()

	if d.BettingEnabled && s.escrow != nil {
		if err := s.escrow.Refund(ctx, d.ID); err != nil && !errors.Is(err, escrow.ErrNoBook) {
			s.logger.Error("escrow refund failed", "duel_id", d.ID, "error", err)
		}
	}
	if d.Lease != nil {
		s.teleportBack(d)
		s.releaseArena(ctx, d)
	}
	for _, p := range d.Parties() {
		s.views.Dismiss(ctx, p, KindSetup)
		s.views.Forget(p, KindBetting)
	}
	s.registry.Remove(d)
	metrics.DuelsTotal.WithLabelValues(outcomeLabel(reason)).Inc()
	s.logger.Info("duel cancelled", "duel_id", d.ID, "reason", reason)
	s.emitState(ctx, d)
}

// outcomeLabel folds the pre-fight cancel reasons into one metric label. A
// disconnect before the fight is a cancel, not a result.
func outcomeLabel(reason string) string {
	switch reason {
	case ReasonSetupClosed, ReasonBetTimeout, ReasonDisconnect:
		return ReasonCancelled
	}
	return reason
}
