package escrow

import (
	"context"
	"log/slog"

	"github.com/mbd888/duelyard/internal/prize"
	"github.com/mbd888/duelyard/internal/session"
	"github.com/mbd888/duelyard/internal/world"
)

// Delivery gives items straight to the player and banks whatever does not
// fit, or everything if they are offline, as an escrow-return prize.
type Delivery struct {
	players session.Players
	prizes  Crediter
	logger  *slog.Logger
}

// NewDelivery creates a delivery.
func NewDelivery(players session.Players, prizes Crediter, logger *slog.Logger) *Delivery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Delivery{players: players, prizes: prizes, logger: logger}
}

// Return implements Returner.
func (d *Delivery) Return(ctx context.Context, owner world.PlayerID, items []world.Item, duelID string) {
	leftover := d.players.Give(owner, items)
	if len(leftover) == 0 {
		return
	}
	if _, err := d.prizes.Credit(ctx, owner, leftover, prize.SourceEscrowReturn, duelID); err != nil {
		d.logger.Error("CRITICAL: returned stake lost, prize credit failed",
			"duel_id", duelID, "owner", owner, "items", leftover, "error", err)
	}
}
