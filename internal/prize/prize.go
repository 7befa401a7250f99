// Package prize holds items a player could not receive directly.
//
// Flow:
//  1. Settlement or escrow credits a batch (bet winnings, the loser's drops,
//     items returned to a full inventory)
//  2. The player opens their prizes and withdraws stacks into their inventory
//  3. Batches nobody claims expire and are purged
package prize

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/duelyard/internal/world"
)

var (
	ErrBatchNotFound  = errors.New("prize batch not found")
	ErrReconciliation = errors.New("withdrawal does not match ledger contents")
	ErrInvalidItem    = errors.New("invalid item")
)

// Source records why a batch was credited.
type Source string

const (
	SourceDuelDrops    Source = "duel_drops"
	SourceBetWinnings  Source = "bet_winnings"
	SourceEscrowReturn Source = "escrow_return"
)

// Batch is one claimable credit.
type Batch struct {
	ID        string         `json:"id"`
	Owner     world.PlayerID `json:"owner"`
	Items     []world.Item   `json:"items"`
	Source    Source         `json:"source"`
	DuelID    string         `json:"duelId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Expired reports whether the batch is past its deadline at now.
func (b *Batch) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

func (b *Batch) clone() *Batch {
	cp := *b
	cp.Items = world.Clone(b.Items)
	return &cp
}

// Withdrawal is one stack the presentation layer moved out of a batch.
type Withdrawal struct {
	BatchID string     `json:"batchId"`
	Item    world.Item `json:"item"`
}

// Store persists prize batches.
type Store interface {
	Add(ctx context.Context, b *Batch) error
	Get(ctx context.Context, owner world.PlayerID, id string) (*Batch, error)
	ListByOwner(ctx context.Context, owner world.PlayerID) ([]*Batch, error)
	Update(ctx context.Context, b *Batch) error
	Delete(ctx context.Context, owner world.PlayerID, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Owners(ctx context.Context) ([]world.PlayerID, error)
}

// take removes want.Amount similar items from items, draining stacks in
// order. It fails without touching items if the full amount is not there.
func take(items []world.Item, want world.Item) ([]world.Item, error) {
	if !want.Valid() {
		return nil, ErrInvalidItem
	}
	have := 0
	for _, it := range items {
		if it.Similar(want) {
			have += it.Amount
		}
	}
	if have < want.Amount {
		return nil, ErrReconciliation
	}

	out := make([]world.Item, 0, len(items))
	remaining := want.Amount
	for _, it := range items {
		if remaining > 0 && it.Similar(want) {
			n := min(it.Amount, remaining)
			it.Amount -= n
			remaining -= n
		}
		if it.Amount > 0 {
			out = append(out, it)
		}
	}
	return out, nil
}
