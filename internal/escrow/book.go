// Package escrow holds the items two duel parties stake against each other.
//
// Flow:
//  1. Accepting a betting duel initializes an empty book for both parties
//  2. Each party edits their stake and confirms; any edit clears both confirmations
//  3. With both confirmed, a three-stage commit countdown runs; finishing it
//     finalizes the book and hands control back to the duel
//  4. The fight's winner takes both stakes as one prize batch
//
// A book that is not finalized within the bet-menu window times out and every
// stake is returned to its owner.
package escrow

import (
	"errors"
	"time"

	"github.com/mbd888/duelyard/internal/tick"
	"github.com/mbd888/duelyard/internal/world"
)

var (
	ErrNoBook             = errors.New("no betting book for duel")
	ErrAlreadyInitialized = errors.New("betting already initialized for duel")
	ErrNotParty           = errors.New("player is not a party to this bet")
	ErrFinalized          = errors.New("betting already finalized")
)

// CommitStages is the number of stages the commit countdown shows before the
// book finalizes.
const CommitStages = 3

const (
	timerTimeout  = "timeout"
	timerReminder = "reminder"
	timerCommit   = "commit"
)

// Book is a read-only copy of a duel's escrow.
type Book struct {
	DuelID     string                          `json:"duelId"`
	Challenger world.PlayerID                  `json:"challenger"`
	Target     world.PlayerID                  `json:"target"`
	Items      map[world.PlayerID][]world.Item `json:"items"`
	Confirmed  map[world.PlayerID]bool         `json:"confirmed"`
	Stage      int                             `json:"stage"`
	Finalized  bool                            `json:"finalized"`
	CreatedAt  time.Time                       `json:"createdAt"`
}

// IsConfirmed reports whether party has confirmed.
func (b Book) IsConfirmed(party world.PlayerID) bool {
	return b.Confirmed[party]
}

// Staked returns every staked stack, challenger's first.
func (b Book) Staked() []world.Item {
	out := world.Clone(b.Items[b.Challenger])
	return append(out, b.Items[b.Target]...)
}

// book is the live state, guarded by the duel's key lock.
type book struct {
	duelID     string
	challenger world.PlayerID
	target     world.PlayerID
	items      map[world.PlayerID][]world.Item
	confirmed  map[world.PlayerID]bool
	stage      int
	finalized  bool
	createdAt  time.Time
	timers     tick.TimerSet
}

func newBook(duelID string, challenger, target world.PlayerID) *book {
	return &book{
		duelID:     duelID,
		challenger: challenger,
		target:     target,
		items: map[world.PlayerID][]world.Item{
			challenger: {},
			target:     {},
		},
		confirmed: make(map[world.PlayerID]bool, 2),
		createdAt: time.Now(),
	}
}

func (b *book) isParty(p world.PlayerID) bool {
	return p == b.challenger || p == b.target
}

func (b *book) parties() []world.PlayerID {
	return []world.PlayerID{b.challenger, b.target}
}

func (b *book) bothConfirmed() bool {
	return b.confirmed[b.challenger] && b.confirmed[b.target]
}

func (b *book) snapshot() Book {
	items := make(map[world.PlayerID][]world.Item, 2)
	for p, it := range b.items {
		items[p] = world.Clone(it)
	}
	confirmed := make(map[world.PlayerID]bool, 2)
	for p, c := range b.confirmed {
		confirmed[p] = c
	}
	return Book{
		DuelID:     b.duelID,
		Challenger: b.challenger,
		Target:     b.target,
		Items:      items,
		Confirmed:  confirmed,
		Stage:      b.stage,
		Finalized:  b.finalized,
		CreatedAt:  b.createdAt,
	}
}
