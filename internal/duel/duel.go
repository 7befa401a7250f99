// Package duel runs the lifecycle of a one-on-one duel.
//
// State machine:
//
//	creating -> pending -> setting_up -> countdown -> fighting -> finished
//	    \          \            \             \
//	     `----------`------------`-------------`--> cancelled
//
// Every duel is guarded by its own key lock, shared with the tick loop, so
// player intents and timer callbacks on one duel never interleave.
package duel

import (
	"errors"
	"time"

	"github.com/mbd888/duelyard/internal/arena"
	"github.com/mbd888/duelyard/internal/escrow"
	"github.com/mbd888/duelyard/internal/session"
	"github.com/mbd888/duelyard/internal/tick"
	"github.com/mbd888/duelyard/internal/world"
)

var (
	ErrNotInDuel       = errors.New("player is not in a duel")
	ErrAlreadyInDuel   = errors.New("player is already in a duel")
	ErrSelfChallenge   = errors.New("cannot challenge yourself")
	ErrPlayerOffline   = session.ErrPlayerOffline
	ErrInvalidState    = errors.New("action not allowed in the duel's current state")
	ErrNotChallenger   = errors.New("only the challenger can do that")
	ErrNotTarget       = errors.New("only the challenged player can do that")
	ErrUseForfeit      = errors.New("duel is in progress; forfeit instead")
	ErrUnknownOption   = errors.New("unknown duel option")
	ErrBettingDisabled = errors.New("betting is not enabled for this duel")
	ErrShuttingDown    = errors.New("server is shutting down")
	ErrNoArena         = errors.New("no arena available")
)

// State is a duel's lifecycle state.
type State string

const (
	StateCreating  State = "creating"
	StatePending   State = "pending"
	StateSettingUp State = "setting_up"
	StateCountdown State = "countdown"
	StateFighting  State = "fighting"
	StateFinished  State = "finished"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the duel is over.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateCancelled
}

// Option names a setup toggle.
type Option string

const (
	OptionKeepInventory Option = "keep_inventory"
	OptionBetting       Option = "betting"
)

// Why a duel ended.
const (
	ReasonDeath       = "death"
	ReasonForfeit     = "forfeit"
	ReasonDisconnect  = "disconnect"
	ReasonCancelled   = "cancelled"
	ReasonSetupClosed = "setup_closed"
	ReasonDenied      = "denied"
	ReasonBetTimeout  = "bet_timeout"
	ReasonNoArena     = "no_arena"
	ReasonStartFailed = "start_failed"
	ReasonShutdown    = "shutdown"
)

const (
	timerCountdown = "countdown"
	timerGrace     = "grace"
	timerClosing   = "closing"
	timerRelease   = "release"
)

// Duel is one challenge between two players. All fields are guarded by the
// duel's key lock.
type Duel struct {
	ID             string
	Challenger     world.PlayerID
	Target         world.PlayerID
	State          State
	KeepInventory  bool
	BettingEnabled bool
	// ArenaGroup is the preferred group; empty means AUTO.
	ArenaGroup string
	Lease      *arena.Lease
	CreatedAt  time.Time
	StartedAt  time.Time
	EndedAt    time.Time
	Winner     world.PlayerID
	Loser      world.PlayerID
	Reason     string

	previous  map[world.PlayerID]world.Location
	skipVotes map[world.PlayerID]bool
	timers    tick.TimerSet
}

func newDuel(id string, challenger, target world.PlayerID, now time.Time) *Duel {
	return &Duel{
		ID:            id,
		Challenger:    challenger,
		Target:        target,
		State:         StateCreating,
		KeepInventory: true,
		CreatedAt:     now,
		previous:      make(map[world.PlayerID]world.Location, 2),
		skipVotes:     make(map[world.PlayerID]bool, 2),
	}
}

// Parties returns challenger then target.
func (d *Duel) Parties() []world.PlayerID {
	return []world.PlayerID{d.Challenger, d.Target}
}

// Opponent returns the other party, or "" if p is not in the duel.
func (d *Duel) Opponent(p world.PlayerID) world.PlayerID {
	switch p {
	case d.Challenger:
		return d.Target
	case d.Target:
		return d.Challenger
	}
	return ""
}

// Info is a read-only copy of a duel for the API.
type Info struct {
	ID             string         `json:"id"`
	Challenger     world.PlayerID `json:"challenger"`
	Target         world.PlayerID `json:"target"`
	State          State          `json:"state"`
	KeepInventory  bool           `json:"keepInventory"`
	BettingEnabled bool           `json:"bettingEnabled"`
	ArenaGroup     string         `json:"arenaGroup"`
	Arena          string         `json:"arena,omitempty"`
	SkipVotes      int            `json:"skipVotes"`
	CreatedAt      time.Time      `json:"createdAt"`
	StartedAt      time.Time      `json:"startedAt,omitzero"`
	EndedAt        time.Time      `json:"endedAt,omitzero"`
	Winner         world.PlayerID `json:"winner,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Bet            *escrow.Book   `json:"bet,omitempty"`
}

func (d *Duel) info() Info {
	inf := Info{
		ID:             d.ID,
		Challenger:     d.Challenger,
		Target:         d.Target,
		State:          d.State,
		KeepInventory:  d.KeepInventory,
		BettingEnabled: d.BettingEnabled,
		ArenaGroup:     d.ArenaGroup,
		SkipVotes:      len(d.skipVotes),
		CreatedAt:      d.CreatedAt,
		StartedAt:      d.StartedAt,
		EndedAt:        d.EndedAt,
		Winner:         d.Winner,
		Reason:         d.Reason,
	}
	if d.Lease != nil {
		inf.Arena = d.Lease.Arena.Name
	}
	return inf
}

// ArenaLabel returns the preferred group or "AUTO".
func (i Info) ArenaLabel() string {
	if i.ArenaGroup == "" {
		return "AUTO"
	}
	return i.ArenaGroup
}
