// Package notify defines the notifications the duel core emits and the sinks
// that deliver them.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mbd888/duelyard/internal/world"
)

// EventType names a notification.
type EventType string

const (
	DuelStateChanged  EventType = "duel.state_changed"
	ChallengeReceived EventType = "duel.challenge_received"
	CountdownTick     EventType = "duel.countdown_tick"
	SkipVoteCast      EventType = "duel.skip_vote"
	FightStarted      EventType = "duel.fight_started"
	GraceTick         EventType = "duel.grace_tick"
	PvPEnabled        EventType = "duel.pvp_enabled"
	FightEnded        EventType = "duel.fight_ended"
	ArenaClosing      EventType = "duel.arena_closing"
	BetStateChanged   EventType = "bet.state_changed"
	BetCommitStage    EventType = "bet.commit_stage"
	BetReminder       EventType = "bet.reminder"
	BetLost           EventType = "bet.lost"
	PrizeCredited     EventType = "prize.credited"
	PrizeReminder     EventType = "prize.reminder"
	ArenaReleased     EventType = "arena.released"
	ViewOpened        EventType = "view.opened"
	ViewClosed        EventType = "view.closed"
)

// Event is one notification. Players lists every player the event concerns.
type Event struct {
	Type      EventType        `json:"type"`
	DuelID    string           `json:"duelId,omitempty"`
	Players   []world.PlayerID `json:"players,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// New builds an event stamped with the current time.
func New(typ EventType, duelID string, data map[string]any, players ...world.PlayerID) Event {
	return Event{
		Type:      typ,
		DuelID:    duelID,
		Players:   players,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Concerns reports whether the event is addressed to player.
func (e Event) Concerns(player world.PlayerID) bool {
	return slices.Contains(e.Players, player)
}

// Notifier delivers events. Implementations must not block the caller for
// long: the core notifies while holding a duel's lock.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event)

func (f Func) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

// Logger writes events at debug level.
type Logger struct {
	L *slog.Logger
}

func (l Logger) Notify(ctx context.Context, ev Event) {
	logger := l.L
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "notification", "type", ev.Type, "duel_id", ev.DuelID, "players", ev.Players, "data", ev.Data)
}

// Recorder keeps every event it receives. It backs the admin event feed and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// OfType returns recorded events of one type.
func (r *Recorder) OfType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// For returns recorded events addressed to player.
func (r *Recorder) For(player world.PlayerID) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Concerns(player) {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
