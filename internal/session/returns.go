package session

import (
	"log/slog"
	"sync"

	"github.com/mbd888/duelyard/internal/world"
)

// ReturnQueue sends players back to where they were before a fight. A player
// who is offline, or whose teleport fails, is queued and sent on next join.
type ReturnQueue struct {
	players Players
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[world.PlayerID]world.Location
}

// NewReturnQueue creates a queue over players.
func NewReturnQueue(players Players, logger *slog.Logger) *ReturnQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReturnQueue{
		players: players,
		logger:  logger,
		pending: make(map[world.PlayerID]world.Location),
	}
}

// Send teleports id to loc now, or queues it. It reports whether the teleport
// was issued immediately.
func (q *ReturnQueue) Send(id world.PlayerID, loc world.Location) bool {
	if q.players.IsOnline(id) {
		err := q.players.Teleport(id, loc)
		if err == nil {
			q.mu.Lock()
			delete(q.pending, id)
			q.mu.Unlock()
			return true
		}
		q.logger.Warn("teleport back failed, queueing", "player", id, "error", err)
	}
	q.mu.Lock()
	q.pending[id] = loc
	q.mu.Unlock()
	return false
}

// Pending returns the queued destination for id.
func (q *ReturnQueue) Pending(id world.PlayerID) (world.Location, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	loc, ok := q.pending[id]
	return loc, ok
}

// Deliver sends a queued teleport if id is online. It reports whether one was sent.
func (q *ReturnQueue) Deliver(id world.PlayerID) bool {
	q.mu.Lock()
	loc, ok := q.pending[id]
	q.mu.Unlock()
	if !ok || !q.players.IsOnline(id) {
		return false
	}
	if err := q.players.Teleport(id, loc); err != nil {
		q.logger.Warn("queued teleport failed", "player", id, "error", err)
		return false
	}
	q.mu.Lock()
	if cur, still := q.pending[id]; still && cur == loc {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	return true
}

// Len returns the number of queued teleports.
func (q *ReturnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
