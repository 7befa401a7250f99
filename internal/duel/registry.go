package duel

import (
	"sort"
	"sync"

	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/world"
)

// Registry indexes live duels by participant and by id. A player maps to at
// most one duel.
type Registry struct {
	mu       sync.RWMutex
	byPlayer map[world.PlayerID]*Duel
	byID     map[string]*Duel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPlayer: make(map[world.PlayerID]*Duel),
		byID:     make(map[string]*Duel),
	}
}

// Register indexes both participants of d, or neither if either is taken.
func (r *Registry) Register(d *Duel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPlayer[d.Challenger]; ok {
		return ErrAlreadyInDuel
	}
	if _, ok := r.byPlayer[d.Target]; ok {
		return ErrAlreadyInDuel
	}
	r.byPlayer[d.Challenger] = d
	r.byPlayer[d.Target] = d
	r.byID[d.ID] = d
	metrics.ActiveDuels.Set(float64(len(r.byID)))
	return nil
}

// Remove drops d. Entries that now point at another duel are left alone.
func (r *Registry) Remove(d *Duel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range d.Parties() {
		if r.byPlayer[p] == d {
			delete(r.byPlayer, p)
		}
	}
	if r.byID[d.ID] == d {
		delete(r.byID, d.ID)
	}
	metrics.ActiveDuels.Set(float64(len(r.byID)))
}

// ByPlayer returns the duel p is in.
func (r *Registry) ByPlayer(p world.PlayerID) (*Duel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byPlayer[p]
	return d, ok
}

// ByID returns a duel by id.
func (r *Registry) ByID(id string) (*Duel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// IsInDuel reports whether p is registered.
func (r *Registry) IsInDuel(p world.PlayerID) bool {
	_, ok := r.ByPlayer(p)
	return ok
}

// Active returns every registered duel, oldest first. Read duel fields only
// under the duel's key lock.
func (r *Registry) Active() []*Duel {
	r.mu.RLock()
	out := make([]*Duel, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	r.mu.RUnlock()
	// CreatedAt and ID never change after registration.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of registered duels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
