package prize

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/duelyard/internal/world"
)

// MemoryStore is an in-memory prize store.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[world.PlayerID]map[string]*Batch
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[world.PlayerID]map[string]*Batch)}
}

func (m *MemoryStore) Add(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned, ok := m.batches[b.Owner]
	if !ok {
		owned = make(map[string]*Batch)
		m.batches[b.Owner] = owned
	}
	owned[b.ID] = b.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, owner world.PlayerID, id string) (*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[owner][id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return b.clone(), nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, owner world.PlayerID) ([]*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Batch, 0, len(m.batches[owner]))
	for _, b := range m.batches[owner] {
		out = append(out, b.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned, ok := m.batches[b.Owner]
	if !ok {
		return ErrBatchNotFound
	}
	if _, ok := owned[b.ID]; !ok {
		return ErrBatchNotFound
	}
	owned[b.ID] = b.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, owner world.PlayerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned, ok := m.batches[owner]
	if !ok {
		return ErrBatchNotFound
	}
	if _, ok := owned[id]; !ok {
		return ErrBatchNotFound
	}
	delete(owned, id)
	if len(owned) == 0 {
		delete(m.batches, owner)
	}
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for owner, owned := range m.batches {
		for id, b := range owned {
			if b.Expired(now) {
				delete(owned, id)
				n++
			}
		}
		if len(owned) == 0 {
			delete(m.batches, owner)
		}
	}
	return n, nil
}

func (m *MemoryStore) Owners(_ context.Context) ([]world.PlayerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]world.PlayerID, 0, len(m.batches))
	for owner := range m.batches {
		out = append(out, owner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
