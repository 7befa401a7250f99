package configstore

import (
	"context"
	"sync"

	"github.com/mbd888/duelyard/internal/world"
)

// MemoryStore keeps records in process. Loads and saves copy.
type MemoryStore struct {
	mu     sync.RWMutex
	arenas map[string][]ArenaDef
	stats  map[world.PlayerID]StatsRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		arenas: make(map[string][]ArenaDef),
		stats:  make(map[world.PlayerID]StatsRecord),
	}
}

func (m *MemoryStore) LoadArenaDefinitions(_ context.Context) (map[string][]ArenaDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneGroups(m.arenas), nil
}

func (m *MemoryStore) SaveArenaDefinitions(_ context.Context, groups map[string][]ArenaDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arenas = cloneGroups(groups)
	return nil
}

func (m *MemoryStore) LoadStats(_ context.Context) (map[world.PlayerID]StatsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneStats(m.stats), nil
}

func (m *MemoryStore) SaveStats(_ context.Context, stats map[world.PlayerID]StatsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = cloneStats(stats)
	return nil
}
