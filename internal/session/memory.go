package session

import (
	"sync"

	"github.com/mbd888/duelyard/internal/world"
)

const (
	DefaultSlots    = 36
	DefaultMaxStack = 64
)

type memoryPlayer struct {
	online    bool
	location  world.Location
	vitals    Vitals
	mode      Mode
	inventory []world.Item
}

// MemoryPlayers is an in-process Players used by the sandbox and tests.
// Each inventory slot holds one stack of up to MaxStack items.
type MemoryPlayers struct {
	Slots    int
	MaxStack int

	mu      sync.RWMutex
	players map[world.PlayerID]*memoryPlayer
}

// NewMemoryPlayers creates an empty player set with default inventory limits.
func NewMemoryPlayers() *MemoryPlayers {
	return &MemoryPlayers{
		Slots:    DefaultSlots,
		MaxStack: DefaultMaxStack,
		players:  make(map[world.PlayerID]*memoryPlayer),
	}
}

func (m *MemoryPlayers) get(id world.PlayerID) *memoryPlayer {
	p, ok := m.players[id]
	if !ok {
		p = &memoryPlayer{mode: ModeSurvival, vitals: FullVitals}
		m.players[id] = p
	}
	return p
}

// Join marks id online at loc.
func (m *MemoryPlayers) Join(id world.PlayerID, loc world.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.get(id)
	p.online = true
	p.location = loc
}

// Quit marks id offline. Its state is kept.
func (m *MemoryPlayers) Quit(id world.PlayerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[id]; ok {
		p.online = false
	}
}

// SetInventory replaces id's inventory.
func (m *MemoryPlayers) SetInventory(id world.PlayerID, items []world.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(id).inventory = world.Clone(items)
}

// Mode returns id's current game mode.
func (m *MemoryPlayers) Mode(id world.PlayerID) Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.players[id]; ok {
		return p.mode
	}
	return ""
}

// Vitals returns id's current vitals.
func (m *MemoryPlayers) Vitals(id world.PlayerID) Vitals {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.players[id]; ok {
		return p.vitals
	}
	return Vitals{}
}

func (m *MemoryPlayers) IsOnline(id world.PlayerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	return ok && p.online
}

func (m *MemoryPlayers) Location(id world.PlayerID) (world.Location, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	if !ok {
		return world.Location{}, false
	}
	return p.location, true
}

func (m *MemoryPlayers) Teleport(id world.PlayerID, loc world.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return ErrUnknownPlayer
	}
	if !p.online {
		return ErrPlayerOffline
	}
	p.location = loc
	return nil
}

func (m *MemoryPlayers) SetVitals(id world.PlayerID, v Vitals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return ErrUnknownPlayer
	}
	p.vitals = v
	return nil
}

func (m *MemoryPlayers) SetMode(id world.PlayerID, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return ErrUnknownPlayer
	}
	p.mode = mode
	return nil
}

func (m *MemoryPlayers) Inventory(id world.PlayerID) []world.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.players[id]; ok {
		return world.Clone(p.inventory)
	}
	return nil
}

func (m *MemoryPlayers) ClearInventory(id world.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return ErrUnknownPlayer
	}
	p.inventory = nil
	return nil
}

// Give merges items into existing similar stacks first, then fills free slots.
func (m *MemoryPlayers) Give(id world.PlayerID, items []world.Item) []world.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok || !p.online {
		return world.Clone(world.Compact(items))
	}

	maxStack := m.MaxStack
	if maxStack <= 0 {
		maxStack = DefaultMaxStack
	}
	slots := m.Slots
	if slots <= 0 {
		slots = DefaultSlots
	}

	var leftover []world.Item
	for _, it := range items {
		if !it.Valid() {
			continue
		}
		remaining := it.Amount
		for i := range p.inventory {
			if remaining == 0 {
				break
			}
			if !p.inventory[i].Similar(it) || p.inventory[i].Amount >= maxStack {
				continue
			}
			n := min(maxStack-p.inventory[i].Amount, remaining)
			p.inventory[i].Amount += n
			remaining -= n
		}
		for remaining > 0 && len(p.inventory) < slots {
			n := min(maxStack, remaining)
			p.inventory = append(p.inventory, world.Item{Kind: it.Kind, Meta: it.Meta, Amount: n})
			remaining -= n
		}
		if remaining > 0 {
			leftover = append(leftover, world.Item{Kind: it.Kind, Meta: it.Meta, Amount: remaining})
		}
	}
	return leftover
}
