package blocksnap

import (
	"context"
	"sync"

	"github.com/mbd888/duelyard/internal/world"
)

const Air = "air"

type blockKey struct {
	world string
	pos   world.Vec
}

// MemoryWorld is a sparse in-memory block store. Unset positions read as air.
type MemoryWorld struct {
	mu     sync.RWMutex
	blocks map[blockKey]Block
}

// NewMemoryWorld creates an empty world.
func NewMemoryWorld() *MemoryWorld {
	return &MemoryWorld{blocks: make(map[blockKey]Block)}
}

// Set places one block.
func (m *MemoryWorld) Set(worldName string, b Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := blockKey{world: worldName, pos: b.Pos}
	if b.Material == "" || b.Material == Air {
		delete(m.blocks, k)
		return
	}
	m.blocks[k] = b
}

// Get reads one block.
func (m *MemoryWorld) Get(worldName string, pos world.Vec) Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.blocks[blockKey{world: worldName, pos: pos}]; ok {
		return b
	}
	return Block{Pos: pos, Material: Air}
}

// ReadBlocks returns every position inside bounds, air included, so a
// restore also clears blocks placed after the capture.
func (m *MemoryWorld) ReadBlocks(_ context.Context, bounds world.Bounds) ([]Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := bounds.Normalized()
	out := make([]Block, 0, n.Volume())
	for x := n.Min.X; x <= n.Max.X; x++ {
		for y := n.Min.Y; y <= n.Max.Y; y++ {
			for z := n.Min.Z; z <= n.Max.Z; z++ {
				pos := world.Vec{X: x, Y: y, Z: z}
				b, ok := m.blocks[blockKey{world: n.World, pos: pos}]
				if !ok {
					b = Block{Pos: pos, Material: Air}
				}
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// WriteBlocks sets each given block; air removes the stored block.
func (m *MemoryWorld) WriteBlocks(_ context.Context, worldName string, blocks []Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range blocks {
		k := blockKey{world: worldName, pos: b.Pos}
		if b.Material == "" || b.Material == Air {
			delete(m.blocks, k)
			continue
		}
		m.blocks[k] = b
	}
	return nil
}

// Len returns the number of non-air blocks stored.
func (m *MemoryWorld) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
