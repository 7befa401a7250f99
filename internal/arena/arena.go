// Package arena owns the pool of duel arenas and grants exclusive leases.
//
// A lease captures a fresh region snapshot when it starts and restores it
// when it ends, so whatever one fight does to the arena never leaks into the
// next lease of the same arena.
package arena

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/mbd888/duelyard/internal/idgen"
	"github.com/mbd888/duelyard/internal/world"
)

var (
	ErrArenaNotFound = errors.New("arena not found")
	ErrArenaLeased   = errors.New("arena already leased")
	ErrArenaNotReady = errors.New("arena is missing a spawn point")
	ErrArenaInUse    = errors.New("arena is in use")
	ErrSpawnOutside  = errors.New("spawn point is outside the arena bounds")
	ErrInvalidSlot   = errors.New("spawn slot must be 1 or 2")
	ErrInvalidGroup  = errors.New("invalid arena group name")
)

// Snapshot is an immutable capture of an arena region. The payload format
// belongs to the SnapshotService that produced it.
type Snapshot struct {
	id         string
	capturedAt time.Time
	payload    []byte
}

// NewSnapshot wraps payload, copying it.
func NewSnapshot(payload []byte) Snapshot {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return Snapshot{id: idgen.New(), capturedAt: time.Now(), payload: cp}
}

func (s Snapshot) ID() string            { return s.id }
func (s Snapshot) CapturedAt() time.Time { return s.capturedAt }
func (s Snapshot) Size() int             { return len(s.payload) }
func (s Snapshot) IsZero() bool          { return s.id == "" }

// Payload returns a copy of the captured bytes.
func (s Snapshot) Payload() []byte {
	cp := make([]byte, len(s.payload))
	copy(cp, s.payload)
	return cp
}

// SnapshotService captures and restores world regions.
type SnapshotService interface {
	Capture(ctx context.Context, bounds world.Bounds) (Snapshot, error)
	Restore(ctx context.Context, bounds world.Bounds, snap Snapshot) error
}

// Arena is one pooled region. Name, group and bounds never change; spawn
// points and lease state are guarded by the owning Pool.
type Arena struct {
	name   string
	group  string
	bounds world.Bounds

	spawn1   *world.Location
	spawn2   *world.Location
	inUse    bool
	holder   string
	leasedAt time.Time
}

func (a *Arena) Name() string         { return a.name }
func (a *Arena) Group() string        { return a.group }
func (a *Arena) Bounds() world.Bounds { return a.bounds }

func (a *Arena) ready() bool {
	return a.spawn1 != nil && a.spawn2 != nil
}

func (a *Arena) info() Info {
	inf := Info{
		Name:   a.name,
		Group:  a.group,
		Bounds: a.bounds,
		InUse:  a.inUse,
		Holder: a.holder,
	}
	if a.spawn1 != nil {
		s := *a.spawn1
		inf.Spawn1 = &s
	}
	if a.spawn2 != nil {
		s := *a.spawn2
		inf.Spawn2 = &s
	}
	return inf
}

// Info is a point-in-time copy of an arena.
type Info struct {
	Name   string          `json:"name"`
	Group  string          `json:"group"`
	Bounds world.Bounds    `json:"bounds"`
	Spawn1 *world.Location `json:"spawn1,omitempty"`
	Spawn2 *world.Location `json:"spawn2,omitempty"`
	InUse  bool            `json:"inUse"`
	Holder string          `json:"holder,omitempty"`
}

// Ready reports whether both spawn points are set.
func (i Info) Ready() bool {
	return i.Spawn1 != nil && i.Spawn2 != nil
}

// Lease is the exclusive grant of an arena to one holder (a duel id).
type Lease struct {
	Arena    Info
	Holder   string
	Snapshot Snapshot
	LeasedAt time.Time

	arena    *Arena
	released atomic.Bool
}

// Released reports whether Release has run for this lease.
func (l *Lease) Released() bool {
	return l.released.Load()
}
