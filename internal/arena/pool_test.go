package arena

import (
	"context"
	"errors"
	"sync"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/duelyard/internal/configstore"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/world"
)

type fakeSnapshots struct {
	mu         sync.Mutex
	captures   int
	restores   map[string]int
	captureErr error
	restoreErr error
}

func (f *fakeSnapshots) Capture(_ context.Context, b world.Bounds) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return Snapshot{}, f.captureErr
	}
	f.captures++
	return NewSnapshot([]byte(b.World)), nil
}

func (f *fakeSnapshots) Restore(_ context.Context, _ world.Bounds, s Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restores == nil {
		f.restores = make(map[string]int)
	}
	f.restores[s.ID()]++
	return f.restoreErr
}

func box(x int) world.Bounds {
	return world.NewBounds("duels", world.Vec{X: x, Y: 60, Z: 0}, world.Vec{X: x + 20, Y: 80, Z: 20})
}

func spawnIn(b world.Bounds, dx float64) world.Location {
	return world.Location{World: b.World, X: float64(b.Min.X) + dx, Y: 65, Z: 5}
}

// definePool builds a pool with groups laid out as group -> arena count, all ready.
func definePool(t *testing.T, snaps SnapshotService, layout map[string]int) *Pool {
	t.Helper()
	ctx := context.Background()
	p := NewPool(snaps, configstore.NewMemoryStore())
	x := 0
	for group, n := range layout {
		for i := 0; i < n; i++ {
			b := box(x)
			x += 100
			inf, err := p.Define(ctx, group, b)
			require.NoError(t, err)
			require.NoError(t, p.SetSpawn(ctx, inf.Name, 1, spawnIn(b, 2)))
			require.NoError(t, p.SetSpawn(ctx, inf.Name, 2, spawnIn(b, 18)))
		}
	}
	return p
}

func TestDefine_NamesByGroup(t *testing.T) {
	ctx := context.Background()
	p := NewPool(&fakeSnapshots{}, configstore.NewMemoryStore())

	a, err := p.Define(ctx, "classic", box(0))
	require.NoError(t, err)
	b, err := p.Define(ctx, "classic", box(100))
	require.NoError(t, err)
	assert.Equal(t, "classic1", a.Name)
	assert.Equal(t, "classic2", b.Name)
	assert.Equal(t, 2, p.GroupSize("classic"))

	require.NoError(t, p.Remove(ctx, "classic1"))
	c, err := p.Define(ctx, "classic", box(200))
	require.NoError(t, err)
	assert.Equal(t, "classic3", c.Name, "must not reuse a live name")

	_, err = p.Define(ctx, "bad name", box(0))
	assert.ErrorIs(t, err, ErrInvalidGroup)
}

func TestSetSpawn_Validation(t *testing.T) {
	ctx := context.Background()
	p := NewPool(&fakeSnapshots{}, configstore.NewMemoryStore())
	inf, err := p.Define(ctx, "classic", box(0))
	require.NoError(t, err)

	assert.ErrorIs(t, p.SetSpawn(ctx, inf.Name, 3, spawnIn(box(0), 1)), ErrInvalidSlot)
	assert.ErrorIs(t, p.SetSpawn(ctx, "nope", 1, spawnIn(box(0), 1)), ErrArenaNotFound)
	assert.ErrorIs(t, p.SetSpawn(ctx, inf.Name, 1, world.Location{World: "duels", X: 500, Y: 65}), ErrSpawnOutside)

	// Not ready until both spawns are set.
	require.NoError(t, p.SetSpawn(ctx, inf.Name, 1, spawnIn(box(0), 1)))
	assert.Nil(t, p.Acquire("classic"))
	require.NoError(t, p.SetSpawn(ctx, inf.Name, 2, spawnIn(box(0), 19)))
	assert.NotNil(t, p.Acquire("classic"))
}

func TestAcquire_DoesNotReserve(t *testing.T) {
	p := definePool(t, &fakeSnapshots{}, map[string]int{"classic": 1})
	a := p.Acquire("classic")
	require.NotNil(t, a)
	assert.False(t, p.InUse(a.Name()))
	assert.Same(t, a, p.Acquire("classic"))
}

func TestLeaseRelease_InUseLifecycle(t *testing.T) {
	ctx := context.Background()
	snaps := &fakeSnapshots{}
	p := definePool(t, snaps, map[string]int{"classic": 1})

	a := p.Acquire("classic")
	require.NotNil(t, a)

	lease, err := p.Lease(ctx, a, "duel-1")
	require.NoError(t, err)
	assert.True(t, p.InUse(a.Name()))
	assert.Equal(t, "duel-1", lease.Holder)
	assert.True(t, lease.Arena.Ready())
	assert.False(t, lease.Snapshot.IsZero())
	assert.Equal(t, 1, p.InUseCount())

	// Every arena in the group is taken.
	assert.Nil(t, p.Acquire("classic"))
	assert.Nil(t, p.Acquire(""))

	_, err = p.Lease(ctx, a, "duel-2")
	assert.ErrorIs(t, err, ErrArenaLeased)
	assert.ErrorIs(t, p.Remove(ctx, a.Name()), ErrArenaInUse)

	require.NoError(t, p.Release(ctx, lease))
	assert.False(t, p.InUse(a.Name()))
	assert.True(t, lease.Released())

	// Restore runs at most once per capture.
	require.NoError(t, p.Release(ctx, lease))
	assert.Equal(t, 1, snaps.restores[lease.Snapshot.ID()])
}

func TestLease_FreshSnapshotEachTime(t *testing.T) {
	ctx := context.Background()
	snaps := &fakeSnapshots{}
	p := definePool(t, snaps, map[string]int{"classic": 1})
	a := p.Acquire("classic")

	first, err := p.Lease(ctx, a, "duel-1")
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, first))

	second, err := p.Lease(ctx, a, "duel-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.Snapshot.ID(), second.Snapshot.ID())
	assert.Equal(t, 2, snaps.captures)
}

func TestLease_CaptureFailureFreesArena(t *testing.T) {
	ctx := context.Background()
	snaps := &fakeSnapshots{captureErr: errors.New("chunk not loaded")}
	p := definePool(t, snaps, map[string]int{"classic": 1})
	a := p.Acquire("classic")

	_, err := p.Lease(ctx, a, "duel-1")
	require.Error(t, err)
	assert.False(t, p.InUse(a.Name()))
}

func TestRelease_RestoreFailureStillFrees(t *testing.T) {
	ctx := context.Background()
	snaps := &fakeSnapshots{}
	p := definePool(t, snaps, map[string]int{"classic": 1})
	lease, err := p.Lease(ctx, p.Acquire("classic"), "duel-1")
	require.NoError(t, err)

	snaps.restoreErr = errors.New("world unloaded")
	assert.Error(t, p.Release(ctx, lease))
	assert.False(t, p.InUse(lease.Arena.Name))
}

func TestRelease_StaleLeaseKeepsArenaAndGauge(t *testing.T) {
	ctx := context.Background()
	p := definePool(t, &fakeSnapshots{}, map[string]int{"classic": 1})
	stale, err := p.Lease(ctx, p.Acquire("classic"), "duel-1")
	require.NoError(t, err)

	// Another holder owns the arena by the time the old lease is released.
	p.mu.Lock()
	stale.arena.holder = "duel-2"
	p.mu.Unlock()

	before := promtest.ToFloat64(metrics.ArenasInUse)
	require.NoError(t, p.Release(ctx, stale))
	assert.True(t, p.InUse(stale.Arena.Name))
	assert.Equal(t, before, promtest.ToFloat64(metrics.ArenasInUse))
}

func TestAcquire_AutoFallsBackAcrossGroups(t *testing.T) {
	ctx := context.Background()
	p := definePool(t, &fakeSnapshots{}, map[string]int{"classic": 1, "sky": 2})

	classic := p.Acquire("classic")
	_, err := p.Lease(ctx, classic, "duel-1")
	require.NoError(t, err)

	assert.Nil(t, p.Acquire("classic"), "explicit group with no free member returns nothing")

	auto := p.Acquire("")
	require.NotNil(t, auto)
	assert.Equal(t, "sky", auto.Group())
	assert.Equal(t, "sky1", auto.Name())
}

func TestAcquire_AutoOrderIsDeterministic(t *testing.T) {
	p := definePool(t, &fakeSnapshots{}, map[string]int{"zeta": 1, "alpha": 1, "mid": 1})
	for i := 0; i < 10; i++ {
		assert.Equal(t, "alpha1", p.Acquire("").Name())
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, p.Groups())
}

func TestConcurrentLeases_NeverShareArena(t *testing.T) {
	ctx := context.Background()
	p := definePool(t, &fakeSnapshots{}, map[string]int{"classic": 3})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		leases []*Lease
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				a := p.Acquire("")
				if a == nil {
					return
				}
				l, err := p.Lease(ctx, a, "duel")
				if errors.Is(err, ErrArenaLeased) {
					continue
				}
				if err == nil {
					mu.Lock()
					leases = append(leases, l)
					mu.Unlock()
				}
				return
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, leases, 3)
	seen := make(map[string]bool)
	for _, l := range leases {
		assert.False(t, seen[l.Arena.Name], "arena %s leased twice", l.Arena.Name)
		seen[l.Arena.Name] = true
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := configstore.NewMemoryStore()
	p := NewPool(&fakeSnapshots{}, store)
	inf, err := p.Define(ctx, "classic", box(0))
	require.NoError(t, err)
	require.NoError(t, p.SetSpawn(ctx, inf.Name, 1, spawnIn(box(0), 2)))
	require.NoError(t, p.SetSpawn(ctx, inf.Name, 2, spawnIn(box(0), 18)))

	reloaded := NewPool(&fakeSnapshots{}, store)
	require.NoError(t, reloaded.Load(ctx))
	got, ok := reloaded.Get("classic1")
	require.True(t, ok)
	assert.True(t, got.Ready())
	assert.Equal(t, box(0), got.Bounds)
	assert.Len(t, reloaded.List(), 1)
}
