package arena

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/duelyard/internal/configstore"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/retry"
	"github.com/mbd888/duelyard/internal/traces"
	"github.com/mbd888/duelyard/internal/world"
)

// Pool tracks every arena by group and hands out leases.
type Pool struct {
	snapshots SnapshotService
	store     configstore.Store
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	groups map[string][]*Arena // definition order
	byName map[string]*Arena
}

// NewPool creates an empty pool. Call Load to read persisted definitions.
func NewPool(snapshots SnapshotService, store configstore.Store) *Pool {
	return &Pool{
		snapshots: snapshots,
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
		groups:    make(map[string][]*Arena),
		byName:    make(map[string]*Arena),
	}
}

// WithLogger sets the logger.
func (p *Pool) WithLogger(l *slog.Logger) *Pool {
	p.logger = l
	return p
}

// Acquire returns the first free, ready arena in group, or in any group when
// group is empty. Groups are scanned in name order. It returns nil when
// nothing is free. Acquire does not reserve the arena; call Lease.
func (p *Pool) Acquire(group string) *Arena {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if group != "" {
		return firstFree(p.groups[group])
	}
	for _, name := range p.sortedGroupsLocked() {
		if a := firstFree(p.groups[name]); a != nil {
			return a
		}
	}
	return nil
}

func firstFree(arenas []*Arena) *Arena {
	for _, a := range arenas {
		if !a.inUse && a.ready() {
			return a
		}
	}
	return nil
}

// Lease marks a in use for holder and captures its snapshot. Leasing an arena
// that is already leased is a caller bug and returns ErrArenaLeased. If the
// capture fails the arena is freed again.
func (p *Pool) Lease(ctx context.Context, a *Arena, holder string) (*Lease, error) {
	ctx, span := traces.StartSpan(ctx, "arena.lease", traces.ArenaName(a.name), traces.DuelID(holder))
	defer span.End()

	p.mu.Lock()
	if p.byName[a.name] != a {
		p.mu.Unlock()
		return nil, ErrArenaNotFound
	}
	if a.inUse {
		holderNow := a.holder
		p.mu.Unlock()
		p.logger.Error("lease requested for leased arena", "arena", a.name, "holder", holderNow, "requester", holder)
		return nil, ErrArenaLeased
	}
	if !a.ready() {
		p.mu.Unlock()
		return nil, ErrArenaNotReady
	}
	now := p.now()
	a.inUse = true
	a.holder = holder
	a.leasedAt = now
	info := a.info()
	p.mu.Unlock()

	snap, err := p.snapshots.Capture(ctx, a.bounds)
	if err != nil {
		p.mu.Lock()
		a.inUse = false
		a.holder = ""
		p.mu.Unlock()
		metrics.SnapshotFailuresTotal.WithLabelValues("capture").Inc()
		traces.RecordError(span, err)
		return nil, fmt.Errorf("capture arena %s: %w", a.name, err)
	}

	metrics.ArenasInUse.Inc()
	p.logger.Info("arena leased", "arena", a.name, "group", a.group, "holder", holder, "snapshot_bytes", snap.Size())
	return &Lease{
		Arena:    info,
		Holder:   holder,
		Snapshot: snap,
		LeasedAt: now,
		arena:    a,
	}, nil
}

// Release restores the leased region and frees the arena. It runs at most
// once per lease; later calls return nil. A failed restore is logged and the
// arena is still freed.
func (p *Pool) Release(ctx context.Context, l *Lease) error {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return nil
	}
	ctx, span := traces.StartSpan(ctx, "arena.release", traces.ArenaName(l.Arena.Name), traces.DuelID(l.Holder))
	defer span.End()

	restoreErr := p.snapshots.Restore(ctx, l.Arena.Bounds, l.Snapshot)
	if restoreErr != nil {
		metrics.SnapshotFailuresTotal.WithLabelValues("restore").Inc()
		traces.RecordError(span, restoreErr)
		p.logger.Error("arena restore failed", "arena", l.Arena.Name, "holder", l.Holder, "error", restoreErr)
	}

	p.mu.Lock()
	freed := l.arena.holder == l.Holder
	if freed {
		l.arena.inUse = false
		l.arena.holder = ""
	}
	p.mu.Unlock()

	if freed {
		metrics.ArenasInUse.Dec()
		metrics.ArenaLeaseDuration.Observe(p.now().Sub(l.LeasedAt).Seconds())
		p.logger.Info("arena released", "arena", l.Arena.Name, "holder", l.Holder)
	} else {
		p.logger.Warn("stale lease released, arena kept", "arena", l.Arena.Name, "holder", l.Holder)
	}
	if restoreErr != nil {
		return fmt.Errorf("restore arena %s: %w", l.Arena.Name, restoreErr)
	}
	return nil
}

// InUse reports whether the named arena is leased.
func (p *Pool) InUse(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.byName[name]
	return ok && a.inUse
}

// Get returns a copy of the named arena.
func (p *Pool) Get(name string) (Info, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.byName[name]
	if !ok {
		return Info{}, false
	}
	return a.info(), true
}

// List returns every arena, grouped in name order then definition order.
func (p *Pool) List() []Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Info
	for _, g := range p.sortedGroupsLocked() {
		for _, a := range p.groups[g] {
			out = append(out, a.info())
		}
	}
	return out
}

// Groups returns the group names in sorted order.
func (p *Pool) Groups() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sortedGroupsLocked()
}

// GroupSize returns how many arenas a group holds.
func (p *Pool) GroupSize(group string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.groups[group])
}

// HasGroup reports whether group exists.
func (p *Pool) HasGroup(group string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.groups[group]
	return ok
}

// InUseCount returns the number of leased arenas.
func (p *Pool) InUseCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, a := range p.byName {
		if a.inUse {
			n++
		}
	}
	return n
}

func (p *Pool) sortedGroupsLocked() []string {
	names := make([]string, 0, len(p.groups))
	for name := range p.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Define adds an arena to group, named group+N with the next free N.
func (p *Pool) Define(ctx context.Context, group string, bounds world.Bounds) (Info, error) {
	group = strings.TrimSpace(group)
	if group == "" || strings.ContainsAny(group, " \t/") {
		return Info{}, ErrInvalidGroup
	}

	p.mu.Lock()
	n := len(p.groups[group]) + 1
	name := group + strconv.Itoa(n)
	for p.byName[name] != nil {
		n++
		name = group + strconv.Itoa(n)
	}
	a := &Arena{name: name, group: group, bounds: bounds.Normalized()}
	p.groups[group] = append(p.groups[group], a)
	p.byName[name] = a
	info := a.info()
	p.mu.Unlock()

	p.logger.Info("arena defined", "arena", name, "group", group, "blocks", bounds.Volume())
	p.Save(ctx)
	return info, nil
}

// SetSpawn assigns spawn slot 1 or 2. The location must lie inside the bounds.
func (p *Pool) SetSpawn(ctx context.Context, name string, slot int, loc world.Location) error {
	if slot != 1 && slot != 2 {
		return ErrInvalidSlot
	}

	p.mu.Lock()
	a, ok := p.byName[name]
	if !ok {
		p.mu.Unlock()
		return ErrArenaNotFound
	}
	if !a.bounds.Contains(loc) {
		p.mu.Unlock()
		return ErrSpawnOutside
	}
	l := loc
	if slot == 1 {
		a.spawn1 = &l
	} else {
		a.spawn2 = &l
	}
	p.mu.Unlock()

	p.Save(ctx)
	return nil
}

// Remove deletes an arena that is not leased. An emptied group disappears.
func (p *Pool) Remove(ctx context.Context, name string) error {
	p.mu.Lock()
	a, ok := p.byName[name]
	if !ok {
		p.mu.Unlock()
		return ErrArenaNotFound
	}
	if a.inUse {
		p.mu.Unlock()
		return ErrArenaInUse
	}
	delete(p.byName, name)
	members := p.groups[a.group]
	for i, m := range members {
		if m == a {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(p.groups, a.group)
	} else {
		p.groups[a.group] = members
	}
	p.mu.Unlock()

	p.Save(ctx)
	return nil
}

// Load replaces the pool's definitions with the stored ones. Arenas
// currently leased keep their lease state if they still exist.
func (p *Pool) Load(ctx context.Context) error {
	defs, err := p.store.LoadArenaDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("load arenas: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	groups := make(map[string][]*Arena, len(defs))
	byName := make(map[string]*Arena)
	for group, list := range defs {
		for _, d := range list {
			if _, dup := byName[d.Name]; dup {
				p.logger.Warn("duplicate arena name in store, skipping", "arena", d.Name, "group", group)
				continue
			}
			a := &Arena{name: d.Name, group: group, bounds: d.Bounds.Normalized(), spawn1: d.Spawn1, spawn2: d.Spawn2}
			if old, ok := p.byName[d.Name]; ok && old.inUse {
				a = old
			}
			groups[group] = append(groups[group], a)
			byName[d.Name] = a
		}
	}
	p.groups = groups
	p.byName = byName
	p.logger.Info("arenas loaded", "groups", len(groups), "arenas", len(byName))
	return nil
}

// Save persists the definitions. Failures are retried, then logged; the pool
// keeps running on its in-memory state.
func (p *Pool) Save(ctx context.Context) {
	defs := p.definitions()
	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return p.store.SaveArenaDefinitions(ctx, defs)
	})
	if err != nil {
		metrics.StoreSaveFailuresTotal.WithLabelValues("arenas").Inc()
		p.logger.Warn("failed to save arena definitions", "error", err)
	}
}

func (p *Pool) definitions() map[string][]configstore.ArenaDef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]configstore.ArenaDef, len(p.groups))
	for group, list := range p.groups {
		defs := make([]configstore.ArenaDef, 0, len(list))
		for _, a := range list {
			inf := a.info()
			defs = append(defs, configstore.ArenaDef{
				Name:   inf.Name,
				Bounds: inf.Bounds,
				Spawn1: inf.Spawn1,
				Spawn2: inf.Spawn2,
			})
		}
		out[group] = defs
	}
	return out
}
