// Package tick drives every duel timer from one fixed-rate loop.
//
// Work is scheduled in ticks rather than wall-clock time. Each task carries a
// key (normally a duel id); before a callback runs the loop takes that key's
// lock, so timer callbacks and player intents on the same duel never
// interleave. A task cancelled while its callback waits for the key lock does
// not run.
package tick

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/syncutil"
)

// DefaultRate is the number of ticks per second.
const DefaultRate = 20

// Loop is a fixed-rate scheduler.
type Loop struct {
	rate   int
	locks  *syncutil.KeyedMutex
	logger *slog.Logger

	mu    sync.Mutex
	now   uint64
	seq   uint64
	queue taskQueue

	stepMu  sync.Mutex
	stop    chan struct{}
	running atomic.Bool
}

// New creates a loop running at rate ticks per second. Callbacks lock their
// key on locks, which must be the same keyed mutex intents use.
func New(rate int, locks *syncutil.KeyedMutex, logger *slog.Logger) *Loop {
	if rate <= 0 {
		rate = DefaultRate
	}
	if locks == nil {
		locks = syncutil.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		rate:   rate,
		locks:  locks,
		logger: logger,
		stop:   make(chan struct{}, 1),
	}
}

// Rate returns ticks per second.
func (l *Loop) Rate() int { return l.rate }

// Locks returns the keyed mutex shared with callers.
func (l *Loop) Locks() *syncutil.KeyedMutex { return l.locks }

// Now returns the current tick number.
func (l *Loop) Now() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Ticks converts a duration to a tick count, rounding up. Any positive
// duration is at least one tick.
func (l *Loop) Ticks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	per := time.Second / time.Duration(l.rate)
	n := uint64((d + per - 1) / per)
	if n == 0 {
		n = 1
	}
	return n
}

// Seconds converts whole seconds to ticks.
func (l *Loop) Seconds(s int) uint64 {
	if s <= 0 {
		return 0
	}
	return uint64(s) * uint64(l.rate)
}

// After runs fn once, delay ticks from now. A zero delay runs on the next tick.
func (l *Loop) After(key string, delay uint64, fn func()) *Task {
	return l.schedule(key, delay, 0, fn)
}

// Every runs fn after delay ticks and then every period ticks until cancelled.
func (l *Loop) Every(key string, delay, period uint64, fn func()) *Task {
	if period == 0 {
		period = 1
	}
	return l.schedule(key, delay, period, fn)
}

func (l *Loop) schedule(key string, delay, period uint64, fn func()) *Task {
	if delay == 0 {
		delay = 1
	}
	t := &Task{key: key, period: period, fn: fn}
	l.mu.Lock()
	t.due = l.now + delay
	l.seq++
	t.seq = l.seq
	heap.Push(&l.queue, t)
	l.mu.Unlock()
	return t
}

// Pending returns the number of queued tasks, including cancelled ones not yet
// discarded.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Advance steps the loop n ticks synchronously.
func (l *Loop) Advance(n int) {
	for i := 0; i < n; i++ {
		l.step()
	}
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Run ticks the loop at its rate until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	l.running.Store(true)
	defer l.running.Store(false)

	ticker := time.NewTicker(time.Second / time.Duration(l.rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			l.step()
		}
	}
}

// Stop signals Run to return.
func (l *Loop) Stop() {
	select {
	case l.stop <- struct{}{}:
	default:
	}
}

func (l *Loop) step() {
	l.stepMu.Lock()
	defer l.stepMu.Unlock()

	l.mu.Lock()
	l.now++
	now := l.now
	var due []*Task
	for len(l.queue) > 0 && l.queue[0].due <= now {
		due = append(due, heap.Pop(&l.queue).(*Task))
	}
	l.mu.Unlock()

	for _, t := range due {
		if t.cancelled.Load() {
			continue
		}
		l.run(t)
		if t.period > 0 && !t.cancelled.Load() {
			l.mu.Lock()
			t.due = now + t.period
			l.seq++
			t.seq = l.seq
			heap.Push(&l.queue, t)
			l.mu.Unlock()
		}
	}
}

func (l *Loop) run(t *Task) {
	if t.key != "" {
		unlock := l.locks.Lock(t.key)
		defer unlock()
	}
	// An intent may have cancelled the task while we waited for the key.
	if t.cancelled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.cancelled.Store(true)
			metrics.TimerPanicsTotal.Inc()
			l.logger.Error("panic in tick callback", "key", t.key, "panic", fmt.Sprint(r))
		}
	}()
	metrics.TimerCallbacksTotal.Inc()
	t.fn()
}

// Task is a scheduled callback.
type Task struct {
	key       string
	due       uint64
	period    uint64
	seq       uint64
	index     int
	fn        func()
	cancelled atomic.Bool
}

// Cancel stops the task from running again. It is safe on a nil task and
// safe to call more than once.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
}

// Cancelled reports whether the task was cancelled.
func (t *Task) Cancelled() bool {
	return t == nil || t.cancelled.Load()
}

// Key returns the lock key the task runs under.
func (t *Task) Key() string { return t.key }

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
