package syncutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_LockUnlock(t *testing.T) {
	m := NewKeyedMutex()
	unlock := m.Lock("duel-1")
	unlock()

	unlock, err := m.LockContext(context.Background(), "duel-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	unlock()
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex()

	var counter int64
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			var unlock func()
			if i%2 == 0 {
				unlock = m.Lock("counter")
			} else {
				u, err := m.LockContext(context.Background(), "counter")
				if err != nil {
					t.Errorf("lock failed: %v", err)
					return
				}
				unlock = u
			}
			defer unlock()
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != n {
		t.Fatalf("expected %d, got %d: mutual exclusion violated", n, got)
	}
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()
	unlock := m.Lock("blocked")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := m.LockContext(ctx, "blocked"); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestKeyedMutex_TryLock(t *testing.T) {
	m := NewKeyedMutex()
	unlock, ok := m.TryLock("k")
	if !ok {
		t.Fatal("expected free key to lock")
	}
	if _, ok := m.TryLock("k"); ok {
		t.Fatal("expected held key to refuse TryLock")
	}
	unlock()
	if u, ok := m.TryLock("k"); !ok {
		t.Fatal("expected key to be free after unlock")
	} else {
		u()
	}
}

func TestKeyedMutex_UnlockHandsOff(t *testing.T) {
	m := NewKeyedMutex()
	unlock := m.Lock("relay")

	acquired := make(chan struct{})
	go func() {
		u := m.Lock("relay")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second goroutine acquired lock before first released")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second goroutine did not acquire lock after release")
	}
}
