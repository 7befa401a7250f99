// Package syncutil provides the keyed lock that gives each duel a single writer.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyedMutex serializes work per string key over a fixed pool of
// channel-based mutexes. Memory stays bounded no matter how many keys are
// seen; keys that hash to the same shard share a lock. A holder must never
// take a second key while holding one.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewKeyedMutex creates a keyed mutex with every shard unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// Lock blocks until the key is held and returns its unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	m.init()
	ch := m.shards[shardIdx(key)]
	<-ch
	return func() { ch <- struct{}{} }
}

// LockContext acquires the key unless ctx is done first.
// On success the caller MUST call the returned unlock function.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	ch := m.shards[shardIdx(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the key only if it is free right now.
func (m *KeyedMutex) TryLock(key string) (func(), bool) {
	m.init()
	ch := m.shards[shardIdx(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, true
	default:
		return nil, false
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
