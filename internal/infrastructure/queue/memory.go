// Package queue provides ordered-list stores keyed by opaque strings:
// in-process, Redis and SQL implementations of service.QueueStore.
package queue

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/turtacn/admit/pkg/errors"
)

type memList struct {
	mu     sync.Mutex
	values [][]byte
	// dead is set when the list is removed from the cache; writers that
	// find it set must look the key up again.
	dead bool
}

// MemoryStore is a single-process QueueStore. Lists live in a go-cache so a
// key given a TTL with Expire disappears on its own.
type MemoryStore struct {
	items *cache.Cache
}

// NewMemoryStore creates an empty store; expired lists are purged every
// cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{items: cache.New(cache.NoExpiration, cleanupInterval)}
}

func (s *MemoryStore) get(key string) (*memList, bool) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*memList), true
}

// Push appends value to the tail of key's list.
func (s *MemoryStore) Push(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.ErrStoreUnavailable("push", err)
	}
	v := append([]byte(nil), value...)
	for {
		l, ok := s.get(key)
		if !ok {
			l = &memList{}
			if s.items.Add(key, l, cache.NoExpiration) != nil {
				continue
			}
		}
		l.mu.Lock()
		if l.dead {
			l.mu.Unlock()
			continue
		}
		l.values = append(l.values, v)
		l.mu.Unlock()
		return nil
	}
}

// Pop removes and returns the head of key's list.
func (s *MemoryStore) Pop(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, errors.ErrStoreUnavailable("pop", err)
	}
	l, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead || len(l.values) == 0 {
		return nil, false, nil
	}
	return s.dropHead(key, l), true, nil
}

// dropHead removes l's head; l.mu must be held and the list non-empty.
func (s *MemoryStore) dropHead(key string, l *memList) []byte {
	head := l.values[0]
	l.values[0] = nil
	l.values = l.values[1:]
	if len(l.values) == 0 {
		l.dead = true
		s.items.Delete(key)
	}
	return head
}

// RemoveHead pops key's head only if it equals expected.
func (s *MemoryStore) RemoveHead(ctx context.Context, key string, expected []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.ErrStoreUnavailable("remove_head", err)
	}
	l, ok := s.get(key)
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead || len(l.values) == 0 || !bytes.Equal(l.values[0], expected) {
		return false, nil
	}
	s.dropHead(key, l)
	return true, nil
}

// Peek returns the head of key's list without removing it.
func (s *MemoryStore) Peek(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, errors.ErrStoreUnavailable("peek", err)
	}
	l, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead || len(l.values) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), l.values[0]...), true, nil
}

// Size returns the length of key's list.
func (s *MemoryStore) Size(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.ErrStoreUnavailable("size", err)
	}
	l, ok := s.get(key)
	if !ok {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return 0, nil
	}
	return uint64(len(l.values)), nil
}

// Expire drops key's whole list once ttl elapses. Unknown keys are ignored.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errors.ErrStoreUnavailable("expire", err)
	}
	l, ok := s.get(key)
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return nil
	}
	_ = s.items.Replace(key, l, ttl)
	return nil
}
