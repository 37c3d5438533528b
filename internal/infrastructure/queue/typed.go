package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/turtacn/admit/internal/domain/service"
)

// Typed serializes records of type T as JSON on top of a QueueStore.
type Typed[T any] struct {
	store service.QueueStore
}

// NewTyped wraps store.
func NewTyped[T any](store service.QueueStore) *Typed[T] {
	return &Typed[T]{store: store}
}

// Push encodes v and appends it.
func (q *Typed[T]) Push(ctx context.Context, key string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return q.store.Push(ctx, key, b)
}

// Pop removes and decodes the head.
func (q *Typed[T]) Pop(ctx context.Context, key string) (T, bool, error) {
	b, ok, err := q.store.Pop(ctx, key)
	return decode[T](key, b, ok, err)
}

// Peek decodes the head.
func (q *Typed[T]) Peek(ctx context.Context, key string) (T, bool, error) {
	b, ok, err := q.store.Peek(ctx, key)
	return decode[T](key, b, ok, err)
}

// PeekRecord decodes the head and also returns its stored bytes, for use
// with RemoveHead.
func (q *Typed[T]) PeekRecord(ctx context.Context, key string) (T, []byte, bool, error) {
	b, ok, err := q.store.Peek(ctx, key)
	v, ok, err := decode[T](key, b, ok, err)
	if !ok {
		return v, nil, false, err
	}
	return v, b, true, nil
}

// RemoveHead drops the head if it still holds raw. supported is false when
// the store cannot remove conditionally; nothing is removed then.
func (q *Typed[T]) RemoveHead(ctx context.Context, key string, raw []byte) (removed, supported bool, err error) {
	hr, ok := q.store.(service.HeadRemover)
	if !ok {
		return false, false, nil
	}
	removed, err = hr.RemoveHead(ctx, key, raw)
	return removed, true, err
}

// Size returns the list length.
func (q *Typed[T]) Size(ctx context.Context, key string) (uint64, error) {
	return q.store.Size(ctx, key)
}

// Store returns the underlying QueueStore.
func (q *Typed[T]) Store() service.QueueStore {
	return q.store
}

func decode[T any](key string, b []byte, ok bool, err error) (T, bool, error) {
	var v T
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}
