// Package service declares the ports the admission core depends on.
package service

import (
	"context"
	"time"

	"github.com/turtacn/admit/internal/domain/models"
)

//go:generate mockery --name QueueStore --output mocks --outpkg mocks
// QueueStore is an ordered list per key, shared by every process that points
// at the same backing store. Values are opaque; callers own serialization.
type QueueStore interface {
	// Push appends value to the tail of the list at key.
	Push(ctx context.Context, key string, value []byte) error

	// Pop removes and returns the head. ok is false when the list is empty;
	// that is a normal outcome, not an error.
	Pop(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Peek returns the head without removing it, with the same empty contract as Pop.
	Peek(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Size returns the current length of the list.
	Size(ctx context.Context, key string) (uint64, error)
}

// HeadRemover is implemented by stores that can drop the head of a list only
// while it still equals expected. removed is false when the list is empty or
// its head has changed.
type HeadRemover interface {
	RemoveHead(ctx context.Context, key string, expected []byte) (removed bool, err error)
}

// Expirer is implemented by stores that can drop a whole key after a TTL.
type Expirer interface {
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

//go:generate mockery --name CounterStore --output mocks --outpkg mocks
// CounterStore keeps fixed-window counters in an external store using its
// native atomic increment, so concurrent processes never lose updates.
type CounterStore interface {
	// Increment adds one hit to key. The first hit of a window starts a
	// window of the given length; resetAt reports when it ends.
	Increment(ctx context.Context, key string, window time.Duration) (hits uint64, resetAt time.Time, err error)

	// Reset drops the counter for key. Missing keys are not an error.
	Reset(ctx context.Context, key string) error
}

// AuditPublisher receives rejected admissions.
type AuditPublisher interface {
	PublishRejection(ctx context.Context, event models.RejectionEvent) error
	Close() error
}
