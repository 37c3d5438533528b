package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/admit/internal/domain/service"
)

// runStoreContract exercises the behavior every QueueStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) service.QueueStore) {
	t.Run("EmptyKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			v, ok, err := s.Pop(ctx, "nothing")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, v)
		}
		_, ok, err := s.Peek(ctx, "nothing")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.Size(ctx, "nothing")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("FIFO", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, v := range []string{"a", "b", "c"} {
			require.NoError(t, s.Push(ctx, "q", []byte(v)))
		}
		n, err := s.Size(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), n)

		head, ok, err := s.Peek(ctx, "q")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("a"), head)

		for _, want := range []string{"a", "b", "c"} {
			v, ok, err := s.Pop(ctx, "q")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte(want), v)
		}
		_, ok, err = s.Pop(ctx, "q")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Push(ctx, "q", []byte("again")))
		v, ok, err := s.Pop(ctx, "q")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("again"), v)
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Push(ctx, "session:a", []byte("1")))
		require.NoError(t, s.Push(ctx, "session:b", []byte("2")))

		v, ok, err := s.Pop(ctx, "session:b")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("2"), v)

		n, err := s.Size(ctx, "session:a")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("RemoveHead", func(t *testing.T) {
		s := newStore(t)
		hr, ok := s.(service.HeadRemover)
		require.True(t, ok, "store must support conditional head removal")
		ctx := context.Background()

		removed, err := hr.RemoveHead(ctx, "q", []byte("a"))
		require.NoError(t, err)
		assert.False(t, removed)

		for _, v := range []string{"a", "b"} {
			require.NoError(t, s.Push(ctx, "q", []byte(v)))
		}
		removed, err = hr.RemoveHead(ctx, "q", []byte("b"))
		require.NoError(t, err)
		assert.False(t, removed, "only the head may be removed")

		removed, err = hr.RemoveHead(ctx, "q", []byte("a"))
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = hr.RemoveHead(ctx, "q", []byte("a"))
		require.NoError(t, err)
		assert.False(t, removed)

		head, ok, err := s.Peek(ctx, "q")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("b"), head)
		n, err := s.Size(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("ConcurrentPushPop", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const producers, each = 4, 25

		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < each; i++ {
					assert.NoError(t, s.Push(ctx, "jobs", []byte(fmt.Sprintf("%d-%d", p, i))))
				}
			}(p)
		}
		wg.Wait()

		seen := make(map[string]bool)
		var mu sync.Mutex
		for c := 0; c < 4; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					v, ok, err := s.Pop(ctx, "jobs")
					if !assert.NoError(t, err) || !ok {
						return
					}
					mu.Lock()
					assert.False(t, seen[string(v)], "popped twice: %s", v)
					seen[string(v)] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, producers*each)
	})
}
