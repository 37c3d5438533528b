package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockCounterStore is a mock implementation of CounterStore
type MockCounterStore struct {
	mock.Mock
}

func (m *MockCounterStore) Increment(ctx context.Context, key string, window time.Duration) (uint64, time.Time, error) {
	args := m.Called(ctx, key, window)
	return args.Get(0).(uint64), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockCounterStore) Reset(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
