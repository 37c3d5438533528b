package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/admit/internal/domain/models"
)

// MockAuditPublisher is a mock implementation of AuditPublisher
type MockAuditPublisher struct {
	mock.Mock
}

func (m *MockAuditPublisher) PublishRejection(ctx context.Context, event models.RejectionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockAuditPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
