package mocks

import (
	"context"

	"github.com/dukex/flowgraph/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowStore is a mock implementation of persistence.WorkflowStore interface.
type MockWorkflowStore struct {
	mock.Mock
}

func (m *MockWorkflowStore) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowStore) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowStore) DeleteWorkflow(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockWorkflowStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockWorkflowStore) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
