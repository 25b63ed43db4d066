// Package storagemock contains testify mocks of the storage package interfaces.
package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// MockRepository is a mock of storage.Repository.
type MockRepository struct {
	mock.Mock
}

var _ storage.Repository = &MockRepository{}

func (m *MockRepository) CreateTask(ctx context.Context, t model.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockRepository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*model.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ListTasks(ctx context.Context, opts storage.ListTasksOpts) ([]model.Task, error) {
	args := m.Called(ctx, opts)
	if r := args.Get(0); r != nil {
		return r.([]model.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) UpdateTask(ctx context.Context, id string, fn func(t *model.Task) error) (*model.Task, error) {
	args := m.Called(ctx, id, fn)
	if r := args.Get(0); r != nil {
		return r.(*model.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) DeleteTask(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) CreateMessage(ctx context.Context, msg model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockRepository) AppendMessageContent(ctx context.Context, id string, delta string) error {
	args := m.Called(ctx, id, delta)
	return args.Error(0)
}

func (m *MockRepository) SetMessageContent(ctx context.Context, id string, content string) error {
	args := m.Called(ctx, id, content)
	return args.Error(0)
}

func (m *MockRepository) ListMessages(ctx context.Context, taskID string) ([]model.Message, error) {
	args := m.Called(ctx, taskID)
	if r := args.Get(0); r != nil {
		return r.([]model.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) UpsertConnector(ctx context.Context, c model.Connector) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) ListConnectors(ctx context.Context, userID string) ([]model.Connector, error) {
	args := m.Called(ctx, userID)
	if r := args.Get(0); r != nil {
		return r.([]model.Connector), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) DeleteConnector(ctx context.Context, userID, name string) error {
	args := m.Called(ctx, userID, name)
	return args.Error(0)
}

func (m *MockRepository) Increment(ctx context.Context, userID string, day time.Time, limit int) (int, bool, error) {
	args := m.Called(ctx, userID, day, limit)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *MockRepository) Decrement(ctx context.Context, userID string, day time.Time) (int, error) {
	args := m.Called(ctx, userID, day)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) Count(ctx context.Context, userID string, day time.Time) (int, error) {
	args := m.Called(ctx, userID, day)
	return args.Int(0), args.Error(1)
}
