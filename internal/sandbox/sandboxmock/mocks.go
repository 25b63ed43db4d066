// Package sandboxmock contains testify mocks of the sandbox package interfaces.
package sandboxmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// MockEngine is a mock of sandbox.Engine.
type MockEngine struct {
	mock.Mock
}

var _ sandbox.Engine = &MockEngine{}

func (m *MockEngine) Check(ctx context.Context) []model.CheckResult {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.([]model.CheckResult)
	}
	return nil
}

func (m *MockEngine) Create(ctx context.Context, cfg model.SandboxConfig) (sandbox.Sandbox, error) {
	args := m.Called(ctx, cfg)
	if r := args.Get(0); r != nil {
		return r.(sandbox.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) Get(ctx context.Context, id string) (sandbox.Sandbox, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(sandbox.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) Remove(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockSandbox is a mock of sandbox.Sandbox.
type MockSandbox struct {
	mock.Mock
}

var _ sandbox.Sandbox = &MockSandbox{}

func (m *MockSandbox) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSandbox) Exec(ctx context.Context, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	args := m.Called(ctx, command, opts)
	if r := args.Get(0); r != nil {
		return r.(*model.ExecResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSandbox) Address(port int) (string, error) {
	args := m.Called(port)
	return args.String(0), args.Error(1)
}
