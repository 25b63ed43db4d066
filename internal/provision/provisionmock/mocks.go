// Package provisionmock contains testify mocks of the provision package interfaces.
package provisionmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/agentbox/internal/provision"
)

// MockProvisioner is a mock of provision.Provisioner.
type MockProvisioner struct {
	mock.Mock
}

var _ provision.Provisioner = &MockProvisioner{}

func (m *MockProvisioner) Provision(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
