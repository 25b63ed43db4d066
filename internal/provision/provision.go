package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/agentbox/internal/log"
)

// Provisioner is the interface that all provisioners must implement.
// Implementations MUST be idempotent - calling Provision N times must produce the same result.
type Provisioner interface {
	Provision(ctx context.Context) error
}

// ProvisionerFunc is a convenience adapter to allow the use of ordinary functions as Provisioners.
type ProvisionerFunc func(ctx context.Context) error

func (f ProvisionerFunc) Provision(ctx context.Context) error { return f(ctx) }

// NewProvisionerChain returns a Provisioner that runs all provisioners sequentially.
// If any provisioner fails, the chain stops and returns the error.
// An empty chain succeeds immediately.
func NewProvisionerChain(provisioners ...Provisioner) Provisioner {
	return ProvisionerFunc(func(ctx context.Context) error {
		for i, p := range provisioners {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("provisioner chain cancelled at step %d: %w", i, err)
			}

			if err := p.Provision(ctx); err != nil {
				return fmt.Errorf("provisioner chain failed at step %d: %w", i, err)
			}
		}
		return nil
	})
}

// errCancelled stops a provisioner chain at a cancellation checkpoint.
var errCancelled = errors.New("provisioning cancelled")

// CancelFunc returns true when the provisioning is not wanted anymore.
type CancelFunc func(ctx context.Context) bool

// NewCheckpointProvisioner returns a provisioner that stops the chain when isCancelled
// returns true. A nil isCancelled never cancels.
func NewCheckpointProvisioner(name string, logger log.Logger, isCancelled CancelFunc) Provisioner {
	return ProvisionerFunc(func(ctx context.Context) error {
		if isCancelled == nil || !isCancelled(ctx) {
			return nil
		}
		logger.Infof("Provisioning cancelled at %q checkpoint", name)
		return fmt.Errorf("%s: %w", name, errCancelled)
	})
}

// NewNoopProvisioner returns a provisioner that does nothing.
func NewNoopProvisioner() Provisioner {
	return ProvisionerFunc(func(_ context.Context) error { return nil })
}

// NewLogProvisioner wraps a provisioner with debug logging before and after execution.
func NewLogProvisioner(name string, logger log.Logger, p Provisioner) Provisioner {
	return ProvisionerFunc(func(ctx context.Context) error {
		logger.Debugf("Provisioning %q...", name)

		if err := p.Provision(ctx); err != nil {
			return err
		}

		logger.Debugf("Provisioned %q", name)
		return nil
	})
}
