package sandbox

import (
	"context"

	"github.com/slok/agentbox/internal/model"
)

// WorkDir is the directory inside every sandbox where the source repository is cloned.
const WorkDir = "/workspace"

// HomeDir is the home directory of the sandbox user, agent CLIs read their configuration from it.
const HomeDir = "/root"

// Sandbox is a live handle to a running sandbox. Handles are not persisted, they are
// obtained from an engine on creation or reconnected with Engine.Get.
type Sandbox interface {
	// ID is the provider handle id, stable across processes.
	ID() string
	// Exec executes a command inside the sandbox, it blocks until the command ends
	// unless opts.Detach is set.
	Exec(ctx context.Context, command []string, opts model.ExecOpts) (*model.ExecResult, error)
	// Address returns the externally reachable address for a sandbox port.
	Address(port int) (string, error)
}

// Engine is the interface for sandbox lifecycle management.
type Engine interface {
	// Check performs preflight checks and returns the results.
	Check(ctx context.Context) []model.CheckResult
	// Create creates a running sandbox with the source repository cloned in WorkDir.
	Create(ctx context.Context, cfg model.SandboxConfig) (Sandbox, error)
	// Get reconnects to an existing running sandbox, returns model.ErrNotFound if the
	// sandbox is gone or not running anymore.
	Get(ctx context.Context, id string) (Sandbox, error)
	// Remove tears down the sandbox, removing a missing sandbox is not an error.
	Remove(ctx context.Context, id string) error
}
