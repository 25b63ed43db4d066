package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// RegistryConfig is the configuration for the sandbox registry.
type RegistryConfig struct {
	Engine sandbox.Engine
	Logger log.Logger
}

func (c *RegistryConfig) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Registry"})
	return nil
}

type entry struct {
	sandbox   sandbox.Sandbox
	keepAlive bool
}

// Registry is the process wide map of live sandbox handles by task id.
// A miss is never authoritative, handles are reconnected through the engine.
type Registry struct {
	engine  sandbox.Engine
	entries map[string]entry
	mu      sync.RWMutex
	logger  log.Logger
}

// NewRegistry returns a new sandbox registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Registry{
		engine:  cfg.Engine,
		entries: map[string]entry{},
		logger:  cfg.Logger,
	}, nil
}

// Register registers a sandbox handle for a task. Registering the same sandbox again
// updates its keep alive flag, registering a different one fails.
func (r *Registry) Register(taskID string, sb sandbox.Sandbox, keepAlive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[taskID]; ok && e.sandbox.ID() != sb.ID() {
		return fmt.Errorf("task %s already has sandbox %s registered: %w", taskID, e.sandbox.ID(), model.ErrAlreadyExists)
	}

	r.entries[taskID] = entry{sandbox: sb, keepAlive: keepAlive}
	r.logger.Debugf("Sandbox %s registered for task %s (keep-alive: %t)", sb.ID(), taskID, keepAlive)
	return nil
}

// Unregister removes the task sandbox handle and returns it if there was one.
func (r *Registry) Unregister(taskID string) (sandbox.Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	if !ok {
		return nil, false
	}
	delete(r.entries, taskID)
	return e.sandbox, true
}

// Get returns the registered handle for a task without reconnecting.
func (r *Registry) Get(taskID string) (sandbox.Sandbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[taskID]
	return e.sandbox, ok
}

// KeepAlive returns the keep alive flag of a registered task sandbox.
func (r *Registry) KeepAlive(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[taskID].keepAlive
}

// Tasks returns the task ids with a registered sandbox.
func (r *Registry) Tasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Resolve returns the live sandbox of a task. It checks the registry first and on a miss
// reconnects using the persisted handle id, re-registering the handle as kept alive.
// Any failure returns an error wrapping model.ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, taskID, handleID string) (sandbox.Sandbox, error) {
	if sb, ok := r.Get(taskID); ok {
		if handleID == "" || sb.ID() == handleID {
			return sb, nil
		}
	}

	if handleID == "" {
		return nil, fmt.Errorf("task %s has no sandbox: %w", taskID, model.ErrNotFound)
	}

	sb, err := r.engine.Get(ctx, handleID)
	if err != nil {
		r.logger.Debugf("Could not reconnect to sandbox %s of task %s: %s", handleID, taskID, err)
		return nil, fmt.Errorf("sandbox %s of task %s could not be reconnected: %w", handleID, taskID, model.ErrNotFound)
	}

	r.mu.Lock()
	r.entries[taskID] = entry{sandbox: sb, keepAlive: true}
	r.mu.Unlock()

	r.logger.Infof("Reconnected to sandbox %s of task %s", handleID, taskID)
	return sb, nil
}
