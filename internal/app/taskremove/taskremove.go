package taskremove

import (
	"context"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/storage"
)

// HandleRegistry drops the live sandbox handles of tasks.
type HandleRegistry interface {
	Unregister(taskID string) (sandbox.Sandbox, bool)
}

// ServiceConfig is the configuration for the task remove service.
type ServiceConfig struct {
	Engine     sandbox.Engine
	Registry   HandleRegistry
	Repository storage.TaskRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}

	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.TaskRemove"})

	return nil
}

// Service removes a task and tears down its sandbox.
type Service struct {
	engine   sandbox.Engine
	registry HandleRegistry
	repo     storage.TaskRepository
	logger   log.Logger
}

// NewService creates a new task remove service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		engine:   cfg.Engine,
		registry: cfg.Registry,
		repo:     cfg.Repository,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the remove request parameters.
type Request struct {
	UserID string
	TaskID string
}

// Run tears down the task sandbox and deletes the task with its messages.
// A task being provisioned is cancelled at its next checkpoint.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	s.logger.Debugf("removing task: %s", req.TaskID)

	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	if t.UserID != req.UserID {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, model.ErrNotFound)
	}

	ids := map[string]struct{}{}
	if sb, ok := s.registry.Unregister(t.ID); ok {
		ids[sb.ID()] = struct{}{}
	}
	if t.HasSandbox() {
		ids[t.SandboxID] = struct{}{}
	}
	for id := range ids {
		if err := s.engine.Remove(ctx, id); err != nil {
			return nil, fmt.Errorf("could not remove sandbox %s: %w", id, err)
		}
		s.logger.Infof("Removed sandbox %s of task %s", id, t.ID)
	}

	if err := s.repo.DeleteTask(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("could not delete task: %w", err)
	}
	s.logger.Infof("Removed task: %s", t.ID)

	return t, nil
}
