package continuetask

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/storage"
)

// SandboxResolver resolves the live sandbox handle of a task.
type SandboxResolver interface {
	Resolve(ctx context.Context, taskID, handleID string) (sandbox.Sandbox, error)
}

// ServiceConfig is the configuration for the continue task service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Registry   SandboxResolver
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ContinueTask"})
	return nil
}

// Service checks follow up instructions can be run on a task.
type Service struct {
	repo     storage.TaskRepository
	registry SandboxResolver
	logger   log.Logger
}

// NewService creates a new continue task service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:     cfg.Repository,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}, nil
}

// Request is a follow up instruction of a user on a task.
type Request struct {
	UserID      string
	TaskID      string
	Instruction string
	Model       string
}

// Prepare checks the follow up can run and returns the task.
// Errors wrap model.ErrNotFound when the task is missing or owned by another user,
// model.ErrNotValid when no sandbox was ever provisioned and model.ErrSandboxGone
// when the sandbox can't be reconnected. The task is never changed.
func (s *Service) Prepare(ctx context.Context, req Request) (*model.Task, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("instruction is required: %w", model.ErrNotValid)
	}

	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	if t.UserID != req.UserID {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, model.ErrNotFound)
	}
	if t.Status == model.TaskStatusProcessing {
		return nil, fmt.Errorf("task %s is still running: %w", t.ID, model.ErrNotValid)
	}
	if !t.HasSandbox() {
		return nil, fmt.Errorf("task %s has no sandbox: %w", t.ID, model.ErrNotValid)
	}

	if _, err := s.registry.Resolve(ctx, t.ID, t.SandboxID); err != nil {
		s.logger.WithValues(log.Kv{"task-id": t.ID}).Infof("Sandbox %s is gone: %s", t.SandboxID, err)
		return nil, fmt.Errorf("sandbox of task %s can't be reconnected: %w", t.ID, model.ErrSandboxGone)
	}

	return t, nil
}
