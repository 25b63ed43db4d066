package tasklist

import (
	"context"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// ServiceConfig is the configuration for the task list service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists tasks with optional filtering.
type Service struct {
	repo   storage.TaskRepository
	logger log.Logger
}

// NewService creates a new task list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	UserID string
	// StatusFilter is an optional filter to only show tasks with these statuses.
	StatusFilter []model.TaskStatus
}

// Run lists the tasks of a user newest first, optionally filtered by status.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Task, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", model.ErrNotValid)
	}
	s.logger.Debugf("listing tasks of %s with filter: %v", req.UserID, req.StatusFilter)

	tasks, err := s.repo.ListTasks(ctx, storage.ListTasksOpts{UserID: req.UserID, Statuses: req.StatusFilter})
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}

	s.logger.Debugf("found %d tasks", len(tasks))
	return tasks, nil
}
