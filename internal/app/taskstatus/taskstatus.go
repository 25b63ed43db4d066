package taskstatus

import (
	"context"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// Repository is the storage the task status service needs.
type Repository interface {
	storage.TaskRepository
	storage.MessageRepository
}

// ServiceConfig is the configuration for the task status service.
type ServiceConfig struct {
	Repository Repository
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

// Service returns the state of a task.
type Service struct {
	repo   Repository
	logger log.Logger
}

// NewService creates a new task status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request are the task status request parameters.
type Request struct {
	UserID string
	TaskID string
	// WithMessages also returns the task chat messages.
	WithMessages bool
}

// Response is the task and optionally its chat.
type Response struct {
	Task     model.Task
	Messages []model.Message
}

// Run returns the task of a user, tasks of other users are not found.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	if t.UserID != req.UserID {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, model.ErrNotFound)
	}

	resp := &Response{Task: *t}
	if req.WithMessages {
		msgs, err := s.repo.ListMessages(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("could not list task messages: %w", err)
		}
		resp.Messages = msgs
	}

	return resp, nil
}
