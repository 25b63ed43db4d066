package taskfiles

import (
	"context"
	"fmt"

	"github.com/slok/agentbox/internal/gitpub"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/scm"
	"github.com/slok/agentbox/internal/storage"
)

// Mode is where the task file changes are read from.
type Mode string

const (
	// ModeLocal reads the changes from the live sandbox working tree.
	ModeLocal Mode = "local"
	// ModeRemote reads the changes from the source control host comparing the
	// default branch with the task branch.
	ModeRemote Mode = "remote"
)

// SandboxResolver resolves the live sandbox handle of a task.
type SandboxResolver interface {
	Resolve(ctx context.Context, taskID, handleID string) (sandbox.Sandbox, error)
}

// LocalChangesFunc returns the changed files of a sandbox.
type LocalChangesFunc func(ctx context.Context, sb sandbox.Sandbox) ([]model.FileChange, error)

// ServiceConfig is the configuration for the task files service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Registry   SandboxResolver
	// SCM is required by the remote mode (optional).
	SCM scm.Provider
	// LocalChanges defaults to gitpub.LocalChanges.
	LocalChanges LocalChangesFunc
	Logger       log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.LocalChanges == nil {
		c.LocalChanges = gitpub.LocalChanges
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.TaskFiles"})
	return nil
}

// Service reads the file changes of a task.
type Service struct {
	repo         storage.TaskRepository
	registry     SandboxResolver
	scm          scm.Provider
	localChanges LocalChangesFunc
	logger       log.Logger
}

// NewService creates a new task files service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:         cfg.Repository,
		registry:     cfg.Registry,
		scm:          cfg.SCM,
		localChanges: cfg.LocalChanges,
		logger:       cfg.Logger,
	}, nil
}

// Request are the task files request parameters.
type Request struct {
	UserID string
	TaskID string
	// Mode defaults to ModeRemote.
	Mode Mode
}

// Response has the flat file changes and their directory tree.
type Response struct {
	Files []model.FileChange `json:"files"`
	Tree  []*model.FileNode  `json:"tree"`
}

// Run returns the file changes of a task.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	if t.UserID != req.UserID {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, model.ErrNotFound)
	}

	var files []model.FileChange
	switch req.Mode {
	case ModeLocal:
		files, err = s.local(ctx, t)
	case ModeRemote, "":
		files, err = s.remote(ctx, t)
	default:
		return nil, fmt.Errorf("unknown files mode %q: %w", req.Mode, model.ErrNotValid)
	}
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []model.FileChange{}
	}

	return &Response{Files: files, Tree: model.BuildFileTree(files)}, nil
}

func (s *Service) local(ctx context.Context, t *model.Task) ([]model.FileChange, error) {
	if !t.HasSandbox() {
		return nil, fmt.Errorf("task %s has no sandbox: %w", t.ID, model.ErrNotValid)
	}
	sb, err := s.registry.Resolve(ctx, t.ID, t.SandboxID)
	if err != nil {
		return nil, fmt.Errorf("sandbox of task %s can't be reconnected: %w", t.ID, model.ErrSandboxGone)
	}

	files, err := s.localChanges(ctx, sb)
	if err != nil {
		return nil, fmt.Errorf("could not read sandbox changes: %w", err)
	}
	return files, nil
}

func (s *Service) remote(ctx context.Context, t *model.Task) ([]model.FileChange, error) {
	if s.scm == nil {
		return nil, fmt.Errorf("source control provider is not configured: %w", model.ErrMissingConfig)
	}
	if t.BranchName == "" {
		return nil, nil
	}

	base, err := s.scm.DefaultBranch(ctx, t.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("could not get default branch: %w", err)
	}
	files, err := s.scm.Compare(ctx, t.RepoURL, base, t.BranchName)
	if err != nil {
		return nil, fmt.Errorf("could not compare %s...%s: %w", base, t.BranchName, err)
	}
	return files, nil
}
