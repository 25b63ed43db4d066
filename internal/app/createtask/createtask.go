package createtask

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/ratelimit"
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/utils/env"
	"github.com/slok/agentbox/internal/utils/id"
)

// QuotaChecker consumes and gives back units of the user daily quota.
type QuotaChecker interface {
	Check(ctx context.Context, userID string) (ratelimit.Status, error)
	Release(ctx context.Context, userID string, st ratelimit.Status) error
}

// CredentialsResolver returns the env var names an agent needs.
type CredentialsResolver interface {
	RequiredEnv(v model.AgentVariant) ([]string, error)
}

// ServiceConfig is the configuration for the create task service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Limiter    QuotaChecker
	// Credentials and Env are used to reject tasks whose agent can't authenticate (optional).
	Credentials CredentialsResolver
	Env         map[string]string
	// Now returns the current time (optional).
	Now    func() time.Time
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Limiter == nil {
		return fmt.Errorf("limiter is required")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.CreateTask"})
	return nil
}

// Service handles task creation.
type Service struct {
	repo        storage.TaskRepository
	limiter     QuotaChecker
	credentials CredentialsResolver
	env         map[string]string
	now         func() time.Time
	logger      log.Logger
}

// NewService creates a new create task service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:        cfg.Repository,
		limiter:     cfg.Limiter,
		credentials: cfg.Credentials,
		env:         cfg.Env,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}, nil
}

// Request are the options of a new task.
type Request struct {
	UserID              string
	Prompt              string
	RepoURL             string
	Agent               model.AgentVariant
	Model               string
	BranchName          string
	InstallDependencies bool
	KeepAlive           bool
	MaxDuration         time.Duration
}

// Response is the created task with the quota status after its creation.
type Response struct {
	Task  model.Task
	Quota ratelimit.Status
}

// Create validates and stores a new queued task. The quota is consumed only when the task is
// valid, an exhausted quota returns the quota status with an error wrapping model.ErrRateLimited.
func (s *Service) Create(ctx context.Context, req Request) (*Response, error) {
	now := s.now().UTC()
	t := model.Task{
		ID:                  id.New(),
		UserID:              req.UserID,
		Prompt:              strings.TrimSpace(req.Prompt),
		Agent:               req.Agent,
		Model:               req.Model,
		RepoURL:             strings.TrimSpace(req.RepoURL),
		BranchName:          req.BranchName,
		InstallDependencies: req.InstallDependencies,
		KeepAlive:           req.KeepAlive,
		MaxDuration:         req.MaxDuration,
		Status:              model.TaskStatusQueued,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if t.MaxDuration == 0 {
		t.MaxDuration = model.DefaultTaskMaxDuration
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	if s.credentials != nil {
		keys, err := s.credentials.RequiredEnv(t.Agent)
		if err != nil {
			return nil, fmt.Errorf("could not get %s credentials: %w", t.Agent, err)
		}
		if missing := env.Missing(s.env, keys); len(missing) > 0 {
			return nil, fmt.Errorf("%s agent requires %s: %w", t.Agent, strings.Join(missing, ", "), model.ErrMissingConfig)
		}
	}

	quota, err := s.limiter.Check(ctx, t.UserID)
	if err != nil {
		return &Response{Quota: quota}, err
	}

	if err := s.repo.CreateTask(ctx, t); err != nil {
		if rerr := s.limiter.Release(ctx, t.UserID, quota); rerr != nil {
			s.logger.Warningf("Could not give back the quota of user %s: %s", t.UserID, rerr)
		}
		return nil, fmt.Errorf("could not save task: %w", err)
	}
	s.logger.Infof("Created task %s (agent: %s, user: %s)", t.ID, t.Agent, t.UserID)

	return &Response{Task: t, Quota: quota}, nil
}
