// Package provision creates ready to use task sandboxes.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/tasklog"
	"github.com/slok/agentbox/internal/utils/env"
)

// DefaultCreateTimeout bounds the sandbox creation, cloning included.
const DefaultCreateTimeout = 5 * time.Minute

// CredentialsResolver returns the env var names an agent needs.
type CredentialsResolver interface {
	RequiredEnv(v model.AgentVariant) ([]string, error)
}

// HandleRegistry keeps the live sandbox handles of tasks.
type HandleRegistry interface {
	Register(taskID string, sb sandbox.Sandbox, keepAlive bool) error
	Unregister(taskID string) (sandbox.Sandbox, bool)
}

// ServiceConfig is the configuration of the provisioning service.
type ServiceConfig struct {
	Engine      sandbox.Engine
	Registry    HandleRegistry
	Credentials CredentialsResolver
	// Image is the sandbox image.
	Image string
	// CreateTimeout bounds the engine create call (optional).
	CreateTimeout time.Duration
	// FallbackBranch returns the branch used when the requested one can't be created (optional).
	FallbackBranch func() string
	Logger         log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Credentials == nil {
		return fmt.Errorf("credentials resolver is required")
	}
	if c.Image == "" {
		c.Image = model.DefaultSettings().Image
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = DefaultCreateTimeout
	}
	if c.FallbackBranch == nil {
		c.FallbackBranch = func() string { return conventions.BranchPrefix + "/" + uuid.NewString()[:8] }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "provision.Service"})
	return nil
}

// Request is a sandbox provisioning request.
type Request struct {
	TaskID  string
	Agent   model.AgentVariant
	RepoURL string
	// Token authenticates the clone and later pushes (optional).
	Token string
	// Revision is the git revision to clone (optional).
	Revision            string
	Resources           model.Resources
	Timeout             time.Duration
	InstallDependencies bool
	KeepAlive           bool
	GitAuthor           model.GitAuthor
	// ExistingBranch is set when BranchName already exists on the remote and is cloned.
	ExistingBranch bool
	BranchName     string
	Ports          []int
	Env            map[string]string
	Logger         tasklog.TaskLogger
	IsCancelled    CancelFunc
}

func (r *Request) defaults() error {
	if r.TaskID == "" {
		return fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}
	if err := model.ValidateRepoURL(r.RepoURL); err != nil {
		return err
	}
	if r.BranchName == "" {
		return fmt.Errorf("branch name is required: %w", model.ErrNotValid)
	}
	if r.Timeout <= 0 {
		r.Timeout = model.DefaultSandboxTimeout
	}
	if r.Resources == (model.Resources{}) {
		r.Resources = model.DefaultSettings().Resources
	}
	if r.Logger == nil {
		r.Logger = tasklog.Noop
	}
	return nil
}

// Result is the provisioning outcome.
type Result struct {
	Sandbox    sandbox.Sandbox
	BranchName string
	// Address is the reachable address of the first requested port.
	Address string
	// Cancelled is set when a checkpoint aborted the provisioning, it is not an error.
	Cancelled bool
}

// Service provisions task sandboxes.
type Service struct {
	engine         sandbox.Engine
	registry       HandleRegistry
	credentials    CredentialsResolver
	image          string
	createTimeout  time.Duration
	fallbackBranch func() string
	logger         log.Logger
}

// NewService returns a new provisioning service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		engine:         cfg.Engine,
		registry:       cfg.Registry,
		credentials:    cfg.Credentials,
		image:          cfg.Image,
		createTimeout:  cfg.CreateTimeout,
		fallbackBranch: cfg.FallbackBranch,
		logger:         cfg.Logger,
	}, nil
}

// Provision creates the sandbox of a task, registers its handle and prepares the
// working tree. On a failure after the creation the sandbox is torn down.
func (s *Service) Provision(ctx context.Context, req Request) (*Result, error) {
	if err := req.defaults(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	logger := s.logger.WithValues(log.Kv{"task-id": req.TaskID})
	tl := req.Logger

	required, err := s.credentials.RequiredEnv(req.Agent)
	if err != nil {
		return nil, err
	}
	if missing := env.Missing(req.Env, required); len(missing) > 0 {
		return nil, fmt.Errorf("%s requires %v: %w", req.Agent, missing, model.ErrMissingConfig)
	}

	err = NewCheckpointProvisioner("before-create", logger, req.IsCancelled).Provision(ctx)
	if errors.Is(err, errCancelled) {
		return &Result{Cancelled: true}, nil
	}

	cloneURL, err := AuthenticatedURL(req.RepoURL, req.Token)
	if err != nil {
		return nil, err
	}
	revision := req.Revision
	if req.ExistingBranch {
		revision = req.BranchName
	}

	tl.UpdateProgress(ctx, 15, "Creating sandbox")
	sb, err := s.create(ctx, model.SandboxConfig{
		TaskID:    req.TaskID,
		Image:     s.image,
		Source:    model.SandboxSource{URL: cloneURL, Revision: revision},
		Resources: req.Resources,
		Timeout:   req.Timeout,
		Ports:     req.Ports,
		Env:       req.Env,
	})
	if err != nil {
		return nil, err
	}

	if err := s.registry.Register(req.TaskID, sb, req.KeepAlive); err != nil {
		s.teardown(req.TaskID, sb, logger)
		return nil, fmt.Errorf("could not register sandbox: %w", err)
	}
	tl.UpdateProgress(ctx, 25, fmt.Sprintf("Sandbox %s created", sb.ID()))

	branch := req.BranchName
	deps := NewNoopProvisioner()
	if req.InstallDependencies {
		deps = NewDependenciesProvisioner(sb, tl)
	}
	branching := NewNoopProvisioner()
	if !req.ExistingBranch {
		branching = NewBranchProvisioner(sb, tl, &branch, s.fallbackBranch)
	}
	steps := []Provisioner{
		NewLogProvisioner("after-create", logger, NewCheckpointProvisioner("after-create", logger, req.IsCancelled)),
		NewLogProvisioner("dependencies", logger, deps),
		NewLogProvisioner("after-dependencies", logger, NewCheckpointProvisioner("after-dependencies", logger, req.IsCancelled)),
		NewLogProvisioner("git-author", logger, NewGitAuthorProvisioner(sb, tl, req.GitAuthor)),
		NewLogProvisioner("branch", logger, branching),
		NewLogProvisioner("before-return", logger, NewCheckpointProvisioner("before-return", logger, req.IsCancelled)),
	}

	if err := NewProvisionerChain(steps...).Provision(ctx); err != nil {
		s.teardown(req.TaskID, sb, logger)
		if errors.Is(err, errCancelled) {
			return &Result{Cancelled: true}, nil
		}
		return nil, fmt.Errorf("could not prepare sandbox: %s", redact.Error(err))
	}

	res := &Result{Sandbox: sb, BranchName: branch}
	if len(req.Ports) > 0 {
		addr, err := sb.Address(req.Ports[0])
		if err != nil {
			logger.Warningf("Could not get sandbox address of port %d: %s", req.Ports[0], err)
		} else {
			res.Address = addr
		}
	}
	tl.UpdateProgress(ctx, 35, fmt.Sprintf("Sandbox ready on branch %s", branch))

	return res, nil
}

func (s *Service) create(ctx context.Context, cfg model.SandboxConfig) (sandbox.Sandbox, error) {
	cctx, cancel := context.WithTimeout(ctx, s.createTimeout)
	defer cancel()

	sb, err := s.engine.Create(cctx, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("sandbox not ready after %s: %w", s.createTimeout, model.ErrProvisionTimeout)
		}
		return nil, fmt.Errorf("could not create sandbox: %s", redact.Error(err))
	}
	return sb, nil
}

func (s *Service) teardown(taskID string, sb sandbox.Sandbox, logger log.Logger) {
	s.registry.Unregister(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.engine.Remove(ctx, sb.ID()); err != nil {
		logger.Warningf("Could not remove sandbox %s: %s", sb.ID(), redact.Error(err))
	}
}

// AuthenticatedURL returns the repository url with the token as credentials, the
// repository url is returned as is when there is no token.
func AuthenticatedURL(repoURL, token string) (string, error) {
	if token == "" {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("invalid repository url: %w", model.ErrNotValid)
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}
