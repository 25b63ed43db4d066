package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/agent/agents"
	"github.com/slok/agentbox/internal/app/connectors"
	"github.com/slok/agentbox/internal/app/continuetask"
	"github.com/slok/agentbox/internal/app/createtask"
	"github.com/slok/agentbox/internal/app/taskfiles"
	"github.com/slok/agentbox/internal/app/tasklist"
	"github.com/slok/agentbox/internal/app/taskremove"
	"github.com/slok/agentbox/internal/app/taskrun"
	"github.com/slok/agentbox/internal/app/taskstatus"
	"github.com/slok/agentbox/internal/gitpub"
	"github.com/slok/agentbox/internal/metrics"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/provision"
	"github.com/slok/agentbox/internal/ratelimit"
	"github.com/slok/agentbox/internal/sandbox/docker"
	"github.com/slok/agentbox/internal/sandbox/registry"
	"github.com/slok/agentbox/internal/scm/github"
	"github.com/slok/agentbox/internal/secret"
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/storage/io"
	"github.com/slok/agentbox/internal/storage/memory"
	"github.com/slok/agentbox/internal/storage/sqlite"
	"github.com/slok/agentbox/internal/tasklog"
	utilsenv "github.com/slok/agentbox/internal/utils/env"
)

// githubTokenEnv is set in the agent env so the agent CLIs can use the GitHub API.
const githubTokenEnv = "GITHUB_TOKEN"

// stack has every service of the application wired together.
type stack struct {
	settings model.Settings
	repo     storage.Repository
	sqlite   *sqlite.Repository
	engine   *docker.Engine
	registry *registry.Registry
	agents   *agent.Registry
	cipher   *secret.Cipher
	scm      *github.Provider
	env      map[string]string
	limiter  *ratelimit.Limiter

	runner       *taskrun.Service
	createTask   *createtask.Service
	continueTask *continuetask.Service
	taskFiles    *taskfiles.Service
	taskStatus   *taskstatus.Service
	taskList     *tasklist.Service
	taskRemove   *taskremove.Service
	connectors   *connectors.Service
}

// Close releases the stack resources.
func (s *stack) Close() error {
	if s.sqlite != nil {
		return s.sqlite.Close()
	}
	return nil
}

// loadSettings returns the default settings or the ones of the config file.
func loadSettings(ctx context.Context, configPath string) (model.Settings, error) {
	if configPath == "" {
		return model.DefaultSettings(), nil
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return model.Settings{}, fmt.Errorf("could not resolve config path: %w", err)
	}

	settings, err := io.NewSettingsYAMLRepository(os.DirFS("/")).GetSettings(ctx, absPath[1:])
	if err != nil {
		return model.Settings{}, fmt.Errorf("could not load settings: %w", err)
	}
	return settings, nil
}

// newRepository returns the record store selected by the root flags.
func newRepository(ctx context.Context, root *RootCommand) (storage.Repository, *sqlite.Repository, error) {
	switch root.Store {
	case StoreMemory:
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: root.Logger})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create memory repository: %w", err)
		}
		return repo, nil, nil
	default:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: root.DBPath,
			Logger: root.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create sqlite repository: %w", err)
		}
		return repo, repo, nil
	}
}

// newCipher returns the connector cipher, a missing identity generates an ephemeral one.
func newCipher(root *RootCommand) (*secret.Cipher, error) {
	identity := root.AgeIdentity
	if identity == "" {
		generated, err := secret.GenerateIdentity()
		if err != nil {
			return nil, fmt.Errorf("could not generate age identity: %w", err)
		}
		identity = generated
		root.Logger.Warningf("No age identity configured, using an ephemeral one: stored connector credentials won't be readable after exit")
	}

	cipher, err := secret.NewCipher(identity)
	if err != nil {
		return nil, fmt.Errorf("could not create cipher: %w", err)
	}
	return cipher, nil
}

// newStack wires the application services.
func newStack(ctx context.Context, root *RootCommand, rec metrics.Recorder) (_ *stack, err error) {
	logger := root.Logger
	if rec == nil {
		rec = metrics.Noop
	}

	settings, err := loadSettings(ctx, root.ConfigPath)
	if err != nil {
		return nil, err
	}

	s := &stack{settings: settings}
	s.repo, s.sqlite, err = newRepository(ctx, root)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.engine, err = docker.NewEngine(docker.EngineConfig{
		PublicHost: settings.PublicHost,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create docker engine: %w", err)
	}

	s.registry, err = registry.NewRegistry(registry.RegistryConfig{Engine: s.engine, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create sandbox registry: %w", err)
	}

	s.agents, err = agents.NewRegistry(agents.RegistryConfig{
		InstallCommands: settings.AgentInstall,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create agents: %w", err)
	}

	s.cipher, err = newCipher(root)
	if err != nil {
		return nil, err
	}

	s.scm, err = github.NewProvider(github.ProviderConfig{Token: root.GitHubToken, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create github provider: %w", err)
	}

	s.env = utilsenv.FromHost(agents.CredentialEnv(s.agents))
	if root.GitHubToken != "" {
		s.env[githubTokenEnv] = root.GitHubToken
	}

	s.limiter, err = ratelimit.NewLimiter(ratelimit.LimiterConfig{
		Repo:       s.repo,
		DailyLimit: settings.DailyQuota,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create limiter: %w", err)
	}

	taskLogs, err := tasklog.NewService(tasklog.ServiceConfig{Repo: s.repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create task logs: %w", err)
	}

	provisioner, err := provision.NewService(provision.ServiceConfig{
		Engine:      s.engine,
		Registry:    s.registry,
		Credentials: s.agents,
		Image:       settings.Image,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create provisioner: %w", err)
	}

	publisher, err := gitpub.NewPublisher(gitpub.PublisherConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create git publisher: %w", err)
	}

	s.runner, err = taskrun.NewService(taskrun.ServiceConfig{
		Repo:        s.repo,
		TaskLogs:    taskLogs,
		Provisioner: provisioner,
		Agents:      s.agents,
		Publisher:   publisher,
		Registry:    s.registry,
		Engine:      s.engine,
		SCM:         s.scm,
		Cipher:      s.cipher,
		Env:         s.env,
		GitToken:    root.GitHubToken,
		Settings:    settings,
		Metrics:     rec,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task runner: %w", err)
	}

	s.createTask, err = createtask.NewService(createtask.ServiceConfig{
		Repository:  s.repo,
		Limiter:     s.limiter,
		Credentials: s.agents,
		Env:         s.env,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task creation service: %w", err)
	}

	s.continueTask, err = continuetask.NewService(continuetask.ServiceConfig{
		Repository: s.repo,
		Registry:   s.registry,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task continuation service: %w", err)
	}

	s.taskFiles, err = taskfiles.NewService(taskfiles.ServiceConfig{
		Repository: s.repo,
		Registry:   s.registry,
		SCM:        s.scm,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task files service: %w", err)
	}

	s.taskStatus, err = taskstatus.NewService(taskstatus.ServiceConfig{Repository: s.repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create task status service: %w", err)
	}

	s.taskList, err = tasklist.NewService(tasklist.ServiceConfig{Repository: s.repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create task list service: %w", err)
	}

	s.taskRemove, err = taskremove.NewService(taskremove.ServiceConfig{
		Engine:     s.engine,
		Registry:   s.registry,
		Repository: s.repo,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task removal service: %w", err)
	}

	s.connectors, err = connectors.NewService(connectors.ServiceConfig{
		Repository: s.repo,
		Sealer:     s.cipher,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create connectors service: %w", err)
	}

	return s, nil
}
