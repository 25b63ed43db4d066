// Package taskrun runs the task lifecycle: sandbox provisioning, agent execution,
// publication and teardown.
package taskrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/gitpub"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/metrics"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/provision"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/scm"
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/tasklog"
	"github.com/slok/agentbox/internal/utils/id"
)

// Provisioner creates task sandboxes.
type Provisioner interface {
	Provision(ctx context.Context, req provision.Request) (*provision.Result, error)
}

// AdapterGetter returns the agent adapter of a variant.
type AdapterGetter interface {
	Adapter(v model.AgentVariant) (agent.Adapter, error)
}

// Publisher publishes the sandbox changes.
type Publisher interface {
	Publish(ctx context.Context, sb sandbox.Sandbox, tl tasklog.TaskLogger, branch, message string) (*gitpub.Result, error)
}

// SandboxRegistry keeps and reconnects the live sandbox handles.
type SandboxRegistry interface {
	Resolve(ctx context.Context, taskID, handleID string) (sandbox.Sandbox, error)
	Unregister(taskID string) (sandbox.Sandbox, bool)
}

// TaskLoggers returns the task loggers.
type TaskLoggers interface {
	For(taskID string) tasklog.TaskLogger
}

// ServiceConfig is the configuration of the task runner.
type ServiceConfig struct {
	Repo        storage.Repository
	TaskLogs    TaskLoggers
	Provisioner Provisioner
	Agents      AdapterGetter
	Publisher   Publisher
	Registry    SandboxRegistry
	Engine      sandbox.Engine
	// SCM is used to know if a task branch already exists on the remote (optional).
	SCM scm.Provider
	// Cipher opens the connector credentials (optional, connectors with credentials fail without it).
	Cipher agent.SecretOpener
	// Env are the agent credentials set in every sandbox.
	Env map[string]string
	// GitToken authenticates clones and pushes (optional).
	GitToken string
	Settings model.Settings
	Metrics  metrics.Recorder
	Logger   log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repo == nil {
		return fmt.Errorf("repository is required")
	}
	if c.TaskLogs == nil {
		return fmt.Errorf("task logs are required")
	}
	if c.Provisioner == nil {
		return fmt.Errorf("provisioner is required")
	}
	if c.Agents == nil {
		return fmt.Errorf("agents are required")
	}
	if c.Publisher == nil {
		return fmt.Errorf("publisher is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("sandbox registry is required")
	}
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Settings.Image == "" {
		c.Settings = model.DefaultSettings()
	}
	if c.Env == nil {
		c.Env = map[string]string{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "taskrun.Service"})
	return nil
}

// Service runs tasks.
type Service struct {
	repo        storage.Repository
	taskLogs    TaskLoggers
	provisioner Provisioner
	agents      AdapterGetter
	publisher   Publisher
	registry    SandboxRegistry
	engine      sandbox.Engine
	scm         scm.Provider
	cipher      agent.SecretOpener
	env         map[string]string
	gitToken    string
	settings    model.Settings
	metrics     metrics.Recorder
	logger      log.Logger
}

// NewService returns a new task runner.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:        cfg.Repo,
		taskLogs:    cfg.TaskLogs,
		provisioner: cfg.Provisioner,
		agents:      cfg.Agents,
		publisher:   cfg.Publisher,
		registry:    cfg.Registry,
		engine:      cfg.Engine,
		scm:         cfg.SCM,
		cipher:      cfg.Cipher,
		env:         cfg.Env,
		gitToken:    cfg.GitToken,
		settings:    cfg.Settings,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

const outcomeCancelled = "cancelled"

// RunNew runs a queued task from the sandbox provisioning to the publication.
// Failures set the task error status and are returned.
func (s *Service) RunNew(ctx context.Context, taskID string) error {
	t, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}
	logger := s.logger.WithValues(log.Kv{"task-id": t.ID})
	tl := s.taskLogs.For(t.ID)

	ctx, cancel := context.WithTimeout(ctx, maxDuration(t))
	defer cancel()

	start := time.Now()
	outcome := string(model.TaskStatusError)
	defer func() { s.metrics.ObserveTaskRun(metrics.RunKindNew, outcome, time.Since(start)) }()

	if err := s.start(ctx, t.ID); err != nil {
		return err
	}
	tl.UpdateProgress(ctx, 5, "Task started")

	if err := s.addMessage(ctx, t.ID, model.MessageRoleUser, t.Prompt); err != nil {
		logger.Warningf("Could not record user message: %s", err)
	}

	existingBranch := false
	branch := t.BranchName
	if branch == "" {
		branch = BranchName(t.Prompt)
	} else if s.scm != nil {
		exists, err := s.scm.BranchExists(ctx, t.RepoURL, branch)
		if err != nil {
			logger.Warningf("Could not check if branch %s exists: %s", branch, redact.Error(err))
		}
		existingBranch = exists
	}
	tl.Info(ctx, fmt.Sprintf("Using branch %s", branch))

	connectors, err := s.repo.ListConnectors(ctx, t.UserID)
	if err != nil {
		logger.Warningf("Could not list user connectors, running without them: %s", err)
		connectors = nil
	}

	var ports []int
	if t.KeepAlive && s.settings.DevServer.Port > 0 {
		ports = []int{s.settings.DevServer.Port}
	}

	tl.UpdateProgress(ctx, 15, "Provisioning sandbox")
	prov, err := s.provisioner.Provision(ctx, provision.Request{
		TaskID:              t.ID,
		Agent:               t.Agent,
		RepoURL:             t.RepoURL,
		Token:               s.gitToken,
		Resources:           s.settings.Resources,
		Timeout:             s.settings.Timeout,
		InstallDependencies: t.InstallDependencies,
		KeepAlive:           t.KeepAlive,
		GitAuthor:           s.settings.GitAuthor,
		ExistingBranch:      existingBranch,
		BranchName:          branch,
		Ports:               ports,
		Env:                 s.env,
		Logger:              tl,
		IsCancelled:         s.isCancelled(t.ID),
	})
	if err != nil {
		return s.fail(ctx, tl, fmt.Sprintf("Sandbox provisioning failed: %s", s.errMsg(ctx, t, err)), err)
	}
	if prov.Cancelled {
		outcome = outcomeCancelled
		tl.Info(ctx, "Task cancelled during provisioning")
		logger.Infof("Task cancelled during provisioning")
		return nil
	}
	sb := prov.Sandbox

	defer func() {
		if !t.KeepAlive {
			s.teardown(t.ID, sb, tl, logger)
		}
	}()

	_, err = s.repo.UpdateTask(ctx, t.ID, func(t *model.Task) error {
		t.SandboxID = sb.ID()
		t.SandboxURL = prov.Address
		t.BranchName = prov.BranchName
		return nil
	})
	if err != nil {
		return s.fail(ctx, tl, "Could not save the task sandbox", err)
	}
	tl.UpdateProgress(ctx, 40, fmt.Sprintf("Sandbox ready, running %s", t.Agent))

	res, err := s.execute(ctx, t, sb, tl, t.Prompt, t.Model, connectors, false)
	if err != nil {
		return s.fail(ctx, tl, fmt.Sprintf("Agent execution failed: %s", s.errMsg(ctx, t, err)), err)
	}
	tl.UpdateProgress(ctx, 70, "Agent finished, publishing changes")

	if err := s.publish(ctx, t, sb, tl, prov.BranchName, t.Prompt); err != nil {
		return s.fail(ctx, tl, fmt.Sprintf("Publishing failed: %s", s.errMsg(ctx, t, err)), err)
	}

	if t.KeepAlive {
		s.startDevServer(ctx, sb, tl, logger)
	}

	tl.UpdateStatus(ctx, model.TaskStatusCompleted, "")
	tl.UpdateProgress(ctx, 100, "Task completed")
	outcome = string(model.TaskStatusCompleted)
	logger.Infof("Task completed (changes: %t)", res.ChangesDetected)

	return nil
}

// ContinueRequest is a follow up instruction on a task with a retained sandbox.
type ContinueRequest struct {
	TaskID      string
	Instruction string
	// Model overrides the task model (optional).
	Model string
}

// RunContinue runs a follow up instruction on the task sandbox. If the sandbox can't be
// reconnected it returns an error wrapping model.ErrSandboxGone and the task is not changed.
func (s *Service) RunContinue(ctx context.Context, req ContinueRequest) error {
	if strings.TrimSpace(req.Instruction) == "" {
		return fmt.Errorf("instruction is required: %w", model.ErrNotValid)
	}
	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}
	if !t.HasSandbox() {
		return fmt.Errorf("task %s has no sandbox: %w", t.ID, model.ErrNotValid)
	}
	logger := s.logger.WithValues(log.Kv{"task-id": t.ID})

	sb, err := s.registry.Resolve(ctx, t.ID, t.SandboxID)
	if err != nil {
		return fmt.Errorf("sandbox of task %s: %s: %w", t.ID, err, model.ErrSandboxGone)
	}

	ctx, cancel := context.WithTimeout(ctx, maxDuration(t))
	defer cancel()

	start := time.Now()
	outcome := string(model.TaskStatusError)
	defer func() { s.metrics.ObserveTaskRun(metrics.RunKindContinue, outcome, time.Since(start)) }()

	if err := s.start(ctx, t.ID); err != nil {
		return err
	}
	tl := s.taskLogs.For(t.ID)
	tl.UpdateProgress(ctx, 5, "Continuing task")

	modelName := t.Model
	if req.Model != "" && req.Model != t.Model {
		modelName = req.Model
		_, err := s.repo.UpdateTask(ctx, t.ID, func(t *model.Task) error {
			t.Model = modelName
			return nil
		})
		if err != nil {
			logger.Warningf("Could not save the task model: %s", err)
		}
	}

	if err := s.addMessage(ctx, t.ID, model.MessageRoleUser, req.Instruction); err != nil {
		logger.Warningf("Could not record user message: %s", err)
	}

	defer func() {
		if !t.KeepAlive {
			s.teardown(t.ID, sb, tl, logger)
		}
	}()

	connectors, err := s.repo.ListConnectors(ctx, t.UserID)
	if err != nil {
		logger.Warningf("Could not list user connectors, running without them: %s", err)
		connectors = nil
	}

	tl.UpdateProgress(ctx, 40, fmt.Sprintf("Running %s", t.Agent))
	if _, err := s.execute(ctx, t, sb, tl, req.Instruction, modelName, connectors, true); err != nil {
		return s.fail(ctx, tl, fmt.Sprintf("Agent execution failed: %s", s.errMsg(ctx, t, err)), err)
	}
	tl.UpdateProgress(ctx, 70, "Agent finished, publishing changes")

	if err := s.publish(ctx, t, sb, tl, t.BranchName, req.Instruction); err != nil {
		return s.fail(ctx, tl, fmt.Sprintf("Publishing failed: %s", s.errMsg(ctx, t, err)), err)
	}

	tl.UpdateStatus(ctx, model.TaskStatusCompleted, "")
	tl.UpdateProgress(ctx, 100, "Task completed")
	outcome = string(model.TaskStatusCompleted)

	return nil
}

func (s *Service) execute(ctx context.Context, t *model.Task, sb sandbox.Sandbox, tl tasklog.TaskLogger, instruction, modelName string, connectors []model.Connector, resumed bool) (*agent.Result, error) {
	adapter, err := s.agents.Adapter(t.Agent)
	if err != nil {
		return nil, err
	}

	msgID := id.New()
	start := time.Now()
	res, err := adapter.Execute(ctx, agent.ExecuteRequest{
		Sandbox:     sb,
		Instruction: instruction,
		Logger:      tl,
		Messages:    s.repo,
		Model:       modelName,
		Connectors:  connectors,
		Cipher:      s.cipher,
		Env:         s.env,
		IsResumed:   resumed,
		SessionID:   t.AgentSessionID,
		TaskID:      t.ID,
		MessageID:   msgID,
	})
	s.metrics.ObserveAgentRun(string(t.Agent), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	if res.AgentResponse != "" {
		err := s.repo.SetMessageContent(ctx, msgID, res.AgentResponse)
		if errors.Is(err, model.ErrNotFound) {
			err = s.repo.CreateMessage(ctx, model.Message{ID: msgID, TaskID: t.ID, Role: model.MessageRoleAgent, Content: res.AgentResponse})
		}
		if err != nil {
			s.logger.Warningf("Could not save agent response of task %s: %s", t.ID, err)
		}
	}

	if res.SessionID != "" && res.SessionID != t.AgentSessionID {
		_, err := s.repo.UpdateTask(ctx, t.ID, func(t *model.Task) error {
			t.AgentSessionID = res.SessionID
			return nil
		})
		if err != nil {
			s.logger.Warningf("Could not save agent session of task %s: %s", t.ID, err)
		}
	}

	return res, nil
}

func (s *Service) publish(ctx context.Context, t *model.Task, sb sandbox.Sandbox, tl tasklog.TaskLogger, branch, instruction string) error {
	res, err := s.publisher.Publish(ctx, sb, tl, branch, CommitMessage(t.Agent, instruction))
	if res != nil {
		s.metrics.IncPublish(string(res.Outcome))
	}
	return err
}

func (s *Service) teardown(taskID string, sb sandbox.Sandbox, tl tasklog.TaskLogger, logger log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.registry.Unregister(taskID)
	if err := s.engine.Remove(ctx, sb.ID()); err != nil {
		logger.Warningf("Could not remove sandbox %s: %s", sb.ID(), redact.Error(err))
	}
	_, err := s.repo.UpdateTask(ctx, taskID, func(t *model.Task) error {
		t.ClearSandbox()
		return nil
	})
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		logger.Warningf("Could not clear task sandbox: %s", err)
	}
	tl.Info(ctx, "Sandbox removed")
}

// start moves the task to processing, a task that is already processing is rejected so
// only one run drives a sandbox at a time.
func (s *Service) start(ctx context.Context, taskID string) error {
	_, err := s.repo.UpdateTask(ctx, taskID, func(t *model.Task) error {
		if t.Status == model.TaskStatusProcessing {
			return fmt.Errorf("task %s is already running: %w", t.ID, model.ErrNotValid)
		}
		t.Error = ""
		t.Progress = 0
		return t.TransitionTo(model.TaskStatusProcessing)
	})
	if err != nil {
		return fmt.Errorf("could not start task: %w", err)
	}
	return nil
}

// isCancelled returns the provisioning cancellation check of a task, a task that was
// removed or marked as error is cancelled.
func (s *Service) isCancelled(taskID string) provision.CancelFunc {
	return func(ctx context.Context) bool {
		if ctx.Err() != nil {
			return true
		}
		t, err := s.repo.GetTask(ctx, taskID)
		if errors.Is(err, model.ErrNotFound) {
			return true
		}
		return err == nil && t.Status == model.TaskStatusError
	}
}

func (s *Service) addMessage(ctx context.Context, taskID string, role model.MessageRole, content string) error {
	return s.repo.CreateMessage(ctx, model.Message{ID: id.New(), TaskID: taskID, Role: role, Content: content})
}

func (s *Service) fail(ctx context.Context, tl tasklog.TaskLogger, msg string, err error) error {
	// Persisted even when the run context expired.
	tl.Fail(context.WithoutCancel(ctx), msg)
	s.logger.Warningf("%s", redact.String(msg))
	return err
}

func (s *Service) errMsg(ctx context.Context, t *model.Task, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("task exceeded its max duration of %s", maxDuration(t))
	}
	return redact.Error(err)
}

func maxDuration(t *model.Task) time.Duration {
	if t.MaxDuration > 0 {
		return t.MaxDuration
	}
	return model.DefaultTaskMaxDuration
}
