package fake

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/utils/id"
)

// Response is a scripted command response.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// ExecFunc simulates a command execution, what it writes to stdout is forwarded to the exec caller.
type ExecFunc func(ctx context.Context, call Call, stdout io.Writer) (exitCode int, err error)

// Call is a recorded command execution.
type Call struct {
	SandboxID  string
	Command    []string
	Stdin      string
	Env        map[string]string
	WorkingDir string
	Detach     bool
}

// Cmd returns the command as a single space separated string.
func (c Call) Cmd() string { return strings.Join(c.Command, " ") }

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// CreateHook is called before creating a sandbox, returning an error fails the creation.
	CreateHook func(ctx context.Context, cfg model.SandboxConfig) error
	Logger     log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Fake"})
	return nil
}

type handler struct {
	prefix string
	fn     ExecFunc
}

// Engine is a fake implementation of the sandbox.Engine interface.
// It simulates sandboxes in memory, commands are answered by scripted handlers
// matched by command prefix. Unmatched commands succeed with no output.
type Engine struct {
	createHook func(ctx context.Context, cfg model.SandboxConfig) error
	sandboxes  map[string]*model.Sandbox
	handlers   []handler
	calls      []Call
	removed    []string
	mu         sync.Mutex
	logger     log.Logger
}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		createHook: cfg.CreateHook,
		sandboxes:  make(map[string]*model.Sandbox),
		logger:     cfg.Logger,
	}, nil
}

var _ sandbox.Engine = &Engine{}

// On registers a scripted response for the commands that start with prefix.
// Handlers registered later take precedence.
func (e *Engine) On(prefix string, resp Response) {
	e.OnFunc(prefix, func(_ context.Context, _ Call, stdout io.Writer) (int, error) {
		if resp.Err != nil {
			return 0, resp.Err
		}
		_, _ = io.WriteString(stdout, resp.Stdout)
		return resp.ExitCode, nil
	})
}

// OnFunc registers a handler for the commands that start with prefix.
func (e *Engine) OnFunc(prefix string, fn ExecFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler{prefix: prefix, fn: fn})
}

// Calls returns the executed commands of a sandbox in execution order.
func (e *Engine) Calls(sandboxID string) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	var calls []Call
	for _, c := range e.calls {
		if c.SandboxID == sandboxID {
			calls = append(calls, c)
		}
	}
	return calls
}

// Removed returns the ids of the removed sandboxes.
func (e *Engine) Removed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.removed...)
}

// Expire simulates a sandbox reaching its TTL.
func (e *Engine) Expire(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sb, ok := e.sandboxes[id]; ok {
		sb.Status = model.SandboxStatusStopped
	}
}

// Sandboxes returns the sandboxes that are running.
func (e *Engine) Sandboxes() []model.Sandbox {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sbs []model.Sandbox
	for _, sb := range e.sandboxes {
		if sb.Status == model.SandboxStatusRunning {
			sbs = append(sbs, *sb)
		}
	}
	return sbs
}

// Check always succeeds.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	return []model.CheckResult{{ID: "fake_engine", Message: "Fake engine is always available", Status: model.CheckStatusOK}}
}

// Create creates a new simulated sandbox.
func (e *Engine) Create(ctx context.Context, cfg model.SandboxConfig) (sandbox.Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox config: %w", err)
	}

	if e.createHook != nil {
		if err := e.createHook(ctx, cfg); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := id.New()
	now := time.Now().UTC()
	e.sandboxes[id] = &model.Sandbox{
		ID:        id,
		TaskID:    cfg.TaskID,
		Status:    model.SandboxStatusRunning,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.Timeout),
	}
	e.logger.Infof("Created fake sandbox: %s (task: %s)", id, cfg.TaskID)

	return &fakeSandbox{id: id, engine: e}, nil
}

// Get returns a handle to a running simulated sandbox.
func (e *Engine) Get(ctx context.Context, id string) (sandbox.Sandbox, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sb, ok := e.sandboxes[id]
	if !ok || sb.Status != model.SandboxStatusRunning {
		return nil, fmt.Errorf("sandbox %s: %w", id, model.ErrNotFound)
	}

	return &fakeSandbox{id: id, engine: e}, nil
}

// Remove removes the simulated sandbox.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.sandboxes, id)
	e.removed = append(e.removed, id)
	e.logger.Infof("Removed fake sandbox: %s", id)
	return nil
}

func (e *Engine) exec(ctx context.Context, id string, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}

	call := Call{
		SandboxID:  id,
		Command:    command,
		Env:        opts.Env,
		WorkingDir: opts.WorkingDir,
		Detach:     opts.Detach,
	}
	if opts.Stdin != nil {
		b, err := io.ReadAll(opts.Stdin)
		if err != nil {
			return nil, fmt.Errorf("could not read stdin: %w", err)
		}
		call.Stdin = string(b)
	}

	e.mu.Lock()
	sb, ok := e.sandboxes[id]
	if !ok || sb.Status != model.SandboxStatusRunning {
		e.mu.Unlock()
		return nil, fmt.Errorf("sandbox %s: %w", id, model.ErrNotFound)
	}
	e.calls = append(e.calls, call)
	fn := e.handlerFor(call.Cmd())
	e.mu.Unlock()

	if fn == nil {
		return &model.ExecResult{ExitCode: 0}, nil
	}

	stdout := opts.Stdout
	if stdout == nil || opts.Detach {
		stdout = io.Discard
	}
	exitCode, err := fn(ctx, call, stdout)
	if err != nil {
		return nil, err
	}
	if opts.Detach {
		exitCode = 0
	}

	return &model.ExecResult{ExitCode: exitCode}, nil
}

func (e *Engine) handlerFor(cmd string) ExecFunc {
	for i := len(e.handlers) - 1; i >= 0; i-- {
		if strings.HasPrefix(cmd, e.handlers[i].prefix) {
			return e.handlers[i].fn
		}
	}
	return nil
}

type fakeSandbox struct {
	id     string
	engine *Engine
}

func (f *fakeSandbox) ID() string { return f.id }

func (f *fakeSandbox) Exec(ctx context.Context, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	return f.engine.exec(ctx, f.id, command, opts)
}

func (f *fakeSandbox) Address(port int) (string, error) {
	return fmt.Sprintf("http://%s.sandbox.local:%d", strings.ToLower(f.id), port), nil
}
