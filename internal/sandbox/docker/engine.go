package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/utils/id"
)

const (
	labelManaged = "dev.agentbox.managed"
	labelTaskID  = "dev.agentbox.task-id"
	labelExpires = "dev.agentbox.expires-at"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecStart(ctx context.Context, execID string, options container.ExecStartOptions) error
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// EngineConfig is the configuration for the Docker engine.
type EngineConfig struct {
	Client DockerClient
	// PublicHost is the host used to build the reachable sandbox addresses.
	PublicHost string
	Logger     log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.PublicHost == "" {
		c.PublicHost = "127.0.0.1"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Docker"})
	return nil
}

// Engine is the Docker implementation of the sandbox.Engine interface.
// Every sandbox is a container that sleeps for the sandbox timeout and is
// removed automatically by the daemon when the sleep ends.
type Engine struct {
	client     DockerClient
	publicHost string
	logger     log.Logger
}

// NewEngine creates a new Docker engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		client:     cfg.Client,
		publicHost: cfg.PublicHost,
		logger:     cfg.Logger,
	}, nil
}

var _ sandbox.Engine = &Engine{}

func containerName(id string) string { return fmt.Sprintf("agentbox-%s", strings.ToLower(id)) }

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "No such container") || strings.Contains(err.Error(), "No such exec")
}

// Check checks the Docker daemon is reachable.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	ping, err := e.client.Ping(ctx)
	if err != nil {
		return []model.CheckResult{{ID: "docker_daemon", Message: fmt.Sprintf("Docker daemon is not reachable: %s", err), Status: model.CheckStatusError}}
	}

	return []model.CheckResult{{ID: "docker_daemon", Message: fmt.Sprintf("Docker daemon reachable (API %s)", ping.APIVersion), Status: model.CheckStatusOK}}
}

// Create creates and starts a new Docker container sandbox and clones the source into it.
func (e *Engine) Create(ctx context.Context, cfg model.SandboxConfig) (sandbox.Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox config: %w", err)
	}

	id := id.New()
	name := containerName(id)
	logger := e.logger.WithValues(log.Kv{"sandbox-id": id, "task-id": cfg.TaskID})

	// Pull the image.
	logger.Infof("[1/4] Pulling image: %s", cfg.Image)
	pullResp, err := e.client.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		// The image may only exist locally, creation fails later if it doesn't.
		logger.Warningf("Could not pull image %s: %s", cfg.Image, err)
	} else {
		_, _ = io.Copy(io.Discard, pullResp)
		pullResp.Close()
	}

	// Create container.
	logger.Infof("[2/4] Creating container: %s", name)
	var envVars []string
	for k, v := range cfg.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range cfg.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0"}}
	}

	expiresAt := time.Now().UTC().Add(cfg.Timeout)
	containerConfig := &container.Config{
		Image:        cfg.Image,
		Env:          envVars,
		WorkingDir:   "/",
		ExposedPorts: exposed,
		// The sleep is the hard TTL of the sandbox.
		Cmd: []string{"sleep", strconv.Itoa(int(cfg.Timeout.Seconds()))},
		Labels: map[string]string{
			labelManaged: "true",
			labelTaskID:  cfg.TaskID,
			labelExpires: expiresAt.Format(time.RFC3339),
		},
	}
	hostConfig := &container.HostConfig{
		AutoRemove:   true,
		PortBindings: bindings,
		Resources: container.Resources{
			NanoCPUs: int64(cfg.Resources.VCPUs * 1e9),
			Memory:   int64(cfg.Resources.MemoryMB) * 1024 * 1024,
		},
	}
	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	// Start the container.
	logger.Infof("[3/4] Starting container: %s", resp.ID)
	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		e.cleanup(name)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	sb := &dockerSandbox{id: id, engine: e}

	// Clone the source.
	logger.Infof("[4/4] Cloning source into %s", sandbox.WorkDir)
	cloneCmd := []string{"git", "clone"}
	if cfg.Source.Depth > 0 {
		cloneCmd = append(cloneCmd, "--depth", strconv.Itoa(cfg.Source.Depth))
	}
	if cfg.Source.Revision != "" {
		cloneCmd = append(cloneCmd, "--branch", cfg.Source.Revision)
	}
	cloneCmd = append(cloneCmd, cfg.Source.URL, sandbox.WorkDir)

	var stderr bytes.Buffer
	res, err := sb.Exec(ctx, cloneCmd, model.ExecOpts{Stderr: &stderr})
	if err != nil {
		e.cleanup(name)
		return nil, fmt.Errorf("failed to clone source: %w", err)
	}
	if res.ExitCode != 0 {
		e.cleanup(name)
		return nil, fmt.Errorf("git clone exited with code %d: %s", res.ExitCode, strings.TrimSpace(stderr.String()))
	}

	logger.Infof("Created Docker sandbox: %s (container: %s)", id, resp.ID)
	return sb, nil
}

// cleanup removes a half created container, it uses its own context because the
// creation context may be already done.
func (e *Engine) cleanup(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !isNotFound(err) {
		e.logger.Warningf("Could not remove container %s: %s", name, err)
	}
}

// Get reconnects to a running Docker container sandbox.
func (e *Engine) Get(ctx context.Context, id string) (sandbox.Sandbox, error) {
	name := containerName(id)

	e.logger.Debugf("Inspecting container: %s", name)
	info, err := e.client.ContainerInspect(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", name, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	if info.State == nil || !info.State.Running {
		return nil, fmt.Errorf("container %s is not running: %w", name, model.ErrNotFound)
	}

	return &dockerSandbox{id: id, engine: e}, nil
}

// Remove removes a Docker container sandbox.
func (e *Engine) Remove(ctx context.Context, id string) error {
	name := containerName(id)

	e.logger.Infof("Removing container: %s", name)
	if err := e.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if isNotFound(err) {
			e.logger.Debugf("Container %s already removed", name)
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}

	e.logger.Infof("Removed Docker sandbox: %s", id)
	return nil
}

func (e *Engine) exec(ctx context.Context, id string, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}
	name := containerName(id)

	var env []string
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	e.logger.Debugf("Executing command in container %s: %v", name, command)
	execResp, err := e.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          command,
		Env:          env,
		WorkingDir:   opts.WorkingDir,
		AttachStdin:  opts.Stdin != nil && !opts.Detach,
		AttachStdout: !opts.Detach,
		AttachStderr: !opts.Detach,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", name, model.ErrNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return nil, fmt.Errorf("container %s is not running: %w", name, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	if opts.Detach {
		if err := e.client.ContainerExecStart(ctx, execResp.ID, container.ExecStartOptions{Detach: true}); err != nil {
			return nil, fmt.Errorf("failed to start detached exec: %w", err)
		}
		return &model.ExecResult{ExitCode: 0}, nil
	}

	hijack, err := e.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer hijack.Close()

	if opts.Stdin != nil {
		go func() {
			_, _ = io.Copy(hijack.Conn, opts.Stdin)
			_ = hijack.CloseWrite()
		}()
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	copyErr := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijack.Reader)
		copyErr <- err
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-copyErr:
		if err != nil {
			return nil, fmt.Errorf("failed to read exec output: %w", err)
		}
	}

	inspect, err := e.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &model.ExecResult{ExitCode: inspect.ExitCode}, nil
}

func (e *Engine) address(ctx context.Context, id string, port int) (string, error) {
	name := containerName(id)
	info, err := e.client.ContainerInspect(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("container %s: %w", name, model.ErrNotFound)
		}
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings: %w", name, model.ErrNotFound)
	}

	bindings := info.NetworkSettings.Ports[nat.Port(fmt.Sprintf("%d/tcp", port))]
	for _, b := range bindings {
		if b.HostPort != "" {
			return fmt.Sprintf("http://%s:%s", e.publicHost, b.HostPort), nil
		}
	}

	return "", fmt.Errorf("port %d is not published on container %s: %w", port, name, model.ErrNotFound)
}

type dockerSandbox struct {
	id     string
	engine *Engine
}

func (d *dockerSandbox) ID() string { return d.id }

func (d *dockerSandbox) Exec(ctx context.Context, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	return d.engine.exec(ctx, d.id, command, opts)
}

func (d *dockerSandbox) Address(port int) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.engine.address(ctx, d.id, port)
}
