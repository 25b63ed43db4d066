// Package cursor implements agent.Adapter for Cursor CLI.
package cursor

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/agent/claude"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

const (
	// DefaultInstallCommand installs Cursor CLI in the sandbox and links it in the PATH.
	DefaultInstallCommand = "curl https://cursor.com/install -fsS | bash && ln -sf /root/.local/bin/cursor-agent /usr/local/bin/cursor-agent"
	// APIKeyEnv is the credential Cursor CLI needs.
	APIKeyEnv = "CURSOR_API_KEY"
)

var mcpConfigPath = path.Join(sandbox.HomeDir, ".cursor", "mcp.json")

// AdapterConfig is the configuration of the Cursor CLI adapter.
type AdapterConfig struct {
	// InstallCommand overrides the CLI install command (optional).
	InstallCommand string
	PollInterval   time.Duration
	Logger         log.Logger
}

func (c *AdapterConfig) defaults() error {
	if c.InstallCommand == "" {
		c.InstallCommand = DefaultInstallCommand
	}
	if c.PollInterval <= 0 {
		c.PollInterval = agent.DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.Cursor"})
	return nil
}

// Adapter runs cursor-agent in print mode. Its stream-json output has the same
// shape as the Claude Code one.
type Adapter struct {
	cli agent.CLI
}

var _ agent.Adapter = &Adapter{}

// NewAdapter returns a new Cursor CLI adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Adapter{cli: agent.CLI{
		Variant:        model.AgentCursor,
		Binary:         "cursor-agent",
		InstallCommand: cfg.InstallCommand,
		RequiredEnv:    []string{APIKeyEnv},
		Args:           buildArgs,
		Parser:         claude.ParseLine,
		Connectors: &agent.ConnectorConfig{
			Path: mcpConfigPath,
			Render: func(conns []agent.ResolvedConnector) ([]byte, error) {
				return agent.RenderMCPServersJSON(conns, agent.MCPJSONFormat{})
			},
		},
		PollInterval: cfg.PollInterval,
		Logger:       cfg.Logger,
	}}, nil
}

func (a *Adapter) Variant() model.AgentVariant { return model.AgentCursor }

func (a *Adapter) RequiredEnv() []string { return []string{APIKeyEnv} }

func (a *Adapter) Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.Result, error) {
	return agent.Run(ctx, a.cli, req)
}

func buildArgs(req agent.ExecuteRequest) []string {
	args := []string{
		"cursor-agent", "-p",
		"--output-format", "stream-json",
		"--force",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, agent.ResumeArgs(req, "--resume", "--continue")...)
	return append(args, req.Instruction)
}
