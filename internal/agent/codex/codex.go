// Package codex implements agent.Adapter for OpenAI Codex CLI.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

const (
	// DefaultInstallCommand installs Codex CLI in the sandbox.
	DefaultInstallCommand = "npm install -g @openai/codex"
	// APIKeyEnv is the credential Codex CLI needs.
	APIKeyEnv = "OPENAI_API_KEY"
)

var configPath = path.Join(sandbox.HomeDir, ".codex", "config.toml")

// AdapterConfig is the configuration of the Codex CLI adapter.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.Codex"})
	return nil
}

// Adapter runs `codex exec` with JSON events output.
type Adapter struct {
	cli agent.CLI
}

var _ agent.Adapter = &Adapter{}

// NewAdapter returns a new Codex CLI adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Adapter{cli: agent.CLI{
		Variant:        model.AgentCodex,
		Binary:         "codex",
		InstallCommand: cfg.InstallCommand,
		RequiredEnv:    []string{APIKeyEnv},
		Args:           buildArgs,
		Parser:         ParseLine,
		Connectors: &agent.ConnectorConfig{
			Path:   configPath,
			Render: RenderConfig,
		},
		PollInterval: cfg.PollInterval,
		Logger:       cfg.Logger,
	}}, nil
}

func (a *Adapter) Variant() model.AgentVariant { return model.AgentCodex }

func (a *Adapter) RequiredEnv() []string { return []string{APIKeyEnv} }

func (a *Adapter) Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.Result, error) {
	return agent.Run(ctx, a.cli, req)
}

func buildArgs(req agent.ExecuteRequest) []string {
	args := []string{
		"codex", "exec",
		"--json",
		"--dangerously-bypass-approvals-and-sandbox",
		"--skip-git-repo-check",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.IsResumed {
		args = append(args, "resume")
		if req.SessionID != "" {
			args = append(args, req.SessionID)
		} else {
			args = append(args, "--last")
		}
	}
	return append(args, req.Instruction)
}

type mcpServer struct {
	Command     string            `toml:"command,omitempty"`
	Args        []string          `toml:"args,omitempty"`
	Env         map[string]string `toml:"env,omitempty"`
	URL         string            `toml:"url,omitempty"`
	HTTPHeaders map[string]string `toml:"http_headers,omitempty"`
}

type config struct {
	MCPServers map[string]mcpServer `toml:"mcp_servers"`
}

// RenderConfig renders the Codex config.toml with the connectors as MCP servers.
func RenderConfig(conns []agent.ResolvedConnector) ([]byte, error) {
	cfg := config{MCPServers: map[string]mcpServer{}}
	for _, c := range conns {
		switch c.Type {
		case model.ConnectorTypeLocal:
			cfg.MCPServers[c.Name] = mcpServer{Command: c.Command, Args: c.Args, Env: c.Env}
		case model.ConnectorTypeRemote:
			cfg.MCPServers[c.Name] = mcpServer{URL: c.URL, HTTPHeaders: c.Headers}
		default:
			return nil, fmt.Errorf("unknown connector type %q: %w", c.Type, model.ErrNotValid)
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("could not encode codex config: %w", err)
	}
	return buf.Bytes(), nil
}

// event is the subset of the `codex exec --json` events we use.
//
//	{"type":"thread.started","thread_id":"..."}
//	{"type":"item.completed","item":{"id":"item_1","type":"agent_message","text":"..."}}
//	{"type":"turn.completed","usage":{...}}
//	{"type":"turn.failed","error":{"message":"..."}}
type event struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
	Item     struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseLine parses a single `codex exec --json` line. Non JSON lines are ignored.
func ParseLine(line string) agent.Event {
	var e event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return agent.Event{}
	}

	switch e.Type {
	case "thread.started":
		return agent.Event{SessionID: e.ThreadID}
	case "item.completed":
		if e.Item.Type == "agent_message" {
			return agent.Event{Text: e.Item.Text}
		}
	case "turn.completed":
		return agent.Event{Done: true}
	case "turn.failed":
		msg := e.Error.Message
		if msg == "" {
			msg = "turn failed"
		}
		return agent.Event{Err: msg, Done: true}
	case "error":
		return agent.Event{Err: e.Message}
	}

	return agent.Event{}
}
