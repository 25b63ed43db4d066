// Package opencode implements agent.Adapter for opencode.
package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

const (
	// DefaultInstallCommand installs opencode in the sandbox.
	DefaultInstallCommand = "npm install -g opencode-ai"
	// APIKeyEnv is the provider credential opencode is run with.
	APIKeyEnv = "ANTHROPIC_API_KEY"
)

var configPath = path.Join(sandbox.HomeDir, ".config", "opencode", "opencode.json")

// AdapterConfig is the configuration of the opencode adapter.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.OpenCode"})
	return nil
}

// Adapter runs `opencode run` with JSON events output. The stream has no terminal
// event, the run ends when the process exits.
type Adapter struct {
	cli agent.CLI
}

var _ agent.Adapter = &Adapter{}

// NewAdapter returns a new opencode adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Adapter{cli: agent.CLI{
		Variant:        model.AgentOpenCode,
		Binary:         "opencode",
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

func (a *Adapter) Variant() model.AgentVariant { return model.AgentOpenCode }

func (a *Adapter) RequiredEnv() []string { return []string{APIKeyEnv} }

func (a *Adapter) Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.Result, error) {
	return agent.Run(ctx, a.cli, req)
}

func buildArgs(req agent.ExecuteRequest) []string {
	args := []string{"opencode", "run", "--format", "json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, agent.ResumeArgs(req, "--session", "--continue")...)
	return append(args, req.Instruction)
}

type mcpServer struct {
	Type        string            `json:"type"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// RenderConfig renders the opencode.json configuration with the connectors as MCP servers.
func RenderConfig(conns []agent.ResolvedConnector) ([]byte, error) {
	servers := map[string]mcpServer{}
	for _, c := range conns {
		switch c.Type {
		case model.ConnectorTypeLocal:
			servers[c.Name] = mcpServer{
				Type:        "local",
				Command:     append([]string{c.Command}, c.Args...),
				Environment: c.Env,
				Enabled:     true,
			}
		case model.ConnectorTypeRemote:
			servers[c.Name] = mcpServer{Type: "remote", URL: c.URL, Headers: c.Headers, Enabled: true}
		default:
			return nil, fmt.Errorf("unknown connector type %q: %w", c.Type, model.ErrNotValid)
		}
	}

	return json.MarshalIndent(map[string]any{
		"$schema": "https://opencode.ai/config.json",
		"mcp":     servers,
	}, "", "  ")
}

// event is the subset of the `opencode run --format json` events we use.
//
//	{"type":"text","sessionID":"ses_...","part":{"type":"text","text":"..."}}
//	{"type":"error","sessionID":"ses_...","error":{"name":"...","data":{"message":"..."}}}
type event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionID"`
	Part      struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"part"`
	Error *struct {
		Name string `json:"name"`
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"error"`
}

// ParseLine parses a single opencode JSON event line. Non JSON lines are ignored.
func ParseLine(line string) agent.Event {
	var e event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return agent.Event{}
	}

	ev := agent.Event{SessionID: e.SessionID}
	switch e.Type {
	case "text":
		if e.Part.Type == "text" {
			ev.Text = e.Part.Text
		}
	case "error":
		ev.Err = "unknown error"
		if e.Error != nil {
			ev.Err = e.Error.Name
			if e.Error.Data.Message != "" {
				ev.Err = e.Error.Data.Message
			}
		}
	}

	return ev
}
