// Package claude implements agent.Adapter for Claude Code.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

const (
	// DefaultInstallCommand installs Claude Code in the sandbox.
	DefaultInstallCommand = "npm install -g @anthropic-ai/claude-code"
	// APIKeyEnv is the credential Claude Code needs.
	APIKeyEnv = "ANTHROPIC_API_KEY"
)

var mcpConfigPath = path.Join(sandbox.HomeDir, ".agentbox", "claude-mcp.json")

// AdapterConfig is the configuration of the Claude Code adapter.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.Claude"})
	return nil
}

// Adapter runs Claude Code in print mode with stream-json output.
type Adapter struct {
	cli agent.CLI
}

var _ agent.Adapter = &Adapter{}

// NewAdapter returns a new Claude Code adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Adapter{cli: agent.CLI{
		Variant:        model.AgentClaude,
		Binary:         "claude",
		InstallCommand: cfg.InstallCommand,
		RequiredEnv:    []string{APIKeyEnv},
		Args:           buildArgs,
		Parser:         ParseLine,
		Connectors: &agent.ConnectorConfig{
			Path: mcpConfigPath,
			Render: func(conns []agent.ResolvedConnector) ([]byte, error) {
				return agent.RenderMCPServersJSON(conns, agent.MCPJSONFormat{RemoteType: "http"})
			},
		},
		PollInterval: cfg.PollInterval,
		Logger:       cfg.Logger,
	}}, nil
}

func (a *Adapter) Variant() model.AgentVariant { return model.AgentClaude }

func (a *Adapter) RequiredEnv() []string { return []string{APIKeyEnv} }

func (a *Adapter) Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.Result, error) {
	return agent.Run(ctx, a.cli, req)
}

func buildArgs(req agent.ExecuteRequest) []string {
	args := []string{
		"claude", "-p",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, agent.ResumeArgs(req, "--resume", "--continue")...)
	if len(req.Connectors) > 0 {
		args = append(args, "--mcp-config", mcpConfigPath)
	}
	return append(args, req.Instruction)
}

// record is the subset of the Claude Code stream-json records we use.
//
//	{"type":"system","subtype":"init","session_id":"...","model":"..."}
//	{"type":"assistant","message":{"content":[{"type":"text","text":"..."}]},"session_id":"..."}
//	{"type":"result","subtype":"success","is_error":false,"result":"...","session_id":"..."}
type record struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Message   struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

// ParseLine parses a single Claude Code stream-json line. Non JSON lines are ignored.
func ParseLine(line string) agent.Event {
	var r record
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return agent.Event{}
	}

	ev := agent.Event{SessionID: r.SessionID}
	switch r.Type {
	case "assistant":
		var texts []string
		for _, c := range r.Message.Content {
			if c.Type == "text" && strings.TrimSpace(c.Text) != "" {
				texts = append(texts, c.Text)
			}
		}
		ev.Text = strings.Join(texts, "\n")
	case "result":
		ev.Done = true
		ev.Final = r.Result
		if r.IsError {
			ev.Err = r.Result
			if ev.Err == "" {
				ev.Err = r.Subtype
			}
		}
	}

	return ev
}
