// Package gemini implements agent.Adapter for Gemini CLI.
package gemini

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
	// DefaultInstallCommand installs Gemini CLI in the sandbox.
	DefaultInstallCommand = "npm install -g @google/gemini-cli"
	// APIKeyEnv is the credential Gemini CLI needs.
	APIKeyEnv = "GEMINI_API_KEY"
)

var settingsPath = path.Join(sandbox.HomeDir, ".gemini", "settings.json")

// AdapterConfig is the configuration of the Gemini CLI adapter.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.Gemini"})
	return nil
}

// Adapter runs Gemini CLI in prompt mode with stream-json output.
type Adapter struct {
	cli agent.CLI
}

var _ agent.Adapter = &Adapter{}

// NewAdapter returns a new Gemini CLI adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Adapter{cli: agent.CLI{
		Variant:        model.AgentGemini,
		Binary:         "gemini",
		InstallCommand: cfg.InstallCommand,
		RequiredEnv:    []string{APIKeyEnv},
		Args:           buildArgs,
		Parser:         ParseLine,
		Connectors: &agent.ConnectorConfig{
			Path: settingsPath,
			Render: func(conns []agent.ResolvedConnector) ([]byte, error) {
				return agent.RenderMCPServersJSON(conns, agent.MCPJSONFormat{URLKey: "httpUrl"})
			},
		},
		PollInterval: cfg.PollInterval,
		Logger:       cfg.Logger,
	}}, nil
}

func (a *Adapter) Variant() model.AgentVariant { return model.AgentGemini }

func (a *Adapter) RequiredEnv() []string { return []string{APIKeyEnv} }

func (a *Adapter) Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.Result, error) {
	return agent.Run(ctx, a.cli, req)
}

func buildArgs(req agent.ExecuteRequest) []string {
	args := []string{
		"gemini",
		"--output-format", "stream-json",
		"--yolo",
	}
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	args = append(args, agent.ResumeArgs(req, "--resume", "--resume=latest")...)
	return append(args, "-p", req.Instruction)
}

// Record types of the Gemini CLI stream-json output.
const (
	typeInit    = "init"
	typeMessage = "message"
	typeError   = "error"
	typeResult  = "result"
)

// record is the subset of the Gemini CLI stream-json records we use.
//
//	{"type":"init","session_id":"...","model":"..."}
//	{"type":"message","role":"assistant","content":"...","delta":true}
//	{"type":"result","status":"success","stats":{...}}
type record struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Delta     bool   `json:"delta"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseLine parses a single Gemini CLI stream-json line. Non JSON lines are ignored.
func ParseLine(line string) agent.Event {
	var r record
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return agent.Event{}
	}

	switch r.Type {
	case typeInit:
		return agent.Event{SessionID: r.SessionID}
	case typeMessage:
		if r.Role != "assistant" {
			return agent.Event{}
		}
		return agent.Event{Text: r.Content, Delta: r.Delta}
	case typeError:
		if r.Severity == "warning" {
			return agent.Event{}
		}
		return agent.Event{Err: errorMessage(r)}
	case typeResult:
		ev := agent.Event{Done: true}
		if r.Status != "" && r.Status != "success" {
			ev.Err = errorMessage(r)
		}
		return ev
	}

	return agent.Event{}
}

func errorMessage(r record) string {
	switch {
	case r.Error != nil && r.Error.Message != "":
		return r.Error.Message
	case r.Message != "":
		return r.Message
	case r.Status != "":
		return r.Status
	}
	return "unknown error"
}
