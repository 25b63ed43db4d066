// Package agents builds the registry with every supported agent adapter.
package agents

import (
	"fmt"
	"time"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/agent/claude"
	"github.com/slok/agentbox/internal/agent/codex"
	"github.com/slok/agentbox/internal/agent/cursor"
	"github.com/slok/agentbox/internal/agent/gemini"
	"github.com/slok/agentbox/internal/agent/opencode"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
)

// RegistryConfig is the configuration of the adapters registry.
type RegistryConfig struct {
	// InstallCommands override the default install commands by variant (optional).
	InstallCommands map[model.AgentVariant]string
	PollInterval    time.Duration
	Logger          log.Logger
}

func (c *RegistryConfig) defaults() error {
	for v := range c.InstallCommands {
		if !v.IsValid() {
			return fmt.Errorf("unknown agent %q: %w", v, model.ErrNotValid)
		}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// NewRegistry returns a registry with all the agent adapters.
func NewRegistry(cfg RegistryConfig) (*agent.Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	install := cfg.InstallCommands

	cl, err := claude.NewAdapter(claude.AdapterConfig{InstallCommand: install[model.AgentClaude], PollInterval: cfg.PollInterval, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create claude adapter: %w", err)
	}
	cx, err := codex.NewAdapter(codex.AdapterConfig{InstallCommand: install[model.AgentCodex], PollInterval: cfg.PollInterval, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create codex adapter: %w", err)
	}
	cu, err := cursor.NewAdapter(cursor.AdapterConfig{InstallCommand: install[model.AgentCursor], PollInterval: cfg.PollInterval, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create cursor adapter: %w", err)
	}
	ge, err := gemini.NewAdapter(gemini.AdapterConfig{InstallCommand: install[model.AgentGemini], PollInterval: cfg.PollInterval, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create gemini adapter: %w", err)
	}
	oc, err := opencode.NewAdapter(opencode.AdapterConfig{InstallCommand: install[model.AgentOpenCode], PollInterval: cfg.PollInterval, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create opencode adapter: %w", err)
	}

	return agent.NewRegistry(cl, cx, cu, ge, oc)
}

// CredentialEnv returns the env var names every adapter of the registry needs.
func CredentialEnv(reg *agent.Registry) []string {
	var keys []string
	seen := map[string]bool{}
	for _, v := range reg.Variants() {
		a, err := reg.Adapter(v)
		if err != nil {
			continue
		}
		for _, k := range a.RequiredEnv() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}
