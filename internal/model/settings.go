package model

import (
	"fmt"
	"time"
)

// GitAuthor is the commit identity used inside sandboxes.
type GitAuthor struct {
	Name  string
	Email string
}

// DevServerSettings configure the long running process started in kept alive sandboxes.
type DevServerSettings struct {
	// Port is the sandbox port where the dev server listens, 0 disables it.
	Port int
	// Command overrides the detected dev server command (optional).
	Command string
}

// Settings are the engine settings shared by every task.
type Settings struct {
	Image      string
	Resources  Resources
	Timeout    time.Duration
	PublicHost string
	DailyQuota int
	GitAuthor  GitAuthor
	DevServer  DevServerSettings
	// AgentInstall overrides the agent CLI install commands by variant.
	AgentInstall map[AgentVariant]string
}

// DefaultSettings returns the settings used when no configuration is provided.
func DefaultSettings() Settings {
	return Settings{
		Image:      "node:22-bookworm",
		Resources:  Resources{VCPUs: 2, MemoryMB: 4096},
		Timeout:    DefaultSandboxTimeout,
		PublicHost: "127.0.0.1",
		DailyQuota: 20,
		GitAuthor:  GitAuthor{Name: "agentbox", Email: "agentbox@users.noreply.github.com"},
		DevServer:  DevServerSettings{Port: 3000},
	}
}

// Validate validates the settings.
func (s Settings) Validate() error {
	if s.Image == "" {
		return fmt.Errorf("image is required: %w", ErrNotValid)
	}
	if s.Resources.VCPUs <= 0 || s.Resources.MemoryMB <= 0 {
		return fmt.Errorf("resources must be positive: %w", ErrNotValid)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %w", ErrNotValid)
	}
	if s.DailyQuota < 0 {
		return fmt.Errorf("daily quota can't be negative: %w", ErrNotValid)
	}
	if s.DevServer.Port < 0 || s.DevServer.Port > 65535 {
		return fmt.Errorf("dev server port %d out of range: %w", s.DevServer.Port, ErrNotValid)
	}
	for v := range s.AgentInstall {
		if !v.IsValid() {
			return fmt.Errorf("unknown agent %q in install overrides: %w", v, ErrNotValid)
		}
	}
	return nil
}
