package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/agentbox/internal/model"
)

// SettingsYAMLRepository loads engine settings from YAML files.
type SettingsYAMLRepository struct {
	fs fs.FS
}

// NewSettingsYAMLRepository creates a new YAML settings repository.
func NewSettingsYAMLRepository(filesystem fs.FS) *SettingsYAMLRepository {
	return &SettingsYAMLRepository{fs: filesystem}
}

// GetSettings loads the settings from a YAML file on top of the default settings and
// returns a validated domain model. Missing fields keep their defaults.
func (r *SettingsYAMLRepository) GetSettings(ctx context.Context, path string) (model.Settings, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Settings{}, ctx.Err()
	}

	var cfg SettingsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Settings{}, fmt.Errorf("parsing YAML: %w", err)
	}

	settings, err := cfg.toModel(model.DefaultSettings())
	if err != nil {
		return model.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return model.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return settings, nil
}

// SettingsConfig represents the YAML structure for the engine settings.
type SettingsConfig struct {
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	DailyQuota *int             `yaml:"daily_quota"`
	Git        GitConfig        `yaml:"git"`
	DevServer  DevServerConfig  `yaml:"dev_server"`
	Agents     map[string]Agent `yaml:"agents"`
}

// SandboxConfig represents the YAML structure for sandbox configuration.
type SandboxConfig struct {
	Image      string          `yaml:"image"`
	Timeout    string          `yaml:"timeout"`
	PublicHost string          `yaml:"public_host"`
	Resources  ResourcesConfig `yaml:"resources"`
}

// ResourcesConfig represents the YAML structure for resource configuration.
type ResourcesConfig struct {
	VCPUs    float64 `yaml:"vcpus"`
	MemoryMB int     `yaml:"memory_mb"`
}

// GitConfig represents the YAML structure for the git commit identity.
type GitConfig struct {
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// DevServerConfig represents the YAML structure for the keep alive dev server.
type DevServerConfig struct {
	Port    *int   `yaml:"port"`
	Command string `yaml:"command"`
}

// Agent represents the YAML structure for an agent variant.
type Agent struct {
	Install string `yaml:"install"`
}

func (c SettingsConfig) toModel(s model.Settings) (model.Settings, error) {
	if c.Sandbox.Image != "" {
		s.Image = c.Sandbox.Image
	}
	if c.Sandbox.Timeout != "" {
		d, err := time.ParseDuration(c.Sandbox.Timeout)
		if err != nil {
			return model.Settings{}, fmt.Errorf("sandbox timeout: %w", err)
		}
		s.Timeout = d
	}
	if c.Sandbox.PublicHost != "" {
		s.PublicHost = c.Sandbox.PublicHost
	}
	if c.Sandbox.Resources.VCPUs != 0 {
		s.Resources.VCPUs = c.Sandbox.Resources.VCPUs
	}
	if c.Sandbox.Resources.MemoryMB != 0 {
		s.Resources.MemoryMB = c.Sandbox.Resources.MemoryMB
	}
	if c.DailyQuota != nil {
		s.DailyQuota = *c.DailyQuota
	}
	if c.Git.AuthorName != "" {
		s.GitAuthor.Name = c.Git.AuthorName
	}
	if c.Git.AuthorEmail != "" {
		s.GitAuthor.Email = c.Git.AuthorEmail
	}
	if c.DevServer.Port != nil {
		s.DevServer.Port = *c.DevServer.Port
	}
	if c.DevServer.Command != "" {
		s.DevServer.Command = c.DevServer.Command
	}

	for name, a := range c.Agents {
		if a.Install == "" {
			continue
		}
		if s.AgentInstall == nil {
			s.AgentInstall = map[model.AgentVariant]string{}
		}
		s.AgentInstall[model.AgentVariant(name)] = a.Install
	}

	return s, nil
}
