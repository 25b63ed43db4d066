package model

import (
	"fmt"
	"time"
)

// DefaultSandboxTimeout is the hard TTL of a sandbox when none is requested.
const DefaultSandboxTimeout = 60 * time.Minute

// SandboxStatus represents the status of a sandbox.
type SandboxStatus string

const (
	// SandboxStatusRunning indicates the sandbox is running and reachable.
	SandboxStatusRunning SandboxStatus = "running"
	// SandboxStatusStopped indicates the sandbox is not running (expired or stopped).
	SandboxStatusStopped SandboxStatus = "stopped"
)

// Sandbox is the information of a provider sandbox.
type Sandbox struct {
	ID        string
	TaskID    string
	Status    SandboxStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SandboxSource is the git source a sandbox is created from.
type SandboxSource struct {
	// URL is the clone URL, it may embed credentials.
	URL string
	// Revision is the branch or tag to check out (optional, remote HEAD if empty).
	Revision string
	// Depth is the clone depth (0 means full history).
	Depth int
}

// SandboxConfig is the configuration for creating a sandbox.
type SandboxConfig struct {
	TaskID    string
	Image     string
	Source    SandboxSource
	Resources Resources
	// Timeout is the hard TTL of the sandbox.
	Timeout time.Duration
	// Ports are the sandbox ports that need to be reachable from outside.
	Ports []int
	Env   map[string]string
}

// Resources defines the compute resources for a sandbox.
type Resources struct {
	VCPUs    float64
	MemoryMB int
}

// Validate validates the sandbox configuration.
func (c *SandboxConfig) Validate() error {
	if c.TaskID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}
	if c.Image == "" {
		return fmt.Errorf("image is required: %w", ErrNotValid)
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source url is required: %w", ErrNotValid)
	}
	if c.Source.Depth < 0 {
		return fmt.Errorf("source depth can't be negative: %w", ErrNotValid)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %w", ErrNotValid)
	}
	if c.Resources.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be positive: %w", ErrNotValid)
	}
	if c.Resources.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb must be positive: %w", ErrNotValid)
	}
	for _, p := range c.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("port %d out of range (1-65535): %w", p, ErrNotValid)
		}
	}
	return nil
}
