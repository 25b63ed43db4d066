package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
)

// ResolvedConnector is a connector with its credentials opened.
type ResolvedConnector struct {
	Name    string
	Type    model.ConnectorType
	Command string
	Args    []string
	URL     string
	Env     map[string]string
	Headers map[string]string
}

// ConnectorConfig is how a CLI reads its tool configuration.
type ConnectorConfig struct {
	// Path is the absolute configuration file path in the sandbox.
	Path string
	// Render returns the configuration file content.
	Render func(conns []ResolvedConnector) ([]byte, error)
}

// OpenConnectors opens the credentials of the connectors.
func OpenConnectors(cipher SecretOpener, conns []model.Connector) ([]ResolvedConnector, error) {
	resolved := make([]ResolvedConnector, 0, len(conns))
	for _, c := range conns {
		rc := ResolvedConnector{
			Name:    c.Name,
			Type:    c.Type,
			Command: c.Command,
			Args:    c.Args,
			URL:     c.URL,
		}
		if len(c.Sealed) > 0 {
			if cipher == nil {
				return nil, fmt.Errorf("connector %q has credentials but there is no cipher: %w", c.Name, model.ErrMissingConfig)
			}
			s, err := cipher.OpenSecrets(c.Sealed)
			if err != nil {
				return nil, fmt.Errorf("could not open connector %q credentials: %w", c.Name, model.ErrAgentCredentials)
			}
			rc.Env = s.Env
			rc.Headers = s.Headers
		}
		resolved = append(resolved, rc)
	}

	return resolved, nil
}

// ConfigureConnectors opens the connectors and writes the CLI configuration in the sandbox.
func ConfigureConnectors(ctx context.Context, req ExecuteRequest, cfg ConnectorConfig) error {
	conns, err := OpenConnectors(req.Cipher, req.Connectors)
	if err != nil {
		return err
	}

	data, err := cfg.Render(conns)
	if err != nil {
		return fmt.Errorf("could not render connectors configuration: %w", err)
	}

	if err := WriteFile(ctx, req.Sandbox, cfg.Path, data); err != nil {
		return fmt.Errorf("could not write connectors configuration: %s: %w", redact.Error(err), model.ErrAgentExecution)
	}

	names := make([]string, 0, len(conns))
	for _, c := range conns {
		names = append(names, fmt.Sprintf("%s (%s)", c.Name, c.Type))
	}
	if req.Logger != nil {
		req.Logger.Info(ctx, fmt.Sprintf("Configured %d connectors: %s", len(conns), strings.Join(names, ", ")))
	}

	return nil
}

// WriteFile writes a file in the sandbox creating its parent directories.
func WriteFile(ctx context.Context, sb sandbox.Sandbox, filePath string, data []byte) error {
	script := fmt.Sprintf("mkdir -p %s && cat > %s", command.Quote(path.Dir(filePath)), command.Quote(filePath))
	res := command.RunOpts(ctx, sb, command.Opts{WorkingDir: sandbox.WorkDir, Stdin: string(data)}, "sh", "-c", script)
	if !res.Success {
		return fmt.Errorf("writing %s (exit %d): %s", filePath, res.ExitCode, strings.TrimSpace(res.Error))
	}
	return nil
}

// MCPJSONFormat are the per CLI differences of the `mcpServers` JSON configuration.
type MCPJSONFormat struct {
	// URLKey is the remote server url field name.
	URLKey string
	// RemoteType is set as the remote server `type` field (optional).
	RemoteType string
}

// RenderMCPServersJSON renders the `{"mcpServers": {...}}` configuration used by most CLIs.
func RenderMCPServersJSON(conns []ResolvedConnector, f MCPJSONFormat) ([]byte, error) {
	urlKey := f.URLKey
	if urlKey == "" {
		urlKey = "url"
	}

	servers := map[string]map[string]any{}
	for _, c := range conns {
		s := map[string]any{}
		switch c.Type {
		case model.ConnectorTypeLocal:
			s["command"] = c.Command
			s["args"] = nonNil(c.Args)
			if len(c.Env) > 0 {
				s["env"] = c.Env
			}
		case model.ConnectorTypeRemote:
			s[urlKey] = c.URL
			if f.RemoteType != "" {
				s["type"] = f.RemoteType
			}
			if len(c.Headers) > 0 {
				s["headers"] = c.Headers
			}
		default:
			return nil, fmt.Errorf("unknown connector type %q: %w", c.Type, model.ErrNotValid)
		}
		servers[c.Name] = s
	}

	return json.MarshalIndent(map[string]any{"mcpServers": servers}, "", "  ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
