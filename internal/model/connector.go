package model

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

var connectorNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ConnectorType is how an auxiliary tool is reached by an agent.
type ConnectorType string

const (
	// ConnectorTypeLocal is a tool run as a subprocess inside the sandbox.
	ConnectorTypeLocal ConnectorType = "local"
	// ConnectorTypeRemote is a tool reached over HTTP.
	ConnectorTypeRemote ConnectorType = "remote"
)

// Connector is a user scoped auxiliary tool that is injected into the agent runtime configuration.
type Connector struct {
	ID      string
	UserID  string
	Name    string
	Type    ConnectorType
	Command string
	Args    []string
	URL     string
	// Sealed are the encrypted credentials (env vars for local, headers for remote).
	Sealed    []byte
	CreatedAt time.Time
}

// ConnectorSecrets are the decrypted connector credentials.
type ConnectorSecrets struct {
	Env     map[string]string `json:"env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Validate validates the connector.
func (c Connector) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("connector id is required: %w", ErrNotValid)
	}
	if c.UserID == "" {
		return fmt.Errorf("connector user id is required: %w", ErrNotValid)
	}
	if !connectorNameRegexp.MatchString(c.Name) {
		return fmt.Errorf("connector name %q is invalid (allowed: [a-zA-Z0-9._-]): %w", c.Name, ErrNotValid)
	}

	switch c.Type {
	case ConnectorTypeLocal:
		if c.Command == "" {
			return fmt.Errorf("local connector command is required: %w", ErrNotValid)
		}
	case ConnectorTypeRemote:
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote connector url %q is invalid: %w", c.URL, ErrNotValid)
		}
	default:
		return fmt.Errorf("unknown connector type %q: %w", c.Type, ErrNotValid)
	}

	return nil
}
