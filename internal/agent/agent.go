// Package agent drives coding-agent CLIs inside sandboxes. Every CLI is mapped to an
// Adapter, adapters share the install, connector, streaming and change detection logic
// of this package.
package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/tasklog"
)

// MessageSink persists the chat messages an agent run produces.
type MessageSink interface {
	CreateMessage(ctx context.Context, m model.Message) error
	AppendMessageContent(ctx context.Context, id string, delta string) error
	SetMessageContent(ctx context.Context, id string, content string) error
}

// SecretOpener opens sealed connector credentials.
type SecretOpener interface {
	OpenSecrets(sealed []byte) (model.ConnectorSecrets, error)
}

// ExecuteRequest is a single agent instruction run.
type ExecuteRequest struct {
	Sandbox     sandbox.Sandbox
	Instruction string
	Logger      tasklog.TaskLogger
	// Messages is where the agent response is streamed when MessageID is set (optional).
	Messages MessageSink
	Model    string
	// Connectors are injected into the CLI runtime configuration (optional).
	Connectors []model.Connector
	// Cipher opens the connector credentials, required when there are connectors.
	Cipher SecretOpener
	// Env has the agent credentials and is set on the CLI process.
	Env       map[string]string
	IsResumed bool
	// SessionID is the previous agent session, used when resuming (optional).
	SessionID string
	TaskID    string
	// MessageID is the placeholder agent message id the output is streamed into (optional).
	MessageID string
}

// Result is the outcome of an agent run.
type Result struct {
	Success bool
	// Output is the redacted raw CLI output.
	Output string
	// AgentResponse is the final agent answer.
	AgentResponse   string
	ChangesDetected bool
	SessionID       string
}

// Adapter is a coding-agent CLI integration.
type Adapter interface {
	Variant() model.AgentVariant
	// RequiredEnv returns the env var names the CLI needs to authenticate.
	RequiredEnv() []string
	// Execute runs an instruction. Errors wrap model.ErrAgentCredentials,
	// model.ErrAgentInstall or model.ErrAgentExecution.
	Execute(ctx context.Context, req ExecuteRequest) (*Result, error)
}

// Registry maps agent variants to their adapters.
type Registry struct {
	adapters map[model.AgentVariant]Adapter
}

// NewRegistry returns a registry with the adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: map[model.AgentVariant]Adapter{}}
	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("adapter can't be nil: %w", model.ErrNotValid)
		}
		v := a.Variant()
		if !v.IsValid() {
			return nil, fmt.Errorf("unknown agent variant %q: %w", v, model.ErrNotValid)
		}
		if _, ok := r.adapters[v]; ok {
			return nil, fmt.Errorf("adapter for %q already registered: %w", v, model.ErrAlreadyExists)
		}
		r.adapters[v] = a
	}

	return r, nil
}

// Adapter returns the adapter of a variant.
func (r *Registry) Adapter(v model.AgentVariant) (Adapter, error) {
	a, ok := r.adapters[v]
	if !ok {
		return nil, fmt.Errorf("adapter for agent %q: %w", v, model.ErrNotFound)
	}
	return a, nil
}

// Variants returns the registered variants sorted.
func (r *Registry) Variants() []model.AgentVariant {
	vs := make([]model.AgentVariant, 0, len(r.adapters))
	for v := range r.adapters {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	return vs
}

// RequiredEnv returns the env var names the adapter of a variant needs.
func (r *Registry) RequiredEnv(v model.AgentVariant) ([]string, error) {
	a, err := r.Adapter(v)
	if err != nil {
		return nil, err
	}
	return a.RequiredEnv(), nil
}
