package opencode_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/agent/opencode"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func TestParseLine(t *testing.T) {
	tests := map[string]struct {
		line     string
		expEvent agent.Event
	}{
		"Text parts should be returned as text.": {
			line:     `{"type":"text","timestamp":1,"sessionID":"ses_1","part":{"type":"text","text":"Done"}}`,
			expEvent: agent.Event{SessionID: "ses_1", Text: "Done"},
		},

		"Tool parts should only carry the session.": {
			line:     `{"type":"tool_use","sessionID":"ses_1","part":{"type":"tool","tool":"bash"}}`,
			expEvent: agent.Event{SessionID: "ses_1"},
		},

		"Errors should report the error message.": {
			line:     `{"type":"error","sessionID":"ses_1","error":{"name":"ProviderAuthError","data":{"message":"invalid api key"}}}`,
			expEvent: agent.Event{SessionID: "ses_1", Err: "invalid api key"},
		},

		"Errors without message should report their name.": {
			line:     `{"type":"error","sessionID":"ses_1","error":{"name":"UnknownError"}}`,
			expEvent: agent.Event{SessionID: "ses_1", Err: "UnknownError"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expEvent, opencode.ParseLine(test.line))
		})
	}
}

func TestRenderConfig(t *testing.T) {
	data, err := opencode.RenderConfig([]agent.ResolvedConnector{
		{Name: "fs", Type: model.ConnectorTypeLocal, Command: "npx", Args: []string{"-y", "fs-server"}, Env: map[string]string{"ROOT": "/workspace"}},
		{Name: "docs", Type: model.ConnectorTypeRemote, URL: "https://mcp.example.com/mcp", Headers: map[string]string{"Authorization": "Bearer t"}},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"$schema": "https://opencode.ai/config.json",
		"mcp": {
			"fs": {"type": "local", "command": ["npx", "-y", "fs-server"], "environment": {"ROOT": "/workspace"}, "enabled": true},
			"docs": {"type": "remote", "url": "https://mcp.example.com/mcp", "headers": {"Authorization": "Bearer t"}, "enabled": true}
		}
	}`, string(data))
}

func TestAdapterExecute(t *testing.T) {
	tests := map[string]struct {
		req     func(r *agent.ExecuteRequest)
		expArgs []string
	}{
		"A new run should use json events.": {
			expArgs: []string{"opencode", "run", "--format", "json", "fix it"},
		},

		"A resumed run should pass the session.": {
			req: func(r *agent.ExecuteRequest) {
				r.Model = "anthropic/claude-sonnet-4"
				r.IsResumed = true
				r.SessionID = "ses_0"
			},
			expArgs: []string{"opencode", "run", "--format", "json", "--model", "anthropic/claude-sonnet-4", "--session", "ses_0", "fix it"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			eng, err := fake.NewEngine(fake.EngineConfig{})
			require.NoError(err)
			sb, err := eng.Create(ctx, model.SandboxConfig{
				TaskID:    "task-1",
				Image:     "node:22-bookworm",
				Source:    model.SandboxSource{URL: "https://example.com/org/repo"},
				Resources: model.Resources{VCPUs: 1, MemoryMB: 512},
				Timeout:   time.Hour,
			})
			require.NoError(err)

			var gotArgs []string
			eng.OnFunc("opencode", func(_ context.Context, c fake.Call, w io.Writer) (int, error) {
				gotArgs = c.Command
				_, _ = io.WriteString(w, `{"type":"text","sessionID":"ses_1","part":{"type":"text","text":"Fixed"}}`+"\n")
				return 0, nil
			})

			a, err := opencode.NewAdapter(opencode.AdapterConfig{PollInterval: 10 * time.Millisecond})
			require.NoError(err)

			req := agent.ExecuteRequest{
				Sandbox:     sb,
				Instruction: "fix it",
				Env:         map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test"},
			}
			if test.req != nil {
				test.req(&req)
			}

			res, err := a.Execute(ctx, req)
			require.NoError(err)
			assert.Equal(test.expArgs, gotArgs)
			assert.Equal("Fixed", res.AgentResponse)
			assert.Equal("ses_1", res.SessionID)
		})
	}
}
