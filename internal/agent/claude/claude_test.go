package claude_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/agent/claude"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func TestParseLine(t *testing.T) {
	tests := map[string]struct {
		line     string
		expEvent agent.Event
	}{
		"The init record should carry the session.": {
			line:     `{"type":"system","subtype":"init","session_id":"abc","model":"claude-sonnet-4"}`,
			expEvent: agent.Event{SessionID: "abc"},
		},

		"Assistant text blocks should be returned as text.": {
			line:     `{"type":"assistant","message":{"content":[{"type":"text","text":"Hi"},{"type":"tool_use","name":"Bash"},{"type":"text","text":"there"}]},"session_id":"abc"}`,
			expEvent: agent.Event{SessionID: "abc", Text: "Hi\nthere"},
		},

		"A success result should complete the stream.": {
			line:     `{"type":"result","subtype":"success","is_error":false,"result":"Done!","session_id":"abc"}`,
			expEvent: agent.Event{SessionID: "abc", Final: "Done!", Done: true},
		},

		"An error result should report the error.": {
			line:     `{"type":"result","subtype":"error_max_turns","is_error":true,"session_id":"abc"}`,
			expEvent: agent.Event{SessionID: "abc", Err: "error_max_turns", Done: true},
		},

		"Non JSON lines should be ignored.": {
			line:     `npm WARN deprecated`,
			expEvent: agent.Event{},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expEvent, claude.ParseLine(test.line))
		})
	}
}

func TestAdapterExecute(t *testing.T) {
	tests := map[string]struct {
		req     func(r *agent.ExecuteRequest)
		expArgs []string
	}{
		"A new run should use print mode with stream-json.": {
			expArgs: []string{"claude", "-p", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions", "fix it"},
		},

		"A resumed run with model and connectors should pass them.": {
			req: func(r *agent.ExecuteRequest) {
				r.Model = "opus"
				r.IsResumed = true
				r.SessionID = "abc"
				r.Connectors = []model.Connector{{Name: "fs", Type: model.ConnectorTypeLocal, Command: "fs-server"}}
			},
			expArgs: []string{
				"claude", "-p", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions",
				"--model", "opus", "--resume", "abc", "--mcp-config", "/root/.agentbox/claude-mcp.json", "fix it",
			},
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
			eng.OnFunc("claude", func(_ context.Context, c fake.Call, w io.Writer) (int, error) {
				gotArgs = c.Command
				_, _ = io.WriteString(w, `{"type":"system","subtype":"init","session_id":"new-session"}`+"\n")
				_, _ = io.WriteString(w, `{"type":"result","subtype":"success","is_error":false,"result":"Fixed","session_id":"new-session"}`+"\n")
				return 0, nil
			})

			a, err := claude.NewAdapter(claude.AdapterConfig{PollInterval: 10 * time.Millisecond})
			require.NoError(err)
			assert.Equal(model.AgentClaude, a.Variant())
			assert.Equal([]string{"ANTHROPIC_API_KEY"}, a.RequiredEnv())

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
			assert.Equal("new-session", res.SessionID)
		})
	}
}
