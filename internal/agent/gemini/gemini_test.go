package gemini_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/agent/gemini"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func TestParseLine(t *testing.T) {
	tests := map[string]struct {
		line     string
		expEvent agent.Event
	}{
		"The init record should carry the session.": {
			line:     `{"type":"init","timestamp":"2026-01-01T00:00:00Z","session_id":"g-1","model":"gemini-2.5-pro"}`,
			expEvent: agent.Event{SessionID: "g-1"},
		},

		"Assistant deltas should be returned as delta text.": {
			line:     `{"type":"message","role":"assistant","content":"Hel","delta":true}`,
			expEvent: agent.Event{Text: "Hel", Delta: true},
		},

		"User messages should be ignored.": {
			line:     `{"type":"message","role":"user","content":"do it"}`,
			expEvent: agent.Event{},
		},

		"Tool records should be ignored.": {
			line:     `{"type":"tool_use","tool_name":"read_file","tool_id":"t-1","parameters":{}}`,
			expEvent: agent.Event{},
		},

		"A success result should complete the stream.": {
			line:     `{"type":"result","status":"success","stats":{"total_tokens":10}}`,
			expEvent: agent.Event{Done: true},
		},

		"A failed result should report the error.": {
			line:     `{"type":"result","status":"error","error":{"type":"api","message":"quota exhausted"}}`,
			expEvent: agent.Event{Done: true, Err: "quota exhausted"},
		},

		"Error warnings should be ignored.": {
			line:     `{"type":"error","severity":"warning","message":"loop detected"}`,
			expEvent: agent.Event{},
		},

		"Error records should report the error.": {
			line:     `{"type":"error","severity":"error","message":"invalid key"}`,
			expEvent: agent.Event{Err: "invalid key"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expEvent, gemini.ParseLine(test.line))
		})
	}
}

func TestAdapterExecute(t *testing.T) {
	tests := map[string]struct {
		req     func(r *agent.ExecuteRequest)
		expArgs []string
	}{
		"A new run should use yolo mode with stream-json.": {
			expArgs: []string{"gemini", "--output-format", "stream-json", "--yolo", "-p", "fix it"},
		},

		"A resumed run without session should resume the latest.": {
			req: func(r *agent.ExecuteRequest) {
				r.Model = "gemini-2.5-pro"
				r.IsResumed = true
			},
			expArgs: []string{"gemini", "--output-format", "stream-json", "--yolo", "-m", "gemini-2.5-pro", "--resume=latest", "-p", "fix it"},
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
			eng.OnFunc("gemini", func(_ context.Context, c fake.Call, w io.Writer) (int, error) {
				gotArgs = c.Command
				_, _ = io.WriteString(w, `{"type":"init","session_id":"g-1"}`+"\n")
				_, _ = io.WriteString(w, `{"type":"message","role":"assistant","content":"Fi","delta":true}`+"\n")
				_, _ = io.WriteString(w, `{"type":"message","role":"assistant","content":"xed","delta":true}`+"\n")
				_, _ = io.WriteString(w, `{"type":"result","status":"success"}`+"\n")
				return 0, nil
			})

			a, err := gemini.NewAdapter(gemini.AdapterConfig{PollInterval: 10 * time.Millisecond})
			require.NoError(err)

			req := agent.ExecuteRequest{
				Sandbox:     sb,
				Instruction: "fix it",
				Env:         map[string]string{"GEMINI_API_KEY": "AIza-test"},
			}
			if test.req != nil {
				test.req(&req)
			}

			res, err := a.Execute(ctx, req)
			require.NoError(err)
			assert.Equal(test.expArgs, gotArgs)
			assert.Equal("Fixed", res.AgentResponse)
			assert.Equal("g-1", res.SessionID)
		})
	}
}
