package command_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func TestRun(t *testing.T) {
	tests := map[string]struct {
		setup     func(eng *fake.Engine)
		remove    bool
		cmd       string
		args      []string
		expResult command.Result
	}{
		"A successful command should return its output.": {
			setup: func(eng *fake.Engine) {
				eng.On("git rev-parse", fake.Response{Stdout: "abc123\n"})
			},
			cmd:       "git",
			args:      []string{"rev-parse", "HEAD"},
			expResult: command.Result{Success: true, ExitCode: 0, Output: "abc123\n"},
		},

		"A non zero exit should not be a success.": {
			setup: func(eng *fake.Engine) {
				eng.OnFunc("git push", func(_ context.Context, _ fake.Call, stdout io.Writer) (int, error) {
					return 1, nil
				})
			},
			cmd:       "git",
			args:      []string{"push", "origin", "main"},
			expResult: command.Result{Success: false, ExitCode: 1},
		},

		"A transport error should be mapped to a failed result.": {
			setup: func(eng *fake.Engine) {
				eng.On("ls", fake.Response{Err: errors.New("connection refused")})
			},
			cmd:       "ls",
			expResult: command.Result{Success: false, ExitCode: -1, Error: "connection refused"},
		},

		"An unreachable sandbox should be mapped to a failed result.": {
			setup:     func(eng *fake.Engine) {},
			remove:    true,
			cmd:       "ls",
			expResult: command.Result{Success: false, ExitCode: -1},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			eng, err := fake.NewEngine(fake.EngineConfig{})
			require.NoError(err)
			test.setup(eng)

			sb, err := eng.Create(ctx, model.SandboxConfig{
				TaskID:    "t1",
				Image:     "node:22",
				Source:    model.SandboxSource{URL: "https://example.com/org/repo"},
				Resources: model.Resources{VCPUs: 1, MemoryMB: 512},
				Timeout:   time.Hour,
			})
			require.NoError(err)
			if test.remove {
				require.NoError(eng.Remove(ctx, sb.ID()))
			}

			res := command.Run(ctx, sb, test.cmd, test.args...)

			assert.Equal(test.expResult.Success, res.Success)
			assert.Equal(test.expResult.ExitCode, res.ExitCode)
			assert.Equal(test.expResult.Output, res.Output)
			if test.expResult.Error != "" {
				assert.Equal(test.expResult.Error, res.Error)
			}
			if test.remove {
				assert.NotEmpty(res.Error)
			} else {
				calls := eng.Calls(sb.ID())
				require.Len(calls, 1)
				assert.Equal("/workspace", calls[0].WorkingDir)
			}
		})
	}
}

func TestQuote(t *testing.T) {
	tests := map[string]struct {
		in  string
		exp string
	}{
		"A simple string should be quoted.":       {in: "hello world", exp: `'hello world'`},
		"Single quotes should be escaped.":        {in: "it's", exp: `'it'"'"'s'`},
		"An empty string should be quoted empty.": {in: "", exp: `''`},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, command.Quote(test.in))
		})
	}
}
