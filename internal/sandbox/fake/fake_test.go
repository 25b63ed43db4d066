package fake_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func testConfig() model.SandboxConfig {
	return model.SandboxConfig{
		TaskID:    "task-1",
		Image:     "node:22-bookworm",
		Source:    model.SandboxSource{URL: "https://example.com/org/repo"},
		Resources: model.Resources{VCPUs: 1, MemoryMB: 512},
		Timeout:   time.Hour,
	}
}

func TestEngineLifecycle(t *testing.T) {
	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, eng *fake.Engine) error
		expErr  error
	}{
		"Creating a sandbox should return a running sandbox handle.": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				sb, err := eng.Create(ctx, testConfig())
				require.NoError(t, err)
				assert.NotEmpty(t, sb.ID())
				assert.Len(t, eng.Sandboxes(), 1)
				return nil
			},
		},

		"Creating a sandbox with an invalid config should fail.": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				cfg := testConfig()
				cfg.Image = ""
				_, err := eng.Create(ctx, cfg)
				return err
			},
			expErr: model.ErrNotValid,
		},

		"Getting a created sandbox should reconnect to it.": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				sb, err := eng.Create(ctx, testConfig())
				require.NoError(t, err)

				got, err := eng.Get(ctx, sb.ID())
				require.NoError(t, err)
				assert.Equal(t, sb.ID(), got.ID())
				return nil
			},
		},

		"Getting an expired sandbox should fail with not found.": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				sb, err := eng.Create(ctx, testConfig())
				require.NoError(t, err)
				eng.Expire(sb.ID())

				_, err = eng.Get(ctx, sb.ID())
				return err
			},
			expErr: model.ErrNotFound,
		},

		"Getting a removed sandbox should fail with not found.": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				sb, err := eng.Create(ctx, testConfig())
				require.NoError(t, err)
				require.NoError(t, eng.Remove(ctx, sb.ID()))
				assert.Equal(t, []string{sb.ID()}, eng.Removed())

				_, err = eng.Get(ctx, sb.ID())
				return err
			},
			expErr: model.ErrNotFound,
		},

		"Exec on a removed sandbox should fail with not found.": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				sb, err := eng.Create(ctx, testConfig())
				require.NoError(t, err)
				require.NoError(t, eng.Remove(ctx, sb.ID()))

				_, err = sb.Exec(ctx, []string{"ls"}, model.ExecOpts{})
				return err
			},
			expErr: model.ErrNotFound,
		},

		"A failing create hook should fail the creation.": {
			actions: func(ctx context.Context, t *testing.T, _ *fake.Engine) error {
				eng, err := fake.NewEngine(fake.EngineConfig{
					CreateHook: func(ctx context.Context, cfg model.SandboxConfig) error { return model.ErrProvisionTimeout },
				})
				require.NoError(t, err)
				_, err = eng.Create(ctx, testConfig())
				return err
			},
			expErr: model.ErrProvisionTimeout,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			eng, err := fake.NewEngine(fake.EngineConfig{})
			require.NoError(t, err)

			err = test.actions(context.Background(), t, eng)
			if test.expErr != nil {
				assert.True(t, errors.Is(err, test.expErr), "got: %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEngineExec(t *testing.T) {
	tests := map[string]struct {
		setup       func(eng *fake.Engine)
		command     []string
		stdin       string
		expStdout   string
		expExitCode int
		expErr      bool
	}{
		"An unmatched command should succeed with no output.": {
			setup:       func(eng *fake.Engine) {},
			command:     []string{"ls", "-la"},
			expExitCode: 0,
		},

		"A matched command should return the scripted response.": {
			setup: func(eng *fake.Engine) {
				eng.On("git status", fake.Response{Stdout: " M README.md\n"})
			},
			command:   []string{"git", "status", "--porcelain"},
			expStdout: " M README.md\n",
		},

		"The last registered handler should take precedence.": {
			setup: func(eng *fake.Engine) {
				eng.On("which", fake.Response{ExitCode: 1})
				eng.On("which claude", fake.Response{Stdout: "/usr/bin/claude\n"})
			},
			command:   []string{"which", "claude"},
			expStdout: "/usr/bin/claude\n",
		},

		"A non zero exit code should be returned without error.": {
			setup: func(eng *fake.Engine) {
				eng.On("false", fake.Response{ExitCode: 1})
			},
			command:     []string{"false"},
			expExitCode: 1,
		},

		"A transport error should be returned as an error.": {
			setup: func(eng *fake.Engine) {
				eng.On("boom", fake.Response{Err: errors.New("connection reset")})
			},
			command: []string{"boom"},
			expErr:  true,
		},

		"An empty command should fail.": {
			setup:   func(eng *fake.Engine) {},
			command: []string{},
			expErr:  true,
		},

		"Stdin should be recorded.": {
			setup:   func(eng *fake.Engine) {},
			command: []string{"sh", "-c", "cat > /tmp/file"},
			stdin:   "hello",
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

			sb, err := eng.Create(ctx, testConfig())
			require.NoError(err)

			var stdout bytes.Buffer
			opts := model.ExecOpts{Stdout: &stdout}
			if test.stdin != "" {
				opts.Stdin = strings.NewReader(test.stdin)
			}
			res, err := sb.Exec(ctx, test.command, opts)

			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(test.expExitCode, res.ExitCode)
			assert.Equal(test.expStdout, stdout.String())

			calls := eng.Calls(sb.ID())
			require.Len(calls, 1)
			assert.Equal(test.command, calls[0].Command)
			assert.Equal(test.stdin, calls[0].Stdin)
		})
	}
}
