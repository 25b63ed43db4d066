package io

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
)

func TestSettingsYAMLRepositoryGetSettings(t *testing.T) {
	tests := map[string]struct {
		fs          fstest.MapFS
		path        string
		expSettings func() model.Settings
		expErr      bool
		errMsg      string
	}{
		"An empty file should return the default settings.": {
			fs:          fstest.MapFS{"config.yaml": &fstest.MapFile{Data: []byte("---\n")}},
			path:        "config.yaml",
			expSettings: model.DefaultSettings,
		},

		"A full file should override the defaults.": {
			fs: fstest.MapFS{"config.yaml": &fstest.MapFile{Data: []byte(`
sandbox:
  image: ghcr.io/org/sandbox:latest
  timeout: 30m
  public_host: sandboxes.example.com
  resources:
    vcpus: 4
    memory_mb: 8192
daily_quota: 5
git:
  author_name: Bot
  author_email: bot@example.com
dev_server:
  port: 0
agents:
  claude:
    install: npm i -g @anthropic-ai/claude-code@latest
`)}},
			path: "config.yaml",
			expSettings: func() model.Settings {
				s := model.DefaultSettings()
				s.Image = "ghcr.io/org/sandbox:latest"
				s.Timeout = 30 * time.Minute
				s.PublicHost = "sandboxes.example.com"
				s.Resources = model.Resources{VCPUs: 4, MemoryMB: 8192}
				s.DailyQuota = 5
				s.GitAuthor = model.GitAuthor{Name: "Bot", Email: "bot@example.com"}
				s.DevServer.Port = 0
				s.AgentInstall = map[model.AgentVariant]string{model.AgentClaude: "npm i -g @anthropic-ai/claude-code@latest"}
				return s
			},
		},

		"An invalid timeout should fail.": {
			fs:     fstest.MapFS{"config.yaml": &fstest.MapFile{Data: []byte("sandbox:\n  timeout: forever\n")}},
			path:   "config.yaml",
			expErr: true,
			errMsg: "sandbox timeout",
		},

		"An unknown agent should fail.": {
			fs:     fstest.MapFS{"config.yaml": &fstest.MapFile{Data: []byte("agents:\n  clippy:\n    install: npm i clippy\n")}},
			path:   "config.yaml",
			expErr: true,
			errMsg: "unknown agent",
		},

		"Missing file should return error.": {
			fs:     fstest.MapFS{},
			path:   "nonexistent.yaml",
			expErr: true,
			errMsg: "reading settings file",
		},

		"Invalid YAML should return error.": {
			fs:     fstest.MapFS{"invalid.yaml": &fstest.MapFile{Data: []byte(`invalid: yaml: content: {}`)}},
			path:   "invalid.yaml",
			expErr: true,
			errMsg: "parsing YAML",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			repo := NewSettingsYAMLRepository(tc.fs)
			settings, err := repo.GetSettings(context.Background(), tc.path)

			if tc.expErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expSettings(), settings)
		})
	}
}

func TestSettingsYAMLRepositoryGetSettingsContextCancellation(t *testing.T) {
	fs := fstest.MapFS{"config.yaml": &fstest.MapFile{Data: []byte("daily_quota: 1\n")}}

	repo := NewSettingsYAMLRepository(fs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.GetSettings(ctx, "config.yaml")
	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}
