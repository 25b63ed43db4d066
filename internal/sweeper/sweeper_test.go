package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
	"github.com/slok/agentbox/internal/sandbox/registry"
	"github.com/slok/agentbox/internal/storage/memory"
	"github.com/slok/agentbox/internal/storage/storagetest"
	"github.com/slok/agentbox/internal/sweeper"
)

func TestSweeperSweep(t *testing.T) {
	tests := map[string]struct {
		task         func(t *model.Task, sandboxID string)
		elapsed      time.Duration
		expire       bool
		leaked       bool
		expSwept     int
		expStatus    model.TaskStatus
		expSandbox   bool
		expRemoved   bool
		expErrorText string
	}{
		"A task processing past its max duration should be failed and its sandbox removed.": {
			task: func(t *model.Task, id string) {
				t.Status = model.TaskStatusProcessing
				t.SandboxID = id
			},
			elapsed:      2 * time.Hour,
			expSwept:     1,
			expStatus:    model.TaskStatusError,
			expRemoved:   true,
			expErrorText: "max duration of 30m0s",
		},

		"A task processing within its max duration should be kept.": {
			task: func(t *model.Task, id string) {
				t.Status = model.TaskStatusProcessing
				t.SandboxID = id
			},
			elapsed:    20 * time.Minute,
			expStatus:  model.TaskStatusProcessing,
			expSandbox: true,
		},

		"A completed task with an expired sandbox should lose its sandbox.": {
			task: func(t *model.Task, id string) {
				t.Status = model.TaskStatusCompleted
				t.SandboxID = id
			},
			elapsed:   2 * time.Hour,
			expire:    true,
			expStatus: model.TaskStatusCompleted,
		},

		"A finished task with a registered short lived sandbox should have it removed.": {
			task: func(t *model.Task, id string) {
				t.Status = model.TaskStatusError
				t.SandboxID = id
			},
			elapsed:    time.Minute,
			leaked:     true,
			expStatus:  model.TaskStatusError,
			expRemoved: true,
		},

		"A completed task with a live sandbox should be kept.": {
			task: func(t *model.Task, id string) {
				t.Status = model.TaskStatusCompleted
				t.SandboxID = id
			},
			elapsed:    2 * time.Hour,
			expStatus:  model.TaskStatusCompleted,
			expSandbox: true,
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
				Source:    model.SandboxSource{URL: "https://github.com/org/repo"},
				Resources: model.Resources{VCPUs: 1, MemoryMB: 512},
				Timeout:   time.Hour,
			})
			require.NoError(err)
			if test.expire {
				eng.Expire(sb.ID())
			}
			reg, err := registry.NewRegistry(registry.RegistryConfig{Engine: eng})
			require.NoError(err)
			require.NoError(reg.Register("task-1", sb, !test.leaked))

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			task := storagetest.TaskFixture("task-1", "user-1")
			test.task(&task, sb.ID())
			require.NoError(repo.CreateTask(ctx, task))

			sw, err := sweeper.NewSweeper(sweeper.SweeperConfig{
				Repository: repo,
				Engine:     eng,
				Registry:   reg,
				Now:        func() time.Time { return task.UpdatedAt.Add(test.elapsed) },
			})
			require.NoError(err)

			swept, err := sw.Sweep(ctx)
			require.NoError(err)
			assert.Equal(test.expSwept, swept)

			got, err := repo.GetTask(ctx, "task-1")
			require.NoError(err)
			assert.Equal(test.expStatus, got.Status)
			assert.Equal(test.expSandbox, got.HasSandbox())
			assert.Contains(got.Error, test.expErrorText)
			assert.Equal(test.expRemoved, len(eng.Removed()) == 1)

			_, registered := reg.Get("task-1")
			assert.Equal(test.expSandbox, registered)
		})
	}
}

func TestNewSweeperInvalidSchedule(t *testing.T) {
	eng, err := fake.NewEngine(fake.EngineConfig{})
	require.NoError(t, err)
	reg, err := registry.NewRegistry(registry.RegistryConfig{Engine: eng})
	require.NoError(t, err)
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	_, err = sweeper.NewSweeper(sweeper.SweeperConfig{Repository: repo, Engine: eng, Registry: reg, Schedule: "every now and then"})
	assert.Error(t, err)
}
