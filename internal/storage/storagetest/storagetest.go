// Package storagetest has the behaviour tests every storage.Repository implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// TaskFixture returns a valid queued task.
func TaskFixture(id, userID string) model.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Task{
		ID:          id,
		UserID:      userID,
		Prompt:      "Add a README",
		Agent:       model.AgentClaude,
		Model:       "sonnet",
		RepoURL:     "https://example.com/org/repo",
		BranchName:  "agentbox/add-readme",
		KeepAlive:   true,
		MaxDuration: 30 * time.Minute,
		Status:      model.TaskStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RunRepositoryTests runs the repository behaviour tests against the repositories
// returned by newRepo, each call must return a new empty repository.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Run("Tasks", func(t *testing.T) { testTasks(t, newRepo) })
	t.Run("ConcurrentTaskUpdates", func(t *testing.T) { testConcurrentTaskUpdates(t, newRepo) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newRepo) })
	t.Run("Connectors", func(t *testing.T) { testConnectors(t, newRepo) })
	t.Run("Quotas", func(t *testing.T) { testQuotas(t, newRepo) })
}

func testTasks(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo storage.Repository) error
		expErr  error
	}{
		"Creating and getting a task should return the same task.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				task := TaskFixture("t1", "u1")
				task.Logs = []model.LogEntry{{Type: model.LogTypeInfo, Message: "hello", Timestamp: task.CreatedAt}}
				require.NoError(t, repo.CreateTask(ctx, task))

				got, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, task, *got)
				return nil
			},
		},

		"Creating a task twice should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, TaskFixture("t1", "u1")))
				return repo.CreateTask(ctx, TaskFixture("t1", "u1"))
			},
			expErr: model.ErrAlreadyExists,
		},

		"Getting a missing task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				_, err := repo.GetTask(ctx, "missing")
				return err
			},
			expErr: model.ErrNotFound,
		},

		"Updating a task should persist the changes.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, TaskFixture("t1", "u1")))

				updated, err := repo.UpdateTask(ctx, "t1", func(task *model.Task) error {
					if err := task.TransitionTo(model.TaskStatusProcessing); err != nil {
						return err
					}
					task.SetProgress(40)
					task.SandboxID = "sb-1"
					task.SandboxURL = "http://sb-1:3000"
					task.AgentSessionID = "session-1"
					task.AppendLog(model.LogEntry{Type: model.LogTypeCommand, Message: "git status", Timestamp: time.Now().UTC()})
					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, model.TaskStatusProcessing, updated.Status)

				got, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, model.TaskStatusProcessing, got.Status)
				assert.Equal(t, 40, got.Progress)
				assert.Equal(t, "sb-1", got.SandboxID)
				assert.Equal(t, "http://sb-1:3000", got.SandboxURL)
				assert.Equal(t, "session-1", got.AgentSessionID)
				require.Len(t, got.Logs, 1)
				assert.Equal(t, "git status", got.Logs[0].Message)
				return nil
			},
		},

		"A failing update function should not persist anything.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, TaskFixture("t1", "u1")))

				_, err := repo.UpdateTask(ctx, "t1", func(task *model.Task) error {
					task.Prompt = "changed"
					return model.ErrNotValid
				})

				got, gerr := repo.GetTask(ctx, "t1")
				require.NoError(t, gerr)
				assert.Equal(t, "Add a README", got.Prompt)
				return err
			},
			expErr: model.ErrNotValid,
		},

		"Updating a missing task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				_, err := repo.UpdateTask(ctx, "missing", func(task *model.Task) error { return nil })
				return err
			},
			expErr: model.ErrNotFound,
		},

		"Completing a task should persist the completion time.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				task := TaskFixture("t1", "u1")
				task.Status = model.TaskStatusProcessing
				require.NoError(t, repo.CreateTask(ctx, task))

				_, err := repo.UpdateTask(ctx, "t1", func(task *model.Task) error {
					return task.TransitionTo(model.TaskStatusCompleted)
				})
				require.NoError(t, err)

				got, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				assert.NotNil(t, got.CompletedAt)
				return nil
			},
		},

		"Listing tasks should filter by user and status, newest first.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				t1 := TaskFixture("t1", "u1")
				t1.CreatedAt = t1.CreatedAt.Add(-2 * time.Hour)
				t2 := TaskFixture("t2", "u1")
				t2.CreatedAt = t2.CreatedAt.Add(-1 * time.Hour)
				t2.Status = model.TaskStatusProcessing
				t3 := TaskFixture("t3", "u2")
				for _, task := range []model.Task{t1, t2, t3} {
					require.NoError(t, repo.CreateTask(ctx, task))
				}

				all, err := repo.ListTasks(ctx, storage.ListTasksOpts{})
				require.NoError(t, err)
				assert.Equal(t, []string{"t3", "t2", "t1"}, taskIDs(all))

				u1, err := repo.ListTasks(ctx, storage.ListTasksOpts{UserID: "u1"})
				require.NoError(t, err)
				assert.Equal(t, []string{"t2", "t1"}, taskIDs(u1))

				processing, err := repo.ListTasks(ctx, storage.ListTasksOpts{Statuses: []model.TaskStatus{model.TaskStatusProcessing}})
				require.NoError(t, err)
				assert.Equal(t, []string{"t2"}, taskIDs(processing))
				return nil
			},
		},

		"Deleting a task should remove it and its messages.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, TaskFixture("t1", "u1")))
				require.NoError(t, repo.CreateMessage(ctx, model.Message{ID: "m1", TaskID: "t1", Role: model.MessageRoleUser, Content: "hi", CreatedAt: time.Now().UTC()}))
				require.NoError(t, repo.DeleteTask(ctx, "t1"))

				msgs, err := repo.ListMessages(ctx, "t1")
				require.NoError(t, err)
				assert.Empty(t, msgs)

				_, err = repo.GetTask(ctx, "t1")
				return err
			},
			expErr: model.ErrNotFound,
		},

		"Deleting a missing task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				return repo.DeleteTask(ctx, "missing")
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			err := test.actions(context.Background(), t, repo)
			checkErr(t, test.expErr, err)
		})
	}
}

func testConcurrentTaskUpdates(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.CreateTask(ctx, TaskFixture("t1", "u1")))

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.UpdateTask(ctx, "t1", func(task *model.Task) error {
				task.AppendLog(model.LogEntry{Type: model.LogTypeInfo, Message: fmt.Sprintf("log-%d", i), Timestamp: time.Now().UTC()})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, got.Logs, n)
}

func testMessages(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo storage.Repository) error
		expErr  error
	}{
		"Messages should be listed in creation order with their content updates.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, TaskFixture("t1", "u1")))
				now := time.Now().UTC()
				require.NoError(t, repo.CreateMessage(ctx, model.Message{ID: "m1", TaskID: "t1", Role: model.MessageRoleUser, Content: "Add a README", CreatedAt: now, UpdatedAt: now}))
				require.NoError(t, repo.CreateMessage(ctx, model.Message{ID: "m2", TaskID: "t1", Role: model.MessageRoleAgent, CreatedAt: now, UpdatedAt: now}))
				require.NoError(t, repo.AppendMessageContent(ctx, "m2", "Hello"))
				require.NoError(t, repo.AppendMessageContent(ctx, "m2", " world"))

				msgs, err := repo.ListMessages(ctx, "t1")
				require.NoError(t, err)
				require.Len(t, msgs, 2)
				assert.Equal(t, "m1", msgs[0].ID)
				assert.Equal(t, model.MessageRoleUser, msgs[0].Role)
				assert.Equal(t, "m2", msgs[1].ID)
				assert.Equal(t, "Hello world", msgs[1].Content)

				require.NoError(t, repo.SetMessageContent(ctx, "m2", "Done"))
				msgs, err = repo.ListMessages(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, "Done", msgs[1].Content)
				return nil
			},
		},

		"Creating a message for a missing task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				return repo.CreateMessage(ctx, model.Message{ID: "m1", TaskID: "missing", Role: model.MessageRoleUser, CreatedAt: time.Now().UTC()})
			},
			expErr: model.ErrNotFound,
		},

		"Appending to a missing message should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				return repo.AppendMessageContent(ctx, "missing", "x")
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			err := test.actions(context.Background(), t, repo)
			checkErr(t, test.expErr, err)
		})
	}
}

func testConnectors(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo storage.Repository) error
		expErr  error
	}{
		"Upserting connectors should create and replace them by user and name.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				now := time.Now().UTC().Truncate(time.Second)
				fs := model.Connector{ID: "c1", UserID: "u1", Name: "fs", Type: model.ConnectorTypeLocal, Command: "npx", Args: []string{"-y", "fs-server"}, Sealed: []byte("sealed"), CreatedAt: now}
				linear := model.Connector{ID: "c2", UserID: "u1", Name: "linear", Type: model.ConnectorTypeRemote, URL: "https://mcp.linear.app/sse", CreatedAt: now}
				other := model.Connector{ID: "c3", UserID: "u2", Name: "fs", Type: model.ConnectorTypeLocal, Command: "npx", CreatedAt: now}
				for _, c := range []model.Connector{linear, fs, other} {
					require.NoError(t, repo.UpsertConnector(ctx, c))
				}

				fs2 := fs
				fs2.Args = []string{"-y", "fs-server", "/workspace"}
				require.NoError(t, repo.UpsertConnector(ctx, fs2))

				cs, err := repo.ListConnectors(ctx, "u1")
				require.NoError(t, err)
				require.Len(t, cs, 2)
				assert.Equal(t, "fs", cs[0].Name)
				assert.Equal(t, []string{"-y", "fs-server", "/workspace"}, cs[0].Args)
				assert.Equal(t, []byte("sealed"), cs[0].Sealed)
				assert.Equal(t, "linear", cs[1].Name)
				assert.Equal(t, "https://mcp.linear.app/sse", cs[1].URL)
				return nil
			},
		},

		"Deleting a connector should remove it.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.Repository) error {
				require.NoError(t, repo.UpsertConnector(ctx, model.Connector{ID: "c1", UserID: "u1", Name: "fs", Type: model.ConnectorTypeLocal, Command: "npx", CreatedAt: time.Now().UTC()}))
				require.NoError(t, repo.DeleteConnector(ctx, "u1", "fs"))

				cs, err := repo.ListConnectors(ctx, "u1")
				require.NoError(t, err)
				assert.Empty(t, cs)
				return repo.DeleteConnector(ctx, "u1", "fs")
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			err := test.actions(context.Background(), t, repo)
			checkErr(t, test.expErr, err)
		})
	}
}

func testQuotas(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	repo := newRepo(t)

	day := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	for i := 1; i <= 2; i++ {
		count, ok, err := repo.Increment(ctx, "u1", day, 2)
		require.NoError(err)
		assert.True(ok)
		assert.Equal(i, count)
	}

	count, ok, err := repo.Increment(ctx, "u1", day, 2)
	require.NoError(err)
	assert.False(ok)
	assert.Equal(2, count)

	// Other users and days have their own counters.
	count, ok, err = repo.Increment(ctx, "u2", day, 2)
	require.NoError(err)
	assert.True(ok)
	assert.Equal(1, count)

	count, err = repo.Count(ctx, "u1", day.Add(time.Hour))
	require.NoError(err)
	assert.Equal(0, count)

	count, err = repo.Count(ctx, "u1", day)
	require.NoError(err)
	assert.Equal(2, count)

	// Decrements free a unit and never go below zero.
	count, err = repo.Decrement(ctx, "u1", day)
	require.NoError(err)
	assert.Equal(1, count)
	count, ok, err = repo.Increment(ctx, "u1", day, 2)
	require.NoError(err)
	assert.True(ok)
	assert.Equal(2, count)

	count, err = repo.Decrement(ctx, "u3", day)
	require.NoError(err)
	assert.Equal(0, count)
	count, err = repo.Count(ctx, "u3", day)
	require.NoError(err)
	assert.Equal(0, count)
}

func taskIDs(ts []model.Task) []string {
	ids := []string{}
	for _, t := range ts {
		ids = append(ids, t.ID)
	}
	return ids
}

func checkErr(t *testing.T, exp, got error) {
	t.Helper()
	if exp != nil {
		assert.True(t, errors.Is(got, exp), "expected %v, got %v", exp, got)
		return
	}
	assert.NoError(t, got)
}
