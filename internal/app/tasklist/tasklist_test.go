package tasklist_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/app/tasklist"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage/memory"
	"github.com/slok/agentbox/internal/storage/storagetest"
)

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		req    tasklist.Request
		expIDs []string
		expErr error
	}{
		"All the tasks of the user should be listed newest first.": {
			req:    tasklist.Request{UserID: "user-1"},
			expIDs: []string{"t3", "t2", "t1"},
		},

		"The tasks should be filtered by status.": {
			req:    tasklist.Request{UserID: "user-1", StatusFilter: []model.TaskStatus{model.TaskStatusCompleted, model.TaskStatusError}},
			expIDs: []string{"t3", "t1"},
		},

		"A user without tasks should have an empty list.": {
			req:    tasklist.Request{UserID: "user-3"},
			expIDs: []string{},
		},

		"A missing user should fail.": {
			req:    tasklist.Request{},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			base := time.Now().UTC().Truncate(time.Second)
			for i, st := range []model.TaskStatus{model.TaskStatusCompleted, model.TaskStatusProcessing, model.TaskStatusError} {
				task := storagetest.TaskFixture([]string{"t1", "t2", "t3"}[i], "user-1")
				task.Status = st
				task.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				require.NoError(repo.CreateTask(ctx, task))
			}
			require.NoError(repo.CreateTask(ctx, storagetest.TaskFixture("other", "user-2")))

			svc, err := tasklist.NewService(tasklist.ServiceConfig{Repository: repo})
			require.NoError(err)

			tasks, err := svc.Run(ctx, test.req)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)

			ids := []string{}
			for _, t := range tasks {
				ids = append(ids, t.ID)
			}
			assert.Equal(test.expIDs, ids)
		})
	}
}
