package taskremove_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/app/taskremove"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/sandbox/sandboxmock"
	"github.com/slok/agentbox/internal/storage/storagemock"
	"github.com/slok/agentbox/internal/storage/storagetest"
)

type fakeRegistry map[string]sandbox.Sandbox

func (f fakeRegistry) Unregister(taskID string) (sandbox.Sandbox, bool) {
	sb, ok := f[taskID]
	delete(f, taskID)
	return sb, ok
}

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		req        taskremove.Request
		task       func(t *model.Task)
		registered bool
		setupMocks func(eng *sandboxmock.MockEngine, repo *storagemock.MockRepository)
		expErr     error
		expAnyErr  bool
	}{
		"A task with a sandbox should tear it down and be deleted.": {
			req:  taskremove.Request{UserID: "user-1", TaskID: "task-1"},
			task: func(t *model.Task) { t.SandboxID = "sb-1" },
			setupMocks: func(eng *sandboxmock.MockEngine, repo *storagemock.MockRepository) {
				eng.On("Remove", mock.Anything, "sb-1").Once().Return(nil)
				repo.On("DeleteTask", mock.Anything, "task-1").Once().Return(nil)
			},
		},

		"A task being provisioned should tear down its registered sandbox.": {
			req:        taskremove.Request{UserID: "user-1", TaskID: "task-1"},
			task:       func(t *model.Task) { t.Status = model.TaskStatusProcessing },
			registered: true,
			setupMocks: func(eng *sandboxmock.MockEngine, repo *storagemock.MockRepository) {
				eng.On("Remove", mock.Anything, "sb-live").Once().Return(nil)
				repo.On("DeleteTask", mock.Anything, "task-1").Once().Return(nil)
			},
		},

		"A task without sandbox should only be deleted.": {
			req:  taskremove.Request{UserID: "user-1", TaskID: "task-1"},
			task: func(t *model.Task) {},
			setupMocks: func(eng *sandboxmock.MockEngine, repo *storagemock.MockRepository) {
				repo.On("DeleteTask", mock.Anything, "task-1").Once().Return(nil)
			},
		},

		"A task of another user should not be found.": {
			req:        taskremove.Request{UserID: "user-2", TaskID: "task-1"},
			task:       func(t *model.Task) { t.SandboxID = "sb-1" },
			setupMocks: func(eng *sandboxmock.MockEngine, repo *storagemock.MockRepository) {},
			expErr:     model.ErrNotFound,
		},

		"A sandbox teardown failure should not delete the task.": {
			req:  taskremove.Request{UserID: "user-1", TaskID: "task-1"},
			task: func(t *model.Task) { t.SandboxID = "sb-1" },
			setupMocks: func(eng *sandboxmock.MockEngine, repo *storagemock.MockRepository) {
				eng.On("Remove", mock.Anything, "sb-1").Once().Return(errors.New("docker is down"))
			},
			expAnyErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			task := storagetest.TaskFixture("task-1", "user-1")
			test.task(&task)

			eng := &sandboxmock.MockEngine{}
			repo := &storagemock.MockRepository{}
			repo.On("GetTask", mock.Anything, "task-1").Once().Return(&task, nil)
			test.setupMocks(eng, repo)

			reg := fakeRegistry{}
			if test.registered {
				sb := &sandboxmock.MockSandbox{}
				sb.On("ID").Return("sb-live")
				reg["task-1"] = sb
			}

			svc, err := taskremove.NewService(taskremove.ServiceConfig{Engine: eng, Registry: reg, Repository: repo})
			require.NoError(err)

			got, err := svc.Run(context.Background(), test.req)
			switch {
			case test.expErr != nil:
				assert.ErrorIs(err, test.expErr)
			case test.expAnyErr:
				assert.Error(err)
				repo.AssertNotCalled(t, "DeleteTask", mock.Anything, mock.Anything)
			default:
				require.NoError(err)
				assert.Equal("task-1", got.ID)
				assert.Empty(reg)
			}
			eng.AssertExpectations(t)
		})
	}
}
