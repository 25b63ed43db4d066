package taskrun_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/app/taskrun"
	"github.com/slok/agentbox/internal/gitpub"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/provision"
	"github.com/slok/agentbox/internal/sandbox/fake"
	"github.com/slok/agentbox/internal/sandbox/registry"
	"github.com/slok/agentbox/internal/storage/memory"
	"github.com/slok/agentbox/internal/storage/storagetest"
	"github.com/slok/agentbox/internal/tasklog"
)

type fakeAdapter struct {
	mu   sync.Mutex
	reqs []agent.ExecuteRequest
	res  *agent.Result
	err  error
}

func (f *fakeAdapter) Variant() model.AgentVariant { return model.AgentClaude }
func (f *fakeAdapter) RequiredEnv() []string       { return []string{"ANTHROPIC_API_KEY"} }

func (f *fakeAdapter) Execute(ctx context.Context, req agent.ExecuteRequest) (*agent.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	_ = req.Messages.CreateMessage(ctx, model.Message{ID: req.MessageID, TaskID: req.TaskID, Role: model.MessageRoleAgent})
	return f.res, nil
}

func (f *fakeAdapter) requests() []agent.ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.ExecuteRequest{}, f.reqs...)
}

type testEnv struct {
	repo     *memory.Repository
	engine   *fake.Engine
	registry *registry.Registry
	adapter  *fakeAdapter
	svc      *taskrun.Service
}

func newTestEnv(t *testing.T, engCfg fake.EngineConfig, env map[string]string) *testEnv {
	t.Helper()
	require := require.New(t)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	eng, err := fake.NewEngine(engCfg)
	require.NoError(err)
	reg, err := registry.NewRegistry(registry.RegistryConfig{Engine: eng})
	require.NoError(err)

	adapter := &fakeAdapter{res: &agent.Result{Success: true, AgentResponse: "Added the README.", ChangesDetected: true, SessionID: "sess-1"}}
	agents, err := agent.NewRegistry(adapter)
	require.NoError(err)

	prov, err := provision.NewService(provision.ServiceConfig{
		Engine:         eng,
		Registry:       reg,
		Credentials:    agents,
		FallbackBranch: func() string { return "agentbox/fallback" },
	})
	require.NoError(err)

	logs, err := tasklog.NewService(tasklog.ServiceConfig{Repo: repo})
	require.NoError(err)
	pub, err := gitpub.NewPublisher(gitpub.PublisherConfig{})
	require.NoError(err)

	settings := model.DefaultSettings()
	svc, err := taskrun.NewService(taskrun.ServiceConfig{
		Repo:        repo,
		TaskLogs:    logs,
		Provisioner: prov,
		Agents:      agents,
		Publisher:   pub,
		Registry:    reg,
		Engine:      eng,
		Env:         env,
		Settings:    settings,
	})
	require.NoError(err)

	return &testEnv{repo: repo, engine: eng, registry: reg, adapter: adapter, svc: svc}
}

var credentials = map[string]string{"ANTHROPIC_API_KEY": "sk-ant-REDACTED"}

func dirtyTree(e *fake.Engine) {
	e.On("git status --porcelain", fake.Response{Stdout: "?? README.md\n"})
	e.On("git rev-parse HEAD", fake.Response{Stdout: "abc123\n"})
}

func TestRunNew(t *testing.T) {
	tests := map[string]struct {
		task       func(t *model.Task)
		env        map[string]string
		mock       func(te *testEnv)
		expStatus  model.TaskStatus
		expErr     error
		expSandbox bool
		expTorn    bool
		expPushed  bool
		expErrMsg  string
	}{
		"A task without keep alive should be completed and its sandbox removed.": {
			task:      func(t *model.Task) { t.KeepAlive = false },
			env:       credentials,
			mock:      func(te *testEnv) { dirtyTree(te.engine) },
			expStatus: model.TaskStatusCompleted,
			expTorn:   true,
			expPushed: true,
		},

		"A task with keep alive should be completed keeping its sandbox.": {
			task: func(t *model.Task) { t.KeepAlive = true },
			env:  credentials,
			mock: func(te *testEnv) {
				dirtyTree(te.engine)
				te.engine.On("cat package.json", fake.Response{Stdout: `{"scripts":{"dev":"vite"}}`})
			},
			expStatus:  model.TaskStatusCompleted,
			expSandbox: true,
			expPushed:  true,
		},

		"Missing agent credentials should fail the task before creating a sandbox.": {
			task:      func(t *model.Task) { t.KeepAlive = false },
			env:       map[string]string{},
			expStatus: model.TaskStatusError,
			expErr:    model.ErrMissingConfig,
			expErrMsg: "Sandbox provisioning failed",
		},

		"An agent failure should fail the task and remove the sandbox.": {
			task: func(t *model.Task) { t.KeepAlive = false },
			env:  credentials,
			mock: func(te *testEnv) {
				te.adapter.err = fmt.Errorf("claude exited with code 1: %w", model.ErrAgentExecution)
			},
			expStatus: model.TaskStatusError,
			expErr:    model.ErrAgentExecution,
			expTorn:   true,
			expErrMsg: "Agent execution failed",
		},

		"A push failure should fail the task.": {
			task: func(t *model.Task) { t.KeepAlive = true },
			env:  credentials,
			mock: func(te *testEnv) {
				dirtyTree(te.engine)
				te.engine.On("git push", fake.Response{ExitCode: 128})
			},
			expStatus:  model.TaskStatusError,
			expErr:     model.ErrPushFailed,
			expSandbox: true,
			expErrMsg:  "Publishing failed",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			te := newTestEnv(t, fake.EngineConfig{}, test.env)
			if test.mock != nil {
				test.mock(te)
			}

			task := storagetest.TaskFixture("task-1", "user-1")
			task.BranchName = ""
			test.task(&task)
			require.NoError(te.repo.CreateTask(ctx, task))

			err := te.svc.RunNew(ctx, task.ID)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else {
				assert.NoError(err)
			}

			got, err := te.repo.GetTask(ctx, task.ID)
			require.NoError(err)
			assert.Equal(test.expStatus, got.Status)
			if test.expErrMsg != "" {
				assert.Contains(got.Error, test.expErrMsg)
			}

			_, registered := te.registry.Get(task.ID)
			assert.Equal(test.expSandbox, registered)
			assert.Equal(test.expSandbox, got.HasSandbox())
			if test.expTorn {
				assert.Len(te.engine.Removed(), 1)
				assert.Empty(te.engine.Sandboxes())
			}

			if test.expStatus == model.TaskStatusCompleted {
				assert.Equal(100, got.Progress)
				assert.Equal("sess-1", got.AgentSessionID)
				assert.Contains(got.BranchName, "agentbox/")

				msgs, err := te.repo.ListMessages(ctx, task.ID)
				require.NoError(err)
				require.Len(msgs, 2)
				assert.Equal(model.MessageRoleUser, msgs[0].Role)
				assert.Equal(task.Prompt, msgs[0].Content)
				assert.Equal(model.MessageRoleAgent, msgs[1].Role)
				assert.Equal("Added the README.", msgs[1].Content)
			}

			sandboxID := got.SandboxID
			if removed := te.engine.Removed(); sandboxID == "" && len(removed) == 1 {
				sandboxID = removed[0]
			}
			var pushed, devServer bool
			for _, c := range te.engine.Calls(sandboxID) {
				if c.Cmd() == "git push origin "+got.BranchName {
					pushed = true
				}
				if c.Detach {
					devServer = true
				}
			}
			if test.expPushed {
				assert.True(pushed)
			}
			assert.Equal(test.expSandbox && test.expStatus == model.TaskStatusCompleted, devServer)
		})
	}
}

func TestRunNewCancelledDuringProvisioning(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	var te *testEnv
	te = newTestEnv(t, fake.EngineConfig{CreateHook: func(ctx context.Context, cfg model.SandboxConfig) error {
		return te.repo.DeleteTask(ctx, cfg.TaskID)
	}}, credentials)

	task := storagetest.TaskFixture("task-1", "user-1")
	require.NoError(te.repo.CreateTask(ctx, task))

	err := te.svc.RunNew(ctx, task.ID)
	require.NoError(err)

	assert.Empty(te.engine.Sandboxes())
	assert.Len(te.engine.Removed(), 1)
	assert.Empty(te.adapter.requests())
}

func TestRunContinue(t *testing.T) {
	tests := map[string]struct {
		keepAlive   bool
		expire      bool
		running     bool
		expErr      error
		expStatus   model.TaskStatus
		expResumed  bool
		expSandbox  bool
		instruction string
	}{
		"A follow up on a retained sandbox should resume the agent session.": {
			keepAlive:   true,
			instruction: "Now add a license",
			expStatus:   model.TaskStatusCompleted,
			expResumed:  true,
			expSandbox:  true,
		},

		"An expired sandbox should be gone and the task unchanged.": {
			keepAlive:   true,
			expire:      true,
			instruction: "Now add a license",
			expErr:      model.ErrSandboxGone,
			expStatus:   model.TaskStatusCompleted,
			expSandbox:  true,
		},

		"A task that is already running should not start a second run on its sandbox.": {
			keepAlive:   true,
			running:     true,
			instruction: "Now add a license",
			expErr:      model.ErrNotValid,
			expStatus:   model.TaskStatusProcessing,
			expSandbox:  true,
		},

		"An empty instruction should fail.": {
			keepAlive:  true,
			expErr:     model.ErrNotValid,
			expStatus:  model.TaskStatusCompleted,
			expSandbox: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			te := newTestEnv(t, fake.EngineConfig{}, credentials)
			dirtyTree(te.engine)

			task := storagetest.TaskFixture("task-1", "user-1")
			task.KeepAlive = test.keepAlive
			require.NoError(te.repo.CreateTask(ctx, task))
			require.NoError(te.svc.RunNew(ctx, task.ID))

			if test.running {
				_, err := te.repo.UpdateTask(ctx, task.ID, func(t *model.Task) error {
					return t.TransitionTo(model.TaskStatusProcessing)
				})
				require.NoError(err)
			}

			before, err := te.repo.GetTask(ctx, task.ID)
			require.NoError(err)
			if test.expire {
				te.engine.Expire(before.SandboxID)
				te.registry.Unregister(task.ID)
			}

			err = te.svc.RunContinue(ctx, taskrun.ContinueRequest{TaskID: task.ID, Instruction: test.instruction, Model: "opus"})
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				after, err := te.repo.GetTask(ctx, task.ID)
				require.NoError(err)
				assert.Equal(test.expStatus, after.Status)
				assert.Equal(before.Logs, after.Logs)
				assert.Len(te.adapter.requests(), 1)
				return
			}
			require.NoError(err)

			after, err := te.repo.GetTask(ctx, task.ID)
			require.NoError(err)
			assert.Equal(test.expStatus, after.Status)
			assert.Equal("opus", after.Model)
			assert.Equal(test.expSandbox, after.HasSandbox())

			reqs := te.adapter.requests()
			require.Len(reqs, 2)
			last := reqs[1]
			assert.Equal(test.expResumed, last.IsResumed)
			assert.Equal("sess-1", last.SessionID)
			assert.Equal(test.instruction, last.Instruction)
			assert.Equal("opus", last.Model)
		})
	}
}

func TestRunNewOnRunningTask(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t, fake.EngineConfig{}, credentials)

	task := storagetest.TaskFixture("task-1", "user-1")
	task.Status = model.TaskStatusProcessing
	require.NoError(t, te.repo.CreateTask(ctx, task))

	err := te.svc.RunNew(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrNotValid)
	assert.Empty(t, te.adapter.requests())
	assert.Empty(t, te.engine.Sandboxes())
}

func TestRunContinueWithoutSandbox(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t, fake.EngineConfig{}, credentials)

	task := storagetest.TaskFixture("task-1", "user-1")
	task.KeepAlive = false
	require.NoError(t, te.repo.CreateTask(ctx, task))
	require.NoError(t, te.svc.RunNew(ctx, task.ID))

	err := te.svc.RunContinue(ctx, taskrun.ContinueRequest{TaskID: task.ID, Instruction: "again"})
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestBranchName(t *testing.T) {
	tests := map[string]struct {
		prompt    string
		expPrefix string
	}{
		"A prompt should be slugified.": {
			prompt:    "Add a README, with Usage!",
			expPrefix: "agentbox/add-a-readme-with-usage-",
		},
		"A long prompt should be truncated.": {
			prompt:    "Refactor the whole storage layer to use transactions everywhere please",
			expPrefix: "agentbox/refactor-the-whole-storage-layer-to-use-",
		},
		"An empty slug should only use the suffix.": {
			prompt:    "!!!",
			expPrefix: "agentbox/",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := taskrun.BranchName(test.prompt)
			assert.Contains(t, got, test.expPrefix)
			assert.Len(t, got, len(test.expPrefix)+8)
		})
	}
}

func TestCommitMessage(t *testing.T) {
	msg := taskrun.CommitMessage(model.AgentCodex, "Fix the login bug\n\nIt fails on empty passwords.")
	assert.Equal(t, "Fix the login bug\n\nChanges made by codex agent with agentbox.", msg)

	long := taskrun.CommitMessage(model.AgentClaude, "Make every single handler of the HTTP API return JSON errors and document it")
	assert.LessOrEqual(t, len(long[:len(long)-len("\n\nChanges made by claude agent with agentbox.")]), 72)
}
