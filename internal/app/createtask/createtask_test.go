package createtask_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/app/createtask"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/ratelimit"
	"github.com/slok/agentbox/internal/storage/memory"
	"github.com/slok/agentbox/internal/storage/storagemock"
)

type staticCredentials map[model.AgentVariant][]string

func (s staticCredentials) RequiredEnv(v model.AgentVariant) ([]string, error) {
	return s[v], nil
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		cfg    createtask.ServiceConfig
		expErr bool
		errMsg string
	}{
		"Missing repository returns error": {
			cfg:    createtask.ServiceConfig{},
			expErr: true,
			errMsg: "repository is required",
		},
		"Missing limiter returns error": {
			cfg:    createtask.ServiceConfig{Repository: &storagemock.MockRepository{}},
			expErr: true,
			errMsg: "limiter is required",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			svc, err := createtask.NewService(tt.cfg)
			if tt.expErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, svc)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func newRequest() createtask.Request {
	return createtask.Request{
		UserID:    "user-1",
		Prompt:    "  Add a README ",
		RepoURL:   "https://github.com/org/repo",
		Agent:     model.AgentClaude,
		KeepAlive: true,
	}
}

func TestServiceCreate(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		req        func(r *createtask.Request)
		dailyLimit int
		used       int
		env        map[string]string
		setupMocks func(repo *storagemock.MockRepository)
		expErr     error
		expQuota   ratelimit.Status
	}{
		"A valid task should be stored queued.": {
			dailyLimit: 5,
			env:        map[string]string{"ANTHROPIC_API_KEY": "k"},
			setupMocks: func(repo *storagemock.MockRepository) {
				repo.On("CreateTask", mock.Anything, mock.MatchedBy(func(t model.Task) bool {
					return t.Status == model.TaskStatusQueued &&
						t.Prompt == "Add a README" &&
						t.MaxDuration == model.DefaultTaskMaxDuration &&
						t.ID != ""
				})).Once().Return(nil)
			},
			expQuota: ratelimit.Status{Limit: 5, Remaining: 4, ResetAt: now.Add(14 * time.Hour)},
		},

		"An exhausted quota should not create the task.": {
			dailyLimit: 2,
			used:       2,
			env:        map[string]string{"ANTHROPIC_API_KEY": "k"},
			expErr:     model.ErrRateLimited,
			expQuota:   ratelimit.Status{Limit: 2, Remaining: 0, ResetAt: now.Add(14 * time.Hour)},
		},

		"An unknown agent should fail.": {
			req:        func(r *createtask.Request) { r.Agent = "copilot" },
			dailyLimit: 1,
			expErr:     model.ErrNotValid,
		},

		"Missing agent credentials should fail as a configuration error.": {
			dailyLimit: 1,
			env:        map[string]string{},
			expErr:     model.ErrMissingConfig,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			quotas, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			for i := 0; i < test.used; i++ {
				_, _, err := quotas.Increment(ctx, "user-1", now, test.dailyLimit)
				require.NoError(err)
			}
			limiter, err := ratelimit.NewLimiter(ratelimit.LimiterConfig{
				Repo:       quotas,
				DailyLimit: test.dailyLimit,
				Now:        func() time.Time { return now },
			})
			require.NoError(err)

			repo := &storagemock.MockRepository{}
			if test.setupMocks != nil {
				test.setupMocks(repo)
			}

			svc, err := createtask.NewService(createtask.ServiceConfig{
				Repository:  repo,
				Limiter:     limiter,
				Credentials: staticCredentials{model.AgentClaude: {"ANTHROPIC_API_KEY"}},
				Env:         test.env,
				Now:         func() time.Time { return now },
			})
			require.NoError(err)

			req := newRequest()
			if test.req != nil {
				test.req(&req)
			}
			resp, err := svc.Create(ctx, req)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				if test.expQuota.Limit > 0 {
					require.NotNil(resp)
					assert.Equal(test.expQuota, resp.Quota)
				}
				repo.AssertNotCalled(t, "CreateTask", mock.Anything, mock.Anything)
				return
			}
			require.NoError(err)

			assert.Equal(test.expQuota, resp.Quota)
			assert.Equal(now, resp.Task.CreatedAt)
			repo.AssertExpectations(t)
		})
	}
}

func TestServiceCreateFailedStoreGivesBackQuota(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 23, 59, 0, 0, time.UTC)

	quotas, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(ratelimit.LimiterConfig{
		Repo:       quotas,
		DailyLimit: 3,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	repo := &storagemock.MockRepository{}
	repo.On("CreateTask", mock.Anything, mock.Anything).Once().Return(errors.New("disk full"))

	svc, err := createtask.NewService(createtask.ServiceConfig{
		Repository: repo,
		Limiter:    limiter,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, newRequest())
	require.Error(t, err)

	count, err := quotas.Count(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	repo.AssertExpectations(t)
}

func TestServiceCreateInvalidTaskKeepsQuota(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	quotas, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(ratelimit.LimiterConfig{Repo: quotas, DailyLimit: 3})
	require.NoError(t, err)
	svc, err := createtask.NewService(createtask.ServiceConfig{Repository: quotas, Limiter: limiter})
	require.NoError(t, err)

	req := newRequest()
	req.RepoURL = "ftp://example.com/repo"
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, model.ErrNotValid)

	count, err := quotas.Count(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
