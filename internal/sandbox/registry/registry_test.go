package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
	"github.com/slok/agentbox/internal/sandbox/registry"
	"github.com/slok/agentbox/internal/sandbox/sandboxmock"
)

func testConfig(taskID string) model.SandboxConfig {
	return model.SandboxConfig{
		TaskID:    taskID,
		Image:     "node:22",
		Source:    model.SandboxSource{URL: "https://example.com/org/repo"},
		Resources: model.Resources{VCPUs: 1, MemoryMB: 512},
		Timeout:   time.Hour,
	}
}

func TestRegistryRegister(t *testing.T) {
	tests := map[string]struct {
		register func(r *registry.Registry, eng *fake.Engine) error
		expErr   error
	}{
		"Registering a sandbox should make it available.": {
			register: func(r *registry.Registry, eng *fake.Engine) error {
				sb, _ := eng.Create(context.Background(), testConfig("t1"))
				return r.Register("t1", sb, false)
			},
		},

		"Registering the same sandbox twice should not fail.": {
			register: func(r *registry.Registry, eng *fake.Engine) error {
				sb, _ := eng.Create(context.Background(), testConfig("t1"))
				_ = r.Register("t1", sb, false)
				return r.Register("t1", sb, true)
			},
		},

		"Registering a different sandbox for the same task should fail.": {
			register: func(r *registry.Registry, eng *fake.Engine) error {
				sb1, _ := eng.Create(context.Background(), testConfig("t1"))
				sb2, _ := eng.Create(context.Background(), testConfig("t1"))
				_ = r.Register("t1", sb1, false)
				return r.Register("t1", sb2, false)
			},
			expErr: model.ErrAlreadyExists,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			eng, err := fake.NewEngine(fake.EngineConfig{})
			require.NoError(t, err)
			r, err := registry.NewRegistry(registry.RegistryConfig{Engine: eng})
			require.NoError(t, err)

			err = test.register(r, eng)
			if test.expErr != nil {
				assert.True(t, errors.Is(err, test.expErr))
				return
			}
			assert.NoError(t, err)
			_, ok := r.Get("t1")
			assert.True(t, ok)
		})
	}
}

func TestRegistryUnregister(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	eng, err := fake.NewEngine(fake.EngineConfig{})
	require.NoError(err)
	r, err := registry.NewRegistry(registry.RegistryConfig{Engine: eng})
	require.NoError(err)

	sb, err := eng.Create(context.Background(), testConfig("t1"))
	require.NoError(err)
	require.NoError(r.Register("t1", sb, true))
	assert.True(r.KeepAlive("t1"))
	assert.Equal([]string{"t1"}, r.Tasks())

	got, ok := r.Unregister("t1")
	assert.True(ok)
	assert.Equal(sb.ID(), got.ID())

	_, ok = r.Unregister("t1")
	assert.False(ok)
	assert.Empty(r.Tasks())
}

func TestRegistryResolve(t *testing.T) {
	tests := map[string]struct {
		mock       func(m *sandboxmock.MockEngine, sb *sandboxmock.MockSandbox)
		registered bool
		handleID   string
		expErr     bool
	}{
		"A registered sandbox should be resolved without reconnecting.": {
			mock:       func(m *sandboxmock.MockEngine, sb *sandboxmock.MockSandbox) {},
			registered: true,
			handleID:   "sb-1",
		},

		"A registry miss should reconnect through the engine.": {
			mock: func(m *sandboxmock.MockEngine, sb *sandboxmock.MockSandbox) {
				m.On("Get", mock.Anything, "sb-1").Once().Return(sb, nil)
			},
			handleID: "sb-1",
		},

		"A registry miss with a failing reconnect should return not found.": {
			mock: func(m *sandboxmock.MockEngine, sb *sandboxmock.MockSandbox) {
				m.On("Get", mock.Anything, "sb-1").Once().Return(nil, errors.New("daemon unreachable"))
			},
			handleID: "sb-1",
			expErr:   true,
		},

		"A registry miss without handle id should return not found.": {
			mock:     func(m *sandboxmock.MockEngine, sb *sandboxmock.MockSandbox) {},
			handleID: "",
			expErr:   true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			msb := &sandboxmock.MockSandbox{}
			msb.On("ID").Return("sb-1")
			meng := &sandboxmock.MockEngine{}
			test.mock(meng, msb)

			r, err := registry.NewRegistry(registry.RegistryConfig{Engine: meng})
			require.NoError(err)
			if test.registered {
				require.NoError(r.Register("t1", msb, false))
			}

			sb, err := r.Resolve(context.Background(), "t1", test.handleID)
			meng.AssertExpectations(t)

			if test.expErr {
				assert.True(errors.Is(err, model.ErrNotFound))
				return
			}
			require.NoError(err)
			assert.Equal("sb-1", sb.ID())

			// Resolved handles are kept registered.
			_, ok := r.Get("t1")
			assert.True(ok)
			if !test.registered {
				assert.True(r.KeepAlive("t1"))
			}
		})
	}
}

func TestRegistryConcurrentRegister(t *testing.T) {
	eng, err := fake.NewEngine(fake.EngineConfig{})
	require.NoError(t, err)
	r, err := registry.NewRegistry(registry.RegistryConfig{Engine: eng})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sb, err := eng.Create(context.Background(), testConfig("t1"))
			if err != nil {
				return
			}
			if r.Register("t1", sb, false) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Len(t, r.Tasks(), 1)
}
