package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/storage/sqlite"
	"github.com/slok/agentbox/internal/storage/storagetest"
)

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository(t *testing.T) {
	storagetest.RunRepositoryTests(t, func(t *testing.T) storage.Repository {
		return newRepo(t)
	})
}

func TestRepositoryReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "agentbox.db")

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: dbPath})
	require.NoError(t, err)
	require.NoError(t, repo.CreateTask(ctx, storagetest.TaskFixture("t1", "u1")))
	require.NoError(t, repo.Close())

	// Migrations are idempotent and data survives.
	repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: dbPath})
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.NoError(t, repo.Ping(ctx))
}

func TestRepositoryConfigRequiresPath(t *testing.T) {
	_, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{})
	assert.Error(t, err)
}

func TestRepositorySchemaVersion(t *testing.T) {
	repo := newRepo(t)

	version, err := repo.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}
