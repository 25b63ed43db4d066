package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new SQLite repository and applies the pending migrations.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// A single connection serializes the read-modify-write transactions.
	db.SetMaxOpenConns(1)

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// SchemaVersion returns the applied schema version.
func (r *Repository) SchemaVersion(ctx context.Context) (uint, error) {
	migrator, err := migrations.NewMigrator(r.db, r.logger)
	if err != nil {
		return 0, fmt.Errorf("could not create migrator: %w", err)
	}
	version, dirty, err := migrator.Version(ctx)
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty: %w", version, model.ErrNotValid)
	}
	return version, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// Ping checks the database is usable.
func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueErr(err error) bool { return strings.Contains(err.Error(), "UNIQUE constraint failed") }

func isForeignKeyErr(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func timeFromUnix(unix int64) time.Time { return time.Unix(unix, 0).UTC() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
