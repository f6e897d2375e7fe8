package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AgentMesh-Net/labeler-go/migrations"
)

// NewPool creates a new pgxpool connection pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// RunMigrations executes a schema migration.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, sql string) error {
	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// migrationFiles returns the embedded SQL files for dialect in apply order.
func migrationFiles(dialect string) ([]string, error) {
	names, err := fs.Glob(migrations.FS, dialect+"/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		b, err := migrations.FS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, string(b))
	}
	return out, nil
}

// Open connects to the backend named by dsn and applies its migrations.
//
//	postgres://... or postgresql://...  PostgreSQL via pgx
//	sqlite://path, file:path, :memory:   SQLite
func Open(ctx context.Context, dsn string) (Repo, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pool, err := NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		files, err := migrationFiles("postgres")
		if err != nil {
			pool.Close()
			return nil, err
		}
		for _, sql := range files {
			if err := RunMigrations(ctx, pool, sql); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return NewPostgresRepo(pool), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, redact(dsn))
	}
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	if len(dsn) > 16 {
		return dsn[:16] + "..."
	}
	return dsn
}
