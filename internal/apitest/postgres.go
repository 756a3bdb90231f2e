// Package apitest provides a Postgres testcontainer harness for packages
// that need a real database rather than a fake Pool: a container type with
// a SetupTestPostgres helper that registers t.Cleanup and returns an
// explicit *pgxpool.Pool, since this repository never holds a database
// handle as a package global.
package apitest

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/malbeclabs/pipelinehub/internal/schema"
)

// PostgresDBConfig holds the Postgres test container configuration.
type PostgresDBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *PostgresDBConfig) validate() {
	if cfg.Database == "" {
		cfg.Database = "pipelinehub_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
}

// PostgresDB represents a running Postgres test container.
type PostgresDB struct {
	log       *slog.Logger
	cfg       *PostgresDBConfig
	container *tcpostgres.PostgresContainer
	connURL   string
}

// ConnString returns the container's connection URL.
func (db *PostgresDB) ConnString() string {
	return db.connURL
}

// Close terminates the Postgres container.
func (db *PostgresDB) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(ctx); err != nil {
		db.log.Error("failed to terminate postgres container", "error", err)
	}
}

// NewPostgresDB starts a Postgres testcontainer and bootstraps the schema
// registry into it.
func NewPostgresDB(ctx context.Context, log *slog.Logger, cfg *PostgresDBConfig) (*PostgresDB, error) {
	if cfg == nil {
		cfg = &PostgresDBConfig{}
	}
	cfg.validate()

	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcpostgres.Run(ctx, cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
		)
		if err == nil {
			break
		}
		lastErr = err
		if attempt < 3 {
			time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
			continue
		}
		return nil, fmt.Errorf("start postgres container after retries: %w", lastErr)
	}

	connURL, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("get postgres connection string: %w", err)
	}

	db := &PostgresDB{log: log, cfg: cfg, container: container, connURL: connURL}

	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres container: %w", err)
	}
	defer pool.Close()

	if err := schema.Bootstrap(ctx, log, pool, schema.Default()); err != nil {
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return db, nil
}

// SetupTestPostgres opens a fresh connection pool against db and registers
// a t.Cleanup that closes it. Each test shares the bootstrapped schema but
// gets its own pool: one container per package, one connection pool per
// test.
func SetupTestPostgres(t *testing.T, db *PostgresDB) *pgxpool.Pool {
	t.Helper()
	ctx := t.Context()

	pool, err := pgxpool.New(ctx, db.ConnString())
	require.NoError(t, err, "failed to connect to postgres test container")

	t.Cleanup(func() {
		pool.Close()
	})

	return pool
}

// TruncateAll clears every pipelinehub table between tests that share one
// container, preserving the seeded roles/workflow_operations rows.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			job_leases, system_jobs, source_table_columns, source_tables,
			pipeline_run_tasks, pipeline_runs, users
		RESTART IDENTITY CASCADE
	`)
	return err
}
