package schema

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/pipelinehub/internal/ingest/copysink"
)

// migrationFilename is fixed: the registry is rendered fresh from the
// compile-time descriptors on every boot, so there is exactly one migration
// version, not a growing directory of historical files.
const migrationFilename = "00001_bootstrap.sql"

// newProvider builds a goose Provider over an in-memory filesystem holding
// the rendered migration: the migration body is generated in-process from
// the descriptor registry instead of read from an embed.FS — the registry,
// not a directory of hand-written SQL files, is the source of truth.
func newProvider(db *sql.DB, r Registry) (*goose.Provider, error) {
	migrationsFS := fstest.MapFS{
		migrationFilename: &fstest.MapFile{Data: []byte(r.Render())},
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fs.FS(migrationsFS))
	if err != nil {
		return nil, fmt.Errorf("create goose provider: %w", err)
	}
	return provider, nil
}

// Bootstrap applies the rendered registry through goose (creating enums,
// functions, tables in dependency order, and triggers) then loads the
// default CSV seeds via the bulk-copy sink. It is idempotent: re-running
// against an already-bootstrapped database is a no-op for the migration
// (goose tracks applied versions) and the seed loads skip any table that
// already has rows.
func Bootstrap(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, r Registry) error {
	db, err := sql.Open("pgx", pool.Config().ConnString())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	provider, err := newProvider(db, r)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply schema migration: %w", err)
	}
	for _, res := range results {
		log.Info("schema migration applied", "version", res.Source.Version, "duration", res.Duration)
	}
	if len(results) == 0 {
		log.Info("schema already up to date")
	}

	return loadSeeds(ctx, log, pool, r.Seeds)
}

// loadSeeds bulk-copies each seed's CSV rows into its table, skipping tables
// that already have rows so re-running Bootstrap against a live database
// never duplicates seed data.
func loadSeeds(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, seeds []SeedDescriptor) error {
	for _, seed := range seeds {
		var count int64
		if err := pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", seed.Table)).Scan(&count); err != nil {
			return fmt.Errorf("count rows in %s: %w", seed.Table, err)
		}
		if count > 0 {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin seed load for %s: %w", seed.Table, err)
		}

		n, err := copysink.Copy(ctx, tx, strings.NewReader(seed.CSV), copysink.Options{
			Table:     seed.Table,
			Columns:   seed.Columns,
			Delimiter: ",",
			Header:    false,
		})
		if err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("load seed for %s: %w", seed.Table, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit seed load for %s: %w", seed.Table, err)
		}
		log.Info("loaded default seed", "table", seed.Table, "rows", n)
	}
	return nil
}
