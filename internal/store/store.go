// Package store holds the pgx-backed repositories over the pipeline data
// model. Every repository takes an explicit Pool handle through
// its constructor rather than reaching for a package-level global, so tests
// can pass a fake pool or a pgxpool.Pool pointed at a testcontainer.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the subset of pgxpool.Pool the repositories need. Defining it as
// an interface lets tests substitute a fake or a single acquired connection.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// Store bundles every repository over one shared Pool.
type Store struct {
	Users        *UserStore
	Runs         *RunStore
	Tasks        *TaskStore
	SourceTables *SourceTableStore
	Actions      *ActionStore
}

// New constructs every repository over pool.
func New(pool Pool) *Store {
	return &Store{
		Users:        &UserStore{pool: pool},
		Runs:         &RunStore{pool: pool},
		Tasks:        &TaskStore{pool: pool},
		SourceTables: &SourceTableStore{pool: pool},
		Actions:      &ActionStore{pool: pool},
	}
}
