package tasks_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/apitest"
	"github.com/malbeclabs/pipelinehub/internal/auth"
	"github.com/malbeclabs/pipelinehub/internal/catalog"
	"github.com/malbeclabs/pipelinehub/internal/model"
	"github.com/malbeclabs/pipelinehub/internal/store"
	"github.com/malbeclabs/pipelinehub/internal/tasks"
)

var testDB *apitest.PostgresDB

func TestMain(m *testing.M) {
	ctx := context.Background()
	log := slog.Default()

	var err error
	testDB, err = apitest.NewPostgresDB(ctx, log, nil)
	if err != nil {
		slog.Error("failed to start postgres container", "error", err)
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func seedRunAndSourceTable(t *testing.T, ctx context.Context, pool *pgxpool.Pool, fileID, fileName string) (runID int64, stOid int64) {
	t.Helper()
	require.NoError(t, apitest.TruncateAll(ctx, pool))

	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO pipeline_runs (data_source_id, record_date, workflow_operation, collection_user)
		VALUES (1, now(), 'collection', 'alice')
		RETURNING run_id
	`).Scan(&runID))

	delim := ","
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO source_tables (run_id, table_name, file_id, file_name, loader_type, delimiter, analyze, load)
		VALUES ($1, 'widgets', $2, $3, 'Flat', $4, true, true)
		RETURNING st_oid
	`, runID, fileID, fileName, delim).Scan(&stOid))
	return runID, stOid
}

// TestAnalyzeThenLoad_FlatCSV exercises the analyze and load System tasks
// end to end: analyze derives column metadata from a CSV file,
// persists it, and load creates the destination table and COPYs the same
// file's records into it.
func TestAnalyzeThenLoad_FlatCSV(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()

	dir := t.TempDir()
	fileName := "widgets.csv"
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(path, []byte("id,name,qty\n1,bolt,10\n2,nut,20\n"), 0o644))

	runID, stOid := seedRunAndSourceTable(t, ctx, pool, "F1", fileName)

	st := store.New(pool)
	deps := tasks.Deps{
		Store:    st,
		FilePath: func(fileID, fn string) string { return filepath.Join(dir, fn) },
	}
	cat := catalog.NewRegistry()
	tasks.Register(cat, deps)

	task := &model.PipelineRunTask{RunID: runID}

	analyzeEntry, err := cat.Get(tasks.TaskIDAnalyze)
	require.NoError(t, err)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, analyzeEntry.SystemFunc(ctx, tx, task))
	require.NoError(t, tx.Commit(ctx))

	cols, err := st.SourceTables.ListColumns(ctx, stOid)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "ID", cols[0].Name)
	assert.Equal(t, "NAME", cols[1].Name)
	assert.Equal(t, "QTY", cols[2].Name)

	loadEntry, err := cat.Get(tasks.TaskIDLoad)
	require.NoError(t, err)

	tx, err = pool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, loadEntry.SystemFunc(ctx, tx, task))
	require.NoError(t, tx.Commit(ctx))

	var count int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM widgets`).Scan(&count))
	assert.EqualValues(t, 2, count)

	updated, err := st.SourceTables.GetByID(ctx, stOid)
	require.NoError(t, err)
	require.NotNil(t, updated.RecordCount)
	assert.EqualValues(t, 2, *updated.RecordCount)
}

func TestPickupTask_ClaimsStageSlot(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	require.NoError(t, apitest.TruncateAll(ctx, pool))

	var runID int64
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO pipeline_runs (data_source_id, record_date, workflow_operation)
		VALUES (1, now(), 'collection')
		RETURNING run_id
	`).Scan(&runID))

	st := store.New(pool)
	cat := catalog.NewRegistry()
	tasks.Register(cat, tasks.Deps{Store: st, FilePath: func(string, string) string { return "" }})

	entry, err := cat.Get(tasks.TaskIDPickup)
	require.NoError(t, err)

	principal := auth.Principal{Username: "alice"}
	task := &model.PipelineRunTask{RunID: runID}
	msg, err := entry.UserFunc(ctx, principal, nil, task)
	require.NoError(t, err)
	assert.Contains(t, msg, "alice")

	run, err := st.Runs.GetByID(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run.CollectionUser)
	assert.Equal(t, "alice", *run.CollectionUser)

	// A second user cannot pick up an already-claimed slot.
	_, err = entry.UserFunc(ctx, auth.Principal{Username: "bob"}, nil, task)
	require.Error(t, err)
	assert.Equal(t, apierr.KindConflict, apierr.KindOf(err))
}
