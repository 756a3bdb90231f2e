package engine_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/apitest"
	"github.com/malbeclabs/pipelinehub/internal/auth"
	"github.com/malbeclabs/pipelinehub/internal/catalog"
	"github.com/malbeclabs/pipelinehub/internal/engine"
	"github.com/malbeclabs/pipelinehub/internal/model"
	"github.com/malbeclabs/pipelinehub/internal/queue"
	"github.com/malbeclabs/pipelinehub/internal/store"
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

// fakeEnqueuer records every enqueued job without touching a real queue
// table, so RunTask can be tested in isolation from internal/queue.
type fakeEnqueuer struct {
	jobs []queue.SystemJob
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job queue.SystemJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func newTestEngine(t *testing.T, pool *pgxpool.Pool, enq *fakeEnqueuer) (*engine.Engine, *catalog.Registry) {
	t.Helper()
	st := store.New(pool)
	cat := catalog.NewRegistry()
	cat.RegisterSystemTask("analyze_source_tables", func(ctx context.Context, tx pgx.Tx, task *model.PipelineRunTask) error {
		return nil
	})
	cat.RegisterUserTask("pickup", func(ctx context.Context, p auth.Principal, conn *pgx.Conn, task *model.PipelineRunTask) (string, error) {
		return "picked up", nil
	})
	return engine.New(st, cat, enq, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))), cat
}

// seedRun inserts a run at the "collection" stage owned by username, plus the
// given task_ids in order, returning the run_id and the pr_task_ids in order.
func seedRun(t *testing.T, ctx context.Context, pool *pgxpool.Pool, username string, taskIDs ...string) (int64, []int64) {
	t.Helper()
	require.NoError(t, apitest.TruncateAll(ctx, pool))

	var runID int64
	err := pool.QueryRow(ctx, `
		INSERT INTO pipeline_runs (data_source_id, record_date, workflow_operation, collection_user)
		VALUES (1, now(), 'collection', $1)
		RETURNING run_id
	`, username).Scan(&runID)
	require.NoError(t, err)

	prTaskIDs := make([]int64, len(taskIDs))
	for i, taskID := range taskIDs {
		var prTaskID int64
		err := pool.QueryRow(ctx, `
			INSERT INTO pipeline_run_tasks (run_id, task_id, order_index)
			VALUES ($1, $2, $3)
			RETURNING pr_task_id
		`, runID, taskID, i).Scan(&prTaskID)
		require.NoError(t, err)
		prTaskIDs[i] = prTaskID
	}
	return runID, prTaskIDs
}

// TestRunTask_SchedulesSystemTask: running a Waiting System task marks it
// Scheduled and enqueues a job carrying its ids.
func TestRunTask_SchedulesSystemTask(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables")

	principal := auth.Principal{Username: "alice"}
	outcome, err := eng.RunTask(ctx, principal, runID, tasks[0], false)
	require.NoError(t, err)
	assert.True(t, outcome.Scheduled)
	require.Len(t, enq.jobs, 1)
	assert.Equal(t, tasks[0], enq.jobs[0].PRTaskID)
	assert.False(t, enq.jobs[0].RunNext)

	status, err := eng.GetStatus(ctx, tasks[0])
	require.NoError(t, err)
	assert.Equal(t, model.TaskScheduled, status)
}

// TestRunTask_RunAllSetsRunNext: the run-all entry point enqueues the job
// with the chain flag set.
func TestRunTask_RunAllSetsRunNext(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables")

	principal := auth.Principal{Username: "alice"}
	outcome, err := eng.RunTask(ctx, principal, runID, tasks[0], true)
	require.NoError(t, err)
	assert.True(t, outcome.Scheduled)
	require.Len(t, enq.jobs, 1)
	assert.True(t, enq.jobs[0].RunNext)
}

// TestRunTask_UserTaskRunsSynchronously exercises the User-task path: no job
// is enqueued, and the returned message is the task's own result.
func TestRunTask_UserTaskRunsSynchronously(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "pickup")

	principal := auth.Principal{Username: "alice"}
	outcome, err := eng.RunTask(ctx, principal, runID, tasks[0], false)
	require.NoError(t, err)
	assert.False(t, outcome.Scheduled)
	assert.Equal(t, "picked up", outcome.Message)
	assert.Empty(t, enq.jobs)
}

// TestRunTask_ConflictWhenAnotherTaskIsRunning: while one task of a run is
// Scheduled or Running, running a second one is rejected.
func TestRunTask_ConflictWhenAnotherTaskIsRunning(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables", "analyze_source_tables")

	principal := auth.Principal{Username: "alice"}
	_, err := eng.RunTask(ctx, principal, runID, tasks[0], false)
	require.NoError(t, err)

	// Task A is now Scheduled; running B must be rejected.
	_, err = eng.RunTask(ctx, principal, runID, tasks[1], false)
	require.Error(t, err)
	assert.Equal(t, apierr.KindConflict, apierr.KindOf(err))

	status, err := eng.GetStatus(ctx, tasks[1])
	require.NoError(t, err)
	assert.Equal(t, model.TaskWaiting, status)
}

// TestRunTask_TargetNotWaitingIsConflict covers the other half of the
// precondition: the target task itself must be Waiting.
func TestRunTask_TargetNotWaitingIsConflict(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables")
	principal := auth.Principal{Username: "alice"}

	_, err := eng.RunTask(ctx, principal, runID, tasks[0], false)
	require.NoError(t, err)

	_, err = eng.RunTask(ctx, principal, runID, tasks[0], false)
	require.Error(t, err)
	assert.Equal(t, apierr.KindConflict, apierr.KindOf(err))
}

// TestRunTask_NonOwnerIsUnauthorized confirms the stage-ownership check.
func TestRunTask_NonOwnerIsUnauthorized(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables")
	principal := auth.Principal{Username: "mallory"}

	_, err := eng.RunTask(ctx, principal, runID, tasks[0], false)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorized, apierr.KindOf(err))
}

// TestRunTask_AdminBypassesOwnership confirms the admin override.
func TestRunTask_AdminBypassesOwnership(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables")
	principal := auth.Principal{Username: "root", IsAdmin: true}

	outcome, err := eng.RunTask(ctx, principal, runID, tasks[0], false)
	require.NoError(t, err)
	assert.True(t, outcome.Scheduled)
}

// TestResetTask_ReturnsFailedToWaitingAndClearsTimestamps covers the Failed
// -> Waiting reset arc and the timestamp/message invariants.
func TestResetTask_ReturnsFailedToWaitingAndClearsTimestamps(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables")
	principal := auth.Principal{Username: "alice"}

	_, err := pool.Exec(ctx, `
		UPDATE pipeline_run_tasks
		SET task_status = 'Failed', task_start = now(), task_completed = now(), task_message = 'boom'
		WHERE pr_task_id = $1
	`, tasks[0])
	require.NoError(t, err)

	require.NoError(t, eng.ResetTask(ctx, principal, runID, tasks[0]))

	var status model.TaskStatus
	var msg *string
	var start, completed *time.Time
	err = pool.QueryRow(ctx, `
		SELECT task_status, task_message, task_start, task_completed
		FROM pipeline_run_tasks WHERE pr_task_id = $1
	`, tasks[0]).Scan(&status, &msg, &start, &completed)
	require.NoError(t, err)
	assert.Equal(t, model.TaskWaiting, status)
	assert.Nil(t, msg)
	assert.Nil(t, start)
	assert.Nil(t, completed)
}

// TestResetTask_DeletesChildTasks: children rooted at the reset task are
// fully deleted, not merely returned to Waiting.
func TestResetTask_DeletesChildTasks(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables")
	principal := auth.Principal{Username: "alice"}

	var childID int64
	err := pool.QueryRow(ctx, `
		INSERT INTO pipeline_run_tasks (run_id, task_id, order_index, parent_id)
		VALUES ($1, 'analyze_source_tables', 1, $2)
		RETURNING pr_task_id
	`, runID, tasks[0]).Scan(&childID)
	require.NoError(t, err)

	require.NoError(t, eng.ResetTask(ctx, principal, runID, tasks[0]))

	var exists bool
	err = pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pipeline_run_tasks WHERE pr_task_id = $1)`, childID).Scan(&exists)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestGetOrderedTasks_ReturnsInOrderIndex confirms read ordering.
func TestGetOrderedTasks_ReturnsInOrderIndex(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "pickup", "analyze_source_tables")

	ordered, err := eng.GetOrderedTasks(ctx, runID)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, tasks[0], ordered[0].PRTaskID)
	assert.Equal(t, tasks[1], ordered[1].PRTaskID)
}

// TestScheduleNext_StopsChainAtUserTask exercises the chain's
// second half: if the next Waiting task is a User task, no successor job is
// enqueued.
func TestScheduleNext_StopsChainAtUserTask(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, _ := seedRun(t, ctx, pool, "alice", "analyze_source_tables", "pickup")

	require.NoError(t, eng.ScheduleNext(ctx, runID, 0))
	assert.Empty(t, enq.jobs)
}

// TestScheduleNext_EnqueuesNextSystemTask completes the run-all chain.
func TestScheduleNext_EnqueuesNextSystemTask(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	enq := &fakeEnqueuer{}
	eng, _ := newTestEngine(t, pool, enq)

	runID, tasks := seedRun(t, ctx, pool, "alice", "analyze_source_tables", "analyze_source_tables")

	require.NoError(t, eng.ScheduleNext(ctx, runID, 0))
	require.Len(t, enq.jobs, 1)
	assert.Equal(t, tasks[1], enq.jobs[0].PRTaskID)
	assert.True(t, enq.jobs[0].RunNext)

	status, err := eng.GetStatus(ctx, tasks[1])
	require.NoError(t, err)
	assert.Equal(t, model.TaskScheduled, status)
}
