package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/apitest"
	"github.com/malbeclabs/pipelinehub/internal/queue"
)

// TestQueue_EnqueueClaimHeartbeatDelete exercises the full lease lifecycle
// directly against the queue, independent of the worker pool.
func TestQueue_EnqueueClaimHeartbeatDelete(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	_, tasks := seedRun(t, ctx, pool, "analyze_source_tables")

	q := queue.New(pool)
	require.NoError(t, q.Enqueue(ctx, queue.SystemJob{
		PRTaskID:  tasks[0],
		RunID:     1,
		TaskID:    "analyze_source_tables",
		TaskClass: "System",
	}))

	// The job just enqueued is claimable at once; its live lease then hides
	// it, so a second Claim before Delete finds nothing.
	holder := queue.NewHolderID()
	job, lease, err := q.Claim(ctx, holder, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, tasks[0], job.PRTaskID)
	assert.Equal(t, holder, lease.Holder)

	job2, lease2, err := q.Claim(ctx, "other-holder", 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, job2)
	assert.Nil(t, lease2)

	require.NoError(t, q.Heartbeat(ctx, job.JobID, holder, 10*time.Second))

	err = q.Heartbeat(ctx, job.JobID, "wrong-holder", 10*time.Second)
	require.Error(t, err)
	assert.Equal(t, apierr.KindConflict, apierr.KindOf(err))

	require.NoError(t, q.Delete(ctx, job.JobID))

	// After delete, Claim still finds nothing (no other jobs were enqueued).
	job3, _, err := q.Claim(ctx, holder, 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, job3)
}

func TestQueue_Claim_SkipsJobWithLiveLease(t *testing.T) {
	pool := apitest.SetupTestPostgres(t, testDB)
	ctx := t.Context()
	_, tasks := seedRun(t, ctx, pool, "analyze_source_tables")

	q := queue.New(pool)
	require.NoError(t, q.Enqueue(ctx, queue.SystemJob{
		PRTaskID: tasks[0], RunID: 1, TaskID: "analyze_source_tables", TaskClass: "System",
	}))

	first, _, err := q.Claim(ctx, "worker-a", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, _, err := q.Claim(ctx, "worker-b", 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, second, "a live lease keeps the job from being claimed twice")
}
