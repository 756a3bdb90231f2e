// Package queue implements the durable Postgres-backed job queue: a FIFO
// of SystemJob envelopes with lease-based at-most-once
// claiming, heartbeat renewal, and reaping of jobs abandoned by a crashed
// worker. The claim query is an
// UPDATE ... WHERE id = (SELECT ... FOR UPDATE SKIP LOCKED) RETURNING that
// lets any number of workers race the same table safely.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
)

// SystemJob is the one job type the queue carries. TaskID
// selects the catalog entry to run; TaskClass is carried alongside for
// logging/inspection but the worker always dispatches by TaskID.
type SystemJob struct {
	JobID     int64
	PRTaskID  int64
	RunID     int64
	TaskID    string
	TaskClass string
	RunNext   bool
}

// Enqueuer is the narrow interface internal/engine depends on, so tests can
// substitute a fake without pulling in the full queue implementation.
type Enqueuer interface {
	Enqueue(ctx context.Context, job SystemJob) error
}

// Pool is the subset of pgxpool.Pool the queue needs.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Queue is the Postgres-backed job store.
type Queue struct {
	pool Pool
}

// New constructs a Queue over pool.
func New(pool Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue inserts a new job envelope, scheduled immediately.
func (q *Queue) Enqueue(ctx context.Context, job SystemJob) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO system_jobs (pr_task_id, run_id, task_id, task_class, run_next, scheduled_at, attempt_count)
		VALUES ($1, $2, $3, $4, $5, NOW(), 0)
	`, job.PRTaskID, job.RunID, job.TaskID, job.TaskClass, job.RunNext)
	if err != nil {
		return apierr.Storage(err, "enqueue job for task %d", job.PRTaskID)
	}
	return nil
}

// Lease is a claimed job's lease: the holder token and expiry, persisted in
// job_leases so a restarted worker (or internal/store.TaskStore.ReapAbandoned)
// can tell a live lease from an abandoned one.
type Lease struct {
	JobID     int64
	Holder    string
	ExpiresAt time.Time
}

// Claim transactionally claims the oldest ready job not already leased,
// taking a lease for leaseDuration under holder's identity. Returns
// (nil, nil) if no job is ready.
func (q *Queue) Claim(ctx context.Context, holder string, leaseDuration time.Duration) (*SystemJob, *Lease, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, nil, apierr.Storage(err, "begin claim")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback(ctx)
		}
	}()

	var job SystemJob
	err = tx.QueryRow(ctx, `
		UPDATE system_jobs
		SET attempt_count = attempt_count + 1
		WHERE job_id = (
			SELECT job_id FROM system_jobs
			WHERE job_id NOT IN (SELECT job_id FROM job_leases WHERE lease_expires > NOW())
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING job_id, pr_task_id, run_id, task_id, task_class, run_next
	`).Scan(&job.JobID, &job.PRTaskID, &job.RunID, &job.TaskID, &job.TaskClass, &job.RunNext)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, apierr.Storage(err, "claim job")
	}

	expiresAt := time.Now().Add(leaseDuration)
	if _, err := tx.Exec(ctx, `
		INSERT INTO job_leases (job_id, pr_task_id, holder, lease_expires)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET holder = $3, lease_expires = $4
	`, job.JobID, job.PRTaskID, holder, expiresAt); err != nil {
		return nil, nil, apierr.Storage(err, "take lease for job %d", job.JobID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, apierr.Storage(err, "commit claim")
	}
	committed = true

	return &job, &Lease{JobID: job.JobID, Holder: holder, ExpiresAt: expiresAt}, nil
}

// Heartbeat extends a held lease by leaseDuration from now.
func (q *Queue) Heartbeat(ctx context.Context, jobID int64, holder string, leaseDuration time.Duration) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE job_leases SET lease_expires = $3
		WHERE job_id = $1 AND holder = $2
	`, jobID, holder, time.Now().Add(leaseDuration))
	if err != nil {
		return apierr.Storage(err, "heartbeat job %d", jobID)
	}
	if tag.RowsAffected() == 0 {
		return apierr.Conflict("lease for job %d no longer held by %q", jobID, holder)
	}
	return nil
}

// Delete removes a completed job and its lease.
func (q *Queue) Delete(ctx context.Context, jobID int64) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM job_leases WHERE job_id = $1`, jobID)
	if err != nil {
		return apierr.Storage(err, "delete lease for job %d", jobID)
	}
	_, err = q.pool.Exec(ctx, `DELETE FROM system_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return apierr.Storage(err, "delete job %d", jobID)
	}
	return nil
}

// NewHolderID returns a fresh random identity for a worker process.
func NewHolderID() string {
	return uuid.NewString()
}
