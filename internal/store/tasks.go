package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/model"
)

// TaskStore is the repository over PipelineRunTask, including the row-lock
// primitives the engine and worker pool use to enforce the "at most one task
// per run in {Scheduled, Running}" invariant.
type TaskStore struct {
	pool Pool
}

func scanTask(row pgx.Row) (*model.PipelineRunTask, error) {
	var t model.PipelineRunTask
	err := row.Scan(&t.PRTaskID, &t.RunID, &t.TaskID, &t.OrderIndex, &t.TaskRunning, &t.TaskComplete,
		&t.TaskStart, &t.TaskCompleted, &t.TaskStatus, &t.TaskMessage, &t.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apierr.Storage(err, "scan task")
	}
	return &t, nil
}

const taskColumns = `pr_task_id, run_id, task_id, order_index, task_running, task_complete,
	task_start, task_completed, task_status, task_message, parent_id`

// GetOrderedTasks returns the task list for a run in execution order.
func (s *TaskStore) GetOrderedTasks(ctx context.Context, runID int64) ([]model.PipelineRunTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM pipeline_run_tasks
		WHERE run_id = $1
		ORDER BY order_index
	`, runID)
	if err != nil {
		return nil, apierr.Storage(err, "list tasks for run %d", runID)
	}
	defer rows.Close()

	var out []model.PipelineRunTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetByID returns a single task, or nil if absent.
func (s *TaskStore) GetByID(ctx context.Context, prTaskID int64) (*model.PipelineRunTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM pipeline_run_tasks WHERE pr_task_id = $1`, prTaskID)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apierr.NotFound("task %d not found", prTaskID)
	}
	return t, nil
}

// AnyScheduledOrRunning reports whether some task of runID is currently
// Scheduled or Running — the precondition runTask must check before
// scheduling another.
func (s *TaskStore) AnyScheduledOrRunning(ctx context.Context, runID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pipeline_run_tasks
			WHERE run_id = $1 AND task_status IN ('Scheduled', 'Running')
		)
	`, runID).Scan(&exists)
	if err != nil {
		return false, apierr.Storage(err, "check scheduled/running for run %d", runID)
	}
	return exists, nil
}

// MarkScheduled transitions a Waiting task to Scheduled. The WHERE clause
// double-checks the precondition inside the same statement so a concurrent
// scheduler loses the race cleanly instead of double-scheduling.
func (s *TaskStore) MarkScheduled(ctx context.Context, prTaskID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_run_tasks
		SET task_status = 'Scheduled'
		WHERE pr_task_id = $1 AND task_status = 'Waiting'
	`, prTaskID)
	if err != nil {
		return apierr.Storage(err, "schedule task %d", prTaskID)
	}
	if tag.RowsAffected() == 0 {
		return apierr.Conflict("task %d is not Waiting", prTaskID)
	}
	return nil
}

// ClaimForRunning acquires a FOR SHARE lock on the task row and transitions
// it Scheduled -> Running inside tx, setting task_start and task_running.
// A second worker racing on the same row blocks on the row lock until the
// first commits, then observes task_status != 'Scheduled' and fails the
// RowsAffected check — ClaimForRunning returns false and the worker drops
// the job rather than double-running the task.
func (s *TaskStore) ClaimForRunning(ctx context.Context, tx pgx.Tx, prTaskID int64, startedAt time.Time) (bool, error) {
	var status model.TaskStatus
	err := tx.QueryRow(ctx, `
		SELECT task_status FROM pipeline_run_tasks WHERE pr_task_id = $1 FOR SHARE
	`, prTaskID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apierr.NotFound("task %d not found", prTaskID)
		}
		return false, apierr.Storage(err, "lock task %d", prTaskID)
	}
	if status != model.TaskScheduled {
		return false, nil
	}
	tag, err := tx.Exec(ctx, `
		UPDATE pipeline_run_tasks
		SET task_status = 'Running', task_start = $2, task_running = true
		WHERE pr_task_id = $1 AND task_status = 'Scheduled'
	`, prTaskID, startedAt)
	if err != nil {
		return false, apierr.Storage(err, "claim task %d", prTaskID)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete transitions a Running task to Complete.
func (s *TaskStore) Complete(ctx context.Context, tx pgx.Tx, prTaskID int64, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE pipeline_run_tasks
		SET task_status = 'Complete', task_complete = true, task_completed = $2, task_running = false
		WHERE pr_task_id = $1
	`, prTaskID, completedAt)
	if err != nil {
		return apierr.Storage(err, "complete task %d", prTaskID)
	}
	return nil
}

// Fail transitions a Running task to Failed with the given message.
func (s *TaskStore) Fail(ctx context.Context, tx pgx.Tx, prTaskID int64, message string, failedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE pipeline_run_tasks
		SET task_status = 'Failed', task_completed = $2, task_running = false, task_message = $3
		WHERE pr_task_id = $1
	`, prTaskID, failedAt, message)
	if err != nil {
		return apierr.Storage(err, "fail task %d", prTaskID)
	}
	return nil
}

// GetStatus returns the current status of a single task.
func (s *TaskStore) GetStatus(ctx context.Context, prTaskID int64) (model.TaskStatus, error) {
	var status model.TaskStatus
	err := s.pool.QueryRow(ctx, `SELECT task_status FROM pipeline_run_tasks WHERE pr_task_id = $1`, prTaskID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apierr.NotFound("task %d not found", prTaskID)
		}
		return "", apierr.Storage(err, "get status for task %d", prTaskID)
	}
	return status, nil
}

// SetStatus writes a status transition directly, validating it against the
// state machine and keeping task_start/task_completed/task_running in step
// with the target status. Called only from inside the engine or worker.
func (s *TaskStore) SetStatus(ctx context.Context, prTaskID int64, to model.TaskStatus) error {
	current, err := s.GetStatus(ctx, prTaskID)
	if err != nil {
		return err
	}
	if !model.CanTransition(current, to) {
		return apierr.Conflict("task %d cannot transition %s -> %s", prTaskID, current, to)
	}

	var stmt string
	switch to {
	case model.TaskRunning:
		stmt = `UPDATE pipeline_run_tasks
			SET task_status = $2, task_start = NOW(), task_running = true
			WHERE pr_task_id = $1`
	case model.TaskComplete:
		stmt = `UPDATE pipeline_run_tasks
			SET task_status = $2, task_complete = true, task_completed = NOW(), task_running = false
			WHERE pr_task_id = $1`
	case model.TaskFailed:
		stmt = `UPDATE pipeline_run_tasks
			SET task_status = $2, task_completed = NOW(), task_running = false
			WHERE pr_task_id = $1`
	case model.TaskWaiting:
		stmt = `UPDATE pipeline_run_tasks
			SET task_status = $2, task_running = false, task_complete = false,
			    task_start = NULL, task_completed = NULL, task_message = NULL
			WHERE pr_task_id = $1`
	default:
		stmt = `UPDATE pipeline_run_tasks SET task_status = $2 WHERE pr_task_id = $1`
	}
	if _, err := s.pool.Exec(ctx, stmt, prTaskID, to); err != nil {
		return apierr.Storage(err, "set status for task %d", prTaskID)
	}
	return nil
}

// NextWaiting returns the next Waiting task after orderIndex in runID, or
// nil if there is none.
func (s *TaskStore) NextWaiting(ctx context.Context, runID int64, afterOrderIndex int) (*model.PipelineRunTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM pipeline_run_tasks
		WHERE run_id = $1 AND order_index > $2 AND task_status = 'Waiting'
		ORDER BY order_index
		LIMIT 1
	`, runID, afterOrderIndex)
	return scanTask(row)
}

// ResetTask resets the target task to Waiting, clearing timestamps/message,
// and deletes every child task rooted at it (transitively).
func (s *TaskStore) ResetTask(ctx context.Context, prTaskID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apierr.Storage(err, "begin reset task %d", prTaskID)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		WITH RECURSIVE descendants AS (
			SELECT pr_task_id FROM pipeline_run_tasks WHERE parent_id = $1
			UNION ALL
			SELECT t.pr_task_id FROM pipeline_run_tasks t
			JOIN descendants d ON t.parent_id = d.pr_task_id
		)
		DELETE FROM pipeline_run_tasks WHERE pr_task_id IN (SELECT pr_task_id FROM descendants)
	`, prTaskID); err != nil {
		return apierr.Storage(err, "delete child tasks of %d", prTaskID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE pipeline_run_tasks
		SET task_status = 'Waiting', task_running = false, task_complete = false,
		    task_start = NULL, task_completed = NULL, task_message = NULL
		WHERE pr_task_id = $1
	`, prTaskID); err != nil {
		return apierr.Storage(err, "reset task %d", prTaskID)
	}

	if err := tx.Commit(ctx); err != nil {
		return apierr.Storage(err, "commit reset task %d", prTaskID)
	}
	return nil
}

// ReapAbandoned sweeps every task left with task_running = true that started
// before olderThan and whose lease has no live heartbeat (recorded by
// internal/queue) to Failed with reason "abandoned". It returns the affected
// task IDs for logging.
func (s *TaskStore) ReapAbandoned(ctx context.Context, olderThan time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE pipeline_run_tasks
		SET task_status = 'Failed', task_running = false, task_completed = NOW(), task_message = 'abandoned'
		WHERE task_running = true
		  AND task_start < $1
		  AND pr_task_id NOT IN (SELECT pr_task_id FROM job_leases WHERE lease_expires > NOW())
		RETURNING pr_task_id
	`, olderThan)
	if err != nil {
		return nil, apierr.Storage(err, "reap abandoned tasks")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apierr.Storage(err, "scan reaped task")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
