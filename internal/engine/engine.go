// Package engine implements the task execution engine: the
// public operations getOrderedTasks, getRecordForRun, runTask, resetTask,
// getStatus, and setStatus, plus the state-machine and ordering
// preconditions that back them.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/auth"
	"github.com/malbeclabs/pipelinehub/internal/catalog"
	"github.com/malbeclabs/pipelinehub/internal/model"
	"github.com/malbeclabs/pipelinehub/internal/queue"
	"github.com/malbeclabs/pipelinehub/internal/store"
)

// Engine is the task execution engine, constructed with an explicit store
// and queue handle.
type Engine struct {
	store    *store.Store
	catalog  *catalog.Registry
	enqueuer queue.Enqueuer
	log      *slog.Logger
}

// New constructs an Engine.
func New(st *store.Store, cat *catalog.Registry, enqueuer queue.Enqueuer, log *slog.Logger) *Engine {
	return &Engine{store: st, catalog: cat, enqueuer: enqueuer, log: log}
}

// GetOrderedTasks returns the task list for a run in execution order.
// Read-only.
func (e *Engine) GetOrderedTasks(ctx context.Context, runID int64) ([]model.PipelineRunTask, error) {
	return e.store.Tasks.GetOrderedTasks(ctx, runID)
}

// GetRecordForRun authorizes principal against run's current stage slot (or
// admin) and returns the task record, failing with Unauthorized or NotFound.
func (e *Engine) GetRecordForRun(ctx context.Context, principal auth.Principal, runID, prTaskID int64) (*model.PipelineRunTask, error) {
	run, err := e.store.Runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeStage(run, principal); err != nil {
		return nil, err
	}
	task, err := e.store.Tasks.GetByID(ctx, prTaskID)
	if err != nil {
		return nil, err
	}
	if task.RunID != runID {
		return nil, apierr.NotFound("task %d does not belong to run %d", prTaskID, runID)
	}
	return task, nil
}

func (e *Engine) authorizeStage(run *model.PipelineRun, principal auth.Principal) error {
	slot, ok := model.StageSlotForWorkflowCode(run.WorkflowOperation)
	if !ok {
		return apierr.BadRequest("unknown workflow code %q", run.WorkflowOperation)
	}
	if !store.Owns(run, slot, principal.Username, principal.IsAdmin) {
		return apierr.Unauthorized("user %q does not own the %q stage of run %d", principal.Username, run.WorkflowOperation, run.RunID)
	}
	return nil
}

// RunOutcome is the result of RunTask: either the task was scheduled for
// asynchronous execution, or (for a User task) it already ran to completion
// synchronously.
type RunOutcome struct {
	Scheduled bool
	Message   string
}

// RunTask validates that no task in the run is Scheduled/Running and that
// the target task is Waiting. A User task executes synchronously; a System
// task transitions to Scheduled and is enqueued.
func (e *Engine) RunTask(ctx context.Context, principal auth.Principal, runID, prTaskID int64, runNext bool) (*RunOutcome, error) {
	task, err := e.GetRecordForRun(ctx, principal, runID, prTaskID)
	if err != nil {
		return nil, err
	}
	if task.TaskStatus != model.TaskWaiting {
		return nil, apierr.Conflict("task %d is not Waiting", prTaskID)
	}
	busy, err := e.store.Tasks.AnyScheduledOrRunning(ctx, runID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, apierr.Conflict("Task already running")
	}

	class, err := e.catalog.ClassOf(task.TaskID)
	if err != nil {
		return nil, err
	}

	if class == model.ClassUser {
		entry, err := e.catalog.Get(task.TaskID)
		if err != nil {
			return nil, err
		}
		msg, err := entry.UserFunc(ctx, principal, nil, task)
		if err != nil {
			return nil, err
		}
		return &RunOutcome{Scheduled: false, Message: msg}, nil
	}

	if err := e.store.Tasks.MarkScheduled(ctx, prTaskID); err != nil {
		return nil, err
	}
	job := queue.SystemJob{PRTaskID: prTaskID, RunID: runID, TaskID: task.TaskID, TaskClass: string(class), RunNext: runNext}
	if err := e.enqueuer.Enqueue(ctx, job); err != nil {
		return nil, apierr.Storage(err, "enqueue job for task %d", prTaskID)
	}
	return &RunOutcome{Scheduled: true, Message: fmt.Sprintf("Scheduled %d", prTaskID)}, nil
}

// ResetTask authorizes, then resets the target task to Waiting and deletes
// the child tasks rooted at it.
func (e *Engine) ResetTask(ctx context.Context, principal auth.Principal, runID, prTaskID int64) error {
	if _, err := e.GetRecordForRun(ctx, principal, runID, prTaskID); err != nil {
		return err
	}
	return e.store.Tasks.ResetTask(ctx, prTaskID)
}

// GetStatus is a single-row status read.
func (e *Engine) GetStatus(ctx context.Context, prTaskID int64) (model.TaskStatus, error) {
	return e.store.Tasks.GetStatus(ctx, prTaskID)
}

// SetStatus writes a status transition. Called only from inside the engine
// or worker.
func (e *Engine) SetStatus(ctx context.Context, prTaskID int64, status model.TaskStatus) error {
	return e.store.Tasks.SetStatus(ctx, prTaskID, status)
}

// ScheduleNext implements the run-all chain continuation: after a
// successful run with runNext=true, locate the
// next Waiting task in the same run; if it is a System task, schedule it
// with runNext=true; if User, the chain stops.
func (e *Engine) ScheduleNext(ctx context.Context, runID int64, afterOrderIndex int) error {
	next, err := e.store.Tasks.NextWaiting(ctx, runID, afterOrderIndex)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	class, err := e.catalog.ClassOf(next.TaskID)
	if err != nil {
		return err
	}
	if class != model.ClassSystem {
		e.log.Info("run-all chain stopped at user task", "run_id", runID, "pr_task_id", next.PRTaskID)
		return nil
	}
	if err := e.store.Tasks.MarkScheduled(ctx, next.PRTaskID); err != nil {
		return err
	}
	return e.enqueuer.Enqueue(ctx, queue.SystemJob{
		PRTaskID:  next.PRTaskID,
		RunID:     runID,
		TaskID:    next.TaskID,
		TaskClass: string(class),
		RunNext:   true,
	})
}
