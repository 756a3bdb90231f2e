package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/pipelinehub/internal/catalog"
	"github.com/malbeclabs/pipelinehub/internal/metrics"
	"github.com/malbeclabs/pipelinehub/internal/model"
	"github.com/malbeclabs/pipelinehub/internal/store"
	"golang.org/x/sync/errgroup"
)

// TxBeginner starts a fresh transaction per job, independent of the
// read-path store.Pool interface (which wraps the same *pgxpool.Pool).
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Scheduler is the run-all chain continuation the worker invokes after a
// successful job with RunNext set. internal/engine.Engine implements this;
// declaring it here (rather than importing internal/engine) keeps
// internal/queue free of a dependency on the package that depends on it.
type Scheduler interface {
	ScheduleNext(ctx context.Context, runID int64, afterOrderIndex int) error
}

// WorkerPool of N workers draining the job queue in parallel across runs,
// serialized only per task row via TaskStore.ClaimForRunning's row lock:
// each worker goroutine runs a short-lived
// claim-run-release cycle per job rather than owning one long-lived job for
// its lifetime.
type WorkerPool struct {
	queue     *Queue
	tasks     *store.TaskStore
	catalog   *catalog.Registry
	scheduler Scheduler
	conn      TxBeginner
	clock     clockwork.Clock
	log       *slog.Logger
	metrics   *metrics.Collectors

	holderID          string
	leaseDuration     time.Duration
	heartbeatInterval time.Duration
	workerCount       int
	pollInterval      time.Duration
}

// Config configures a worker Pool.
type Config struct {
	WorkerCount       int
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
}

// NewPool constructs a WorkerPool. clock defaults to clockwork.NewRealClock()
// when nil; tests inject clockwork.NewFakeClock() for deterministic
// lease/heartbeat behavior. coll may be nil, in which case the pool runs
// uninstrumented (e.g. in unit tests that don't care about metrics).
func NewPool(q *Queue, tasks *store.TaskStore, cat *catalog.Registry, scheduler Scheduler, conn TxBeginner, clock clockwork.Clock, log *slog.Logger, coll *metrics.Collectors, cfg Config) *WorkerPool {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &WorkerPool{
		queue:             q,
		tasks:             tasks,
		catalog:           cat,
		scheduler:         scheduler,
		conn:              conn,
		clock:             clock,
		log:               log,
		metrics:           coll,
		holderID:          NewHolderID(),
		leaseDuration:     cfg.LeaseDuration,
		heartbeatInterval: cfg.HeartbeatInterval,
		workerCount:       cfg.WorkerCount,
		pollInterval:      cfg.PollInterval,
	}
}

// Run starts workerCount goroutines draining the queue until ctx is
// cancelled.
func (p *WorkerPool) Run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workerCount; i++ {
		id := i
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *WorkerPool) loop(ctx context.Context, id int) {
	ticker := p.clock.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.drainOnce(ctx, id)
		}
	}
}

// drainOnce claims and runs jobs until the queue reports empty.
func (p *WorkerPool) drainOnce(ctx context.Context, workerID int) {
	for {
		job, lease, err := p.queue.Claim(ctx, p.holderID, p.leaseDuration)
		if err != nil {
			p.log.Error("claim failed", "worker", workerID, "error", err)
			return
		}
		if job == nil {
			return
		}
		p.runJob(ctx, *job, *lease)
	}
}

// runJob dispatches the catalog entry, records the outcome, and continues
// the run-all chain on success.
func (p *WorkerPool) runJob(ctx context.Context, job SystemJob, lease Lease) {
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeatLoop(heartbeatCtx, job.JobID, lease.Holder)

	if p.metrics != nil {
		p.metrics.JobsClaimed.WithLabelValues(job.TaskClass).Inc()
	}

	entry, err := p.catalog.Get(job.TaskID)
	if err != nil || entry.SystemFunc == nil {
		p.log.Error("job cannot run", "job_id", job.JobID, "pr_task_id", job.PRTaskID, "error", err)
		p.dropJob(ctx, job.JobID)
		return
	}

	started := p.clock.Now()
	task, succeeded, runErr := p.executeInTx(ctx, job, entry.SystemFunc)
	if runErr != nil {
		p.log.Error("job transaction failed", "job_id", job.JobID, "pr_task_id", job.PRTaskID, "error", runErr)
		p.dropJob(ctx, job.JobID)
		return
	}
	p.dropJob(ctx, job.JobID)

	if task == nil {
		// Lost the row-lock race to another worker; nothing more to do.
		return
	}

	if p.metrics != nil {
		outcome := "complete"
		if !succeeded {
			outcome = "failed"
			p.metrics.TaskFailures.WithLabelValues(job.TaskID).Inc()
		}
		p.metrics.JobDuration.WithLabelValues(job.TaskID, outcome).Observe(p.clock.Since(started).Seconds())
	}

	if !succeeded {
		// Task transitioned to Failed: any failure breaks the run-all chain.
		return
	}
	if job.RunNext {
		if err := p.scheduler.ScheduleNext(ctx, job.RunID, task.OrderIndex); err != nil {
			p.log.Error("failed to schedule next task in chain", "run_id", job.RunID, "error", err)
		}
	}
}

func (p *WorkerPool) dropJob(ctx context.Context, jobID int64) {
	if err := p.queue.Delete(ctx, jobID); err != nil {
		p.log.Error("failed to delete job", "job_id", jobID, "error", err)
	}
}

func (p *WorkerPool) heartbeatLoop(ctx context.Context, jobID int64, holder string) {
	ticker := p.clock.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := p.queue.Heartbeat(ctx, jobID, holder, p.leaseDuration); err != nil {
				p.log.Warn("heartbeat failed", "job_id", jobID, "error", err)
				return
			}
		}
	}
}

// executeInTx claims the task's row lock, transitions Scheduled -> Running,
// runs the System task body, then transitions to Complete or Failed, all in
// one outer transaction. The body itself runs inside
// a nested transaction (a savepoint), so a failed task's partial writes —
// half-copied rows, a created table — roll back while the Failed status
// still commits; without the savepoint a SQL error in the body would abort
// the whole transaction and the status write with it. A task that loses the
// row-lock race (claimed by another worker) returns (nil, nil): the caller
// treats the job as handled and lets it drop, since the other worker owns
// it now.
func (p *WorkerPool) executeInTx(ctx context.Context, job SystemJob, run catalog.SystemTaskFunc) (task *model.PipelineRunTask, succeeded bool, err error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	claimed, err := p.tasks.ClaimForRunning(ctx, tx, job.PRTaskID, time.Now())
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		return nil, false, tx.Commit(ctx)
	}

	task, err = p.taskSnapshot(ctx, tx, job.PRTaskID)
	if err != nil {
		return nil, false, err
	}

	if runErr := p.runBody(ctx, tx, task, run); runErr != nil {
		if err := p.tasks.Fail(ctx, tx, job.PRTaskID, runErr.Error(), time.Now()); err != nil {
			return nil, false, err
		}
		return task, false, tx.Commit(ctx)
	}

	if err := p.tasks.Complete(ctx, tx, job.PRTaskID, time.Now()); err != nil {
		return nil, false, err
	}
	return task, true, tx.Commit(ctx)
}

// runBody runs the task body in a nested transaction, rolling it back on
// error so the outer transaction stays usable for the Failed status write.
func (p *WorkerPool) runBody(ctx context.Context, tx pgx.Tx, task *model.PipelineRunTask, run catalog.SystemTaskFunc) error {
	inner, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if runErr := run(ctx, inner, task); runErr != nil {
		inner.Rollback(ctx)
		return runErr
	}
	return inner.Commit(ctx)
}

func (p *WorkerPool) taskSnapshot(ctx context.Context, tx pgx.Tx, prTaskID int64) (*model.PipelineRunTask, error) {
	var t model.PipelineRunTask
	err := tx.QueryRow(ctx, `
		SELECT pr_task_id, run_id, task_id, order_index, task_running, task_complete,
		       task_start, task_completed, task_status, task_message, parent_id
		FROM pipeline_run_tasks WHERE pr_task_id = $1
	`, prTaskID).Scan(&t.PRTaskID, &t.RunID, &t.TaskID, &t.OrderIndex, &t.TaskRunning, &t.TaskComplete,
		&t.TaskStart, &t.TaskCompleted, &t.TaskStatus, &t.TaskMessage, &t.ParentID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
