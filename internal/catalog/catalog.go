// Package catalog is the compile-time task registry mapping a task_id to
// either a User-task implementation (synchronous closure run inside a
// request handler) or a System-task implementation (a run function taking a
// database connection and a task record, executed by the worker pool).
// A tagged variant rather than a class hierarchy: closures over the catalog
// entry are sufficient.
package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/auth"
	"github.com/malbeclabs/pipelinehub/internal/model"
)

// UserTaskFunc executes a User task synchronously inside a request handler.
// It returns a human-readable outcome message on success.
type UserTaskFunc func(ctx context.Context, principal auth.Principal, conn *pgx.Conn, task *model.PipelineRunTask) (string, error)

// SystemTaskFunc executes a System task's body inside the worker's
// transaction for the task.
type SystemTaskFunc func(ctx context.Context, tx pgx.Tx, task *model.PipelineRunTask) error

// Entry is one catalog row: exactly one of UserFunc/SystemFunc is set,
// selected by Class.
type Entry struct {
	TaskID     string
	Class      model.TaskClass
	UserFunc   UserTaskFunc
	SystemFunc SystemTaskFunc
}

// Registry is the compile-time catalog, keyed by task_id.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// RegisterUserTask adds a User-task entry. Panics on duplicate registration,
// since the catalog is assembled once at program start from static
// declarations — a duplicate task_id is a programming error, not a runtime
// condition.
func (r *Registry) RegisterUserTask(taskID string, fn UserTaskFunc) {
	r.mustRegister(Entry{TaskID: taskID, Class: model.ClassUser, UserFunc: fn})
}

// RegisterSystemTask adds a System-task entry.
func (r *Registry) RegisterSystemTask(taskID string, fn SystemTaskFunc) {
	r.mustRegister(Entry{TaskID: taskID, Class: model.ClassSystem, SystemFunc: fn})
}

func (r *Registry) mustRegister(e Entry) {
	if _, exists := r.entries[e.TaskID]; exists {
		panic(fmt.Sprintf("catalog: task_id %q already registered", e.TaskID))
	}
	r.entries[e.TaskID] = e
}

// Get looks up a catalog entry by task_id.
func (r *Registry) Get(taskID string) (Entry, error) {
	e, ok := r.entries[taskID]
	if !ok {
		return Entry{}, apierr.NotFound("task_id %q not registered in catalog", taskID)
	}
	return e, nil
}

// ClassOf returns the class of a task_id without requiring the caller to
// handle the full Entry.
func (r *Registry) ClassOf(taskID string) (model.TaskClass, error) {
	e, err := r.Get(taskID)
	if err != nil {
		return "", err
	}
	return e.Class, nil
}
