package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/model"
)

// RunStore is the repository over PipelineRun.
type RunStore struct {
	pool Pool
}

// GetByID returns a single run, or NotFound.
func (s *RunStore) GetByID(ctx context.Context, runID int64) (*model.PipelineRun, error) {
	var r model.PipelineRun
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, data_source_id, record_date, workflow_operation, operation_state,
		       collection_user, load_user, check_user, qa_user
		FROM pipeline_runs
		WHERE run_id = $1
	`, runID).Scan(&r.RunID, &r.DataSourceID, &r.RecordDate, &r.WorkflowOperation, &r.OperationState,
		&r.CollectionUser, &r.LoadUser, &r.CheckUser, &r.QAUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apierr.NotFound("run %d not found", runID)
		}
		return nil, apierr.Storage(err, "get run %d", runID)
	}
	return &r, nil
}

// ListByWorkflowCode returns the runs at the given workflow stage owned by
// username (or all such runs, for an admin).
func (s *RunStore) ListByWorkflowCode(ctx context.Context, code string, username string, isAdmin bool) ([]model.PipelineRun, error) {
	var rows pgx.Rows
	var err error
	if isAdmin {
		rows, err = s.pool.Query(ctx, `
			SELECT run_id, data_source_id, record_date, workflow_operation, operation_state,
			       collection_user, load_user, check_user, qa_user
			FROM pipeline_runs
			WHERE workflow_operation = $1
			ORDER BY run_id
		`, code)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT run_id, data_source_id, record_date, workflow_operation, operation_state,
			       collection_user, load_user, check_user, qa_user
			FROM pipeline_runs
			WHERE workflow_operation = $1
			  AND (collection_user = $2 OR load_user = $2 OR check_user = $2 OR qa_user = $2)
			ORDER BY run_id
		`, code, username)
	}
	if err != nil {
		return nil, apierr.Storage(err, "list runs for %q", code)
	}
	defer rows.Close()

	var out []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		if err := rows.Scan(&r.RunID, &r.DataSourceID, &r.RecordDate, &r.WorkflowOperation, &r.OperationState,
			&r.CollectionUser, &r.LoadUser, &r.CheckUser, &r.QAUser); err != nil {
			return nil, apierr.Storage(err, "scan run")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// slotColumn maps a StageSlot to its column name. Centralized so the
// pickup/ownership queries below stay free of string concatenation of
// caller-controlled values.
func slotColumn(slot model.StageSlot) (string, error) {
	switch slot {
	case model.SlotCollection, model.SlotLoad, model.SlotCheck, model.SlotQA:
		return string(slot), nil
	default:
		return "", apierr.BadRequest("unknown stage slot %q", slot)
	}
}

// Pickup claims the given stage slot for username iff it is currently empty,
// failing with Conflict otherwise.
func (s *RunStore) Pickup(ctx context.Context, runID int64, slot model.StageSlot, username string) error {
	col, err := slotColumn(slot)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE pipeline_runs
		SET %s = $2
		WHERE run_id = $1 AND %s IS NULL
	`, col, col), runID, username)
	if err != nil {
		return apierr.Storage(err, "pickup run %d", runID)
	}
	if tag.RowsAffected() == 0 {
		return apierr.Conflict("stage slot %q already claimed for run %d", slot, runID)
	}
	return nil
}

// Owns reports whether username occupies run's current stage slot, or is an
// admin. Used by checkUserRun and by the task engine's
// authorization check.
func Owns(run *model.PipelineRun, slot model.StageSlot, username string, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	v := run.SlotValue(slot)
	return v != nil && *v == username
}
