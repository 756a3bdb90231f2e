package store

import (
	"context"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/model"
)

// ActionStore is the repository over WorkflowOperation and Action, the two
// statically declared entities that drive the UI's available-action list.
type ActionStore struct {
	pool Pool
}

// ListOperations returns the workflow operations visible to any of roles,
// ordered by rank.
func (s *ActionStore) ListOperations(ctx context.Context, roles []string) ([]model.WorkflowOperation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, href, role, rank
		FROM workflow_operations
		WHERE role = ANY($1)
		ORDER BY rank
	`, roles)
	if err != nil {
		return nil, apierr.Storage(err, "list operations")
	}
	defer rows.Close()

	var out []model.WorkflowOperation
	for rows.Next() {
		var o model.WorkflowOperation
		if err := rows.Scan(&o.Code, &o.Href, &o.Role, &o.Rank); err != nil {
			return nil, apierr.Storage(err, "scan operation")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListActions returns the actions visible to any of roles.
func (s *ActionStore) ListActions(ctx context.Context, roles []string) ([]model.Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, state, href, label
		FROM actions
		WHERE role = ANY($1)
		ORDER BY role, state
	`, roles)
	if err != nil {
		return nil, apierr.Storage(err, "list actions")
	}
	defer rows.Close()

	var out []model.Action
	for rows.Next() {
		var a model.Action
		if err := rows.Scan(&a.Role, &a.State, &a.Href, &a.Label); err != nil {
			return nil, apierr.Storage(err, "scan action")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
