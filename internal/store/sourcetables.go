package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/model"
)

// SourceTableStore is the repository over SourceTable and
// SourceTableColumn.
type SourceTableStore struct {
	pool Pool
}

const sourceTableColumns = `st_oid, run_id, table_name, file_id, file_name, loader_type, sub_table,
	delimiter, qualified, encoding, collect_type, analyze, load, record_count, url, comments`

func scanSourceTable(row pgx.Row) (*model.SourceTable, error) {
	var t model.SourceTable
	err := row.Scan(&t.STOid, &t.RunID, &t.TableName, &t.FileID, &t.FileName, &t.LoaderType, &t.SubTable,
		&t.Delimiter, &t.Qualified, &t.Encoding, &t.CollectType, &t.Analyze, &t.Load, &t.RecordCount, &t.URL, &t.Comments)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apierr.Storage(err, "scan source table")
	}
	return &t, nil
}

// ListByRun returns every source table declared for runID.
func (s *SourceTableStore) ListByRun(ctx context.Context, runID int64) ([]model.SourceTable, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sourceTableColumns+` FROM source_tables WHERE run_id = $1 ORDER BY st_oid
	`, runID)
	if err != nil {
		return nil, apierr.Storage(err, "list source tables for run %d", runID)
	}
	defer rows.Close()

	var out []model.SourceTable
	for rows.Next() {
		t, err := scanSourceTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetByID returns a single source table, or NotFound.
func (s *SourceTableStore) GetByID(ctx context.Context, stOid int64) (*model.SourceTable, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceTableColumns+` FROM source_tables WHERE st_oid = $1`, stOid)
	t, err := scanSourceTable(row)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apierr.NotFound("source table %d not found", stOid)
	}
	return t, nil
}

// Insert creates a new source table row and returns its st_oid. Uniqueness
// on (run_id, file_id) and (run_id, table_name) is enforced by the schema;
// a conflicting insert surfaces as a Conflict error.
func (s *SourceTableStore) Insert(ctx context.Context, t *model.SourceTable) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO source_tables (run_id, table_name, file_id, file_name, loader_type, sub_table,
			delimiter, qualified, encoding, collect_type, analyze, load, url, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING st_oid
	`, t.RunID, t.TableName, t.FileID, t.FileName, t.LoaderType, t.SubTable,
		t.Delimiter, t.Qualified, t.Encoding, t.CollectType, t.Analyze, t.Load, t.URL, t.Comments).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apierr.Conflict("source table %q or file id %q already exists for run %d", t.TableName, t.FileID, t.RunID)
		}
		return 0, apierr.Storage(err, "insert source table")
	}
	return id, nil
}

// Update overwrites every editable column of an existing source table.
func (s *SourceTableStore) Update(ctx context.Context, t *model.SourceTable) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE source_tables
		SET table_name = $2, file_id = $3, file_name = $4, loader_type = $5, sub_table = $6,
		    delimiter = $7, qualified = $8, encoding = $9, collect_type = $10, analyze = $11,
		    load = $12, url = $13, comments = $14
		WHERE st_oid = $1
	`, t.STOid, t.TableName, t.FileID, t.FileName, t.LoaderType, t.SubTable,
		t.Delimiter, t.Qualified, t.Encoding, t.CollectType, t.Analyze, t.Load, t.URL, t.Comments)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apierr.Conflict("source table %q or file id %q already exists for run %d", t.TableName, t.FileID, t.RunID)
		}
		return 0, apierr.Storage(err, "update source table %d", t.STOid)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a source table row (columns cascade).
func (s *SourceTableStore) Delete(ctx context.Context, stOid int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM source_tables WHERE st_oid = $1`, stOid)
	if err != nil {
		return 0, apierr.Storage(err, "delete source table %d", stOid)
	}
	return tag.RowsAffected(), nil
}

// ReplaceColumns atomically replaces every SourceTableColumn row for stOid
// in a transaction of its own. The analyze task does not use it; it writes
// columns through its own transaction.
func (s *SourceTableStore) ReplaceColumns(ctx context.Context, stOid int64, cols []model.SourceTableColumn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apierr.Storage(err, "begin replace columns")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM source_table_columns WHERE st_oid = $1`, stOid); err != nil {
		return apierr.Storage(err, "clear columns for %d", stOid)
	}
	for _, c := range cols {
		if _, err := tx.Exec(ctx, `
			INSERT INTO source_table_columns (st_oid, name, type, max_length, min_length, label, column_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, stOid, c.Name, c.Type, c.MaxLength, c.MinLength, c.Label, c.ColumnIndex); err != nil {
			return apierr.Storage(err, "insert column %q", c.Name)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apierr.Storage(err, "commit replace columns")
	}
	return nil
}

// ListColumns returns the analyzed columns for stOid in column order.
func (s *SourceTableStore) ListColumns(ctx context.Context, stOid int64) ([]model.SourceTableColumn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT st_oid, name, type, max_length, min_length, label, column_index
		FROM source_table_columns
		WHERE st_oid = $1
		ORDER BY column_index
	`, stOid)
	if err != nil {
		return nil, apierr.Storage(err, "list columns for %d", stOid)
	}
	defer rows.Close()

	var out []model.SourceTableColumn
	for rows.Next() {
		var c model.SourceTableColumn
		if err := rows.Scan(&c.STOid, &c.Name, &c.Type, &c.MaxLength, &c.MinLength, &c.Label, &c.ColumnIndex); err != nil {
			return nil, apierr.Storage(err, "scan column")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetRecordCount persists the record count returned by the load task.
func (s *SourceTableStore) SetRecordCount(ctx context.Context, stOid int64, count int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE source_tables SET record_count = $2 WHERE st_oid = $1`, stOid, count)
	if err != nil {
		return apierr.Storage(err, "set record count for %d", stOid)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
