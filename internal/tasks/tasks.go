// Package tasks registers the statically declared System and User task
// implementations the catalog dispatches by task_id. Each entry is a
// closure over a shared Deps handle — a tagged variant, never a class
// hierarchy.
package tasks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/auth"
	"github.com/malbeclabs/pipelinehub/internal/catalog"
	"github.com/malbeclabs/pipelinehub/internal/ingest"
	"github.com/malbeclabs/pipelinehub/internal/ingest/dbf"
	"github.com/malbeclabs/pipelinehub/internal/ingest/excel"
	"github.com/malbeclabs/pipelinehub/internal/ingest/flat"
	"github.com/malbeclabs/pipelinehub/internal/ingest/mdb"
	"github.com/malbeclabs/pipelinehub/internal/metrics"
	"github.com/malbeclabs/pipelinehub/internal/model"
	"github.com/malbeclabs/pipelinehub/internal/store"
)

// Task IDs this repository ships. A deployment's run-creation collaborator
// is expected to insert pipeline_run_tasks rows referencing these.
const (
	TaskIDPickup  = "pickup"
	TaskIDAnalyze = "analyze_source_tables"
	TaskIDLoad    = "load_source_tables"
)

// FilePath resolves a SourceTable's declared file to a local filesystem
// path. File storage itself sits outside the core; this is the one seam a
// deployment wires to its actual file store.
type FilePath func(fileID, fileName string) string

// Deps bundles what the catalog entries in this package close over.
type Deps struct {
	Store    *store.Store
	FilePath FilePath
	Metrics  *metrics.Collectors // optional
}

// Register adds every task in this package to cat.
func Register(cat *catalog.Registry, deps Deps) {
	cat.RegisterUserTask(TaskIDPickup, pickupTask(deps))
	cat.RegisterSystemTask(TaskIDAnalyze, analyzeTask(deps))
	cat.RegisterSystemTask(TaskIDLoad, loadTask(deps))
}

// pickupTask claims the run's current stage slot for principal: a user
// taking responsibility for a run at its current stage.
func pickupTask(deps Deps) catalog.UserTaskFunc {
	return func(ctx context.Context, principal auth.Principal, _ *pgx.Conn, task *model.PipelineRunTask) (string, error) {
		run, err := deps.Store.Runs.GetByID(ctx, task.RunID)
		if err != nil {
			return "", err
		}
		slot, ok := model.StageSlotForWorkflowCode(run.WorkflowOperation)
		if !ok {
			return "", apierr.BadRequest("unknown workflow code %q", run.WorkflowOperation)
		}
		if err := deps.Store.Runs.Pickup(ctx, task.RunID, slot, principal.Username); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s picked up run %d", principal.Username, task.RunID), nil
	}
}

// sourceTableRow is the subset of source_tables columns the analyze/load
// tasks need, read directly off tx rather than through store.SourceTableStore
// (which opens its own transactions internally and would nest incorrectly
// inside the worker's single per-job transaction).
type sourceTableRow struct {
	STOid      int64
	TableName  string
	FileID     string
	FileName   string
	LoaderType model.LoaderType
	SubTable   *string
	Delimiter  *string
	Qualified  bool
}

func listFlagged(ctx context.Context, tx pgx.Tx, runID int64, flagColumn string) ([]sourceTableRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT st_oid, table_name, file_id, file_name, loader_type, sub_table, delimiter, qualified
		FROM source_tables
		WHERE run_id = $1 AND `+flagColumn+` = true
		ORDER BY st_oid
	`, runID)
	if err != nil {
		return nil, apierr.Storage(err, "list source tables for run %d", runID)
	}
	defer rows.Close()

	var out []sourceTableRow
	for rows.Next() {
		var r sourceTableRow
		if err := rows.Scan(&r.STOid, &r.TableName, &r.FileID, &r.FileName, &r.LoaderType,
			&r.SubTable, &r.Delimiter, &r.Qualified); err != nil {
			return nil, apierr.Storage(err, "scan source table")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// openSource constructs the format adapter for row's loader type.
func openSource(row sourceTableRow, path string) (ingest.Source, error) {
	switch row.LoaderType {
	case model.LoaderFlat:
		delim := ","
		if row.Delimiter != nil {
			delim = *row.Delimiter
		}
		return flat.New(path, delim, row.Qualified), nil
	case model.LoaderExcel:
		return excel.New(path)
	case model.LoaderMDB:
		return mdb.New(path)
	case model.LoaderDBF:
		return dbf.New(path), nil
	default:
		return nil, apierr.Ingestion(nil, "unrecognized loader type %q", row.LoaderType)
	}
}

func descriptorFor(row sourceTableRow) ingest.AnalyzerDescriptor {
	desc := ingest.AnalyzerDescriptor{TableName: row.TableName}
	if row.SubTable != nil {
		desc.SubTable = *row.SubTable
	}
	return desc
}

// analyzeTask runs the analyze contract over every source table
// in the run flagged Analyze=true, persisting the resulting columns and
// replacing any previously analyzed columns for the same st_oid.
func analyzeTask(deps Deps) catalog.SystemTaskFunc {
	return func(ctx context.Context, tx pgx.Tx, task *model.PipelineRunTask) error {
		rows, err := listFlagged(ctx, tx, task.RunID, "analyze")
		if err != nil {
			return err
		}
		for _, row := range rows {
			path := deps.FilePath(row.FileID, row.FileName)
			src, err := openSource(row, path)
			if err != nil {
				return apierr.Ingestion(err, "open %q", row.FileName)
			}

			result, err := ingest.Analyze(src, descriptorFor(row))
			closeErr := src.Close()
			if err != nil {
				return err
			}
			if closeErr != nil {
				return apierr.Ingestion(closeErr, "close %q", row.FileName)
			}

			if err := replaceColumns(ctx, tx, row.STOid, result); err != nil {
				return err
			}

			if deps.Metrics != nil {
				deps.Metrics.IngestRecords.WithLabelValues(string(row.LoaderType), "analyze").Add(float64(result.RecordCount))
			}
		}
		return nil
	}
}

func replaceColumns(ctx context.Context, tx pgx.Tx, stOid int64, result *ingest.AnalyzeResult) error {
	if _, err := tx.Exec(ctx, `DELETE FROM source_table_columns WHERE st_oid = $1`, stOid); err != nil {
		return apierr.Storage(err, "clear columns for %d", stOid)
	}
	for _, c := range result.Columns {
		if _, err := tx.Exec(ctx, `
			INSERT INTO source_table_columns (st_oid, name, type, max_length, min_length, column_index)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, stOid, c.Name, c.Type, c.MaxLength, c.MinLength, c.Index); err != nil {
			return apierr.Storage(err, "insert column %q for %d", c.Name, stOid)
		}
	}
	return nil
}

// loadTask runs the load contract over every source table in the
// run flagged Load=true: synthesize CREATE TABLE DDL from the previously
// analyzed columns, then stream records through the bulk-copy sink.
func loadTask(deps Deps) catalog.SystemTaskFunc {
	return func(ctx context.Context, tx pgx.Tx, task *model.PipelineRunTask) error {
		rows, err := listFlagged(ctx, tx, task.RunID, "load")
		if err != nil {
			return err
		}
		for _, row := range rows {
			cols, err := columnsForTable(ctx, tx, row.STOid)
			if err != nil {
				return err
			}
			if len(cols) == 0 {
				return apierr.Ingestion(nil, "source table %d has no analyzed columns; run analyze first", row.STOid)
			}

			delim := ","
			if row.Delimiter != nil {
				delim = *row.Delimiter
			}
			desc := ingest.LoaderDescriptor{
				STOid:           row.STOid,
				TableName:       row.TableName,
				Delimiter:       delim,
				Qualified:       row.Qualified,
				Columns:         columnNames(cols),
				CreateStatement: createTableDDL(row.TableName, cols),
			}
			if row.SubTable != nil {
				desc.SubTable = *row.SubTable
			}

			path := deps.FilePath(row.FileID, row.FileName)
			src, err := openSource(row, path)
			if err != nil {
				return apierr.Ingestion(err, "open %q", row.FileName)
			}

			result, loadErr := ingest.Load(ctx, tx, path, row.LoaderType, src, desc)
			closeErr := src.Close()
			if loadErr != nil {
				return loadErr
			}
			if closeErr != nil {
				return apierr.Ingestion(closeErr, "close %q", row.FileName)
			}

			if _, err := tx.Exec(ctx, `UPDATE source_tables SET record_count = $2 WHERE st_oid = $1`,
				row.STOid, result.RecordCount); err != nil {
				return apierr.Storage(err, "set record count for %d", row.STOid)
			}

			if deps.Metrics != nil {
				deps.Metrics.IngestRecords.WithLabelValues(string(row.LoaderType), "load").Add(float64(result.RecordCount))
				deps.Metrics.IngestBytes.WithLabelValues(string(row.LoaderType)).Add(float64(result.BytesRead))
			}
		}
		return nil
	}
}

type analyzedColumn struct {
	Name  string
	Type  string
	Index int
}

func columnsForTable(ctx context.Context, tx pgx.Tx, stOid int64) ([]analyzedColumn, error) {
	rows, err := tx.Query(ctx, `
		SELECT name, type, column_index FROM source_table_columns
		WHERE st_oid = $1
		ORDER BY column_index
	`, stOid)
	if err != nil {
		return nil, apierr.Storage(err, "list columns for %d", stOid)
	}
	defer rows.Close()

	var out []analyzedColumn
	for rows.Next() {
		var c analyzedColumn
		if err := rows.Scan(&c.Name, &c.Type, &c.Index); err != nil {
			return nil, apierr.Storage(err, "scan column")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func columnNames(cols []analyzedColumn) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// sqlType maps the engine's symbolic column types to Postgres
// column types.
func sqlType(symbolic string) string {
	switch symbolic {
	case "INTEGER":
		return "BIGINT"
	case "NUMERIC":
		return "NUMERIC"
	case "DATE":
		return "TIMESTAMP"
	case "BOOLEAN":
		return "BOOLEAN"
	case "BINARY":
		return "BYTEA"
	default:
		return "TEXT"
	}
}

// createTableDDL renders a CREATE TABLE IF NOT EXISTS statement from the
// analyzed columns, executed by the load task inside the same transaction
// as the COPY.
func createTableDDL(tableName string, cols []analyzedColumn) string {
	var b []byte
	b = append(b, []byte("CREATE TABLE IF NOT EXISTS "+tableName+" (\n")...)
	for i, c := range cols {
		b = append(b, []byte("\t"+c.Name+" "+sqlType(c.Type))...)
		if i < len(cols)-1 {
			b = append(b, ',')
		}
		b = append(b, '\n')
	}
	b = append(b, ')')
	return string(b)
}
