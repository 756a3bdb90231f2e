// Package mdb implements the MDB/Access (.mdb/.accdb) format adapter over
// github.com/alexbrainman/odbc, a read-only ODBC driver
// registered under database/sql as "odbc". Column types are mapped from the
// driver's reported database type names to the engine's symbolic names.
package mdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	_ "github.com/alexbrainman/odbc"

	"github.com/malbeclabs/pipelinehub/internal/ingest"
)

// odbcTypeNames maps driver-reported SQL type names to the symbolic column
// types the analyze/load engine persists.
var odbcTypeNames = map[string]string{
	"COUNTER":    "INTEGER",
	"LONG":       "INTEGER",
	"INTEGER":    "INTEGER",
	"SMALLINT":   "INTEGER",
	"BYTE":       "INTEGER",
	"SINGLE":     "NUMERIC",
	"DOUBLE":     "NUMERIC",
	"CURRENCY":   "NUMERIC",
	"DECIMAL":    "NUMERIC",
	"NUMERIC":    "NUMERIC",
	"DATETIME":   "DATE",
	"TEXT":       "TEXT",
	"VARCHAR":    "TEXT",
	"LONGCHAR":   "TEXT",
	"MEMO":       "TEXT",
	"BIT":        "BOOLEAN",
	"LONGBINARY": "BINARY",
}

// SymbolicType returns the symbolic type name for an ODBC-reported type, or
// "TEXT" for anything unrecognized — the analyze pass never fails on an
// unfamiliar Access type, it just loses the narrower classification.
func SymbolicType(odbcType string) string {
	if t, ok := odbcTypeNames[strings.ToUpper(odbcType)]; ok {
		return t
	}
	return "TEXT"
}

// Source opens a sub-table out of a single.mdb/.accdb file via a read-only
// ODBC DSN-less connection string.
type Source struct {
	db *sql.DB
}

// New opens path through the ODBC Microsoft Access Driver in read-only mode.
func New(path string) (*Source, error) {
	connStr := fmt.Sprintf("Driver={Microsoft Access Driver (*.mdb, *.accdb)};DBQ=%s;ReadOnly=1;", path)
	db, err := sql.Open("odbc", connStr)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return &Source{db: db}, nil
}

// SubTableNames enumerates the workbook's sub-tables by name, excluding
// system tables (those prefixed "MSys" or "~").
func (s *Source) SubTableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'TABLE'
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if strings.HasPrefix(name, "MSys") || strings.HasPrefix(name, "~") {
			continue
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Source) Open(desc ingest.AnalyzerDescriptor) (ingest.Table, error) {
	if desc.SubTable == "" {
		return nil, fmt.Errorf("mdb: sub-table is required")
	}
	rows, err := s.db.Query(fmt.Sprintf("SELECT * FROM [%s]", desc.SubTable))
	if err != nil {
		return nil, fmt.Errorf("query table %q: %w", desc.SubTable, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("read columns for %q: %w", desc.SubTable, err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("read column types for %q: %w", desc.SubTable, err)
	}
	return &table{rows: rows, columns: cols, colTypes: colTypes}, nil
}

func (s *Source) Close() error {
	return s.db.Close()
}

type table struct {
	rows     *sql.Rows
	columns  []string
	colTypes []*sql.ColumnType
}

func (t *table) Columns() ([]string, error) {
	return t.columns, nil
}

// SymbolicTypes returns the column type names, mapped to the engine's
// symbolic vocabulary, in column order, from the driver-reported types.
// Nothing in the analyze path calls it: ingest.Analyze infers only
// numeric/text from observed values, and those are the types stored.
func (t *table) SymbolicTypes() []string {
	out := make([]string, len(t.colTypes))
	for i, ct := range t.colTypes {
		out[i] = SymbolicType(ct.DatabaseTypeName())
	}
	return out
}

func (t *table) Next() ([]string, error) {
	if !t.rows.Next() {
		if err := t.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	values := make([]sql.NullString, len(t.columns))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := t.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String
	}
	return out, nil
}

func (t *table) Close() error {
	return t.rows.Close()
}
