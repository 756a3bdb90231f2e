// Package ingest implements the streaming file-ingestion engine:
// a format-agnostic analyze/load pipeline over delimited text, spreadsheet
// workbooks, embedded databases, and columnar legacy formats, feeding a
// streaming COPY sink. Format-specific adapters live in the flat, excel,
// mdb, and dbf subpackages; copysink wraps the bulk-copy protocol.
package ingest

import (
	"io"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
)

const chunkSize = 10000

// ColumnStat is one column's accumulated statistics.
type ColumnStat struct {
	Name      string
	Type      string
	MinLength int
	MaxLength int
	Index     int
}

// AnalyzeResult is the outcome of analyzing one table (or sub-table).
type AnalyzeResult struct {
	TableName   string
	RecordCount int64
	Columns     []ColumnStat
}

// AnalyzerDescriptor selects one table (or sub-table) to analyze.
type AnalyzerDescriptor struct {
	TableName string
	SubTable  string // required for Excel/MDB; empty for Flat/DBF
}

// LoaderDescriptor selects one table (or sub-table) to load, carrying the
// pre-computed DDL and column list from a prior analyze pass.
type LoaderDescriptor struct {
	STOid           int64
	TableName       string
	SubTable        string
	Delimiter       string
	Qualified       bool
	Columns         []string
	CreateStatement string
}

// Table is a format adapter's view of one table/sub-table: a record stream
// plus the column names in file order (pre-normalization). Every adapter
// (flat, excel, mdb, dbf) implements this.
type Table interface {
	// Columns returns the raw (pre-normalization) header names.
	Columns() ([]string, error)
	// Next returns the next record's field values as strings, or io.EOF
	// once exhausted.
	Next() ([]string, error)
	Close() error
}

// Source opens one or more Tables out of a single file, keyed by the
// analyzer/loader descriptor's table/sub-table name. Flat and DBF files
// expose exactly one table; Excel and MDB expose one per sheet/sub-table.
type Source interface {
	Open(desc AnalyzerDescriptor) (Table, error)
	Close() error
}

// mergeChunk folds a chunk's per-column stats into the running accumulator,
// taking the element-wise min/max of lengths. The caller reuses the chunk
// slice between rounds, so the first merge copies it rather than aliasing
// its backing array. Type carries the latest chunk's value: it is derived
// from flags accumulated over the whole stream, so the most recent chunk's
// classification is the most complete one.
func mergeChunk(acc []ColumnStat, chunk []ColumnStat) []ColumnStat {
	if acc == nil {
		return append([]ColumnStat(nil), chunk...)
	}
	for i := range acc {
		if chunk[i].MinLength < acc[i].MinLength {
			acc[i].MinLength = chunk[i].MinLength
		}
		if chunk[i].MaxLength > acc[i].MaxLength {
			acc[i].MaxLength = chunk[i].MaxLength
		}
		acc[i].Type = chunk[i].Type
	}
	return acc
}

// inferType returns a column's symbolic type from its observed string
// values so far in the stream: numeric if every non-empty value parses as a
// number, otherwise text. No fuller SQL-type inference is attempted here;
// DDL synthesis maps the symbolic type downstream.
func inferType(allNumeric bool) string {
	if allNumeric {
		return "NUMERIC"
	}
	return "TEXT"
}

// Analyze runs the analyze contract over one descriptor: reads
// the table in chunks of 10,000 records, computing column statistics with an
// associative merge, and normalizes + de-duplicates column names.
func Analyze(src Source, desc AnalyzerDescriptor) (*AnalyzeResult, error) {
	table, err := src.Open(desc)
	if err != nil {
		return nil, apierr.Ingestion(err, "open %q for analyze", desc.TableName)
	}
	defer table.Close()

	rawColumns, err := table.Columns()
	if err != nil {
		return nil, apierr.Ingestion(err, "read columns for %q", desc.TableName)
	}
	normalized := DedupColumnNames(normalizeAll(rawColumns))

	var acc []ColumnStat
	var recordCount int64
	allNumeric := make([]bool, len(normalized))
	for i := range allNumeric {
		allNumeric[i] = true
	}

	chunk := make([]ColumnStat, len(normalized))
	for i, name := range normalized {
		chunk[i] = ColumnStat{Name: name, Index: i, MinLength: -1, MaxLength: 0}
	}
	inChunk := 0

	flush := func() {
		for i := range chunk {
			if chunk[i].MinLength < 0 {
				chunk[i].MinLength = 0
			}
			chunk[i].Type = inferType(allNumeric[i])
		}
		acc = mergeChunk(acc, chunk)
		for i := range chunk {
			chunk[i] = ColumnStat{Name: normalized[i], Index: i, MinLength: -1, MaxLength: 0}
		}
		inChunk = 0
	}

	for {
		record, err := table.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apierr.Ingestion(err, "read record for %q", desc.TableName)
		}
		recordCount++
		for i, field := range record {
			if i >= len(chunk) {
				break
			}
			l := len(field)
			if chunk[i].MinLength < 0 || l < chunk[i].MinLength {
				chunk[i].MinLength = l
			}
			if l > chunk[i].MaxLength {
				chunk[i].MaxLength = l
			}
			if field != "" && !isNumeric(field) {
				allNumeric[i] = false
			}
		}
		inChunk++
		if inChunk == chunkSize {
			flush()
		}
	}
	if inChunk > 0 || acc == nil {
		flush()
	}

	return &AnalyzeResult{TableName: desc.TableName, RecordCount: recordCount, Columns: acc}, nil
}

func normalizeAll(raw []string) []string {
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = NormalizeColumnName(r)
	}
	return out
}

func isNumeric(s string) bool {
	seenDigit := false
	seenDot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
		case r == '-' && i == 0:
		case r == '.' && !seenDot:
			seenDot = true
		default:
			return false
		}
	}
	return seenDigit
}
