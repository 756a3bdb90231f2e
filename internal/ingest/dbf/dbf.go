// Package dbf implements the DBF (.dbf) format adapter over
// github.com/LindsayBradford/go-dbf/godbf, which loads a dBASE table's
// field metadata and records eagerly into memory.
package dbf

import (
	"fmt"
	"io"

	"github.com/LindsayBradford/go-dbf/godbf"

	"github.com/malbeclabs/pipelinehub/internal/ingest"
)

// Source opens the single table a DBF file contains.
type Source struct {
	Path string
}

func New(path string) *Source {
	return &Source{Path: path}
}

func (s *Source) Open(desc ingest.AnalyzerDescriptor) (ingest.Table, error) {
	t, err := godbf.NewFromFile(s.Path, "UTF8")
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", s.Path, err)
	}
	return &table{t: t}, nil
}

func (s *Source) Close() error { return nil }

type table struct {
	t   *godbf.DbfTable
	row int
}

func (t *table) Columns() ([]string, error) {
	return t.t.FieldNames(), nil
}

func (t *table) Next() ([]string, error) {
	if t.row >= t.t.NumberOfRecords() {
		return nil, io.EOF
	}
	names := t.t.FieldNames()
	out := make([]string, len(names))
	for i := range names {
		out[i] = t.t.FieldValue(t.row, i)
	}
	t.row++
	return out, nil
}

func (t *table) Close() error { return nil }
