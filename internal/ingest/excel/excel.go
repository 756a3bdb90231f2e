// Package excel implements the Excel (.xls/.xlsx) format adapter on top of
// github.com/xuri/excelize/v2, one Table per worksheet.
// Cell rendering: formulas are evaluated,
// whole-valued numbers render without a decimal point, date-formatted
// cells render as an ISO local date, every other number renders as a
// locale-independent decimal string, booleans render as TRUE/FALSE, blanks
// render empty, and formula errors fall back to the cell's formatted text.
package excel

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/malbeclabs/pipelinehub/internal/ingest"
)

const isoDateLayout = "2006-01-02"

// dateNumFmtIDs are the built-in numFmt IDs excelize assigns to
// date/time formats (ECMA-376 §18.8.30 built-in formats 14-22, 45-47).
var dateNumFmtIDs = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true,
	21: true, 22: true, 45: true, 46: true, 47: true,
}

// Source opens a sub-table (worksheet) out of a single workbook.
type Source struct {
	f *excelize.File
}

// New opens the workbook at path.
func New(path string) (*Source, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return &Source{f: f}, nil
}

func (s *Source) Open(desc ingest.AnalyzerDescriptor) (ingest.Table, error) {
	sheet := desc.SubTable
	if sheet == "" {
		return nil, fmt.Errorf("excel: sub-table (sheet name) is required")
	}
	rows, err := s.f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("open sheet %q: %w", sheet, err)
	}
	return &table{f: s.f, sheet: sheet, rows: rows}, nil
}

func (s *Source) Close() error {
	return s.f.Close()
}

// SheetNames lists the workbook's sub-tables, in the order SourceTable
// entries should be created for an Excel upload.
func (s *Source) SheetNames() []string {
	return s.f.GetSheetList()
}

type table struct {
	f       *excelize.File
	sheet   string
	rows    *excelize.Rows
	rowIdx  int
	header  []string
	readHdr bool
}

func (t *table) Columns() ([]string, error) {
	if !t.readHdr {
		row, err := t.nextRow()
		if err != nil {
			return nil, err
		}
		t.header = row
		t.readHdr = true
	}
	return t.header, nil
}

func (t *table) Next() ([]string, error) {
	if !t.readHdr {
		if _, err := t.Columns(); err != nil {
			return nil, err
		}
	}
	return t.nextRow()
}

func (t *table) nextRow() ([]string, error) {
	if !t.rows.Next() {
		if err := t.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	t.rowIdx++
	cols, err := t.rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(cols))
	for i := range cols {
		ref, err := excelize.CoordinatesToCellName(i+1, t.rowIdx)
		if err != nil {
			return nil, err
		}
		out[i], err = t.cellValue(ref, cols[i])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *table) cellValue(ref, raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	formula, _ := t.f.GetCellFormula(t.sheet, ref)
	value := raw
	if formula != "" {
		calc, err := t.f.CalcCellValue(t.sheet, ref)
		if err != nil {
			// Formula error: fall back to the cell's already-formatted text.
			return raw, nil
		}
		value = calc
	}

	cellType, err := t.f.GetCellType(t.sheet, ref)
	if err != nil {
		return value, nil
	}

	switch cellType {
	case excelize.CellTypeBool:
		if value == "1" || strings.EqualFold(value, "true") {
			return "TRUE", nil
		}
		return "FALSE", nil
	case excelize.CellTypeNumber:
		if t.isDateStyled(ref) {
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				d, err := excelize.ExcelDateToTime(f, false)
				if err == nil {
					return d.Format(isoDateLayout), nil
				}
			}
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			if math.Floor(f) == f {
				return strconv.FormatFloat(f, 'f', 0, 64), nil
			}
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return value, nil
	default:
		return value, nil
	}
}

// isDateStyled reports whether ref's cell style resolves to a built-in
// date/time number format. GetCellStyle returns a style index, not a numFmt
// ID; the style must be dereferenced to read its NumFmt.
func (t *table) isDateStyled(ref string) bool {
	styleID, err := t.f.GetCellStyle(t.sheet, ref)
	if err != nil {
		return false
	}
	style, err := t.f.GetStyle(styleID)
	if err != nil || style == nil {
		return false
	}
	return dateNumFmtIDs[style.NumFmt]
}

func (t *table) Close() error { return nil }
