// Package flat implements the Flat-file (.csv/.txt) format adapter: a
// single delimited-text table, analyzed field-by-field and loaded
// by streaming the source file's bytes straight through to the COPY sink
// without re-parsing. bufio.Scanner is the right tool here — the load path
// never needs to reconstruct fields at all.
package flat

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/malbeclabs/pipelinehub/internal/ingest"
)

const defaultDelimiter = ","

// Source opens the one table a Flat file contains.
type Source struct {
	Path      string
	Delimiter string
	Qualified bool
}

// New returns a Source over path. An empty delimiter defaults to comma.
func New(path, delimiter string, qualified bool) *Source {
	if delimiter == "" {
		delimiter = defaultDelimiter
	}
	return &Source{Path: path, Delimiter: delimiter, Qualified: qualified}
}

func (s *Source) Open(desc ingest.AnalyzerDescriptor) (ingest.Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", s.Path, err)
	}
	return &table{f: f, scanner: bufio.NewScanner(f), delimiter: s.Delimiter, qualified: s.Qualified}, nil
}

func (s *Source) Close() error { return nil }

type table struct {
	f         *os.File
	scanner   *bufio.Scanner
	delimiter string
	qualified bool
	headerRow []string
	readHdr   bool
}

func (t *table) Columns() ([]string, error) {
	if !t.readHdr {
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		t.headerRow = t.splitLine(t.scanner.Text())
		t.readHdr = true
	}
	return t.headerRow, nil
}

func (t *table) Next() ([]string, error) {
	if !t.readHdr {
		if _, err := t.Columns(); err != nil {
			return nil, err
		}
	}
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return t.splitLine(t.scanner.Text()), nil
}

func (t *table) splitLine(line string) []string {
	fields := strings.Split(line, t.delimiter)
	if !t.qualified {
		return fields
	}
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if len(f) >= 2 && strings.HasPrefix(f, `"`) && strings.HasSuffix(f, `"`) {
			f = strings.ReplaceAll(f[1:len(f)-1], `""`, `"`)
		}
		fields[i] = f
	}
	return fields
}

func (t *table) Close() error {
	return t.f.Close()
}
