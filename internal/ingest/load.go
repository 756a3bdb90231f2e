package ingest

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/ingest/copysink"
	"github.com/malbeclabs/pipelinehub/internal/model"
)

// LoadResult is returned by Load for one descriptor.
type LoadResult struct {
	STOid       int64
	RecordCount int64
	BytesRead   int64
}

// Load runs the load contract for one descriptor inside tx:
// first executes desc.CreateStatement, then streams records into the new
// table via the bulk-copy sink. Flat files stream the source file's bytes
// through unchanged (HEADER true, the source delimiter); every other format
// decodes records via src and re-encodes each as a quoted CSV row (HEADER
// false).
func Load(ctx context.Context, tx pgx.Tx, filePath string, loaderType model.LoaderType, src Source, desc LoaderDescriptor) (*LoadResult, error) {
	if _, err := tx.Exec(ctx, desc.CreateStatement); err != nil {
		return nil, apierr.Storage(err, "create table for %q", desc.TableName)
	}

	var (
		r      io.Reader
		header bool
	)

	if loaderType == model.LoaderFlat {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, apierr.Ingestion(err, "open %q", filePath)
		}
		defer f.Close()
		r = f
		header = true
	} else {
		table, err := src.Open(AnalyzerDescriptor{TableName: desc.TableName, SubTable: desc.SubTable})
		if err != nil {
			return nil, apierr.Ingestion(err, "open %q for load", desc.TableName)
		}
		defer table.Close()
		r = newCSVRecordReader(table, desc.Delimiter)
		header = false
	}

	counter := &countingReader{r: r}
	n, err := copysink.Copy(ctx, tx, counter, copysink.Options{
		Table:     desc.TableName,
		Columns:   desc.Columns,
		Delimiter: desc.Delimiter,
		Header:    header,
		Qualified: desc.Qualified,
	})
	if err != nil {
		return nil, err
	}

	return &LoadResult{STOid: desc.STOid, RecordCount: n, BytesRead: counter.n}, nil
}

// countingReader tallies bytes passed through to the COPY sink, so callers
// can report ingest throughput without the sink itself tracking it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// csvRecordReader adapts a Table's record stream into an io.Reader of
// quoted CSV rows: every field wrapped in '"', embedded '"' doubled,
// fields joined by delim, rows terminated with '\n'. It is used whenever a
// non-Flat format must be re-encoded for the COPY sink.
type csvRecordReader struct {
	table   Table
	delim   string
	pending []byte
	err     error
	done    bool
}

func newCSVRecordReader(table Table, delim string) *csvRecordReader {
	return &csvRecordReader{table: table, delim: delim}
}

func (c *csvRecordReader) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		if c.done {
			if c.err != nil && c.err != io.EOF {
				return 0, c.err
			}
			return 0, io.EOF
		}
		record, err := c.table.Next()
		if err == io.EOF {
			c.done = true
			continue
		}
		if err != nil {
			c.done = true
			c.err = err
			continue
		}
		c.pending = []byte(encodeCSVRecord(record, c.delim))
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func encodeCSVRecord(fields []string, delim string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, delim) + "\n"
}
