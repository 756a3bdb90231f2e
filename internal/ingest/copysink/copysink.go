// Package copysink wraps Postgres's bulk-copy ingestion facility
// (`COPY ... FROM STDIN`) behind a small io.Writer-oriented API, built
// directly against pgx's low-level
// CopyFrom protocol — the pgx-idiomatic mechanism for a literal
// COPY FROM STDIN requirement.
package copysink

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Options shapes the COPY command.
type Options struct {
	Table     string
	Columns   []string
	Delimiter string
	Header    bool
	Qualified bool // adds QUOTE '"', ESCAPE '"'
}

// sql renders the COPY ... FROM STDIN WITH (...) command.
func (o Options) sql() string {
	var b strings.Builder
	fmt.Fprintf(&b, "COPY %s(%s) FROM STDIN WITH (FORMAT csv, DELIMITER '%s', HEADER %t",
		o.Table, strings.Join(o.Columns, ", "), o.Delimiter, o.Header)
	if o.Qualified {
		b.WriteString(`, QUOTE '"', ESCAPE '"'`)
	}
	b.WriteString(")")
	return b.String()
}

// Copy streams r's bytes into the database via COPY FROM STDIN inside tx,
// returning the number of rows copied.
func Copy(ctx context.Context, tx pgx.Tx, r io.Reader, opts Options) (int64, error) {
	tag, err := tx.Conn().PgConn().CopyFrom(ctx, r, opts.sql())
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", opts.Table, err)
	}
	return tag.RowsAffected(), nil
}
