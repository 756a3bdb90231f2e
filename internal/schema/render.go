package schema

import (
	"fmt"
	"strings"
)

// Render renders the registry into one goose-compatible migration body:
// create enums, create constraint/trigger functions, create tables in
// dependency order, then bind triggers. The goose "-- +goose Up"/"-- +goose
// Down" annotations wrap the whole thing as a single forward-only migration
// — incremental schema migration is out of scope here, so there is
// deliberately no hand-authored Down body beyond a `SELECT 1` no-op.
func (r Registry) Render() string {
	var b strings.Builder
	b.WriteString("-- +goose Up\n-- +goose StatementBegin\n")

	for _, e := range r.Enums {
		fmt.Fprintf(&b, "DO $$ BEGIN\n\tCREATE TYPE %s AS ENUM (%s);\nEXCEPTION WHEN duplicate_object THEN NULL;\nEND $$;\n\n",
			e.Name, quoteValues(e.Values))
	}

	for _, fn := range r.Functions {
		b.WriteString(strings.TrimSpace(fn.Body))
		b.WriteString("\n\n")
	}

	for _, t := range topoSortTables(r.Tables) {
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s\n);\n\n", t.Name, t.Definition)
	}

	for _, tr := range r.Triggers {
		fmt.Fprintf(&b, "DROP TRIGGER IF EXISTS %s ON %s;\n%s\n\n", tr.Name, tr.Table, strings.TrimSpace(tr.Body))
	}

	b.WriteString("-- +goose StatementEnd\n")
	b.WriteString("-- +goose Down\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n")
	return b.String()
}

func quoteValues(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, ", ")
}
