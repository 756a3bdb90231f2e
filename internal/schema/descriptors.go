// Package schema implements the DDL bootstrap registry: a slice of
// descriptor structs, ordered by foreign-key dependency via topological
// sort, rendered into one goose migration and applied through a goose
// Provider at boot. Boot creates enums, constraint functions, tables in
// dependency order, and triggers, then loads the default CSV seeds via
// bulk-copy — all from the static registry, never from runtime reflection.
package schema

// EnumDescriptor declares one Postgres enum type.
type EnumDescriptor struct {
	Name   string
	Values []string
}

// TableDescriptor declares one table. DependsOn names other tables (by Name)
// this one has a foreign key into; the registry topo-sorts on this before
// rendering CREATE TABLE statements so a referenced table is always created
// first.
type TableDescriptor struct {
	Name       string
	DependsOn  []string
	Definition string // body between "CREATE TABLE name (" and ")"
}

// FunctionDescriptor declares a PL/pgSQL function, e.g. a constraint trigger
// function or a table function.
type FunctionDescriptor struct {
	Name string
	Body string // full CREATE [OR REPLACE] FUNCTION ... statement
}

// TriggerDescriptor declares a trigger binding a FunctionDescriptor to a
// table event.
type TriggerDescriptor struct {
	Name  string
	Table string
	Body  string // full CREATE TRIGGER ... statement
}

// SeedDescriptor declares a default CSV seed loaded into Table via the
// bulk-copy sink once the schema is created.
type SeedDescriptor struct {
	Table   string
	Columns []string
	CSV     string // header-less CSV rows, one per line
}

// Registry is the compile-time catalog of every schema object pipelinehub
// needs. It is populated once in registry.go and never mutated at runtime.
type Registry struct {
	Enums     []EnumDescriptor
	Tables    []TableDescriptor
	Functions []FunctionDescriptor
	Triggers  []TriggerDescriptor
	Seeds     []SeedDescriptor
}
