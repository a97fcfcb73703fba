// Package table implements the deterministic columnar container (.axt)
// used for all shard tables.
//
// Two invocations of the writer with identical rows produce byte-identical
// files on every platform. That property is the precondition for
// content-addressed shard identity, and it is why the container is
// purpose-built: rows are sorted by the table's primary key, the layout
// has no writer identity, no timestamps, and no random field, and each
// column compresses through ZSTD at a fixed level on a single-goroutine
// encoder.
package table

import "fmt"

// Type is the physical type of a column.
type Type uint8

const (
	TypeString Type = 1
	TypeInt64  Type = 2
	TypeInt8   Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeInt8:
		return "int8"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Column is one field of a fixed schema. Core tables never allow nulls;
// only extension schemas may mark a column nullable.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
}

// Schema is the declared shape of a table: column names and physical types
// in order, plus the primary sort key the writer orders rows by.
type Schema struct {
	Name    string
	Columns []Column
	SortKey string
}

// Col returns the index of the named column, or -1.
func (s Schema) Col(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Row holds one value per schema column: string for TypeString, int64 for
// TypeInt64, int8 for TypeInt8, or nil in a nullable column.
type Row []any

// Fixed schemas for the four core tables. These are frozen: a table that
// does not match its schema exactly fails verification.
var (
	Entities = Schema{
		Name: "entities",
		Columns: []Column{
			{Name: "entity_id", Type: TypeString},
			{Name: "namespace", Type: TypeString},
			{Name: "label", Type: TypeString},
			{Name: "entity_type", Type: TypeString},
		},
		SortKey: "entity_id",
	}

	Claims = Schema{
		Name: "claims",
		Columns: []Column{
			{Name: "claim_id", Type: TypeString},
			{Name: "subject", Type: TypeString},
			{Name: "predicate", Type: TypeString},
			{Name: "object", Type: TypeString},
			{Name: "object_type", Type: TypeString},
			{Name: "tier", Type: TypeInt8},
		},
		SortKey: "claim_id",
	}

	Provenance = Schema{
		Name: "provenance",
		Columns: []Column{
			{Name: "provenance_id", Type: TypeString},
			{Name: "claim_id", Type: TypeString},
			{Name: "source_hash", Type: TypeString},
			{Name: "byte_start", Type: TypeInt64},
			{Name: "byte_end", Type: TypeInt64},
		},
		SortKey: "provenance_id",
	}

	Spans = Schema{
		Name: "spans",
		Columns: []Column{
			{Name: "span_id", Type: TypeString},
			{Name: "source_hash", Type: TypeString},
			{Name: "byte_start", Type: TypeInt64},
			{Name: "byte_end", Type: TypeInt64},
			{Name: "text", Type: TypeString},
		},
		SortKey: "span_id",
	}
)

// Locators is the schema of the locators@1 extension table: the structural
// position of evidence in its source document, keyed by the stable
// evidence address so joins survive rebuilds.
var Locators = Schema{
	Name: "locators",
	Columns: []Column{
		{Name: "evidence_addr", Type: TypeString},
		{Name: "span_id", Type: TypeString},
		{Name: "source_hash", Type: TypeString},
		{Name: "kind", Type: TypeString},
		{Name: "page_index", Type: TypeInt64, Nullable: true},
		{Name: "paragraph_index", Type: TypeInt64, Nullable: true},
		{Name: "block_id", Type: TypeString},
		{Name: "file_path", Type: TypeString},
	},
	SortKey: "evidence_addr",
}
