// Package catalog defines the schema metadata visible to a transaction:
// namespaces, databases, tables, fields and indexes, together with the
// declarative access policies attached to them.
//
// Definitions are read-only inputs produced by the DDL layer. The execution
// engine never caches them across statements because DDL and DML may
// interleave inside one transaction: a table's permissions can change between
// two statements of the same transaction, so every statement resolves its
// definitions from the transaction's own view of the catalog keyspace.
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Typed catalog errors. These surface as user-facing query errors and are
// distinguished from statement-local early returns.
var (
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrDatabaseNotFound  = errors.New("database not found")
	ErrTableNotFound     = errors.New("table not found")
	ErrIndexNotFound     = errors.New("index not found")
)

// PermissionKind is the declarative tri-state of a catalog permission.
type PermissionKind int

const (
	// PermissionNone denies the action for record-level users.
	PermissionNone PermissionKind = iota
	// PermissionFull allows the action unconditionally.
	PermissionFull
	// PermissionSpecific allows the action when the attached expression
	// evaluates truthy for the record being accessed.
	PermissionSpecific
)

// Permission is a single declarative ACL entry as written by DEFINE TABLE /
// DEFINE FIELD. The expression is stored as source text; it is compiled by
// the execution engine when the permission is converted to its runtime form.
type Permission struct {
	Kind PermissionKind `json:"kind"`
	Expr string         `json:"expr,omitempty"`
}

// None, Full and Specific are convenience constructors.
func None() Permission { return Permission{Kind: PermissionNone} }
func Full() Permission { return Permission{Kind: PermissionFull} }
func Specific(expr string) Permission {
	return Permission{Kind: PermissionSpecific, Expr: expr}
}

// IsSpecific reports whether the permission carries a condition expression.
func (p Permission) IsSpecific() bool { return p.Kind == PermissionSpecific }

// PermissionSet holds the per-action table permissions.
type PermissionSet struct {
	Select Permission `json:"select"`
	Create Permission `json:"create"`
	Update Permission `json:"update"`
	Delete Permission `json:"delete"`
}

// FullPermissions returns a set allowing every action.
func FullPermissions() PermissionSet {
	return PermissionSet{Select: Full(), Create: Full(), Update: Full(), Delete: Full()}
}

// NamespaceDefinition identifies a namespace and its numeric id used in key
// encoding.
type NamespaceDefinition struct {
	NamespaceID uint32 `json:"namespace_id"`
	Name        string `json:"name"`
}

// DatabaseDefinition identifies a database within a namespace.
type DatabaseDefinition struct {
	DatabaseID  uint32 `json:"database_id"`
	NamespaceID uint32 `json:"namespace_id"`
	Name        string `json:"name"`
}

// TableDefinition describes a table, its access policies and its optional
// JSON schema for document validation.
type TableDefinition struct {
	Name        string        `json:"name"`
	Permissions PermissionSet `json:"permissions"`
	// Schema is an optional JSON-schema document enforced on writes.
	Schema    string    `json:"schema,omitempty"`
	DefinedAt time.Time `json:"defined_at"`

	compiled *gojsonschema.Schema
}

// CompileSchema compiles the table's JSON schema, if any. Called by the DDL
// layer on DEFINE TABLE so invalid schemas are rejected at definition time.
func (t *TableDefinition) CompileSchema() error {
	if t.Schema == "" {
		t.compiled = nil
		return nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(t.Schema))
	if err != nil {
		return fmt.Errorf("invalid schema for table %s: %w", t.Name, err)
	}
	t.compiled = schema
	return nil
}

// Validate checks a document against the table's JSON schema. Tables without
// a schema accept every document.
func (t *TableDefinition) Validate(doc map[string]interface{}) error {
	if t.compiled == nil {
		if t.Schema == "" {
			return nil
		}
		if err := t.CompileSchema(); err != nil {
			return err
		}
	}
	result, err := t.compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation failed for table %s: %w", t.Name, err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("document rejected by schema of table %s: %s", t.Name, errs[0].String())
		}
		return fmt.Errorf("document rejected by schema of table %s", t.Name)
	}
	return nil
}

// FieldDefinition describes one defined field of a table.
type FieldDefinition struct {
	Name  string `json:"name"`
	Table string `json:"table"`
	// Computed holds the source of a computed-value expression, evaluated
	// per record during scans. Empty for plain stored fields.
	Computed string `json:"computed,omitempty"`
	// Select is the field-level SELECT permission. Fields a record user may
	// not see are omitted from results, never errored on.
	Select Permission `json:"select"`
}

// IndexKind discriminates the index implementations known to the engine.
type IndexKind int

const (
	// IndexCount maintains a signed-delta change log counting records that
	// match the stored condition.
	IndexCount IndexKind = iota
	// IndexFullText maintains term postings with BM25 relevance scoring.
	IndexFullText
)

func (k IndexKind) String() string {
	switch k {
	case IndexCount:
		return "COUNT"
	case IndexFullText:
		return "FULLTEXT"
	default:
		return fmt.Sprintf("IndexKind(%d)", int(k))
	}
}

// SearchParams tunes full-text relevance scoring.
type SearchParams struct {
	// BM25 term-frequency saturation. Zero means the default (1.2).
	K1 float64 `json:"k1,omitempty"`
	// BM25 length normalisation. Zero means the default (0.75).
	B float64 `json:"b,omitempty"`
}

// IndexDefinition describes a secondary index on a table.
type IndexDefinition struct {
	IndexID uint32    `json:"index_id"`
	Name    string    `json:"name"`
	Table   string    `json:"table"`
	Kind    IndexKind `json:"kind"`
	// Cols names the indexed fields. FullText indexes tokenise the
	// concatenated text of these fields.
	Cols []string `json:"cols"`
	// Condition is the stored WHERE condition of a COUNT index. A query can
	// use the index's delta log only when its own condition is exactly this
	// text; anything else falls back to a full scan.
	Condition string       `json:"condition,omitempty"`
	Search    SearchParams `json:"search,omitempty"`
}

// BM25Params returns the effective scoring parameters with defaults applied.
func (ix *IndexDefinition) BM25Params() (k1, b float64) {
	k1, b = ix.Search.K1, ix.Search.B
	if k1 == 0 {
		k1 = 1.2
	}
	if b == 0 {
		b = 0.75
	}
	return k1, b
}
