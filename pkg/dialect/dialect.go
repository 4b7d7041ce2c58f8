// Package dialect turns backend-agnostic filters, page plans and bulk
// items into native statements. One Dialect implementation exists per
// storage paradigm; the planning layer is written once against this
// interface.
package dialect

import (
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
)

// CompiledQuery is the dialect-native form of a FilterSet. SQL-family
// dialects fill Fragment (with `?` placeholders) and Params in matching
// order; structured dialects fill Native. An empty Fragment with a nil
// Native means "no restriction".
type CompiledQuery struct {
	Fragment string
	Params   []any
	Native   any
}

// Restricts reports whether the query constrains the result set at all.
func (q *CompiledQuery) Restricts() bool {
	return q != nil && (q.Fragment != "" || q.Native != nil)
}

// SortKey is one ordering term of a select plan.
type SortKey struct {
	Column string
	Desc   bool
}

// Dialect encapsulates operator translation, identifier quoting and the
// backend's native bulk primitives. Implementations are pure: no I/O,
// deterministic output for identical input.
type Dialect interface {
	Name() string

	// QuoteIdentifier makes a column or table name safe for embedding.
	QuoteIdentifier(name string) string

	// CompileFilter translates a FilterSet. An empty set compiles to the
	// dialect's match-everything form, never to an always-false fragment.
	CompileFilter(set filter.Set) (*CompiledQuery, error)

	// And combines two compiled queries so both must hold; either side
	// may be non-restricting.
	And(a, b *CompiledQuery) *CompiledQuery

	SelectStatement(table string, where *CompiledQuery, sort []SortKey, limit int) (*driver.Statement, error)
	CountStatement(table string, where *CompiledQuery) (*driver.Statement, error)

	// InsertStatement builds the native multi-row insert for one batch.
	InsertStatement(table string, columns []string, rows [][]any) (*driver.Statement, error)

	// UpdateStatement builds a single-row update addressed by primary key.
	UpdateStatement(table string, key map[string]any, values map[string]any) (*driver.Statement, error)

	// DeleteStatement builds a batch delete for the given primary keys,
	// preferring a single-column IN over OR-of-AND when the key has one
	// column.
	DeleteStatement(table string, keys []map[string]any) (*driver.Statement, error)
}
