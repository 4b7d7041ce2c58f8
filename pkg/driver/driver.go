// Package driver defines the narrow seam between the planning layer and
// each storage engine's native client. The planners (filter compilation,
// cursor pagination, bulk batching) never talk to a backend except through
// these interfaces.
package driver

import "context"

// Op tells a driver what kind of statement it is executing, so structured
// (non-SQL) drivers can dispatch on it.
type Op string

const (
	OpSelect Op = "select"
	OpCount  Op = "count"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Statement is one executable unit produced by a Dialect. SQL-family
// dialects fill Text and Params; structured dialects (document, search,
// key-value) fill Native with their plan type and leave Text empty.
// Params order matches placeholder order exactly; values are never
// interpolated into Text.
type Statement struct {
	Op     Op
	Table  string
	Text   string
	Params []any
	Native any
}

// Row is one result row keyed by column name.
type Row = map[string]any

// Result is the raw outcome of a statement.
type Result struct {
	Rows        []Row
	Affected    int64
	InsertedIDs []any
}

// Capabilities describes what the backend can do; the planners consult it
// instead of special-casing engine names.
type Capabilities struct {
	// Transactions reports whether ExecuteBatch runs inside one
	// transaction (see Batcher).
	Transactions bool

	// MaxResultWindow is the deepest row the backend will serve through
	// its normal query path (search engines cap this); 0 means unbounded.
	// Past the window the paginator switches to a Scroller.
	MaxResultWindow int
}

// Driver executes native statements for one storage engine. Implementations
// must be safe for concurrent use; requestID identifies an in-flight call
// for out-of-band cancellation.
type Driver interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error
	Execute(ctx context.Context, requestID string, stmt *Statement) (*Result, error)
	Cancel(requestID string) error
	Capabilities() Capabilities
}

// Batcher is implemented by drivers whose backend can run several
// statements as one unit, transactionally when Capabilities.Transactions
// is set. It returns the total affected count.
type Batcher interface {
	ExecuteBatch(ctx context.Context, requestID string, stmts []*Statement) (int64, error)
}

// Scroller is implemented by drivers whose backend offers a stable scan
// handle (e.g. a search engine scroll). The paginator uses it to skip
// forward past Capabilities.MaxResultWindow.
type Scroller interface {
	OpenScroll(ctx context.Context, stmt *Statement, batchSize int) (Scroll, error)
}

// Scroll iterates a stable snapshot in fixed-size chunks. Next returns a
// nil slice once the scan is drained.
type Scroll interface {
	Next(ctx context.Context) ([]Row, error)
	Close(ctx context.Context) error
}
