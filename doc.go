// The [omnigrid] package lets one application browse, filter, paginate
// and bulk-edit data across radically different storage engines through
// one uniform contract.
//
// # Architecture
//
// An [Adapter] wires four building blocks around a per-engine
// [github.com/omnigrid/omnigrid.go/pkg/driver.Driver]:
//
//   - [github.com/omnigrid/omnigrid.go/pkg/dialect] compiles
//     backend-agnostic filters into each engine's native query form,
//   - [github.com/omnigrid/omnigrid.go/pkg/cursor] provides keyset
//     pagination that behaves identically whether or not the backend has
//     native cursors,
//   - [github.com/omnigrid/omnigrid.go/pkg/bulk] batches large
//     insert/update/delete sets with partial-failure accounting,
//   - [github.com/omnigrid/omnigrid.go/pkg/resilience] owns connection
//     state, health checking and classified auto-reconnect.
//
// Filter compilation and page/bulk planning are pure computations; only
// the final driver call touches the network, and every driver call is
// wrapped by the resilience manager so transport failures are retried
// transparently.
//
// # Dialects and drivers
//
// One dialect/driver pair exists per storage paradigm: SQL
// (Postgres, SQLite and CQL text dialects), document stores
// ([github.com/omnigrid/omnigrid.go/pkg/dialect/mongodial]), search
// engines ([github.com/omnigrid/omnigrid.go/pkg/dialect/searchdial]) and
// key-value stores ([github.com/omnigrid/omnigrid.go/pkg/dialect/kvdial]).
// SQL dialects produce parameterized text; the others produce structured
// plans the matching driver executes. Values are never interpolated into
// query text.
//
// # Cursors
//
// Page cursors are opaque tokens produced and consumed only by this
// layer. Backends that cap their result window (search engines capping
// deep pagination) transparently switch to a scroll-based skip-forward
// strategy past the window; callers cannot tell the difference.
package omnigrid
