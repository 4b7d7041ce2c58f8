package constants

import "errors"

// Error kinds surfaced by the adapter layer. Callers match them with
// errors.Is; the wrapping error text carries the operation, table and
// column context.
var (
	// ErrNotConnected is returned when an operation is attempted with no
	// live connection and the adapter is configured to fail fast.
	ErrNotConnected = errors.New("not connected")

	// ErrCompile marks a filter that cannot be translated for the target
	// dialect, e.g. an operator the column type does not support.
	// It is raised before any I/O happens.
	ErrCompile = errors.New("filter compile error")

	// ErrTransport marks an I/O failure classified as connection loss.
	// It is retried per the reconnect policy before being surfaced.
	ErrTransport = errors.New("transport error")

	// ErrBackend marks a query or constraint error reported by the backend.
	// It never triggers a reconnect and is never retried automatically.
	ErrBackend = errors.New("backend error")

	// ErrReadOnly is returned when a write is attempted on a connection
	// configured as read-only. Raised before any I/O happens.
	ErrReadOnly = errors.New("connection is read-only")

	// ErrReconnectExhausted is returned once every reconnect attempt
	// allowed by the policy has failed.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

var (
	// ErrBatchAborted is returned by a bulk operation that stopped at the
	// first failing batch because skipErrors was not set.
	ErrBatchAborted = errors.New("bulk operation aborted")

	// ErrUnknownRequest is returned by Cancel for a request id that is not
	// in flight.
	ErrUnknownRequest = errors.New("unknown request id")

	// ErrNoColumns is returned when metadata lookup yields no columns for
	// a table, leaving the paginator without a cursor column.
	ErrNoColumns = errors.New("no column metadata")
)
