// Package bulk splits large insert/update/delete sets into batches, drives
// the backend per batch and aggregates the outcome with partial-failure
// accounting.
package bulk

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
)

// Default batch sizes, tuned per operation cost: updates run one statement
// per row inside a batch, so their batches are smaller.
const (
	DefaultInsertBatch = 500
	DefaultUpdateBatch = 500
	DefaultDeleteBatch = 1000
)

// Options steers one bulk call.
type Options struct {
	// BatchSize caps items per native batch call; zero picks the
	// operation's default.
	BatchSize int

	// SkipErrors keeps going after a failed batch, attributing the whole
	// batch to FailureCount. When unset the first failure aborts the call
	// and no partial Result is returned.
	SkipErrors bool

	// OnProgress, when set, is invoked after every successful batch with
	// the running success count and the total item count.
	OnProgress func(done, total int)

	// Concurrency runs batches in parallel when greater than one.
	// Requires SkipErrors: abort-on-first-error semantics are only
	// meaningful sequentially. Index attribution is preserved.
	Concurrency int

	// RequestID registers driver calls for out-of-band cancellation.
	RequestID string
}

// BatchError records one failed batch. Index is the position of the
// batch's first item in the input slice; per-row attribution inside a
// failed batch is not attempted unless the backend reports it.
type BatchError struct {
	Index int
	Err   error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch starting at item %d: %v", e.Index, e.Err)
}

func (e BatchError) Unwrap() error { return e.Err }

// Result aggregates a bulk call. SuccessCount+FailureCount may be less
// than the input size only if the call was aborted; with SkipErrors set
// every item is attributed to one of the two.
type Result struct {
	SuccessCount int
	FailureCount int
	Errors       []BatchError
	InsertedIDs  []any
}

// Item is one bulk update: the primary key addressing the row and the
// values to set.
type Item struct {
	Key    map[string]any
	Values map[string]any
}

// Coordinator plans and drives bulk operations for one backend.
type Coordinator struct {
	Driver  driver.Driver
	Dialect dialect.Dialect
	Logger  logger.Logger
}

// Insert writes rows in batches using the dialect's multi-row primitive.
func (c *Coordinator) Insert(ctx context.Context, table string, rows []driver.Row, opts Options) (*Result, error) {
	if len(rows) == 0 {
		return &Result{}, nil
	}
	columns := sortedColumns(rows[0])
	return c.run(ctx, table, "insert", len(rows), batchSize(opts, DefaultInsertBatch), opts,
		func(ctx context.Context, start, size int) (int64, []any, error) {
			vals := make([][]any, 0, size)
			for _, row := range rows[start : start+size] {
				tuple := make([]any, len(columns))
				for i, col := range columns {
					tuple[i] = row[col]
				}
				vals = append(vals, tuple)
			}
			stmt, err := c.Dialect.InsertStatement(table, columns, vals)
			if err != nil {
				return 0, nil, err
			}
			res, err := c.Driver.Execute(ctx, opts.RequestID, stmt)
			if err != nil {
				return 0, nil, err
			}
			return res.Affected, res.InsertedIDs, nil
		})
}

// Update applies items in batches. There is no universal multi-row update
// statement, so each row becomes one statement; drivers that support
// batches run them as one unit (one transaction where the backend has
// transactions), bounding round-trip and lock overhead.
func (c *Coordinator) Update(ctx context.Context, table string, items []Item, opts Options) (*Result, error) {
	if len(items) == 0 {
		return &Result{}, nil
	}
	return c.run(ctx, table, "update", len(items), batchSize(opts, DefaultUpdateBatch), opts,
		func(ctx context.Context, start, size int) (int64, []any, error) {
			stmts := make([]*driver.Statement, 0, size)
			for _, it := range items[start : start+size] {
				stmt, err := c.Dialect.UpdateStatement(table, it.Key, it.Values)
				if err != nil {
					return 0, nil, err
				}
				stmts = append(stmts, stmt)
			}
			if b, ok := c.Driver.(driver.Batcher); ok {
				affected, err := b.ExecuteBatch(ctx, opts.RequestID, stmts)
				return affected, nil, err
			}
			var affected int64
			for _, stmt := range stmts {
				res, err := c.Driver.Execute(ctx, opts.RequestID, stmt)
				if err != nil {
					return 0, nil, err
				}
				affected += res.Affected
			}
			return affected, nil, nil
		})
}

// Delete removes the rows addressed by keys, batched through the
// dialect's batch-delete primitive.
func (c *Coordinator) Delete(ctx context.Context, table string, keys []map[string]any, opts Options) (*Result, error) {
	if len(keys) == 0 {
		return &Result{}, nil
	}
	return c.run(ctx, table, "delete", len(keys), batchSize(opts, DefaultDeleteBatch), opts,
		func(ctx context.Context, start, size int) (int64, []any, error) {
			stmt, err := c.Dialect.DeleteStatement(table, keys[start:start+size])
			if err != nil {
				return 0, nil, err
			}
			res, err := c.Driver.Execute(ctx, opts.RequestID, stmt)
			if err != nil {
				return 0, nil, err
			}
			return res.Affected, nil, nil
		})
}

type batchFunc func(ctx context.Context, start, size int) (affected int64, insertedIDs []any, err error)

type batchOutcome struct {
	start    int
	size     int
	affected int64
	inserted []any
	err      error
}

func (c *Coordinator) run(ctx context.Context, table, op string, total, size int, opts Options, fn batchFunc) (*Result, error) {
	log := logger.OrNop(c.Logger)
	outcomes := c.execute(ctx, total, size, opts, fn)

	result := &Result{}
	for _, o := range outcomes {
		if o.err != nil {
			if !opts.SkipErrors {
				return nil, fmt.Errorf("%w: bulk %s on %s at item %d: %v", constants.ErrBatchAborted, op, table, o.start, o.err)
			}
			log.Warn("bulk batch failed", "op", op, "table", table, "start", o.start, "size", o.size, "error", o.err)
			result.FailureCount += o.size
			result.Errors = append(result.Errors, BatchError{Index: o.start, Err: o.err})
			continue
		}
		succeeded := int(o.affected)
		if succeeded <= 0 {
			succeeded = o.size
		}
		result.SuccessCount += succeeded
		result.InsertedIDs = append(result.InsertedIDs, o.inserted...)
		if opts.OnProgress != nil {
			opts.OnProgress(result.SuccessCount, total)
		}
	}
	return result, nil
}

// execute runs the batches and returns their outcomes in input order.
// Sequential by default; with Concurrency > 1 and SkipErrors set, batches
// run on a worker pool while outcome slots keep index attribution intact.
func (c *Coordinator) execute(ctx context.Context, total, size int, opts Options, fn batchFunc) []batchOutcome {
	starts := make([]int, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		starts = append(starts, start)
	}

	outcomes := make([]batchOutcome, len(starts))
	fill := func(i int) {
		start := starts[i]
		n := size
		if start+n > total {
			n = total - start
		}
		affected, inserted, err := fn(ctx, start, n)
		outcomes[i] = batchOutcome{start: start, size: n, affected: affected, inserted: inserted, err: err}
	}

	if opts.Concurrency > 1 && opts.SkipErrors {
		pool, err := ants.NewPool(opts.Concurrency)
		if err == nil {
			defer pool.Release()
			var wg sync.WaitGroup
			for i := range starts {
				i := i
				wg.Add(1)
				if serr := pool.Submit(func() { defer wg.Done(); fill(i) }); serr != nil {
					wg.Done()
					fill(i)
				}
			}
			wg.Wait()
			return outcomes
		}
		// Pool construction failed; fall through to sequential.
	}

	for i := range starts {
		fill(i)
		if outcomes[i].err != nil && !opts.SkipErrors {
			return outcomes[:i+1]
		}
	}
	return outcomes
}

func batchSize(opts Options, def int) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	return def
}

func sortedColumns(row driver.Row) []string {
	out := make([]string, 0, len(row))
	for c := range row {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
