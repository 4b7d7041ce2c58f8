// Package memdb is an in-memory backend executing key-value plans. The
// pagination, bulk and facade tests run end to end against it.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/omnigrid/omnigrid.go/pkg/dialect"
	"github.com/omnigrid/omnigrid.go/pkg/dialect/kvdial"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
)

// Driver stores rows per table and executes kvdial plans against them.
type Driver struct {
	mu     sync.Mutex
	open   bool
	tables map[string][]driver.Row

	// Window, when non-zero, is reported as MaxResultWindow so the
	// scroll skip-forward path can be exercised.
	Window int

	// FailFn, when set, may veto a statement; used to script failing
	// batches.
	FailFn func(stmt *driver.Statement) error
}

func New() *Driver {
	return &Driver{tables: map[string][]driver.Row{}}
}

// Seed replaces a table's rows.
func (d *Driver) Seed(table string, rows []driver.Row) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[table] = append([]driver.Row{}, rows...)
}

// RowsIn returns a copy of a table's rows.
func (d *Driver) RowsIn(table string) []driver.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]driver.Row{}, d.tables[table]...)
}

func (d *Driver) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

func (d *Driver) Ping(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fmt.Errorf("connection closed")
	}
	return nil
}

func (d *Driver) Cancel(string) error { return nil }

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{MaxResultWindow: d.Window}
}

func (d *Driver) Execute(_ context.Context, _ string, stmt *driver.Statement) (*driver.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, fmt.Errorf("connection closed")
	}
	if d.FailFn != nil {
		if err := d.FailFn(stmt); err != nil {
			return nil, err
		}
	}

	switch plan := stmt.Native.(type) {
	case kvdial.SelectPlan:
		rows := d.matching(stmt.Table, plan.Match)
		sortRows(rows, plan.Sort)
		if plan.Limit > 0 && len(rows) > plan.Limit {
			rows = rows[:plan.Limit]
		}
		return &driver.Result{Rows: rows}, nil
	case kvdial.CountPlan:
		return &driver.Result{Affected: int64(len(d.matching(stmt.Table, plan.Match)))}, nil
	case kvdial.InsertPlan:
		d.tables[stmt.Table] = append(d.tables[stmt.Table], plan.Rows...)
		return &driver.Result{Affected: int64(len(plan.Rows))}, nil
	case kvdial.UpdatePlan:
		var affected int64
		for _, row := range d.tables[stmt.Table] {
			if rowMatchesKey(row, plan.Key) {
				for k, v := range plan.Values {
					row[k] = v
				}
				affected++
			}
		}
		return &driver.Result{Affected: affected}, nil
	case kvdial.DeletePlan:
		kept := d.tables[stmt.Table][:0]
		var affected int64
		for _, row := range d.tables[stmt.Table] {
			deleted := false
			for _, key := range plan.Keys {
				if rowMatchesKey(row, key) {
					deleted = true
					break
				}
			}
			if deleted {
				affected++
			} else {
				kept = append(kept, row)
			}
		}
		d.tables[stmt.Table] = kept
		return &driver.Result{Affected: affected}, nil
	default:
		return nil, fmt.Errorf("memdb: unsupported plan %T", stmt.Native)
	}
}

// OpenScroll snapshots the sorted, filtered table so the scan stays
// stable across concurrent writes.
func (d *Driver) OpenScroll(_ context.Context, stmt *driver.Statement, batchSize int) (driver.Scroll, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	plan, ok := stmt.Native.(kvdial.SelectPlan)
	if !ok {
		return nil, fmt.Errorf("memdb: unsupported scroll plan %T", stmt.Native)
	}
	rows := d.matching(stmt.Table, plan.Match)
	sortRows(rows, plan.Sort)
	return &scroll{rows: rows, batch: batchSize}, nil
}

type scroll struct {
	rows  []driver.Row
	batch int
}

func (s *scroll) Next(context.Context) ([]driver.Row, error) {
	if len(s.rows) == 0 {
		return nil, nil
	}
	n := s.batch
	if n <= 0 || n > len(s.rows) {
		n = len(s.rows)
	}
	out := s.rows[:n]
	s.rows = s.rows[n:]
	return out, nil
}

func (s *scroll) Close(context.Context) error { return nil }

func (d *Driver) matching(table string, match kvdial.Predicate) []driver.Row {
	var out []driver.Row
	for _, row := range d.tables[table] {
		if match == nil || match(row) {
			out = append(out, row)
		}
	}
	return out
}

func sortRows(rows []driver.Row, keys []dialect.SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := kvdial.Compare(rows[i][k.Column], rows[j][k.Column])
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func rowMatchesKey(row driver.Row, key map[string]any) bool {
	for k, v := range key {
		if kvdial.Compare(row[k], v) != 0 {
			return false
		}
	}
	return true
}

var (
	_ driver.Driver   = (*Driver)(nil)
	_ driver.Scroller = (*Driver)(nil)
)
