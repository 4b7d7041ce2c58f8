// Package kvdial compiles filters into client-side predicates for
// key-value backends that cannot evaluate conditions server-side. The
// driver scans its keyspace and applies the predicate while streaming.
package kvdial

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
)

// Predicate reports whether a row passes the compiled filter.
type Predicate func(driver.Row) bool

// SelectPlan is the Native payload of a select statement.
type SelectPlan struct {
	Match Predicate
	Sort  []dialect.SortKey
	Limit int
}

// CountPlan is the Native payload of a count statement.
type CountPlan struct {
	Match Predicate
}

// InsertPlan is the Native payload of a batch insert.
type InsertPlan struct {
	Rows []driver.Row
}

// UpdatePlan is the Native payload of a single-row update.
type UpdatePlan struct {
	Key    map[string]any
	Values map[string]any
}

// DeletePlan is the Native payload of a batch delete.
type DeletePlan struct {
	Keys []map[string]any
}

type KV struct{}

func New() *KV { return &KV{} }

func (d *KV) Name() string { return "keyvalue" }

func (d *KV) QuoteIdentifier(name string) string { return name }

func (d *KV) CompileFilter(set filter.Set) (*dialect.CompiledQuery, error) {
	var preds []Predicate
	for _, c := range set.Conditions {
		p, ok, err := compileCondition(c)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		preds = append(preds, p)
	}
	if len(preds) == 0 {
		return &dialect.CompiledQuery{}, nil
	}
	or := set.Logic == filter.Or
	combined := Predicate(func(row driver.Row) bool {
		for _, p := range preds {
			if p(row) == or {
				return or
			}
		}
		return !or
	})
	return &dialect.CompiledQuery{Native: combined}, nil
}

func compileCondition(c filter.Condition) (Predicate, bool, error) {
	col := c.Column
	if c.Value.IsList() && c.Operator != filter.In {
		return nil, false, fmt.Errorf("%w: operator %s on column %s expects a scalar", constants.ErrCompile, c.Operator, col)
	}

	switch c.Operator {
	case filter.Equals:
		want := c.Value.Scalar()
		return func(r driver.Row) bool { v, ok := r[col]; return ok && Compare(v, want) == 0 }, true, nil
	case filter.NotEquals:
		want := c.Value.Scalar()
		return func(r driver.Row) bool { v, ok := r[col]; return ok && Compare(v, want) != 0 }, true, nil
	case filter.GreaterThan:
		want := c.Value.Scalar()
		return func(r driver.Row) bool { v, ok := r[col]; return ok && v != nil && Compare(v, want) > 0 }, true, nil
	case filter.LessThan:
		want := c.Value.Scalar()
		return func(r driver.Row) bool { v, ok := r[col]; return ok && v != nil && Compare(v, want) < 0 }, true, nil
	case filter.GreaterOrEqual:
		want := c.Value.Scalar()
		return func(r driver.Row) bool { v, ok := r[col]; return ok && v != nil && Compare(v, want) >= 0 }, true, nil
	case filter.LessOrEqual:
		want := c.Value.Scalar()
		return func(r driver.Row) bool { v, ok := r[col]; return ok && v != nil && Compare(v, want) <= 0 }, true, nil
	case filter.Contains, filter.NotContains, filter.StartsWith, filter.EndsWith:
		want, ok := c.Value.Scalar().(string)
		if !ok {
			return nil, false, fmt.Errorf("%w: operator %s on column %s expects a string", constants.ErrCompile, c.Operator, col)
		}
		op := c.Operator
		return func(r driver.Row) bool {
			s, ok := r[col].(string)
			if !ok {
				return false
			}
			switch op {
			case filter.Contains:
				return strings.Contains(s, want)
			case filter.NotContains:
				return !strings.Contains(s, want)
			case filter.StartsWith:
				return strings.HasPrefix(s, want)
			default:
				return strings.HasSuffix(s, want)
			}
		}, true, nil
	case filter.IsNull:
		return func(r driver.Row) bool { v, ok := r[col]; return !ok || v == nil }, true, nil
	case filter.IsNotNull:
		return func(r driver.Row) bool { v, ok := r[col]; return ok && v != nil }, true, nil
	case filter.In:
		vals := filter.InValues(c.Value)
		if vals == nil {
			return nil, false, nil
		}
		return func(r driver.Row) bool {
			v, ok := r[col]
			if !ok {
				return false
			}
			for _, want := range vals {
				if Compare(v, want) == 0 {
					return true
				}
			}
			return false
		}, true, nil
	case filter.Between:
		if c.Value.IsNull() || c.Value2.IsNull() {
			return nil, false, nil
		}
		lo, hi := c.Value.Scalar(), c.Value2.Scalar()
		return func(r driver.Row) bool {
			v, ok := r[col]
			return ok && v != nil && Compare(v, lo) >= 0 && Compare(v, hi) <= 0
		}, true, nil
	default:
		return nil, false, fmt.Errorf("%w: unsupported operator %q on column %s", constants.ErrCompile, c.Operator, col)
	}
}

func (d *KV) And(a, b *dialect.CompiledQuery) *dialect.CompiledQuery {
	switch {
	case !a.Restricts():
		return b
	case !b.Restricts():
		return a
	}
	pa, pb := a.Native.(Predicate), b.Native.(Predicate)
	return &dialect.CompiledQuery{Native: Predicate(func(r driver.Row) bool {
		return pa(r) && pb(r)
	})}
}

func matchOf(where *dialect.CompiledQuery) Predicate {
	if !where.Restricts() {
		return func(driver.Row) bool { return true }
	}
	return where.Native.(Predicate)
}

func (d *KV) SelectStatement(table string, where *dialect.CompiledQuery, sort []dialect.SortKey, limit int) (*driver.Statement, error) {
	return &driver.Statement{Op: driver.OpSelect, Table: table, Native: SelectPlan{
		Match: matchOf(where),
		Sort:  sort,
		Limit: limit,
	}}, nil
}

func (d *KV) CountStatement(table string, where *dialect.CompiledQuery) (*driver.Statement, error) {
	return &driver.Statement{Op: driver.OpCount, Table: table, Native: CountPlan{Match: matchOf(where)}}, nil
}

func (d *KV) InsertStatement(table string, columns []string, rows [][]any) (*driver.Statement, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: insert into %s with no rows", constants.ErrCompile, table)
	}
	out := make([]driver.Row, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: insert row %d has %d values for %d columns", constants.ErrCompile, i, len(row), len(columns))
		}
		m := make(driver.Row, len(columns))
		for j, col := range columns {
			m[col] = row[j]
		}
		out = append(out, m)
	}
	return &driver.Statement{Op: driver.OpInsert, Table: table, Native: InsertPlan{Rows: out}}, nil
}

func (d *KV) UpdateStatement(table string, key map[string]any, values map[string]any) (*driver.Statement, error) {
	if len(key) == 0 || len(values) == 0 {
		return nil, fmt.Errorf("%w: update on %s needs a primary key and values", constants.ErrCompile, table)
	}
	return &driver.Statement{Op: driver.OpUpdate, Table: table, Native: UpdatePlan{Key: key, Values: values}}, nil
}

func (d *KV) DeleteStatement(table string, keys []map[string]any) (*driver.Statement, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: delete on %s with no keys", constants.ErrCompile, table)
	}
	return &driver.Statement{Op: driver.OpDelete, Table: table, Native: DeletePlan{Keys: keys}}, nil
}

// Compare orders two loosely-typed values: numbers numerically, everything
// else by string form. Used for predicate evaluation and client-side
// sorting in scan-based drivers.
func Compare(a, b any) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var _ dialect.Dialect = (*KV)(nil)
