// Package searchdial compiles filters into search-engine bool queries
// (Elasticsearch-compatible JSON). Statements carry the request body in
// Native; the search driver serializes and ships it.
package searchdial

import (
	"fmt"
	"strings"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
)

// QueryPlan is the Native payload of select and count statements.
type QueryPlan struct {
	Query map[string]any
	Sort  []map[string]any
	Size  int
}

// InsertPlan is the Native payload of a batch index request.
type InsertPlan struct {
	Documents []map[string]any
}

// UpdatePlan is the Native payload of a single-document partial update.
type UpdatePlan struct {
	ID  any
	Doc map[string]any
}

// DeletePlan is the Native payload of a batch delete by id.
type DeletePlan struct {
	IDs []any
}

// Search compiles for full-text engines. Exact maps an analyzed field to
// its exact-match sub-field (e.g. "name" -> "name.keyword"); when it
// returns false the dialect falls back to an analyzed match query for
// equals/in, trading precision for availability instead of failing.
type Search struct {
	Exact func(field string) (string, bool)
}

func New() *Search {
	return &Search{Exact: func(field string) (string, bool) { return field, true }}
}

// NewWithExactLookup builds a dialect that resolves exact-match sub-fields
// through the given lookup, typically fed by the index mapping.
func NewWithExactLookup(exact func(field string) (string, bool)) *Search {
	return &Search{Exact: exact}
}

func (d *Search) Name() string { return "search" }

// QuoteIdentifier is the identity; field names are structural in the
// query body.
func (d *Search) QuoteIdentifier(name string) string { return name }

// escapeWildcards neutralizes `*` and `?` so literal wildcard characters
// in data do not expand.
func escapeWildcards(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `*`, `\*`)
	s = strings.ReplaceAll(s, `?`, `\?`)
	return s
}

func (d *Search) CompileFilter(set filter.Set) (*dialect.CompiledQuery, error) {
	var terms []map[string]any
	for _, c := range set.Conditions {
		term, ok, err := d.compileCondition(c)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		return &dialect.CompiledQuery{}, nil
	}
	if len(terms) == 1 {
		return &dialect.CompiledQuery{Native: terms[0]}, nil
	}
	if set.Logic == filter.Or {
		return &dialect.CompiledQuery{Native: map[string]any{
			"bool": map[string]any{"should": terms, "minimum_should_match": 1},
		}}, nil
	}
	return &dialect.CompiledQuery{Native: map[string]any{
		"bool": map[string]any{"filter": terms},
	}}, nil
}

//nolint:gocyclo
func (d *Search) compileCondition(c filter.Condition) (map[string]any, bool, error) {
	str := func() (string, error) {
		if c.Value.IsList() {
			return "", fmt.Errorf("%w: operator %s on field %s expects a scalar", constants.ErrCompile, c.Operator, c.Column)
		}
		s, ok := c.Value.Scalar().(string)
		if !ok {
			return "", fmt.Errorf("%w: operator %s on field %s expects a string", constants.ErrCompile, c.Operator, c.Column)
		}
		return s, nil
	}
	wildcard := func(prefix, suffix string) (map[string]any, error) {
		s, err := str()
		if err != nil {
			return nil, err
		}
		return map[string]any{"wildcard": map[string]any{
			c.Column: map[string]any{"value": prefix + escapeWildcards(s) + suffix},
		}}, nil
	}
	mustNot := func(inner map[string]any) map[string]any {
		return map[string]any{"bool": map[string]any{"must_not": inner}}
	}
	exists := map[string]any{"exists": map[string]any{"field": c.Column}}

	switch c.Operator {
	case filter.Equals:
		if c.Value.IsNull() {
			return mustNot(exists), true, nil
		}
		return d.exactMatch(c.Column, c.Value.Scalar()), true, nil
	case filter.NotEquals:
		if c.Value.IsNull() {
			return exists, true, nil
		}
		return mustNot(d.exactMatch(c.Column, c.Value.Scalar())), true, nil
	case filter.GreaterThan, filter.LessThan, filter.GreaterOrEqual, filter.LessOrEqual:
		op := map[filter.Operator]string{
			filter.GreaterThan:    "gt",
			filter.LessThan:       "lt",
			filter.GreaterOrEqual: "gte",
			filter.LessOrEqual:    "lte",
		}[c.Operator]
		return map[string]any{"range": map[string]any{
			c.Column: map[string]any{op: c.Value.Scalar()},
		}}, true, nil
	case filter.Contains:
		q, err := wildcard("*", "*")
		return q, err == nil, err
	case filter.NotContains:
		q, err := wildcard("*", "*")
		if err != nil {
			return nil, false, err
		}
		return mustNot(q), true, nil
	case filter.StartsWith:
		q, err := wildcard("", "*")
		return q, err == nil, err
	case filter.EndsWith:
		q, err := wildcard("*", "")
		return q, err == nil, err
	case filter.IsNull:
		return mustNot(exists), true, nil
	case filter.IsNotNull:
		return exists, true, nil
	case filter.In:
		vals := filter.InValues(c.Value)
		if vals == nil {
			return nil, false, nil
		}
		if exact, ok := d.exactField(c.Column); ok {
			return map[string]any{"terms": map[string]any{exact: vals}}, true, nil
		}
		// No exact sub-field: best-effort analyzed match per value.
		should := make([]map[string]any, 0, len(vals))
		for _, v := range vals {
			should = append(should, map[string]any{"match": map[string]any{c.Column: v}})
		}
		return map[string]any{"bool": map[string]any{"should": should, "minimum_should_match": 1}}, true, nil
	case filter.Between:
		if c.Value.IsNull() || c.Value2.IsNull() {
			return nil, false, nil
		}
		return map[string]any{"range": map[string]any{
			c.Column: map[string]any{"gte": c.Value.Scalar(), "lte": c.Value2.Scalar()},
		}}, true, nil
	default:
		return nil, false, fmt.Errorf("%w: unsupported operator %q on field %s", constants.ErrCompile, c.Operator, c.Column)
	}
}

func (d *Search) exactField(field string) (string, bool) {
	if d.Exact == nil {
		return field, true
	}
	return d.Exact(field)
}

func (d *Search) exactMatch(field string, v any) map[string]any {
	if exact, ok := d.exactField(field); ok {
		return map[string]any{"term": map[string]any{exact: map[string]any{"value": v}}}
	}
	return map[string]any{"match": map[string]any{field: v}}
}

func (d *Search) And(a, b *dialect.CompiledQuery) *dialect.CompiledQuery {
	switch {
	case !a.Restricts():
		return b
	case !b.Restricts():
		return a
	}
	return &dialect.CompiledQuery{Native: map[string]any{
		"bool": map[string]any{"filter": []map[string]any{
			a.Native.(map[string]any),
			b.Native.(map[string]any),
		}},
	}}
}

func queryOf(where *dialect.CompiledQuery) map[string]any {
	if !where.Restricts() {
		return map[string]any{"match_all": map[string]any{}}
	}
	return where.Native.(map[string]any)
}

func (d *Search) SelectStatement(table string, where *dialect.CompiledQuery, sort []dialect.SortKey, limit int) (*driver.Statement, error) {
	plan := QueryPlan{Query: queryOf(where), Size: limit}
	for _, k := range sort {
		order := "asc"
		if k.Desc {
			order = "desc"
		}
		col := k.Column
		if exact, ok := d.exactField(col); ok {
			col = exact
		}
		plan.Sort = append(plan.Sort, map[string]any{col: map[string]any{"order": order}})
	}
	return &driver.Statement{Op: driver.OpSelect, Table: table, Native: plan}, nil
}

func (d *Search) CountStatement(table string, where *dialect.CompiledQuery) (*driver.Statement, error) {
	return &driver.Statement{Op: driver.OpCount, Table: table, Native: QueryPlan{Query: queryOf(where)}}, nil
}

func (d *Search) InsertStatement(table string, columns []string, rows [][]any) (*driver.Statement, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: index into %s with no documents", constants.ErrCompile, table)
	}
	docs := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: document %d has %d values for %d columns", constants.ErrCompile, i, len(row), len(columns))
		}
		doc := make(map[string]any, len(columns))
		for j, col := range columns {
			doc[col] = row[j]
		}
		docs = append(docs, doc)
	}
	return &driver.Statement{Op: driver.OpInsert, Table: table, Native: InsertPlan{Documents: docs}}, nil
}

func (d *Search) UpdateStatement(table string, key map[string]any, values map[string]any) (*driver.Statement, error) {
	id, err := singleID(table, key)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]any, len(values))
	for k, v := range values {
		doc[k] = v
	}
	return &driver.Statement{Op: driver.OpUpdate, Table: table, Native: UpdatePlan{ID: id, Doc: doc}}, nil
}

func (d *Search) DeleteStatement(table string, keys []map[string]any) (*driver.Statement, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: delete on %s with no keys", constants.ErrCompile, table)
	}
	ids := make([]any, 0, len(keys))
	for _, k := range keys {
		id, err := singleID(table, k)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return &driver.Statement{Op: driver.OpDelete, Table: table, Native: DeletePlan{IDs: ids}}, nil
}

// singleID extracts the single-column document id; search engines address
// documents by one id, composite keys cannot be expressed.
func singleID(table string, key map[string]any) (any, error) {
	if len(key) != 1 {
		return nil, fmt.Errorf("%w: %s documents are addressed by a single id, got %d key columns", constants.ErrCompile, table, len(key))
	}
	for _, v := range key {
		return v, nil
	}
	return nil, fmt.Errorf("%w: empty key for %s", constants.ErrCompile, table)
}

var _ dialect.Dialect = (*Search)(nil)
