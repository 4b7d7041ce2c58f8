// Package mongodial compiles filters into MongoDB-native query documents.
// Statements carry a plan struct in Native; the mongo driver dispatches on
// the plan type.
package mongodial

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
)

// FindPlan is the Native payload of a select statement.
type FindPlan struct {
	Filter bson.M
	Sort   bson.D
	Limit  int64
}

// CountPlan is the Native payload of a count statement.
type CountPlan struct {
	Filter bson.M
}

// InsertPlan is the Native payload of a batch insert.
type InsertPlan struct {
	Documents []any
}

// UpdatePlan is the Native payload of a single-document update.
type UpdatePlan struct {
	Filter bson.M
	Set    bson.M
}

// DeletePlan is the Native payload of a batch delete.
type DeletePlan struct {
	Filter bson.M
}

type Mongo struct{}

func New() *Mongo { return &Mongo{} }

func (d *Mongo) Name() string { return "mongo" }

// QuoteIdentifier is the identity for document stores; field names are
// structural, not spliced into a text query.
func (d *Mongo) QuoteIdentifier(name string) string { return name }

func (d *Mongo) CompileFilter(set filter.Set) (*dialect.CompiledQuery, error) {
	var terms []bson.M
	for _, c := range set.Conditions {
		term, ok, err := compileCondition(c)
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
	op := "$and"
	if set.Logic == filter.Or {
		op = "$or"
	}
	return &dialect.CompiledQuery{Native: bson.M{op: terms}}, nil
}

func compileCondition(c filter.Condition) (bson.M, bool, error) {
	scalar := func() (any, error) {
		if c.Value.IsList() {
			return nil, fmt.Errorf("%w: operator %s on field %s expects a scalar", constants.ErrCompile, c.Operator, c.Column)
		}
		return c.Value.Scalar(), nil
	}
	regex := func(prefix, suffix string) (string, error) {
		v, err := scalar()
		if err != nil {
			return "", err
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: operator %s on field %s expects a string", constants.ErrCompile, c.Operator, c.Column)
		}
		// Regex metacharacters in data must match literally.
		return prefix + regexp.QuoteMeta(s) + suffix, nil
	}

	switch c.Operator {
	case filter.Equals:
		if c.Value.IsNull() {
			return bson.M{c.Column: nil}, true, nil
		}
		v, err := scalar()
		if err != nil {
			return nil, false, err
		}
		return bson.M{c.Column: v}, true, nil
	case filter.NotEquals:
		if c.Value.IsNull() {
			return bson.M{c.Column: bson.M{"$ne": nil}}, true, nil
		}
		v, err := scalar()
		if err != nil {
			return nil, false, err
		}
		return bson.M{c.Column: bson.M{"$ne": v}}, true, nil
	case filter.GreaterThan, filter.LessThan, filter.GreaterOrEqual, filter.LessOrEqual:
		v, err := scalar()
		if err != nil {
			return nil, false, err
		}
		op := map[filter.Operator]string{
			filter.GreaterThan:    "$gt",
			filter.LessThan:       "$lt",
			filter.GreaterOrEqual: "$gte",
			filter.LessOrEqual:    "$lte",
		}[c.Operator]
		return bson.M{c.Column: bson.M{op: v}}, true, nil
	case filter.Contains:
		p, err := regex("", "")
		if err != nil {
			return nil, false, err
		}
		return bson.M{c.Column: bson.M{"$regex": p}}, true, nil
	case filter.NotContains:
		p, err := regex("", "")
		if err != nil {
			return nil, false, err
		}
		return bson.M{c.Column: bson.M{"$not": primitive.Regex{Pattern: p}}}, true, nil
	case filter.StartsWith:
		p, err := regex("^", "")
		if err != nil {
			return nil, false, err
		}
		return bson.M{c.Column: bson.M{"$regex": p}}, true, nil
	case filter.EndsWith:
		p, err := regex("", "$")
		if err != nil {
			return nil, false, err
		}
		return bson.M{c.Column: bson.M{"$regex": p}}, true, nil
	case filter.IsNull:
		return bson.M{c.Column: nil}, true, nil
	case filter.IsNotNull:
		return bson.M{c.Column: bson.M{"$ne": nil}}, true, nil
	case filter.In:
		vals := filter.InValues(c.Value)
		if vals == nil {
			return nil, false, nil
		}
		return bson.M{c.Column: bson.M{"$in": vals}}, true, nil
	case filter.Between:
		if c.Value.IsNull() || c.Value2.IsNull() {
			return nil, false, nil
		}
		return bson.M{c.Column: bson.M{"$gte": c.Value.Scalar(), "$lte": c.Value2.Scalar()}}, true, nil
	default:
		return nil, false, fmt.Errorf("%w: unsupported operator %q on field %s", constants.ErrCompile, c.Operator, c.Column)
	}
}

func (d *Mongo) And(a, b *dialect.CompiledQuery) *dialect.CompiledQuery {
	switch {
	case !a.Restricts():
		return b
	case !b.Restricts():
		return a
	}
	return &dialect.CompiledQuery{Native: bson.M{"$and": []bson.M{
		a.Native.(bson.M),
		b.Native.(bson.M),
	}}}
}

func filterOf(where *dialect.CompiledQuery) bson.M {
	if !where.Restricts() {
		return bson.M{}
	}
	return where.Native.(bson.M)
}

func (d *Mongo) SelectStatement(table string, where *dialect.CompiledQuery, sort []dialect.SortKey, limit int) (*driver.Statement, error) {
	plan := FindPlan{Filter: filterOf(where), Limit: int64(limit)}
	for _, k := range sort {
		dir := 1
		if k.Desc {
			dir = -1
		}
		plan.Sort = append(plan.Sort, bson.E{Key: k.Column, Value: dir})
	}
	return &driver.Statement{Op: driver.OpSelect, Table: table, Native: plan}, nil
}

func (d *Mongo) CountStatement(table string, where *dialect.CompiledQuery) (*driver.Statement, error) {
	return &driver.Statement{Op: driver.OpCount, Table: table, Native: CountPlan{Filter: filterOf(where)}}, nil
}

func (d *Mongo) InsertStatement(table string, columns []string, rows [][]any) (*driver.Statement, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: insert into %s with no rows", constants.ErrCompile, table)
	}
	docs := make([]any, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: insert row %d has %d values for %d columns", constants.ErrCompile, i, len(row), len(columns))
		}
		doc := bson.M{}
		for j, col := range columns {
			doc[col] = row[j]
		}
		docs = append(docs, doc)
	}
	return &driver.Statement{Op: driver.OpInsert, Table: table, Native: InsertPlan{Documents: docs}}, nil
}

func (d *Mongo) UpdateStatement(table string, key map[string]any, values map[string]any) (*driver.Statement, error) {
	if len(key) == 0 || len(values) == 0 {
		return nil, fmt.Errorf("%w: update on %s needs a primary key and values", constants.ErrCompile, table)
	}
	plan := UpdatePlan{Filter: bson.M{}, Set: bson.M{}}
	for k, v := range key {
		plan.Filter[k] = v
	}
	for k, v := range values {
		plan.Set[k] = v
	}
	return &driver.Statement{Op: driver.OpUpdate, Table: table, Native: plan}, nil
}

func (d *Mongo) DeleteStatement(table string, keys []map[string]any) (*driver.Statement, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: delete on %s with no keys", constants.ErrCompile, table)
	}
	if len(keys[0]) == 1 {
		var col string
		for k := range keys[0] {
			col = k
		}
		vals := make([]any, 0, len(keys))
		for _, k := range keys {
			vals = append(vals, k[col])
		}
		return &driver.Statement{Op: driver.OpDelete, Table: table, Native: DeletePlan{Filter: bson.M{col: bson.M{"$in": vals}}}}, nil
	}
	groups := make([]bson.M, 0, len(keys))
	for _, k := range keys {
		g := bson.M{}
		for col, v := range k {
			g[col] = v
		}
		groups = append(groups, g)
	}
	return &driver.Statement{Op: driver.OpDelete, Table: table, Native: DeletePlan{Filter: bson.M{"$or": groups}}}, nil
}

var _ dialect.Dialect = (*Mongo)(nil)
