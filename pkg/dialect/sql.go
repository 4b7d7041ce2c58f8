package dialect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
)

// SQL compiles filters for the SQL family of backends. Fragments carry `?`
// placeholders internally; statement assembly renumbers them to $1..$n for
// backends that want ordinal parameters.
type SQL struct {
	name           string
	quote          string
	ordinalParams  bool
	likeEscapeWord bool
	supportsOr     bool
	supportsTx     bool
}

// Postgres returns the dialect for PostgreSQL and wire-compatible engines.
func Postgres() *SQL {
	return &SQL{name: "postgres", quote: `"`, ordinalParams: true, likeEscapeWord: true, supportsOr: true, supportsTx: true}
}

// SQLite returns the dialect for SQLite.
func SQLite() *SQL {
	return &SQL{name: "sqlite", quote: `"`, likeEscapeWord: true, supportsOr: true, supportsTx: true}
}

// CQL returns the dialect for wide-column stores speaking CQL. CQL has no
// OR and no LIKE escape clause; filters needing either are rejected at
// compile time rather than silently changing meaning.
func CQL() *SQL {
	return &SQL{name: "cql", quote: `"`}
}

func (d *SQL) Name() string { return d.name }

func (d *SQL) QuoteIdentifier(name string) string {
	return d.quote + strings.ReplaceAll(name, d.quote, d.quote+d.quote) + d.quote
}

// escapePattern neutralizes LIKE wildcards in user values. A literal `%`
// or `_` in data must never act as a wildcard.
func escapePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func (d *SQL) likeSuffix() string {
	if d.likeEscapeWord {
		return ` ESCAPE '\'`
	}
	return ""
}

func (d *SQL) CompileFilter(set filter.Set) (*CompiledQuery, error) {
	logic := set.Logic
	if logic == "" {
		logic = filter.And
	}
	if logic == filter.Or && !d.supportsOr && len(set.Conditions) > 1 {
		return nil, fmt.Errorf("%w: %s does not support OR filters", constants.ErrCompile, d.name)
	}

	var frags []string
	var params []any
	for _, c := range set.Conditions {
		frag, p, ok, err := d.compileCondition(c)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Normalized away: an inactive condition imposes no
			// restriction.
			continue
		}
		frags = append(frags, frag)
		params = append(params, p...)
	}
	if len(frags) == 0 {
		return &CompiledQuery{}, nil
	}
	return &CompiledQuery{
		Fragment: strings.Join(frags, " "+string(logic)+" "),
		Params:   params,
	}, nil
}

//nolint:gocyclo // one arm per operator keeps the translation table readable
func (d *SQL) compileCondition(c filter.Condition) (string, []any, bool, error) {
	col := d.QuoteIdentifier(c.Column)

	scalar := func() (any, error) {
		if c.Value.IsList() {
			return nil, fmt.Errorf("%w: operator %s on column %s expects a scalar", constants.ErrCompile, c.Operator, c.Column)
		}
		return c.Value.Scalar(), nil
	}
	pattern := func(prefix, suffix string) (string, []any, bool, error) {
		v, err := scalar()
		if err != nil {
			return "", nil, false, err
		}
		s, ok := v.(string)
		if !ok {
			return "", nil, false, fmt.Errorf("%w: operator %s on column %s expects a string", constants.ErrCompile, c.Operator, c.Column)
		}
		return col + " LIKE ?" + d.likeSuffix(), []any{prefix + escapePattern(s) + suffix}, true, nil
	}

	switch c.Operator {
	case filter.Equals:
		if c.Value.IsNull() {
			return col + " IS NULL", nil, true, nil
		}
		v, err := scalar()
		if err != nil {
			return "", nil, false, err
		}
		return col + " = ?", []any{v}, true, nil
	case filter.NotEquals:
		if c.Value.IsNull() {
			return col + " IS NOT NULL", nil, true, nil
		}
		v, err := scalar()
		if err != nil {
			return "", nil, false, err
		}
		return col + " <> ?", []any{v}, true, nil
	case filter.GreaterThan, filter.LessThan, filter.GreaterOrEqual, filter.LessOrEqual:
		v, err := scalar()
		if err != nil {
			return "", nil, false, err
		}
		op := map[filter.Operator]string{
			filter.GreaterThan:    ">",
			filter.LessThan:       "<",
			filter.GreaterOrEqual: ">=",
			filter.LessOrEqual:    "<=",
		}[c.Operator]
		return col + " " + op + " ?", []any{v}, true, nil
	case filter.Contains:
		return pattern("%", "%")
	case filter.NotContains:
		frag, p, ok, err := pattern("%", "%")
		if err != nil || !ok {
			return "", nil, false, err
		}
		return strings.Replace(frag, " LIKE ", " NOT LIKE ", 1), p, true, nil
	case filter.StartsWith:
		return pattern("", "%")
	case filter.EndsWith:
		return pattern("%", "")
	case filter.IsNull:
		return col + " IS NULL", nil, true, nil
	case filter.IsNotNull:
		return col + " IS NOT NULL", nil, true, nil
	case filter.In:
		vals := filter.InValues(c.Value)
		if vals == nil {
			return "", nil, false, nil
		}
		return col + " IN (" + placeholders(len(vals)) + ")", vals, true, nil
	case filter.Between:
		if c.Value.IsNull() || c.Value2.IsNull() {
			// Half-open between is dropped, not compiled with a null
			// bound.
			return "", nil, false, nil
		}
		return col + " BETWEEN ? AND ?", []any{c.Value.Scalar(), c.Value2.Scalar()}, true, nil
	default:
		return "", nil, false, fmt.Errorf("%w: unsupported operator %q on column %s", constants.ErrCompile, c.Operator, c.Column)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (d *SQL) And(a, b *CompiledQuery) *CompiledQuery {
	switch {
	case !a.Restricts():
		return b
	case !b.Restricts():
		return a
	}
	return &CompiledQuery{
		Fragment: "(" + a.Fragment + ") AND (" + b.Fragment + ")",
		Params:   append(append([]any{}, a.Params...), b.Params...),
	}
}

func (d *SQL) SelectStatement(table string, where *CompiledQuery, sort []SortKey, limit int) (*driver.Statement, error) {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM " + d.QuoteIdentifier(table))
	params := d.appendWhere(&sb, where)
	if len(sort) > 0 {
		terms := make([]string, 0, len(sort))
		for _, k := range sort {
			t := d.QuoteIdentifier(k.Column)
			if k.Desc {
				t += " DESC"
			}
			terms = append(terms, t)
		}
		sb.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return d.statement(driver.OpSelect, table, sb.String(), params), nil
}

func (d *SQL) CountStatement(table string, where *CompiledQuery) (*driver.Statement, error) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM " + d.QuoteIdentifier(table))
	params := d.appendWhere(&sb, where)
	return d.statement(driver.OpCount, table, sb.String(), params), nil
}

func (d *SQL) appendWhere(sb *strings.Builder, where *CompiledQuery) []any {
	if !where.Restricts() {
		return nil
	}
	sb.WriteString(" WHERE " + where.Fragment)
	return where.Params
}

func (d *SQL) InsertStatement(table string, columns []string, rows [][]any) (*driver.Statement, error) {
	if len(columns) == 0 || len(rows) == 0 {
		return nil, fmt.Errorf("%w: insert into %s with no rows or columns", constants.ErrCompile, table)
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdentifier(c)
	}
	tuple := "(" + placeholders(len(columns)) + ")"
	tuples := make([]string, len(rows))
	params := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: insert row %d has %d values for %d columns", constants.ErrCompile, i, len(row), len(columns))
		}
		tuples[i] = tuple
		params = append(params, row...)
	}
	text := "INSERT INTO " + d.QuoteIdentifier(table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES " + strings.Join(tuples, ", ")
	return d.statement(driver.OpInsert, table, text, params), nil
}

func (d *SQL) UpdateStatement(table string, key map[string]any, values map[string]any) (*driver.Statement, error) {
	if len(key) == 0 || len(values) == 0 {
		return nil, fmt.Errorf("%w: update on %s needs a primary key and values", constants.ErrCompile, table)
	}
	var params []any
	sets := make([]string, 0, len(values))
	for _, c := range sortedKeys(values) {
		sets = append(sets, d.QuoteIdentifier(c)+" = ?")
		params = append(params, values[c])
	}
	conds := make([]string, 0, len(key))
	for _, c := range sortedKeys(key) {
		conds = append(conds, d.QuoteIdentifier(c)+" = ?")
		params = append(params, key[c])
	}
	text := "UPDATE " + d.QuoteIdentifier(table) +
		" SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(conds, " AND ")
	return d.statement(driver.OpUpdate, table, text, params), nil
}

func (d *SQL) DeleteStatement(table string, keys []map[string]any) (*driver.Statement, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: delete on %s with no keys", constants.ErrCompile, table)
	}
	cols := sortedKeys(keys[0])
	var sb strings.Builder
	sb.WriteString("DELETE FROM " + d.QuoteIdentifier(table) + " WHERE ")
	var params []any
	if len(cols) == 1 {
		// Single-column key: one IN is cheaper than N OR-clauses.
		col := cols[0]
		sb.WriteString(d.QuoteIdentifier(col) + " IN (" + placeholders(len(keys)) + ")")
		for _, k := range keys {
			params = append(params, k[col])
		}
	} else {
		if !d.supportsOr {
			return nil, fmt.Errorf("%w: %s cannot batch composite-key deletes", constants.ErrCompile, d.name)
		}
		groups := make([]string, 0, len(keys))
		for _, k := range keys {
			conds := make([]string, 0, len(cols))
			for _, c := range cols {
				conds = append(conds, d.QuoteIdentifier(c)+" = ?")
				params = append(params, k[c])
			}
			groups = append(groups, "("+strings.Join(conds, " AND ")+")")
		}
		sb.WriteString(strings.Join(groups, " OR "))
	}
	return d.statement(driver.OpDelete, table, sb.String(), params), nil
}

func (d *SQL) statement(op driver.Op, table, text string, params []any) *driver.Statement {
	if d.ordinalParams {
		text = numberPlaceholders(text)
	}
	return &driver.Statement{Op: op, Table: table, Text: text, Params: params}
}

// numberPlaceholders rewrites `?` to `$1..$n`. The builder never emits
// string literals, so a bare `?` is always a placeholder unless it sits
// inside a quoted identifier.
func numberPlaceholders(text string) string {
	var sb strings.Builder
	n := 0
	inIdent := false
	for _, r := range text {
		switch {
		case r == '"':
			inIdent = !inIdent
			sb.WriteRune(r)
		case r == '?' && !inIdent:
			n++
			fmt.Fprintf(&sb, "$%d", n)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
