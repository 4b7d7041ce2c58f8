// Package filter holds the backend-agnostic filter model shared by every
// dialect. Values are a tagged union (scalar, list or null) resolved once
// at the API boundary so dialect code never re-checks dynamic shapes.
package filter

import "strings"

// Operator is the backend-agnostic comparison operator of a condition.
type Operator string

const (
	Equals         Operator = "equals"
	NotEquals      Operator = "not_equals"
	Contains       Operator = "contains"
	NotContains    Operator = "not_contains"
	StartsWith     Operator = "starts_with"
	EndsWith       Operator = "ends_with"
	GreaterThan    Operator = "greater_than"
	LessThan       Operator = "less_than"
	GreaterOrEqual Operator = "greater_or_equal"
	LessOrEqual    Operator = "less_or_equal"
	IsNull         Operator = "is_null"
	IsNotNull      Operator = "is_not_null"
	In             Operator = "in"
	Between        Operator = "between"
)

// Logic joins the compiled conditions of a Set.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

type valueKind int

const (
	kindNull valueKind = iota
	kindScalar
	kindList
)

// Value is a scalar, an ordered list of scalars, or null.
type Value struct {
	kind   valueKind
	scalar any
	list   []any
}

// Scalar wraps a single comparison value. Scalar(nil) is the null value.
func Scalar(v any) Value {
	if v == nil {
		return Value{}
	}
	return Value{kind: kindScalar, scalar: v}
}

// List wraps an ordered list of scalars, as used by the in operator.
func List(vs ...any) Value {
	return Value{kind: kindList, list: vs}
}

// Null is the absent value.
func Null() Value { return Value{} }

func (v Value) IsNull() bool { return v.kind == kindNull }
func (v Value) IsList() bool { return v.kind == kindList }

// Scalar returns the scalar payload, or nil for list/null values.
func (v Value) Scalar() any {
	if v.kind != kindScalar {
		return nil
	}
	return v.scalar
}

// List returns the list payload, or nil for scalar/null values.
func (v Value) List() []any {
	if v.kind != kindList {
		return nil
	}
	return v.list
}

// Condition is one filter clause. Value2 is only read by the between
// operator.
type Condition struct {
	Column   string
	Operator Operator
	Value    Value
	Value2   Value
}

// Set is an ordered list of conditions joined by Logic. An empty Set means
// "no restriction", never "match nothing".
type Set struct {
	Conditions []Condition
	Logic      Logic
}

// Empty reports whether the set imposes no restriction.
func (s Set) Empty() bool { return len(s.Conditions) == 0 }

// InValues normalizes the operand of an in condition. Callers hand the
// value over either as a list or as a single comma-separated string; the
// string form is split on commas, each element is trimmed, and empty
// elements are dropped. A nil result means the condition must be omitted
// entirely: an inactive in filter must never compile to a fragment that
// matches nothing.
func InValues(v Value) []any {
	var raw []any
	switch {
	case v.IsList():
		raw = v.List()
	case v.IsNull():
		return nil
	default:
		if s, ok := v.Scalar().(string); ok {
			for _, part := range strings.Split(s, ",") {
				raw = append(raw, part)
			}
		} else {
			raw = []any{v.Scalar()}
		}
	}

	out := make([]any, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			out = append(out, s)
			continue
		}
		if e == nil {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
