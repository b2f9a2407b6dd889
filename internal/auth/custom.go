package auth

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/ohler55/ojg/jp"

	"github.com/roach88/viewql/internal/schema"
)

// customCheck is a compiled custom rule: either a registered function or a
// JSONPath comparison against a caller attribute.
type customCheck struct {
	fn CustomFunc

	path jp.Expr
	attr string
	op   schema.Operator
	kind schema.ScalarKind
}

func (e *Evaluator) compileCustom(c *schema.CustomRule) (*customCheck, error) {
	if c.Name != "" {
		fn, ok := e.funcs[c.Name]
		if !ok {
			return nil, fmt.Errorf("custom rule %q has no registered function", c.Name)
		}
		return &customCheck{fn: fn}, nil
	}
	x, err := jp.ParseString(c.Path)
	if err != nil {
		return nil, fmt.Errorf("custom rule path %q: %w", c.Path, err)
	}
	return &customCheck{
		path: x,
		attr: c.Equals,
		op:   c.EffectiveOperator(),
		kind: c.EffectiveKind(),
	}, nil
}

// allowed fails closed: a missing document value or caller attribute denies.
func (c *customCheck) allowed(user UserContext, doc map[string]any) bool {
	if c.fn != nil {
		return c.fn(user, doc)
	}
	if doc == nil {
		return false
	}
	found := c.path.Get(doc)
	if len(found) == 0 {
		return false
	}
	attr, ok := user.Attribute(c.attr)
	if !ok {
		return false
	}
	got := found[0]

	switch c.op {
	case schema.OpEq:
		return c.equal(got, attr)
	case schema.OpNeq:
		return !c.equal(got, attr)
	case schema.OpIn:
		return c.member(got, attr)
	case schema.OpNin:
		return !c.member(got, attr)
	case schema.OpContains:
		return c.member(attr, got)
	}
	return false
}

// member reports whether v equals an element of list. A non-list never
// matches.
func (c *customCheck) member(v, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	return slices.ContainsFunc(items, func(item any) bool { return c.equal(v, item) })
}

// equal compares two JSON scalars as the rule's kind.
func (c *customCheck) equal(a, b any) bool {
	switch c.kind {
	case schema.KindInt, schema.KindFloat:
		x, okA := number(a)
		y, okB := number(b)
		return okA && okB && x == y
	case schema.KindBoolean:
		x, okA := a.(bool)
		y, okB := b.(bool)
		return okA && okB && x == y
	default:
		x, okA := text(a)
		y, okB := text(b)
		return okA && okB && x == y
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

// text renders scalars so that "42" in a document matches an attribute of 42.
func text(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case int:
		return strconv.Itoa(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}
