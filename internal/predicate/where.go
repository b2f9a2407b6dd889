package predicate

import (
	"fmt"
	"slices"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/schema"
)

// Logical keys of a where input object.
const (
	KeyAnd = "_and"
	KeyOr  = "_or"
	KeyNot = "_not"
)

// FromWhere converts a GraphQL-style where input into a predicate tree.
//
//	{"name": {"eq": "ada"}, "posts": {"title": {"contains": "go"}}, "_or": [...]}
//
// Every key of an object is a conjunct: operator keys compare the field
// reached so far, logical keys combine nested objects, and any other key
// descends into a nested field. Keys are processed in sorted order so that
// equal inputs always produce identical trees. A single conjunct is returned
// unwrapped; an empty object is an empty And (always true).
//
// A nested object holding a single comparison becomes one Field with the
// full path. Anything more becomes a Nested node, so all of its conditions
// apply to the same list element:
//
//	{"posts": {"title": {"eq": "Engines"}, "views": {"gt": 100}}}
//	=> Nested{[posts], And{Field[title] eq, Field[views] gt}}
func FromWhere(where map[string]any) (Predicate, error) {
	p, err := fromWhere(where, false, "")
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// fromWhere returns a tree relative to the field reached so far; nested is
// false only at the queried type.
func fromWhere(where map[string]any, nested bool, loc string) (Predicate, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	conj := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		raw := where[k]
		kloc := loc + "/" + k
		switch {
		case k == KeyAnd || k == KeyOr:
			items, ok := raw.([]any)
			if !ok {
				return nil, &Error{Location: kloc, Message: "expected a list of objects"}
			}
			children := make([]Predicate, 0, len(items))
			for i, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					return nil, &Error{Location: fmt.Sprintf("%s[%d]", kloc, i), Message: "expected an object"}
				}
				c, err := fromWhere(obj, nested, fmt.Sprintf("%s[%d]", kloc, i))
				if err != nil {
					return nil, err
				}
				children = append(children, c)
			}
			if k == KeyAnd {
				conj = append(conj, And{Predicates: children})
			} else {
				conj = append(conj, Or{Predicates: children})
			}
		case k == KeyNot:
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, &Error{Location: kloc, Message: "expected an object"}
			}
			c, err := fromWhere(obj, nested, kloc)
			if err != nil {
				return nil, err
			}
			conj = append(conj, Not{Predicate: c})
		case schema.Operator(k).IsValid() && nested:
			value, err := ir.FromJSON(raw)
			if err != nil {
				return nil, &Error{Location: kloc, Message: err.Error()}
			}
			conj = append(conj, Field{Path: []string{}, Op: schema.Operator(k), Value: value})
		default:
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, &Error{Location: kloc, Message: "expected an object of operators or nested fields"}
			}
			c, err := fromWhere(obj, true, kloc)
			if err != nil {
				return nil, err
			}
			conj = append(conj, descend(k, c))
		}
	}

	if len(conj) == 1 {
		return conj[0], nil
	}
	return And{Predicates: conj}, nil
}

// descend places p, built relative to field k, under k.
func descend(k string, p Predicate) Predicate {
	switch n := p.(type) {
	case Field:
		return Field{Path: append([]string{k}, n.Path...), Op: n.Op, Value: n.Value}
	case Nested:
		return Nested{Path: append([]string{k}, n.Path...), Predicate: n.Predicate}
	default:
		return Nested{Path: []string{k}, Predicate: p}
	}
}
