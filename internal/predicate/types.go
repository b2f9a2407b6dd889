package predicate

import (
	"slices"
	"strings"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/schema"
)

// Predicate represents a filter condition over a document type.
//
// This is a sealed interface - only types in this package implement it.
// Lowerers switch exhaustively over Field, Nested, And, Or, and Not.
//
// Trees are owned values built bottom-up from validated input; nothing in
// the runtime mutates a predicate after construction.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Field compares the value at Path with Value using Op.
//
// Path is an ordered sequence of field names starting at the queried type.
// A path longer than one segment walks into nested objects, and into every
// element of nested lists:
//
//	Field{Path: []string{"posts", "title"}, Op: schema.OpContains, Value: ir.IRString("go")}
//
// matches a User if any of its posts has a title containing "go".
//
// Value shape depends on Op:
//   - in, nin: IRArray of scalars
//   - isNull: IRBool (true = IS NULL, false = IS NOT NULL)
//   - every other operator: a non-null scalar
type Field struct {
	Path  []string
	Op    schema.Operator
	Value ir.IRValue
}

func (Field) predicateNode() {}

// And is true when every child is true. Empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is true when any child is true. Empty Or is always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates its child.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Nested evaluates Predicate relative to the value at Path. Through a list,
// a single element must satisfy all of Predicate:
//
//	Nested{Path: []string{"posts"}, Predicate: And{Predicates: []Predicate{
//		NewField("title", schema.OpEq, ir.IRString("Engines")),
//		NewField("views", schema.OpGt, ir.IRInt(100)),
//	}}}
//
// matches a User with one post that has both that title and more than 100
// views, where the two Fields alone would accept two different posts.
//
// When Path ends on a scalar, the Fields under Predicate have an empty Path
// and compare that scalar (or, for a scalar list, one of its elements).
type Nested struct {
	Path      []string
	Predicate Predicate
}

func (Nested) predicateNode() {}

// NewField builds a Field from a dotted path ("posts.title").
func NewField(path string, op schema.Operator, value ir.IRValue) Field {
	return Field{Path: strings.Split(path, "."), Op: op, Value: value}
}

// Deref returns p with a pointer node replaced by its value, so callers can
// switch over value types only. Nil pointers become nil.
func Deref(p Predicate) Predicate {
	switch n := p.(type) {
	case *Field:
		if n == nil {
			return nil
		}
		return *n
	case *And:
		if n == nil {
			return nil
		}
		return *n
	case *Or:
		if n == nil {
			return nil
		}
		return *n
	case *Not:
		if n == nil {
			return nil
		}
		return *n
	case *Nested:
		if n == nil {
			return nil
		}
		return *n
	default:
		return p
	}
}

// Walk calls fn for every Field in the tree, depth-first, left to right.
// Fields under a Nested node are passed with their full path from the
// queried type.
func Walk(p Predicate, fn func(Field)) {
	walk(p, nil, fn)
}

func walk(p Predicate, prefix []string, fn func(Field)) {
	switch n := Deref(p).(type) {
	case Field:
		if len(prefix) > 0 {
			n.Path = append(slices.Clone(prefix), n.Path...)
		}
		fn(n)
	case Nested:
		walk(n.Predicate, append(slices.Clone(prefix), n.Path...), fn)
	case And:
		for _, c := range n.Predicates {
			walk(c, prefix, fn)
		}
	case Or:
		for _, c := range n.Predicates {
			walk(c, prefix, fn)
		}
	case Not:
		walk(n.Predicate, prefix, fn)
	}
}

// EqualityOn reports whether p restricts results to a single value of a
// top-level field: a Field{Path: [field], Op: eq}, alone or as one conjunct
// of an And. Used to decide whether a query can only ever match one known
// entity.
func EqualityOn(p Predicate, field string) (ir.IRValue, bool) {
	switch n := Deref(p).(type) {
	case Field:
		if n.Op == schema.OpEq && len(n.Path) == 1 && n.Path[0] == field && n.Value != nil && ir.IsScalar(n.Value) {
			if _, null := n.Value.(ir.IRNull); null {
				return nil, false
			}
			return n.Value, true
		}
	case And:
		for _, c := range n.Predicates {
			if v, ok := EqualityOn(c, field); ok {
				return v, true
			}
		}
	}
	return nil, false
}
