package predicate

import (
	"fmt"
	"strings"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/schema"
)

// Error reports a structurally invalid predicate.
// Location is a slash-separated position in the tree, e.g. "/and[1]/not".
type Error struct {
	Location string
	Message  string
}

func (e *Error) Error() string {
	if e.Location == "" {
		return "predicate: " + e.Message
	}
	return fmt.Sprintf("predicate at %s: %s", e.Location, e.Message)
}

// Validate checks tree structure and value shapes without consulting a
// schema: no nil nodes, no empty path segments, known operators, and values
// of the shape each operator requires. A Field may have an empty path only
// under a Nested node. Schema-dependent checks (field existence, capability)
// happen during lowering.
//
// Validate is a pure function with no side effects.
func Validate(p Predicate) error {
	return validate(p, "", false)
}

func validate(p Predicate, loc string, scoped bool) error {
	switch n := Deref(p).(type) {
	case nil:
		return &Error{Location: loc, Message: "nil predicate"}
	case Field:
		return validateField(n, loc, scoped)
	case Nested:
		if len(n.Path) == 0 {
			return &Error{Location: loc, Message: "nested path is empty"}
		}
		if err := validatePath(n.Path, loc); err != nil {
			return err
		}
		return validate(n.Predicate, loc+"/"+strings.Join(n.Path, "."), true)
	case And:
		return validateChildren(n.Predicates, loc+"/and", scoped)
	case Or:
		return validateChildren(n.Predicates, loc+"/or", scoped)
	case Not:
		return validate(n.Predicate, loc+"/not", scoped)
	default:
		return &Error{Location: loc, Message: fmt.Sprintf("unknown predicate type %T", p)}
	}
}

func validateChildren(children []Predicate, loc string, scoped bool) error {
	for i, c := range children {
		if err := validate(c, fmt.Sprintf("%s[%d]", loc, i), scoped); err != nil {
			return err
		}
	}
	return nil
}

func validatePath(path []string, loc string) error {
	for i, seg := range path {
		if seg == "" {
			return &Error{Location: loc, Message: fmt.Sprintf("field path segment %d is empty", i)}
		}
	}
	return nil
}

func validateField(f Field, loc string, scoped bool) error {
	if len(f.Path) == 0 && !scoped {
		return &Error{Location: loc, Message: "field path is empty"}
	}
	if err := validatePath(f.Path, loc); err != nil {
		return err
	}
	if len(f.Path) > 0 {
		loc = loc + "/" + strings.Join(f.Path, ".")
	}
	if !f.Op.IsValid() {
		return &Error{Location: loc, Message: fmt.Sprintf("unknown operator %q", f.Op)}
	}
	if msg := CheckValueShape(f.Op, f.Value); msg != "" {
		return &Error{Location: loc, Message: msg}
	}
	return nil
}

// CheckValueShape returns a description of what is wrong with value for op,
// or "" when the shape is acceptable.
func CheckValueShape(op schema.Operator, value ir.IRValue) string {
	if value == nil {
		return fmt.Sprintf("operator %s requires a value", op)
	}
	switch {
	case op == schema.OpIsNull:
		if _, ok := value.(ir.IRBool); !ok {
			return "isNull requires a boolean"
		}
	case op.IsList():
		arr, ok := value.(ir.IRArray)
		if !ok {
			return fmt.Sprintf("%s requires an array", op)
		}
		for i, elem := range arr {
			if !isComparable(elem) {
				return fmt.Sprintf("%s element %d must be a non-null scalar", op, i)
			}
		}
	case op.IsPattern():
		if _, ok := value.(ir.IRString); !ok {
			return fmt.Sprintf("%s requires a string", op)
		}
	default:
		if !isComparable(value) {
			return fmt.Sprintf("%s requires a non-null scalar", op)
		}
	}
	return ""
}

func isComparable(v ir.IRValue) bool {
	switch v.(type) {
	case ir.IRString, ir.IRInt, ir.IRFloat, ir.IRBool:
		return true
	default:
		return false
	}
}
