package gqlreq

import (
	"encoding/json"
	"math"
	"slices"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/predicate"
	"github.com/roach88/viewql/internal/projection"
	"github.com/roach88/viewql/internal/schema"
)

// Root field arguments.
const (
	ArgWhere  = "where"
	ArgID     = "id"
	ArgLimit  = "limit"
	ArgOffset = "offset"
)

// Params is the body of a GraphQL-over-HTTP request.
type Params struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Query is a decoded root field, ready to execute.
type Query struct {
	ResponseKey string // alias or root name
	Root        string
	Type        string
	View        string
	List        bool
	Where       predicate.Predicate // nil: no filter
	Limit       *uint32
	Offset      *uint32
	Selection   projection.SelectionSet
}

// Decode parses p and resolves its single root field against s.
//
// The operation must be a query selecting exactly one root field (after
// @skip/@include and fragments). The root accepts where, id, limit and
// offset; nested fields accept no arguments. Fragments and inline fragments
// are flattened into the selection when their type condition matches.
func Decode(s *schema.CompiledSchema, p Params) (*Query, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "request", Input: p.Query})
	if err != nil {
		return nil, parseError(err)
	}

	op, err := pickOperation(doc, p.OperationName)
	if err != nil {
		return nil, err
	}
	if op.Operation != ast.Query {
		return nil, newError(CodeUnsupportedOperation, "%s operations are not supported", op.Operation)
	}

	vars, err := resolveVariables(op.VariableDefinitions, p.Variables)
	if err != nil {
		return nil, err
	}

	d := &decoder{schema: s, doc: doc, vars: vars}
	fields, err := d.collect(op.SelectionSet, "", nil)
	if err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, newError(CodeSingleRoot, "expected exactly one root field, got %d", len(fields))
	}
	return d.root(fields[0])
}

func pickOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) != 1 {
			return nil, newError(CodeUnknownOperation, "operationName is required when the document has %d operations", len(doc.Operations))
		}
		return doc.Operations[0], nil
	}
	op := doc.Operations.ForName(name)
	if op == nil {
		return nil, newError(CodeUnknownOperation, "no operation named %q", name)
	}
	return op, nil
}

func resolveVariables(defs ast.VariableDefinitionList, given map[string]any) (map[string]any, error) {
	vars := make(map[string]any, len(defs))
	for _, def := range defs {
		if v, ok := given[def.Variable]; ok {
			vars[def.Variable] = v
			continue
		}
		if def.DefaultValue != nil {
			v, err := def.DefaultValue.Value(nil)
			if err != nil {
				return nil, newError(CodeInvalidVariable, "default of $%s: %v", def.Variable, err)
			}
			vars[def.Variable] = v
			continue
		}
		if def.Type != nil && def.Type.NonNull {
			return nil, newError(CodeInvalidVariable, "variable $%s is required", def.Variable)
		}
	}
	return vars, nil
}

type decoder struct {
	schema *schema.CompiledSchema
	doc    *ast.QueryDocument
	vars   map[string]any
}

// field is a collected field and the fragments it was reached through.
type field struct {
	*ast.Field
	via []string
}

// collect flattens fragments into the fields they select, in document order.
// typeName is the type the set applies to; "" accepts any type condition.
// visiting holds the fragments enclosing set, which may not spread again.
func (d *decoder) collect(set ast.SelectionSet, typeName string, visiting []string) ([]field, error) {
	var out []field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			ok, err := d.included(s.Directives)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, field{Field: s, via: visiting})
			}
		case *ast.InlineFragment:
			ok, err := d.included(s.Directives)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if err := checkCondition(s.TypeCondition, typeName, "inline fragment"); err != nil {
				return nil, err
			}
			fields, err := d.collect(s.SelectionSet, typeName, visiting)
			if err != nil {
				return nil, err
			}
			out = append(out, fields...)
		case *ast.FragmentSpread:
			ok, err := d.included(s.Directives)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if slices.Contains(visiting, s.Name) {
				return nil, newError(CodeInvalidFragment, "fragment %q spreads itself", s.Name)
			}
			def := d.doc.Fragments.ForName(s.Name)
			if def == nil {
				return nil, newError(CodeInvalidFragment, "unknown fragment %q", s.Name)
			}
			if err := checkCondition(def.TypeCondition, typeName, "fragment "+s.Name); err != nil {
				return nil, err
			}
			fields, err := d.collect(def.SelectionSet, typeName, append(slices.Clone(visiting), s.Name))
			if err != nil {
				return nil, err
			}
			out = append(out, fields...)
		}
	}
	return out, nil
}

func checkCondition(cond, typeName, what string) error {
	if cond == "" || typeName == "" || cond == typeName {
		return nil
	}
	return newError(CodeInvalidFragment, "%s on %s cannot apply to %s", what, cond, typeName)
}

// included evaluates @skip and @include.
func (d *decoder) included(dirs ast.DirectiveList) (bool, error) {
	for _, dir := range dirs {
		if dir.Name != "skip" && dir.Name != "include" {
			continue
		}
		arg := dir.Arguments.ForName("if")
		if arg == nil {
			return false, newError(CodeInvalidArgument, "@%s requires an if argument", dir.Name)
		}
		v, err := arg.Value.Value(d.vars)
		if err != nil {
			return false, newError(CodeInvalidArgument, "@%s(if:): %v", dir.Name, err)
		}
		b, ok := v.(bool)
		if !ok {
			return false, newError(CodeInvalidArgument, "@%s(if:) must be a boolean", dir.Name)
		}
		if (dir.Name == "skip") == b {
			return false, nil
		}
	}
	return true, nil
}

func (d *decoder) root(f field) (*Query, error) {
	root, ok := d.schema.Root(f.Name)
	if !ok {
		return nil, newError(CodeUnknownRoot, "unknown root field %q", f.Name)
	}
	td, _ := d.schema.Type(root.Type)

	q := &Query{
		ResponseKey: responseKey(f.Field),
		Root:        f.Name,
		Type:        root.Type,
		View:        root.View,
		List:        root.List,
	}

	var conj []predicate.Predicate
	for _, arg := range f.Arguments {
		v, err := arg.Value.Value(d.vars)
		if err != nil {
			return nil, newError(CodeInvalidArgument, "%s: %v", arg.Name, err)
		}
		switch arg.Name {
		case ArgWhere:
			if v == nil {
				continue
			}
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, newError(CodeInvalidArgument, "where must be an object")
			}
			p, err := predicate.FromWhere(obj)
			if err != nil {
				return nil, &Error{Code: CodeInvalidArgument, Message: "where: " + err.Error(), cause: err}
			}
			conj = append(conj, p)
		case ArgID:
			if td == nil || !td.HasIdentity() {
				return nil, newError(CodeInvalidArgument, "%s has no id field", root.Type)
			}
			id, err := ir.FromJSON(v)
			if err != nil {
				return nil, newError(CodeInvalidArgument, "id: %v", err)
			}
			conj = append(conj, predicate.NewField(td.IDField, schema.OpEq, id))
		case ArgLimit:
			n, err := toUint32(arg.Name, v)
			if err != nil {
				return nil, err
			}
			q.Limit = n
		case ArgOffset:
			n, err := toUint32(arg.Name, v)
			if err != nil {
				return nil, err
			}
			q.Offset = n
		default:
			return nil, newError(CodeInvalidArgument, "unknown argument %q on %s", arg.Name, f.Name)
		}
	}
	switch len(conj) {
	case 0:
	case 1:
		q.Where = conj[0]
	default:
		q.Where = predicate.And{Predicates: conj}
	}

	sel, err := d.selection(f.SelectionSet, root.Type, f.via)
	if err != nil {
		return nil, err
	}
	q.Selection = sel
	return q, nil
}

// selection converts a sub-selection, merging fields that share a response
// key.
func (d *decoder) selection(set ast.SelectionSet, typeName string, visiting []string) (projection.SelectionSet, error) {
	fields, err := d.collect(set, typeName, visiting)
	if err != nil {
		return nil, err
	}
	var td *schema.TypeDef
	if typeName != "" {
		td, _ = d.schema.Type(typeName)
	}

	out := projection.SelectionSet{}
	at := make(map[string]int, len(fields))
	for _, f := range fields {
		if len(f.Arguments) > 0 {
			return nil, newError(CodeInvalidArgument, "field %q takes no arguments", f.Name)
		}
		s := projection.Selection{Name: f.Name}
		if key := responseKey(f.Field); key != f.Name {
			s.Alias = key
		}
		if len(f.SelectionSet) > 0 {
			nested := ""
			if td != nil {
				if fd, ok := td.Field(f.Name); ok && fd.IsObject() {
					nested = fd.Type
				}
			}
			children, err := d.selection(f.SelectionSet, nested, f.via)
			if err != nil {
				return nil, err
			}
			s.Children = children
		}

		i, seen := at[s.Key()]
		if !seen {
			at[s.Key()] = len(out)
			out = append(out, s)
			continue
		}
		prev := out[i]
		if prev.Name != s.Name || prev.IsLeaf() != s.IsLeaf() {
			return nil, newError(CodeFieldConflict, "%q selects both %s and %s", s.Key(), prev.Name, s.Name)
		}
		if !s.IsLeaf() {
			out[i].Children = merge(prev.Children, s.Children)
		}
	}
	return out, nil
}

// merge appends the selections of b missing from a. Conflicts were already
// rejected at the level they occur; nested sets merge recursively.
func merge(a, b projection.SelectionSet) projection.SelectionSet {
	out := slices.Clone(a)
	for _, s := range b {
		i := slices.IndexFunc(out, func(x projection.Selection) bool { return x.Key() == s.Key() })
		switch {
		case i < 0:
			out = append(out, s)
		case !s.IsLeaf() && !out[i].IsLeaf():
			out[i].Children = merge(out[i].Children, s.Children)
		}
	}
	return out
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func toUint32(name string, v any) (*uint32, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return nil, newError(CodeInvalidArgument, "%s: %v", name, err)
		}
		f = x
	default:
		return nil, newError(CodeInvalidArgument, "%s must be an integer", name)
	}
	if f != math.Trunc(f) || f < 0 || f > math.MaxUint32 {
		return nil, newError(CodeInvalidArgument, "%s must be an integer between 0 and %d", name, uint32(math.MaxUint32))
	}
	u := uint32(f)
	return &u, nil
}
