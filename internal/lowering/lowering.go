package lowering

import (
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/predicate"
	"github.com/roach88/viewql/internal/schema"
)

// DocumentColumn is the view column holding each row's document.
const DocumentColumn = "data"

// Fragment is a lowered predicate: SQL text in the target's placeholder
// syntax plus its bound parameters, in placeholder order.
//
// CRITICAL: SQL never contains a literal from the predicate. The only
// schema-derived text is validated identifiers.
type Fragment struct {
	SQL    string
	Params []any

	// raw is SQL with "?" placeholders, kept so statements built from this
	// fragment can continue placeholder numbering.
	raw string
}

// Statement is a complete query ready for database/sql.
type Statement struct {
	SQL    string
	Params []any
}

// Select describes a view query.
type Select struct {
	View    string
	Where   *Fragment // nil = every row
	OrderBy string    // top-level document field to order by, "" = unordered
	Limit   *uint32
	Offset  *uint32
}

// Lowerer translates predicates into SQL for one database target.
// Implementations are stateless and safe for concurrent use.
type Lowerer interface {
	Target() schema.Target

	// Lower translates p, evaluated against documents of typeName.
	// Every Field is checked against the target's capability manifest
	// before SQL is produced.
	Lower(p predicate.Predicate, s *schema.CompiledSchema, typeName string) (*Fragment, error)

	// BuildSelect assembles the full statement reading documents from a view.
	BuildSelect(q Select) (Statement, error)
}

// ForTarget returns the lowerer for a target. Resolve once and reuse; there
// is no fallback between targets.
func ForTarget(target schema.Target) (Lowerer, error) {
	switch target {
	case schema.TargetPostgres:
		return &lowerer{d: postgres{}}, nil
	case schema.TargetMySQL:
		return &lowerer{d: mysql{}}, nil
	case schema.TargetSQLite:
		return &lowerer{d: sqlite{}}, nil
	case schema.TargetSQLServer:
		return &lowerer{d: sqlserver{}}, nil
	default:
		return nil, &LoweringError{
			Code:    CodeUnsupportedTarget,
			Target:  target,
			Message: fmt.Sprintf("no lowerer for target %q", target),
		}
	}
}

// jsonRef addresses a value inside a document: base is a SQL expression
// yielding JSON (the document column or an array element), path the field
// names below it. element is set when base is an expanded array element.
type jsonRef struct {
	base    string
	path    []string
	element bool
}

func (r jsonRef) child(name string) jsonRef {
	return jsonRef{base: r.base, path: append(slices.Clone(r.path), name), element: r.element}
}

// dialect supplies the target-specific SQL text. Every method returns SQL
// with "?" placeholders; the lowerer converts them at the end.
type dialect interface {
	target() schema.Target
	placeholders() sq.PlaceholderFormat
	quote(ident string) string

	// scalar returns the expression for the value at ref, cast so that it
	// compares correctly with parameters of the given kind.
	scalar(ref jsonRef, kind schema.ScalarKind) string

	// text returns the value at ref as text, without a cast.
	text(ref jsonRef) string

	// elements returns a FROM item expanding the array at ref under alias,
	// and the expression for one element.
	elements(ref jsonRef, alias string) (from, elem string)

	// isNull tests whether the value at ref is absent or JSON null.
	isNull(ref jsonRef, null bool) string

	// pattern lowers a string pattern operator; ok is false when the
	// target has no translation for op.
	pattern(ref jsonRef, op schema.Operator, s string) (sql string, param any, ok bool)

	boolParam(b bool) any

	// paginate appends ORDER BY and paging clauses.
	paginate(b sq.SelectBuilder, orderBy string, limit, offset *uint32) sq.SelectBuilder
}

// lowerer walks predicate trees and delegates SQL text to its dialect.
type lowerer struct {
	d dialect
}

func (l *lowerer) Target() schema.Target {
	return l.d.target()
}

func (l *lowerer) Lower(p predicate.Predicate, s *schema.CompiledSchema, typeName string) (*Fragment, error) {
	target := l.d.target()
	manifest, ok := s.Manifest(target)
	if !ok {
		return nil, &LoweringError{
			Code:    CodeUnsupportedTarget,
			Target:  target,
			Message: fmt.Sprintf("schema has no capability manifest for %s", target),
		}
	}
	td, ok := s.Type(typeName)
	if !ok {
		return nil, &LoweringError{
			Code:    CodeMalformedPath,
			Target:  target,
			Message: fmt.Sprintf("unknown type %q", typeName),
		}
	}

	w := &walk{d: l.d, schema: s, manifest: manifest}
	root := position{td: td, ref: jsonRef{base: l.d.quote(DocumentColumn)}}
	expr, err := w.lower(p, root, nil)
	if err != nil {
		return nil, err
	}

	raw, args, err := expr.ToSql()
	if err != nil {
		return nil, fmt.Errorf("render predicate: %w", err)
	}
	sql, err := l.d.placeholders().ReplacePlaceholders(raw)
	if err != nil {
		return nil, fmt.Errorf("render placeholders: %w", err)
	}
	if args == nil {
		args = []any{}
	}
	return &Fragment{SQL: sql, Params: args, raw: raw}, nil
}

func (l *lowerer) BuildSelect(q Select) (Statement, error) {
	view, err := l.quoteView(q.View)
	if err != nil {
		return Statement{}, err
	}
	if q.OrderBy != "" && !schema.ValidName(q.OrderBy) {
		return Statement{}, fmt.Errorf("invalid order field %q", q.OrderBy)
	}

	b := sq.Select(l.d.quote(DocumentColumn)).From(view)
	if q.Where != nil {
		if q.Where.raw == "" {
			return Statement{}, fmt.Errorf("fragment was not produced by a lowerer")
		}
		b = b.Where(sq.Expr(q.Where.raw, q.Where.Params...))
	}
	orderBy := ""
	if q.OrderBy != "" {
		orderBy = l.d.text(jsonRef{base: l.d.quote(DocumentColumn), path: []string{q.OrderBy}}) + " ASC"
	}
	b = l.d.paginate(b, orderBy, q.Limit, q.Offset)

	sql, args, err := b.PlaceholderFormat(l.d.placeholders()).ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("build select: %w", err)
	}
	if args == nil {
		args = []any{}
	}
	return Statement{SQL: sql, Params: args}, nil
}

func (l *lowerer) quoteView(view string) (string, error) {
	if !schema.ValidView(view) {
		return "", fmt.Errorf("invalid view name %q", view)
	}
	parts := strings.Split(view, ".")
	for i, p := range parts {
		parts[i] = l.d.quote(p)
	}
	return strings.Join(parts, "."), nil
}

// walk holds the state of one Lower call.
type walk struct {
	d        dialect
	schema   *schema.CompiledSchema
	manifest schema.Manifest
	aliases  int
}

func (w *walk) nextAlias() string {
	w.aliases++
	return fmt.Sprintf("e%d", w.aliases)
}

// position is where a subtree is evaluated: inside an object of type td,
// or on the scalar field leaf once a Nested path has ended on one.
type position struct {
	td   *schema.TypeDef
	leaf *schema.FieldDef
	ref  jsonRef
}

// failer returns an error constructor for the predicate at path full.
func (w *walk) failer(full []string, op schema.Operator) func(code, format string, args ...any) error {
	return func(code, format string, args ...any) error {
		return &LoweringError{
			Code:     code,
			Field:    strings.Join(full, "."),
			Operator: op,
			Target:   w.d.target(),
			Message:  fmt.Sprintf(format, args...),
		}
	}
}

// lower recurses over the tree. prefix is the path already walked from the
// queried type, used only for error reporting.
func (w *walk) lower(p predicate.Predicate, at position, prefix []string) (sq.Sqlizer, error) {
	switch n := predicate.Deref(p).(type) {
	case predicate.Field:
		full := append(slices.Clone(prefix), n.Path...)
		if at.leaf != nil {
			if len(n.Path) > 0 {
				return nil, w.failer(full, n.Op)(CodeMalformedPath, "%s is a scalar and has no nested fields", at.leaf.Name)
			}
			return w.compare(n, at.leaf, at.ref, w.failer(full, n.Op))
		}
		return w.lowerField(n, at.td, at.ref, full)
	case predicate.Nested:
		return w.lowerNested(n, at, prefix)
	case predicate.And:
		parts, err := w.lowerAll(n.Predicates, at, prefix)
		if err != nil {
			return nil, err
		}
		return sq.And(parts), nil
	case predicate.Or:
		parts, err := w.lowerAll(n.Predicates, at, prefix)
		if err != nil {
			return nil, err
		}
		return sq.Or(parts), nil
	case predicate.Not:
		inner, err := w.lower(n.Predicate, at, prefix)
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT (?)", inner), nil
	default:
		return nil, w.failer(prefix, "")(CodeMalformedPath, "nil predicate node")
	}
}

func (w *walk) lowerAll(ps []predicate.Predicate, at position, prefix []string) ([]sq.Sqlizer, error) {
	parts := make([]sq.Sqlizer, 0, len(ps))
	for _, c := range ps {
		part, err := w.lower(c, at, prefix)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// lowerNested resolves n.Path one segment at a time. A list segment opens a
// single EXISTS and lowers everything below it inside, so one element must
// satisfy the whole subtree.
func (w *walk) lowerNested(n predicate.Nested, at position, prefix []string) (sq.Sqlizer, error) {
	full := append(slices.Clone(prefix), n.Path...)
	fail := w.failer(full, "")
	if len(n.Path) == 0 {
		return nil, fail(CodeMalformedPath, "empty nested path")
	}
	if at.leaf != nil {
		return nil, fail(CodeMalformedPath, "%s is a scalar and has no nested fields", at.leaf.Name)
	}

	seg, rest := n.Path[0], n.Path[1:]
	fd, ok := at.td.Field(seg)
	if !ok {
		return nil, fail(CodeMalformedPath, "type %s has no field %q", at.td.Name, seg)
	}
	if !fd.IsObject() && len(rest) > 0 {
		return nil, fail(CodeMalformedPath, "%s.%s is a scalar and has no nested fields", at.td.Name, seg)
	}

	ref := at.ref.child(seg)
	var from string
	if fd.List {
		var elem string
		from, elem = w.d.elements(ref, w.nextAlias())
		ref = jsonRef{base: elem, element: true}
	}
	inner := position{leaf: fd, ref: ref}
	if fd.IsObject() {
		next, _ := w.schema.Type(fd.Type)
		inner = position{td: next, ref: ref}
	}

	here := append(slices.Clone(prefix), seg)
	var body sq.Sqlizer
	var err error
	if len(rest) > 0 {
		body, err = w.lowerNested(predicate.Nested{Path: rest, Predicate: n.Predicate}, inner, here)
	} else {
		body, err = w.lower(n.Predicate, inner, here)
	}
	if err != nil {
		return nil, err
	}
	if fd.List {
		return sq.Expr("EXISTS (SELECT 1 FROM "+from+" WHERE ?)", body), nil
	}
	return body, nil
}

// lowerField resolves f.Path segment by segment. Object hops extend the
// JSON path; list hops open an EXISTS over the array elements and continue
// inside it with the element as the new base.
func (w *walk) lowerField(f predicate.Field, td *schema.TypeDef, ref jsonRef, full []string) (sq.Sqlizer, error) {
	fail := w.failer(full, f.Op)
	if len(f.Path) == 0 {
		return nil, fail(CodeMalformedPath, "empty field path")
	}

	cur := td
	for i, seg := range f.Path {
		fd, ok := cur.Field(seg)
		if !ok {
			return nil, fail(CodeMalformedPath, "type %s has no field %q", cur.Name, seg)
		}
		last := i == len(f.Path)-1

		if !last {
			if !fd.IsObject() {
				return nil, fail(CodeMalformedPath, "%s.%s is a scalar and has no nested fields", cur.Name, seg)
			}
			next, _ := w.schema.Type(fd.Type)
			if fd.List {
				alias := w.nextAlias()
				from, elem := w.d.elements(ref.child(seg), alias)
				rest := predicate.Field{Path: f.Path[i+1:], Op: f.Op, Value: f.Value}
				inner, err := w.lowerField(rest, next, jsonRef{base: elem, element: true}, full)
				if err != nil {
					return nil, err
				}
				return sq.Expr("EXISTS (SELECT 1 FROM "+from+" WHERE ?)", inner), nil
			}
			ref = ref.child(seg)
			cur = next
			continue
		}

		if fd.IsObject() {
			return nil, fail(CodeMalformedPath, "%s.%s is an object; compare one of its fields", cur.Name, seg)
		}
		if fd.List {
			alias := w.nextAlias()
			from, elem := w.d.elements(ref.child(seg), alias)
			cond, err := w.compare(f, fd, jsonRef{base: elem, element: true}, fail)
			if err != nil {
				return nil, err
			}
			return sq.Expr("EXISTS (SELECT 1 FROM "+from+" WHERE ?)", cond), nil
		}
		return w.compare(f, fd, ref.child(seg), fail)
	}
	return nil, fail(CodeMalformedPath, "empty field path")
}

// compare checks f against the capability manifest and lowers it on the
// scalar at ref.
func (w *walk) compare(f predicate.Field, fd *schema.FieldDef, ref jsonRef, fail func(code, format string, args ...any) error) (sq.Sqlizer, error) {
	if !w.manifest.Supports(fd.Kind, f.Op) {
		return nil, fail(CodeUnsupportedOperator, "operator %s is not supported for %s on %s", f.Op, fd.Kind, w.d.target())
	}
	if msg := predicate.CheckValueShape(f.Op, f.Value); msg != "" {
		return nil, fail(CodeInvalidValue, "%s", msg)
	}
	return w.condition(ref, fd.Kind, f, fail)
}

var comparisons = map[schema.Operator]string{
	schema.OpEq:  "=",
	schema.OpNeq: "<>",
	schema.OpGt:  ">",
	schema.OpGte: ">=",
	schema.OpLt:  "<",
	schema.OpLte: "<=",
}

// condition lowers a single comparison on a resolved scalar.
// CRITICAL: the value is always a bound parameter.
func (w *walk) condition(ref jsonRef, kind schema.ScalarKind, f predicate.Field, fail func(code, format string, args ...any) error) (sq.Sqlizer, error) {
	op := f.Op
	switch {
	case op == schema.OpIsNull:
		null := bool(f.Value.(ir.IRBool))
		return sq.Expr(w.d.isNull(ref, null)), nil

	case op.IsList():
		arr := f.Value.(ir.IRArray)
		if len(arr) == 0 {
			// x IN () is invalid SQL; the empty set matches nothing.
			if op == schema.OpIn {
				return sq.Expr("(1=0)"), nil
			}
			return sq.Expr("(1=1)"), nil
		}
		params := make([]any, len(arr))
		for i, elem := range arr {
			param, msg := w.param(kind, elem)
			if msg != "" {
				return nil, fail(CodeInvalidValue, "element %d: %s", i, msg)
			}
			params[i] = param
		}
		keyword := "IN"
		if op == schema.OpNin {
			keyword = "NOT IN"
		}
		return sq.Expr(w.d.scalar(ref, kind)+" "+keyword+" ("+sq.Placeholders(len(arr))+")", params...), nil

	case op.IsPattern():
		s, ok := f.Value.(ir.IRString)
		if !ok {
			return nil, fail(CodeInvalidValue, "%s requires a string", op)
		}
		sql, param, ok := w.d.pattern(ref, op, string(s))
		if !ok {
			return nil, fail(CodeUnsupportedOperator, "operator %s has no translation on %s", op, w.d.target())
		}
		return sq.Expr(sql, param), nil

	default:
		cmp, ok := comparisons[op]
		if !ok {
			return nil, fail(CodeUnsupportedOperator, "operator %s has no translation on %s", op, w.d.target())
		}
		param, msg := w.param(kind, f.Value)
		if msg != "" {
			return nil, fail(CodeInvalidValue, "%s", msg)
		}
		return sq.Expr(w.d.scalar(ref, kind)+" "+cmp+" ?", param), nil
	}
}
