package schema

import (
	"slices"
	"sort"
)

// Target is a database backend a schema was compiled for.
// The set is closed; adding a backend means adding a constant here and a
// lowerer in the lowering package.
type Target string

const (
	TargetPostgres  Target = "postgresql"
	TargetMySQL     Target = "mysql"
	TargetSQLite    Target = "sqlite"
	TargetSQLServer Target = "sqlserver"
)

// AllTargets returns every supported target in stable order.
func AllTargets() []Target {
	return []Target{TargetPostgres, TargetMySQL, TargetSQLite, TargetSQLServer}
}

// ParseTarget validates a target name.
func ParseTarget(s string) (Target, bool) {
	t := Target(s)
	return t, slices.Contains(AllTargets(), t)
}

// ScalarKind is the type of a leaf field in a stored document.
type ScalarKind string

const (
	KindString   ScalarKind = "String"
	KindInt      ScalarKind = "Int"
	KindFloat    ScalarKind = "Float"
	KindBoolean  ScalarKind = "Boolean"
	KindID       ScalarKind = "ID"
	KindDateTime ScalarKind = "DateTime"
	KindJSON     ScalarKind = "JSON"
)

var allKinds = []ScalarKind{KindString, KindInt, KindFloat, KindBoolean, KindID, KindDateTime, KindJSON}

// IsValid reports whether k is a known scalar kind.
func (k ScalarKind) IsValid() bool {
	return slices.Contains(allKinds, k)
}

// IsNumeric reports whether values of this kind compare numerically.
func (k ScalarKind) IsNumeric() bool {
	return k == KindInt || k == KindFloat
}

// Operator is a filter comparison operator.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNin        Operator = "nin"
	OpContains   Operator = "contains"
	OpIContains  Operator = "icontains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpIsNull     Operator = "isNull"
	OpMatches    Operator = "matches"
)

var allOperators = []Operator{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin,
	OpContains, OpIContains, OpStartsWith, OpEndsWith, OpIsNull, OpMatches,
}

// AllOperators returns every known operator.
func AllOperators() []Operator {
	return slices.Clone(allOperators)
}

// IsValid reports whether op is a known operator.
func (op Operator) IsValid() bool {
	return slices.Contains(allOperators, op)
}

// IsList reports whether op takes an array value.
func (op Operator) IsList() bool {
	return op == OpIn || op == OpNin
}

// IsPattern reports whether op is a string pattern operator.
func (op Operator) IsPattern() bool {
	switch op {
	case OpContains, OpIContains, OpStartsWith, OpEndsWith, OpMatches:
		return true
	}
	return false
}

// Applicable reports whether op is meaningful for kind at all, independent
// of what any backend supports. A manifest naming an inapplicable pair is
// rejected at load.
func Applicable(kind ScalarKind, op Operator) bool {
	switch op {
	case OpEq, OpNeq, OpIsNull:
		return kind != KindJSON || op == OpIsNull
	case OpIn, OpNin:
		return kind != KindJSON && kind != KindBoolean
	case OpGt, OpGte, OpLt, OpLte:
		return kind == KindInt || kind == KindFloat || kind == KindDateTime || kind == KindString || kind == KindID
	case OpContains, OpIContains, OpStartsWith, OpEndsWith, OpMatches:
		return kind == KindString || kind == KindID
	}
	return false
}

// Manifest lists the operators a target supports per scalar kind.
type Manifest map[ScalarKind][]Operator

// Supports reports whether the manifest offers op for kind.
func (m Manifest) Supports(kind ScalarKind, op Operator) bool {
	return slices.Contains(m[kind], op)
}

// Kinds returns the manifest's kinds in sorted order.
func (m Manifest) Kinds() []ScalarKind {
	kinds := make([]ScalarKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// FieldDef describes one field of a type.
// Exactly one of Kind and Type is set: Kind for scalars, Type for nested
// objects (List makes it an array of objects or scalars).
type FieldDef struct {
	Name     string     `json:"name"`
	Kind     ScalarKind `json:"kind,omitempty"`
	Type     string     `json:"type,omitempty"`
	List     bool       `json:"list,omitempty"`
	Nullable bool       `json:"nullable,omitempty"`
	Auth     *Rule      `json:"auth,omitempty"`
}

// IsObject reports whether the field holds a nested object (or list of them).
func (f *FieldDef) IsObject() bool {
	return f.Type != ""
}

// TypeDef describes an object type stored as a document.
type TypeDef struct {
	Name    string     `json:"name"`
	IDField string     `json:"id_field,omitempty"`
	Fields  []FieldDef `json:"fields"`

	index map[string]int
}

// Field looks up a field by name.
func (t *TypeDef) Field(name string) (*FieldDef, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return &t.Fields[i], true
}

// HasIdentity reports whether documents of this type carry an id usable as
// a cache dependency.
func (t *TypeDef) HasIdentity() bool {
	return t.IDField != ""
}

// Root maps a GraphQL query root field to a type and the view that stores it.
type Root struct {
	Type string `json:"type"`
	View string `json:"view"`
	List bool   `json:"list,omitempty"`
}

// Rule is a field-level authorization rule.
// The caller must hold at least one of Roles (when non-empty) and every one of
// Permissions; Custom, when set, is evaluated against the document.
type Rule struct {
	Roles       []string    `json:"roles,omitempty"`
	Permissions []string    `json:"permissions,omitempty"`
	Custom      *CustomRule `json:"custom,omitempty"`
}

// CustomRule is a document-dependent authorization check.
//
// Either Name refers to a function registered with the auth package, or Path
// is a JSONPath into the document subtree whose value is compared with the
// caller attribute named by Equals using Operator (default eq).
type CustomRule struct {
	Name     string     `json:"name,omitempty"`
	Path     string     `json:"path,omitempty"`
	Equals   string     `json:"equals,omitempty"`
	Operator Operator   `json:"operator,omitempty"`
	Kind     ScalarKind `json:"kind,omitempty"`
}

// EffectiveOperator returns the comparison operator, defaulting to eq.
func (c *CustomRule) EffectiveOperator() Operator {
	if c.Operator == "" {
		return OpEq
	}
	return c.Operator
}

// EffectiveKind returns the kind of the compared value, defaulting to String.
func (c *CustomRule) EffectiveKind() ScalarKind {
	if c.Kind == "" {
		return KindString
	}
	return c.Kind
}

// CustomOperators are the operators a declarative custom rule may use.
var CustomOperators = []Operator{OpEq, OpNeq, OpIn, OpNin, OpContains}
