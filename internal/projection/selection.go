package projection

import (
	"strings"
)

// TypenameField is the GraphQL meta field resolved to the type name.
const TypenameField = "__typename"

// Selection is one requested field. Children is nil for a leaf and non-nil
// (possibly empty) for an object or list of objects.
type Selection struct {
	Name     string       `json:"name"`
	Alias    string       `json:"alias,omitempty"`
	Children SelectionSet `json:"children,omitempty"`
}

// SelectionSet is an ordered list of selections.
type SelectionSet []Selection

// Leaf builds a scalar selection.
func Leaf(name string) Selection {
	return Selection{Name: name}
}

// Nested builds an object selection.
func Nested(name string, children ...Selection) Selection {
	if children == nil {
		children = SelectionSet{}
	}
	return Selection{Name: name, Children: children}
}

// As returns s with an alias.
func (s Selection) As(alias string) Selection {
	s.Alias = alias
	return s
}

// Key is the output key: the alias when set, else the name.
func (s Selection) Key() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// IsLeaf reports whether s selects a scalar.
func (s Selection) IsLeaf() bool {
	return s.Children == nil
}

// String renders the set in GraphQL shorthand, for logs and fingerprints.
func (ss SelectionSet) String() string {
	var b strings.Builder
	ss.write(&b)
	return b.String()
}

func (ss SelectionSet) write(b *strings.Builder) {
	b.WriteByte('{')
	for i, s := range ss {
		if i > 0 {
			b.WriteByte(' ')
		}
		if s.Alias != "" {
			b.WriteString(s.Alias)
			b.WriteByte(':')
		}
		b.WriteString(s.Name)
		if !s.IsLeaf() {
			s.Children.write(b)
		}
	}
	b.WriteByte('}')
}

// Canonical returns a JSON-ready form used in query fingerprints.
func (ss SelectionSet) Canonical() []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		node := map[string]any{"name": s.Name}
		if s.Alias != "" {
			node["alias"] = s.Alias
		}
		if !s.IsLeaf() {
			node["children"] = s.Children.Canonical()
		}
		out[i] = node
	}
	return out
}
