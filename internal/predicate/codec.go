package predicate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/schema"
)

// Canonical returns a JSON-compatible description of p suitable for
// ir.MarshalCanonical. It is the form hashed into query fingerprints and
// the form Encode writes.
//
//	{"field": ["posts","title"], "op": "contains", "value": "go"}
//	{"nested": ["posts"], "where": {...}}
//	{"and": [...]}  {"or": [...]}  {"not": {...}}
//
// A nil predicate yields nil.
func Canonical(p Predicate) any {
	switch n := Deref(p).(type) {
	case Field:
		path := make([]any, len(n.Path))
		for i, seg := range n.Path {
			path[i] = seg
		}
		var value any = ir.IRNull{}
		if n.Value != nil {
			value = n.Value
		}
		return map[string]any{"field": path, "op": string(n.Op), "value": value}
	case Nested:
		path := make([]any, len(n.Path))
		for i, seg := range n.Path {
			path[i] = seg
		}
		return map[string]any{"nested": path, "where": Canonical(n.Predicate)}
	case And:
		return map[string]any{"and": canonicalList(n.Predicates)}
	case Or:
		return map[string]any{"or": canonicalList(n.Predicates)}
	case Not:
		return map[string]any{"not": Canonical(n.Predicate)}
	default:
		return nil
	}
}

func canonicalList(ps []Predicate) []any {
	out := make([]any, len(ps))
	for i, c := range ps {
		out[i] = Canonical(c)
	}
	return out
}

// Encode writes p as canonical JSON.
func Encode(p Predicate) ([]byte, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(Canonical(p))
}

// node is the wire shape of one predicate node.
type node struct {
	Field  []string          `json:"field,omitempty"`
	Op     schema.Operator   `json:"op,omitempty"`
	Value  json.RawMessage   `json:"value,omitempty"`
	Nested []string          `json:"nested,omitempty"`
	Where  json.RawMessage   `json:"where,omitempty"`
	And    []json.RawMessage `json:"and,omitempty"`
	Or     []json.RawMessage `json:"or,omitempty"`
	Not    json.RawMessage   `json:"not,omitempty"`
}

// Decode parses the JSON form written by Encode and validates the result.
// Empty "and"/"or" arrays are preserved so that {"and":[]} round-trips as
// always-true.
func Decode(data []byte) (Predicate, error) {
	p, err := decode(data, "")
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func decode(data []byte, loc string) (Predicate, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, &Error{Location: loc, Message: "expected an object: " + err.Error()}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var n node
	if err := dec.Decode(&n); err != nil {
		return nil, &Error{Location: loc, Message: err.Error()}
	}

	_, hasField := keys["field"]
	_, hasNested := keys["nested"]
	_, hasAnd := keys["and"]
	_, hasOr := keys["or"]
	_, hasNot := keys["not"]
	count := 0
	for _, b := range []bool{hasField, hasNested, hasAnd, hasOr, hasNot} {
		if b {
			count++
		}
	}
	if count != 1 {
		return nil, &Error{Location: loc, Message: "node must have exactly one of field, nested, and, or, not"}
	}
	if _, hasWhere := keys["where"]; hasWhere != hasNested {
		return nil, &Error{Location: loc, Message: "where belongs to, and is required by, a nested node"}
	}

	switch {
	case hasField:
		if len(n.Value) == 0 {
			return nil, &Error{Location: loc, Message: "field node requires a value"}
		}
		value, err := ir.UnmarshalIRValue(n.Value)
		if err != nil {
			return nil, &Error{Location: loc, Message: fmt.Sprintf("invalid value: %v", err)}
		}
		return Field{Path: slices.Clone(n.Field), Op: n.Op, Value: value}, nil
	case hasNested:
		child, err := decode(n.Where, loc+"/where")
		if err != nil {
			return nil, err
		}
		return Nested{Path: slices.Clone(n.Nested), Predicate: child}, nil
	case hasAnd:
		children, err := decodeList(n.And, loc+"/and")
		if err != nil {
			return nil, err
		}
		return And{Predicates: children}, nil
	case hasOr:
		children, err := decodeList(n.Or, loc+"/or")
		if err != nil {
			return nil, err
		}
		return Or{Predicates: children}, nil
	default:
		child, err := decode(n.Not, loc+"/not")
		if err != nil {
			return nil, err
		}
		return Not{Predicate: child}, nil
	}
}

func decodeList(items []json.RawMessage, loc string) ([]Predicate, error) {
	out := make([]Predicate, 0, len(items))
	for i, raw := range items {
		p, err := decode(raw, fmt.Sprintf("%s[%d]", loc, i))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
