package projection

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/schema"
)

// Entity identifies a stored document a result was built from.
type Entity struct {
	Type string
	ID   string // ir.Wildcard when the document carries no usable id
}

// Key returns the cache dependency key for the entity.
func (e Entity) Key() string {
	return ir.EntityKey(e.Type, e.ID)
}

// Projector extracts selected, authorized fields from documents.
// Stateless apart from the schema; safe for concurrent use.
type Projector struct {
	schema *schema.CompiledSchema
}

// New returns a projector for s.
func New(s *schema.CompiledSchema) *Projector {
	return &Projector{schema: s}
}

// Project returns the fields of doc named by sel that mask allows.
//
// CRITICAL: an unauthorized field is omitted, exactly as if it had not been
// selected. A selected, authorized field missing from doc is an explicit
// null. These two cases must never produce the same output.
func (p *Projector) Project(doc map[string]any, sel SelectionSet, mask *auth.Mask, typeName string) (map[string]any, error) {
	return p.object(doc, sel, mask, frame{typeName: typeName}, nil)
}

// ProjectWithEntities is Project that also reports every entity the output
// was read from: the root document and each nested document reached through
// an authorized object selection.
func (p *Projector) ProjectWithEntities(doc map[string]any, sel SelectionSet, mask *auth.Mask, typeName string) (map[string]any, []Entity, error) {
	c := &collector{seen: map[Entity]bool{}}
	out, err := p.object(doc, sel, mask, frame{typeName: typeName}, c)
	if err != nil {
		return nil, nil, err
	}
	return out, c.entities, nil
}

type collector struct {
	seen     map[Entity]bool
	entities []Entity
}

func (c *collector) add(e Entity) {
	if !c.seen[e] {
		c.seen[e] = true
		c.entities = append(c.entities, e)
	}
}

type frame struct {
	typeName string
	path     string
}

func (p *Projector) object(doc map[string]any, sel SelectionSet, mask *auth.Mask, f frame, c *collector) (map[string]any, error) {
	td, ok := p.schema.Type(f.typeName)
	if !ok {
		return nil, &ProjectionError{
			Code:    CodeUnknownField,
			Type:    f.typeName,
			Path:    f.path,
			Message: fmt.Sprintf("unknown type %q", f.typeName),
		}
	}
	if c != nil {
		c.add(entityOf(td, doc))
	}

	out := make(map[string]any, len(sel))
	for _, s := range sel {
		path := join(f.path, s.Key())
		if s.Name == TypenameField {
			out[s.Key()] = td.Name
			continue
		}

		fd, ok := td.Field(s.Name)
		if !ok {
			return nil, &ProjectionError{
				Code:    CodeUnknownField,
				Type:    td.Name,
				Field:   s.Name,
				Path:    path,
				Message: fmt.Sprintf("type %s has no field %q", td.Name, s.Name),
			}
		}
		if fd.IsObject() == s.IsLeaf() {
			msg := "scalar field cannot have a selection"
			if fd.IsObject() {
				msg = "object field requires a selection"
			}
			return nil, &ProjectionError{Code: CodeInvalidSelection, Type: td.Name, Field: s.Name, Path: path, Message: msg}
		}

		if !mask.Allowed(td.Name, fd.Name, doc) {
			continue
		}

		value, present := doc[fd.Name]
		if !present || value == nil {
			out[s.Key()] = nil
			continue
		}
		if !fd.IsObject() {
			out[s.Key()] = value
			continue
		}

		child := frame{typeName: fd.Type, path: path}
		projected, err := p.nested(value, fd, s.Children, mask, child, c)
		if err != nil {
			return nil, err
		}
		out[s.Key()] = projected
	}
	return out, nil
}

// nested projects an object field or each element of a list-of-objects
// field. Elements are projected independently.
func (p *Projector) nested(value any, fd *schema.FieldDef, sel SelectionSet, mask *auth.Mask, f frame, c *collector) (any, error) {
	if !fd.List {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, shapeError(fd, f, "an object", value)
		}
		return p.object(obj, sel, mask, f, c)
	}

	items, ok := value.([]any)
	if !ok {
		return nil, shapeError(fd, f, "an array", value)
	}
	out := make([]any, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		ef := frame{typeName: f.typeName, path: f.path + "." + strconv.Itoa(i)}
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, shapeError(fd, ef, "an object", item)
		}
		projected, err := p.object(obj, sel, mask, ef, c)
		if err != nil {
			return nil, err
		}
		out[i] = projected
	}
	return out, nil
}

func shapeError(fd *schema.FieldDef, f frame, want string, got any) error {
	return &ProjectionError{
		Code:    CodeDocumentShape,
		Type:    fd.Type,
		Field:   fd.Name,
		Path:    f.path,
		Message: fmt.Sprintf("document holds %T where %s was expected", got, want),
	}
}

// entityOf identifies doc. Documents without an id, or types without an
// identity field, depend on every entity of their type.
func entityOf(td *schema.TypeDef, doc map[string]any) Entity {
	if td.HasIdentity() {
		if id, ok := IDString(doc[td.IDField]); ok {
			return Entity{Type: td.Name, ID: id}
		}
	}
	return Entity{Type: td.Name, ID: ir.Wildcard}
}

// IDString renders a document id the way cascade metadata spells it.
func IDString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case int:
		return strconv.Itoa(id), true
	}
	return "", false
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
