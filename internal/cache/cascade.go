package cache

import "github.com/roach88/viewql/internal/ir"

// EntityRef names one entity a mutation touched. ID may be ir.Wildcard to
// mean every entity of Type.
type EntityRef struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// Key returns the reverse-index key of the entity.
func (r EntityRef) Key() string {
	return ir.EntityKey(r.Type, r.ID)
}

// CascadeMetadata is the set of entities a mutation updated or deleted.
// Both lists invalidate the same way.
type CascadeMetadata struct {
	Updated []EntityRef `json:"updated,omitempty" yaml:"updated,omitempty"`
	Deleted []EntityRef `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// IsEmpty reports whether the cascade names no entities.
func (c CascadeMetadata) IsEmpty() bool {
	return len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Entities returns updated then deleted entities with duplicates and
// refs without a type removed.
func (c CascadeMetadata) Entities() []EntityRef {
	seen := make(map[EntityRef]bool, len(c.Updated)+len(c.Deleted))
	out := make([]EntityRef, 0, len(c.Updated)+len(c.Deleted))
	for _, list := range [][]EntityRef{c.Updated, c.Deleted} {
		for _, r := range list {
			if r.Type == "" || r.ID == "" || seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
