package auth

type decision uint8

const (
	allow decision = iota
	deny
	deferred // custom rule, needs the document
)

// Mask answers whether a caller may see a field. Built once per request by
// Evaluator.Build; read-only afterwards and safe for concurrent use.
type Mask struct {
	eval       *Evaluator
	user       UserContext
	decisions  map[fieldKey]decision
	permissive bool
}

// Permissive returns a mask that allows every field. For internal callers
// and tests; never build one from request input.
func Permissive() *Mask {
	return &Mask{permissive: true}
}

// User returns the caller the mask was built for.
func (m *Mask) User() UserContext {
	return m.user
}

// Allowed reports whether field of typeName may appear in output. doc is the
// object holding the field; it is read only when the field has a custom rule.
func (m *Mask) Allowed(typeName, field string, doc map[string]any) bool {
	if m.permissive {
		return true
	}
	key := fieldKey{typeName, field}
	d, ok := m.decisions[key]
	if !ok {
		return m.eval.policy == PolicyDefaultAllow
	}
	switch d {
	case allow:
		return true
	case deferred:
		return m.eval.custom[key].allowed(m.user, doc)
	default:
		return false
	}
}
