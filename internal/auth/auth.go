package auth

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/viewql/internal/schema"
)

// UserContext is the caller identity a mask is built for.
type UserContext struct {
	UserID      string         `json:"user_id,omitempty"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Attribute resolves a name used by custom rules. user_id, tenant_id, roles
// and permissions map to the identity fields; anything else is looked up in
// Attributes.
func (u UserContext) Attribute(name string) (any, bool) {
	switch name {
	case "user_id":
		return u.UserID, u.UserID != ""
	case "tenant_id":
		return u.TenantID, u.TenantID != ""
	case "roles":
		return toAnySlice(u.Roles), true
	case "permissions":
		return toAnySlice(u.Permissions), true
	}
	v, ok := u.Attributes[name]
	return v, ok
}

// Policy decides fields that carry no rule.
type Policy string

const (
	// PolicyDefaultAllow shows fields without a rule to every caller.
	PolicyDefaultAllow Policy = "default-allow"

	// PolicyDefaultDeny hides fields without a rule from every caller.
	PolicyDefaultDeny Policy = "default-deny"
)

// ParsePolicy validates a policy name. "" selects PolicyDefaultAllow.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyDefaultAllow:
		return PolicyDefaultAllow, nil
	case PolicyDefaultDeny:
		return PolicyDefaultDeny, nil
	}
	return "", fmt.Errorf("unknown auth policy %q (want %s or %s)", s, PolicyDefaultAllow, PolicyDefaultDeny)
}

// CustomFunc decides a named custom rule. doc is the object that holds the
// field being projected.
type CustomFunc func(user UserContext, doc map[string]any) bool

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPolicy sets the policy for fields without a rule.
func WithPolicy(p Policy) Option {
	return func(e *Evaluator) {
		e.policy = p
	}
}

// WithCustom registers the function for custom rules with the given name.
func WithCustom(name string, fn CustomFunc) Option {
	return func(e *Evaluator) {
		e.funcs[name] = fn
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

type fieldKey struct {
	typeName string
	field    string
}

// Evaluator holds the rules of one schema, prepared once. It builds a Mask
// per request. Safe for concurrent use.
type Evaluator struct {
	schema *schema.CompiledSchema
	policy Policy
	funcs  map[string]CustomFunc
	rules  map[fieldKey]*schema.Rule
	custom map[fieldKey]*customCheck
	logger *slog.Logger
}

// NewEvaluator compiles every rule of s. Fails when a custom rule names a
// function that was not registered or a JSONPath does not parse.
func NewEvaluator(s *schema.CompiledSchema, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		schema: s,
		policy: PolicyDefaultAllow,
		funcs:  map[string]CustomFunc{},
		rules:  map[fieldKey]*schema.Rule{},
		custom: map[fieldKey]*customCheck{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := ParsePolicy(string(e.policy)); err != nil {
		return nil, err
	}

	for _, typeName := range s.TypeNames() {
		td, _ := s.Type(typeName)
		for i := range td.Fields {
			f := &td.Fields[i]
			if f.Auth == nil {
				continue
			}
			key := fieldKey{typeName, f.Name}
			e.rules[key] = f.Auth
			if f.Auth.Custom == nil {
				continue
			}
			check, err := e.compileCustom(f.Auth.Custom)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", typeName, f.Name, err)
			}
			e.custom[key] = check
		}
	}
	e.logger.Debug("auth rules compiled",
		"policy", e.policy,
		"rules", len(e.rules),
		"custom", len(e.custom))
	return e, nil
}

// Policy returns the policy in effect.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Build evaluates every role and permission rule for user once. Custom rules
// are left for Allowed, which runs them only for fields that are projected.
func (e *Evaluator) Build(user UserContext) *Mask {
	m := &Mask{
		eval:      e,
		user:      user,
		decisions: make(map[fieldKey]decision, len(e.rules)),
	}
	for key, rule := range e.rules {
		if !holdsAnyRole(user.Roles, rule.Roles) || !holdsAllPermissions(user.Permissions, rule.Permissions) {
			m.decisions[key] = deny
			continue
		}
		if rule.Custom != nil {
			m.decisions[key] = deferred
			continue
		}
		m.decisions[key] = allow
	}
	return m
}

// Build is NewEvaluator followed by Evaluator.Build, for callers with a
// one-off schema.
func Build(s *schema.CompiledSchema, user UserContext, opts ...Option) (*Mask, error) {
	e, err := NewEvaluator(s, opts...)
	if err != nil {
		return nil, err
	}
	return e.Build(user), nil
}

func holdsAnyRole(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, r := range want {
		if slices.Contains(have, r) {
			return true
		}
	}
	return false
}

func holdsAllPermissions(have, want []string) bool {
	for _, p := range want {
		if !slices.Contains(have, p) {
			return false
		}
	}
	return true
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
