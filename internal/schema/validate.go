package schema

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/ohler55/ojg/jp"
)

var (
	namePattern = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)
	viewPattern = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*(\.[_A-Za-z][_0-9A-Za-z]*)?$`)
)

// ValidName reports whether s is usable as a type or field name.
// Names appear inside generated SQL JSON paths, so the pattern is strict.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// ValidView reports whether s is usable as a view name, optionally
// schema-qualified ("app.v_user").
func ValidView(s string) bool {
	return viewPattern.MatchString(s)
}

// validate checks the artifact against load-time rules.
// Returns all errors found (does not fail-fast).
func validate(a Artifact, s *CompiledSchema) []*CompileError {
	var errs []*CompileError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, &CompileError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if a.Version == "" {
		add(ErrMissingVersion, "version", "version is required")
	}
	if len(a.Types) == 0 {
		add(ErrNoTypes, "types", "at least one type is required")
	}

	seenTypes := make(map[string]bool, len(a.Types))
	for i, t := range a.Types {
		loc := fmt.Sprintf("types[%d]", i)
		if !ValidName(t.Name) {
			add(ErrInvalidName, loc+".name", "invalid type name %q", t.Name)
		} else {
			loc = "types." + t.Name
		}
		if seenTypes[t.Name] {
			add(ErrDuplicateType, loc, "type %q declared more than once", t.Name)
			continue
		}
		seenTypes[t.Name] = true
		errs = append(errs, validateType(s.types[t.Name], loc, s)...)
	}

	if len(a.Capabilities) == 0 {
		add(ErrNoCapabilities, "capabilities", "at least one target manifest is required")
	}
	for target, m := range a.Capabilities {
		loc := "capabilities." + string(target)
		if _, ok := ParseTarget(string(target)); !ok {
			add(ErrUnknownTarget, loc, "unknown target %q", target)
			continue
		}
		for _, kind := range m.Kinds() {
			if !kind.IsValid() {
				add(ErrUnknownKind, loc+"."+string(kind), "unknown scalar kind %q", kind)
				continue
			}
			for _, op := range m[kind] {
				switch {
				case !op.IsValid():
					add(ErrUnknownOperator, loc+"."+string(kind), "unknown operator %q", op)
				case !Applicable(kind, op):
					add(ErrInapplicableOperator, loc+"."+string(kind), "operator %q is not valid for %s", op, kind)
				}
			}
		}
	}

	for _, name := range sortedRootNames(a.Roots) {
		r := a.Roots[name]
		loc := "roots." + name
		if !ValidName(name) {
			add(ErrInvalidName, loc, "invalid root name %q", name)
		}
		if _, ok := s.types[r.Type]; !ok {
			add(ErrInvalidRoot, loc+".type", "unknown type %q", r.Type)
		}
		if !ValidView(r.View) {
			add(ErrInvalidRoot, loc+".view", "invalid view name %q", r.View)
		}
	}

	return errs
}

func validateType(t *TypeDef, loc string, s *CompiledSchema) []*CompileError {
	var errs []*CompileError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, &CompileError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool, len(t.Fields))
	for i := range t.Fields {
		f := &t.Fields[i]
		floc := fmt.Sprintf("%s.fields[%d]", loc, i)
		if !ValidName(f.Name) {
			add(ErrInvalidName, floc+".name", "invalid field name %q", f.Name)
		} else {
			floc = loc + ".fields." + f.Name
		}
		if seen[f.Name] {
			add(ErrDuplicateField, floc, "field %q declared more than once", f.Name)
			continue
		}
		seen[f.Name] = true

		switch {
		case (f.Kind == "") == (f.Type == ""):
			add(ErrFieldShape, floc, "exactly one of kind or type must be set")
		case f.Kind != "" && !f.Kind.IsValid():
			add(ErrUnknownKind, floc+".kind", "unknown scalar kind %q", f.Kind)
		case f.Type != "":
			if _, ok := s.types[f.Type]; !ok {
				add(ErrUnknownType, floc+".type", "unknown type %q", f.Type)
			}
		}

		if f.Auth != nil {
			errs = append(errs, validateRule(f.Auth, floc+".auth", s)...)
		}
	}

	if t.IDField != "" {
		f, ok := t.Field(t.IDField)
		switch {
		case !ok:
			add(ErrInvalidIDField, loc+".id_field", "id field %q is not declared", t.IDField)
		case f.IsObject() || f.List:
			add(ErrInvalidIDField, loc+".id_field", "id field %q must be a scalar", t.IDField)
		}
	}
	return errs
}

// validateRule rejects rules that can never be evaluated, including custom
// rules whose operator a target does not offer for the compared kind.
func validateRule(r *Rule, loc string, s *CompiledSchema) []*CompileError {
	var errs []*CompileError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, &CompileError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if len(r.Roles) == 0 && len(r.Permissions) == 0 && r.Custom == nil {
		add(ErrEmptyRule, loc, "rule must name a role, a permission, or a custom check")
		return errs
	}
	c := r.Custom
	if c == nil {
		return errs
	}

	cloc := loc + ".custom"
	switch {
	case c.Name != "" && c.Path != "":
		add(ErrInvalidCustomRule, cloc, "name and path are mutually exclusive")
		return errs
	case c.Name == "" && c.Path == "":
		add(ErrInvalidCustomRule, cloc, "one of name or path is required")
		return errs
	case c.Name != "":
		return errs
	}

	if _, err := jp.ParseString(c.Path); err != nil {
		add(ErrInvalidJSONPath, cloc+".path", "invalid JSONPath %q: %v", c.Path, err)
	}
	if c.Equals == "" {
		add(ErrInvalidCustomRule, cloc+".equals", "equals must name a user attribute")
	}
	kind := c.EffectiveKind()
	if !kind.IsValid() {
		add(ErrUnknownKind, cloc+".kind", "unknown scalar kind %q", kind)
		return errs
	}
	op := c.EffectiveOperator()
	if !op.IsValid() {
		add(ErrUnknownOperator, cloc+".operator", "unknown operator %q", op)
		return errs
	}
	if !slices.Contains(CustomOperators, op) {
		add(ErrInvalidCustomRule, cloc+".operator", "operator %q cannot be used in a custom rule", op)
		return errs
	}
	for _, target := range s.Targets() {
		m := s.capabilities[target]
		if !m.Supports(kind, op) {
			add(ErrRuleOperator, cloc+".operator",
				"operator %q for %s is not in the %s capability manifest", op, kind, target)
		}
	}
	return errs
}

func sortedRootNames(roots map[string]Root) []string {
	names := make([]string, 0, len(roots))
	for n := range roots {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func joinCompileErrors(errs []*CompileError) error {
	if len(errs) == 1 {
		return errs[0]
	}
	all := make([]error, len(errs))
	for i, e := range errs {
		all[i] = e
	}
	return errors.Join(all...)
}

// CompileErrors flattens an error returned by New, Parse, or Load into its
// individual compile errors. Errors of other types yield nil.
func CompileErrors(err error) []*CompileError {
	var ce *CompileError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*CompileError
		for _, e := range joined.Unwrap() {
			if errors.As(e, &ce) {
				out = append(out, ce)
			}
		}
		return out
	}
	if errors.As(err, &ce) {
		return []*CompileError{ce}
	}
	return nil
}
