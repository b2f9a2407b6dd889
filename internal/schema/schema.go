package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Artifact is the serialized form of a compiled schema as produced by the
// external schema compiler.
type Artifact struct {
	Version      string              `json:"version"`
	Types        []TypeDef           `json:"types"`
	Roots        map[string]Root     `json:"roots,omitempty"`
	Capabilities map[Target]Manifest `json:"capabilities"`
}

// CompiledSchema is the validated, immutable runtime view of an Artifact.
// It is safe for concurrent use; nothing mutates it after New returns.
type CompiledSchema struct {
	version      string
	types        map[string]*TypeDef
	typeNames    []string
	roots        map[string]Root
	capabilities map[Target]Manifest
	hasCustom    bool
}

// New validates an artifact and builds the runtime schema.
// All problems are reported together; each is a *CompileError.
func New(a Artifact) (*CompiledSchema, error) {
	s := &CompiledSchema{
		version:      a.Version,
		types:        make(map[string]*TypeDef, len(a.Types)),
		roots:        make(map[string]Root, len(a.Roots)),
		capabilities: make(map[Target]Manifest, len(a.Capabilities)),
	}

	for _, t := range a.Types {
		td := copyType(t)
		if _, dup := s.types[td.Name]; !dup {
			s.types[td.Name] = td
			s.typeNames = append(s.typeNames, td.Name)
		}
	}
	sort.Strings(s.typeNames)
	for name, r := range a.Roots {
		s.roots[name] = r
	}
	for target, m := range a.Capabilities {
		cp := make(Manifest, len(m))
		for kind, ops := range m {
			cp[kind] = slices.Clone(ops)
		}
		s.capabilities[target] = cp
	}

	if errs := validate(a, s); len(errs) > 0 {
		return nil, joinCompileErrors(errs)
	}

	for _, td := range s.types {
		for i := range td.Fields {
			if rule := td.Fields[i].Auth; rule != nil && rule.Custom != nil {
				s.hasCustom = true
			}
		}
	}
	return s, nil
}

func copyType(t TypeDef) *TypeDef {
	td := &TypeDef{
		Name:    t.Name,
		IDField: t.IDField,
		Fields:  make([]FieldDef, len(t.Fields)),
		index:   make(map[string]int, len(t.Fields)),
	}
	for i, f := range t.Fields {
		f.Auth = copyRule(f.Auth)
		td.Fields[i] = f
		if _, dup := td.index[f.Name]; !dup {
			td.index[f.Name] = i
		}
	}
	if td.IDField == "" {
		if _, ok := td.index["id"]; ok {
			td.IDField = "id"
		}
	}
	return td
}

func copyRule(r *Rule) *Rule {
	if r == nil {
		return nil
	}
	cp := &Rule{
		Roles:       slices.Clone(r.Roles),
		Permissions: slices.Clone(r.Permissions),
	}
	if r.Custom != nil {
		c := *r.Custom
		cp.Custom = &c
	}
	return cp
}

// Version returns the artifact version string.
func (s *CompiledSchema) Version() string {
	return s.version
}

// Type looks up a type by name.
func (s *CompiledSchema) Type(name string) (*TypeDef, bool) {
	t, ok := s.types[name]
	return t, ok
}

// TypeNames returns all type names in sorted order.
func (s *CompiledSchema) TypeNames() []string {
	return slices.Clone(s.typeNames)
}

// Root looks up a query root by GraphQL field name.
func (s *CompiledSchema) Root(name string) (Root, bool) {
	r, ok := s.roots[name]
	return r, ok
}

// RootNames returns the names of all query roots in sorted order.
func (s *CompiledSchema) RootNames() []string {
	names := make([]string, 0, len(s.roots))
	for n := range s.roots {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Manifest returns the capability manifest for a target.
func (s *CompiledSchema) Manifest(target Target) (Manifest, bool) {
	m, ok := s.capabilities[target]
	return m, ok
}

// Targets returns every target the schema was compiled for, in stable order.
func (s *CompiledSchema) Targets() []Target {
	var out []Target
	for _, t := range AllTargets() {
		if _, ok := s.capabilities[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// HasCustomRules reports whether any field carries a document-dependent
// rule. Results of such schemas are per-user.
func (s *CompiledSchema) HasCustomRules() bool {
	return s.hasCustom
}

// Artifact returns a copy of the artifact the schema was built from, with
// types in name order and defaulted id fields filled in.
func (s *CompiledSchema) Artifact() Artifact {
	a := Artifact{
		Version:      s.version,
		Types:        make([]TypeDef, 0, len(s.typeNames)),
		Roots:        make(map[string]Root, len(s.roots)),
		Capabilities: make(map[Target]Manifest, len(s.capabilities)),
	}
	for _, name := range s.typeNames {
		a.Types = append(a.Types, *copyType(*s.types[name]))
	}
	for name, r := range s.roots {
		a.Roots[name] = r
	}
	for target, m := range s.capabilities {
		cp := make(Manifest, len(m))
		for kind, ops := range m {
			cp[kind] = slices.Clone(ops)
		}
		a.Capabilities[target] = cp
	}
	return a
}

// Parse decodes and validates a JSON schema artifact.
// Unknown keys are rejected.
func Parse(data []byte) (*CompiledSchema, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var a Artifact
	if err := dec.Decode(&a); err != nil {
		return nil, &CompileError{
			Code:    ErrInvalidArtifact,
			Field:   "artifact",
			Message: err.Error(),
		}
	}
	return New(a)
}

// Load reads a schema artifact from disk. The format is chosen by extension:
// .json for compiled artifacts, .cue for CUE sources.
func Load(path string) (*CompiledSchema, error) {
	switch filepath.Ext(path) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}
		return Parse(data)
	case ".cue":
		return LoadCUE(path)
	default:
		return nil, &CompileError{
			Code:    ErrUnsupportedFormat,
			Field:   "path",
			Message: fmt.Sprintf("unsupported schema format %q (want .json or .cue)", filepath.Ext(path)),
		}
	}
}

// LoadCUE evaluates a CUE source file and decodes the result as an artifact.
// The artifact is either the whole file or the value at the top-level
// "schema" field.
func LoadCUE(path string) (*CompiledSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return CompileCUE(data, path)
}

// CompileCUE is LoadCUE for in-memory source. filename is used in positions.
func CompileCUE(src []byte, filename string) (*CompiledSchema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	if sv := v.LookupPath(cue.ParsePath("schema")); sv.Exists() {
		v = sv
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return Parse(data)
}
