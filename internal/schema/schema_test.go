package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blogArtifact() Artifact {
	return Artifact{
		Version: "1",
		Types: []TypeDef{
			{
				Name: "User",
				Fields: []FieldDef{
					{Name: "id", Kind: KindID},
					{Name: "name", Kind: KindString},
					{Name: "email", Kind: KindString, Nullable: true, Auth: &Rule{Roles: []string{"admin"}}},
					{Name: "posts", Type: "Post", List: true},
				},
			},
			{
				Name: "Post",
				Fields: []FieldDef{
					{Name: "id", Kind: KindID},
					{Name: "title", Kind: KindString},
					{Name: "views", Kind: KindInt},
				},
			},
		},
		Roots: map[string]Root{
			"users": {Type: "User", View: "v_user", List: true},
		},
		Capabilities: map[Target]Manifest{
			TargetPostgres: DefaultManifest(TargetPostgres),
			TargetSQLite:   DefaultManifest(TargetSQLite),
		},
	}
}

func requireCode(t *testing.T, err error, code string) *CompileError {
	t.Helper()
	require.Error(t, err)
	for _, ce := range CompileErrors(err) {
		if ce.Code == code {
			return ce
		}
	}
	t.Fatalf("expected compile error %s, got: %v", code, err)
	return nil
}

func TestNewBuildsSchema(t *testing.T) {
	s, err := New(blogArtifact())
	require.NoError(t, err)

	assert.Equal(t, "1", s.Version())
	assert.Equal(t, []string{"Post", "User"}, s.TypeNames())
	assert.Equal(t, []Target{TargetPostgres, TargetSQLite}, s.Targets())
	assert.False(t, s.HasCustomRules())

	user, ok := s.Type("User")
	require.True(t, ok)
	assert.Equal(t, "id", user.IDField, "id field defaults to a field named id")
	assert.True(t, user.HasIdentity())

	posts, ok := user.Field("posts")
	require.True(t, ok)
	assert.True(t, posts.IsObject())
	assert.True(t, posts.List)

	_, ok = user.Field("missing")
	assert.False(t, ok)

	root, ok := s.Root("users")
	require.True(t, ok)
	assert.Equal(t, "v_user", root.View)
}

func TestNewDoesNotAliasInput(t *testing.T) {
	a := blogArtifact()
	s, err := New(a)
	require.NoError(t, err)

	a.Types[0].Fields[2].Auth.Roles[0] = "guest"
	a.Capabilities[TargetPostgres][KindString] = nil

	user, _ := s.Type("User")
	email, _ := user.Field("email")
	assert.Equal(t, []string{"admin"}, email.Auth.Roles)

	m, ok := s.Manifest(TargetPostgres)
	require.True(t, ok)
	assert.True(t, m.Supports(KindString, OpEq))
}

func TestArtifactRoundTrips(t *testing.T) {
	s, err := New(blogArtifact())
	require.NoError(t, err)

	a := s.Artifact()
	require.Len(t, a.Types, 2)
	assert.Equal(t, "Post", a.Types[0].Name)
	assert.Equal(t, "id", a.Types[1].IDField, "defaulted id field is written out")

	again, err := New(a)
	require.NoError(t, err)
	assert.Equal(t, s.TypeNames(), again.TypeNames())
	assert.Equal(t, s.RootNames(), again.RootNames())
	assert.Equal(t, s.Targets(), again.Targets())

	a.Capabilities[TargetPostgres][KindString] = nil
	m, _ := s.Manifest(TargetPostgres)
	assert.True(t, m.Supports(KindString, OpEq), "artifact is a copy")
}

func TestValidateRejectsStructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Artifact)
		code   string
	}{
		{"missing version", func(a *Artifact) { a.Version = "" }, ErrMissingVersion},
		{"no types", func(a *Artifact) { a.Types = nil }, ErrNoTypes},
		{"bad type name", func(a *Artifact) { a.Types[1].Name = "Po st" }, ErrInvalidName},
		{"duplicate type", func(a *Artifact) { a.Types = append(a.Types, a.Types[1]) }, ErrDuplicateType},
		{"duplicate field", func(a *Artifact) {
			a.Types[1].Fields = append(a.Types[1].Fields, FieldDef{Name: "title", Kind: KindString})
		}, ErrDuplicateField},
		{"field with kind and type", func(a *Artifact) { a.Types[1].Fields[1].Type = "User" }, ErrFieldShape},
		{"field with neither", func(a *Artifact) { a.Types[1].Fields[1].Kind = "" }, ErrFieldShape},
		{"unknown kind", func(a *Artifact) { a.Types[1].Fields[1].Kind = "Text" }, ErrUnknownKind},
		{"unknown nested type", func(a *Artifact) { a.Types[0].Fields[3].Type = "Comment" }, ErrUnknownType},
		{"missing id field", func(a *Artifact) { a.Types[1].IDField = "slug" }, ErrInvalidIDField},
		{"object id field", func(a *Artifact) { a.Types[0].IDField = "posts" }, ErrInvalidIDField},
		{"root unknown type", func(a *Artifact) { a.Roots["x"] = Root{Type: "Nope", View: "v"} }, ErrInvalidRoot},
		{"root bad view", func(a *Artifact) { a.Roots["x"] = Root{Type: "User", View: "v; drop"} }, ErrInvalidRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := blogArtifact()
			tt.mutate(&a)
			_, err := New(a)
			requireCode(t, err, tt.code)
		})
	}
}

func TestValidateRejectsBadManifests(t *testing.T) {
	tests := []struct {
		name     string
		manifest map[Target]Manifest
		code     string
	}{
		{"none", nil, ErrNoCapabilities},
		{"unknown target", map[Target]Manifest{"oracle": {KindString: {OpEq}}}, ErrUnknownTarget},
		{"unknown operator", map[Target]Manifest{TargetSQLite: {KindString: {"like"}}}, ErrUnknownOperator},
		{"unknown kind", map[Target]Manifest{TargetSQLite: {"Text": {OpEq}}}, ErrUnknownKind},
		{"contains on Int", map[Target]Manifest{TargetSQLite: {KindInt: {OpContains}}}, ErrInapplicableOperator},
		{"gt on Boolean", map[Target]Manifest{TargetSQLite: {KindBoolean: {OpGt}}}, ErrInapplicableOperator},
		{"eq on JSON", map[Target]Manifest{TargetSQLite: {KindJSON: {OpEq}}}, ErrInapplicableOperator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := blogArtifact()
			a.Capabilities = tt.manifest
			_, err := New(a)
			requireCode(t, err, tt.code)
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	a := blogArtifact()
	a.Version = ""
	a.Types[1].Fields[1].Kind = "Text"

	_, err := New(a)
	errs := CompileErrors(err)
	require.Len(t, errs, 2)
	assert.Equal(t, ErrMissingVersion, errs[0].Code)
	assert.Equal(t, ErrUnknownKind, errs[1].Code)
	assert.Equal(t, "types.Post.fields.title.kind", errs[1].Field)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name string
		rule *Rule
		code string
	}{
		{"empty rule", &Rule{}, ErrEmptyRule},
		{"name and path", &Rule{Custom: &CustomRule{Name: "owner", Path: "$.id", Equals: "user_id"}}, ErrInvalidCustomRule},
		{"neither name nor path", &Rule{Custom: &CustomRule{Equals: "user_id"}}, ErrInvalidCustomRule},
		{"missing equals", &Rule{Custom: &CustomRule{Path: "$.author_id"}}, ErrInvalidCustomRule},
		{"bad path", &Rule{Custom: &CustomRule{Path: "$.a[1", Equals: "user_id"}}, ErrInvalidJSONPath},
		{"unknown operator", &Rule{Custom: &CustomRule{Path: "$.a", Equals: "user_id", Operator: "like"}}, ErrUnknownOperator},
		{"operator not usable in rules", &Rule{Custom: &CustomRule{Path: "$.a", Equals: "user_id", Operator: OpGt}}, ErrInvalidCustomRule},
		{"operator missing from manifest", &Rule{Custom: &CustomRule{Path: "$.a", Equals: "user_id", Operator: OpContains, Kind: KindBoolean}}, ErrRuleOperator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := blogArtifact()
			a.Types[1].Fields[2].Auth = tt.rule
			_, err := New(a)
			requireCode(t, err, tt.code)
		})
	}
}

func TestRuleOperatorCheckedAgainstEveryTarget(t *testing.T) {
	a := blogArtifact()
	a.Capabilities[TargetSQLite] = Manifest{KindString: {OpEq}}
	a.Types[1].Fields[2].Auth = &Rule{Custom: &CustomRule{Path: "$.author_id", Equals: "user_id", Operator: OpIn}}

	_, err := New(a)
	ce := requireCode(t, err, ErrRuleOperator)
	assert.Contains(t, ce.Message, "sqlite")
	assert.Equal(t, "types.Post.fields.views.auth.custom.operator", ce.Field)
}

func TestValidCustomRules(t *testing.T) {
	a := blogArtifact()
	a.Types[1].Fields[2].Auth = &Rule{Custom: &CustomRule{Path: "$.author_id", Equals: "user_id"}}
	a.Types[1].Fields[1].Auth = &Rule{Roles: []string{"editor"}, Custom: &CustomRule{Name: "published"}}

	s, err := New(a)
	require.NoError(t, err)
	assert.True(t, s.HasCustomRules())
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`{"version":"1","types":[],"capabilities":{},"extra":true}`))
	ce := requireCode(t, err, ErrInvalidArtifact)
	assert.Contains(t, ce.Message, "extra")
}

func TestParseJSONArtifact(t *testing.T) {
	data := []byte(`{
		"version": "2024.1",
		"types": [{"name": "Tag", "id_field": "slug", "fields": [
			{"name": "slug", "kind": "String"},
			{"name": "count", "kind": "Int", "auth": {"permissions": ["tags:read"]}}
		]}],
		"roots": {"tags": {"type": "Tag", "view": "public.v_tag", "list": true}},
		"capabilities": {"mysql": {"String": ["eq", "in"], "Int": ["eq", "gt"]}}
	}`)

	s, err := Parse(data)
	require.NoError(t, err)

	tag, ok := s.Type("Tag")
	require.True(t, ok)
	assert.Equal(t, "slug", tag.IDField)
	count, _ := tag.Field("count")
	assert.Equal(t, []string{"tags:read"}, count.Auth.Permissions)

	m, ok := s.Manifest(TargetMySQL)
	require.True(t, ok)
	assert.True(t, m.Supports(KindInt, OpGt))
	assert.False(t, m.Supports(KindInt, OpLt))
	_, ok = s.Manifest(TargetPostgres)
	assert.False(t, ok)
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"version": "1",
		"types": [{"name": "A", "fields": [{"name": "id", "kind": "ID"}]}],
		"capabilities": {"sqlite": {"ID": ["eq"]}}
	}`), 0o644))
	s, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, s.TypeNames())

	cuePath := filepath.Join(dir, "schema.cue")
	require.NoError(t, os.WriteFile(cuePath, []byte(`
		_ops: ["eq", "in"]
		schema: {
			version: "1"
			types: [{
				name: "B"
				fields: [{name: "id", kind: "ID"}, {name: "n", kind: "Int"}]
			}]
			capabilities: sqlite: {ID: _ops, Int: _ops}
		}
	`), 0o644))
	s, err = Load(cuePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, s.TypeNames())
	m, _ := s.Manifest(TargetSQLite)
	assert.True(t, m.Supports(KindInt, OpIn))

	_, err = Load(filepath.Join(dir, "schema.yaml"))
	requireCode(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCompileCUEReportsPosition(t *testing.T) {
	_, err := CompileCUE([]byte(`
version: "1"
types: [{name: "A", fields: [{name: "id", kind: "ID"}]}]
capabilities: sqlite: ID: ["eq"]
version: "2"
`), "bad.cue")
	ce := requireCode(t, err, ErrCUEEvaluation)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, ce.Error(), "bad.cue")
}

func TestCompileCUERejectsIncompleteValues(t *testing.T) {
	_, err := CompileCUE([]byte(`
version: string
types: [{name: "A", fields: [{name: "id", kind: "ID"}]}]
capabilities: sqlite: ID: ["eq"]
`), "open.cue")
	requireCode(t, err, ErrCUEEvaluation)
}

func TestDefaultManifests(t *testing.T) {
	for _, target := range AllTargets() {
		m := DefaultManifest(target)
		require.NotNil(t, m, target)
		for kind, ops := range m {
			for _, op := range ops {
				assert.True(t, Applicable(kind, op), "%s: %s on %s", target, op, kind)
			}
		}
	}

	assert.True(t, DefaultManifest(TargetPostgres).Supports(KindString, OpMatches))
	assert.True(t, DefaultManifest(TargetMySQL).Supports(KindString, OpMatches))
	assert.False(t, DefaultManifest(TargetSQLite).Supports(KindString, OpMatches))
	assert.False(t, DefaultManifest(TargetSQLServer).Supports(KindString, OpMatches))
	assert.Nil(t, DefaultManifest("oracle"))
}

func TestParseTarget(t *testing.T) {
	target, ok := ParseTarget("postgresql")
	assert.True(t, ok)
	assert.Equal(t, TargetPostgres, target)

	_, ok = ParseTarget("postgres")
	assert.False(t, ok)
}

func TestValidNames(t *testing.T) {
	assert.True(t, ValidName("created_at"))
	assert.True(t, ValidName("_private"))
	assert.False(t, ValidName("1st"))
	assert.False(t, ValidName("a-b"))
	assert.False(t, ValidName("a'b"))
	assert.False(t, ValidName(""))

	assert.True(t, ValidView("v_user"))
	assert.True(t, ValidView("app.v_user"))
	assert.False(t, ValidView("a.b.c"))
	assert.False(t, ValidView("v_user where 1=1"))
}
