// Package testutil holds fixtures shared by package tests: the blog schema,
// its documents and callers, and a scriptable in-memory adapter.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewql/internal/schema"
)

// Views of the blog schema.
const (
	UserView = "app.v_user"
	PostView = "app.v_post"
)

// BlogArtifact describes users with an embedded profile and posts.
//
// Rules: User.email and Profile.ssn need role admin; Post.notes is visible
// only to the post's owner (custom path rule on owner_id).
func BlogArtifact() schema.Artifact {
	admin := &schema.Rule{Roles: []string{"admin"}}
	caps := make(map[schema.Target]schema.Manifest)
	for _, t := range schema.AllTargets() {
		caps[t] = schema.DefaultManifest(t)
	}
	return schema.Artifact{
		Version: "blog-1",
		Types: []schema.TypeDef{
			{
				Name:    "User",
				IDField: "id",
				Fields: []schema.FieldDef{
					{Name: "id", Kind: schema.KindID},
					{Name: "name", Kind: schema.KindString},
					{Name: "email", Kind: schema.KindString, Nullable: true, Auth: admin},
					{Name: "age", Kind: schema.KindInt, Nullable: true},
					{Name: "active", Kind: schema.KindBoolean},
					{Name: "tags", Kind: schema.KindString, List: true},
					{Name: "profile", Type: "Profile", Nullable: true},
					{Name: "posts", Type: "Post", List: true},
				},
			},
			{
				Name: "Profile",
				Fields: []schema.FieldDef{
					{Name: "city", Kind: schema.KindString},
					{Name: "ssn", Kind: schema.KindString, Auth: admin},
				},
			},
			{
				Name:    "Post",
				IDField: "id",
				Fields: []schema.FieldDef{
					{Name: "id", Kind: schema.KindID},
					{Name: "title", Kind: schema.KindString},
					{Name: "views", Kind: schema.KindInt},
					{Name: "owner_id", Kind: schema.KindID},
					{Name: "notes", Kind: schema.KindString, Nullable: true, Auth: &schema.Rule{
						Custom: &schema.CustomRule{Path: "$.owner_id", Equals: "user_id"},
					}},
				},
			},
		},
		Roots: map[string]schema.Root{
			"users": {Type: "User", View: UserView, List: true},
			"user":  {Type: "User", View: UserView},
			"posts": {Type: "Post", View: PostView, List: true},
		},
		Capabilities: caps,
	}
}

// BlogSchema compiles BlogArtifact.
func BlogSchema(t testing.TB) *schema.CompiledSchema {
	t.Helper()
	s, err := schema.New(BlogArtifact())
	require.NoError(t, err)
	return s
}
