package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput() FingerprintInput {
	return FingerprintInput{
		Query: map[string]any{
			"type":  "User",
			"view":  "v_user",
			"where": map[string]any{"field": []any{"name"}, "op": "eq", "value": "ada"},
		},
		Variables: map[string]any{"limit": 10},
		Scope: Scope{
			TenantID:    "acme",
			Roles:       []string{"editor", "admin"},
			Permissions: []string{"read"},
		},
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a, err := Fingerprint(baseInput())
	require.NoError(t, err)
	b, err := Fingerprint(baseInput())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_RoleOrderInsensitive(t *testing.T) {
	in := baseInput()
	reordered := baseInput()
	reordered.Scope.Roles = []string{"admin", "editor", "admin"}

	assert.Equal(t, MustFingerprint(in), MustFingerprint(reordered))
}

func TestFingerprint_ScopeSeparatesTenants(t *testing.T) {
	other := baseInput()
	other.Scope.TenantID = "globex"

	assert.NotEqual(t, MustFingerprint(baseInput()), MustFingerprint(other))
}

func TestFingerprint_VariablesMatter(t *testing.T) {
	other := baseInput()
	other.Variables = map[string]any{"limit": 11}

	assert.NotEqual(t, MustFingerprint(baseInput()), MustFingerprint(other))
}

func TestFingerprint_AttributesMatterOnlyWhenSet(t *testing.T) {
	empty := baseInput()
	empty.Scope.Attributes = map[string]any{}
	assert.Equal(t, MustFingerprint(baseInput()), MustFingerprint(empty))

	other := baseInput()
	other.Scope.Attributes = map[string]any{"org": "acme"}
	assert.NotEqual(t, MustFingerprint(baseInput()), MustFingerprint(other))
}

func TestFingerprint_DomainSeparated(t *testing.T) {
	data := []byte(`{}`)
	assert.NotEqual(t, hashWithDomain(DomainFingerprint, data), hashWithDomain("other/v1", data))
}

func TestEntityKey_RoundTrip(t *testing.T) {
	key := EntityKey("User", "42")
	assert.Equal(t, "User:42", key)

	typ, id, ok := SplitEntityKey(key)
	require.True(t, ok)
	assert.Equal(t, "User", typ)
	assert.Equal(t, "42", id)

	assert.Equal(t, "Post:*", WildcardKey("Post"))
}
