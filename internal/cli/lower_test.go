package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLower_Postgres(t *testing.T) {
	out, err := execute(t, "", "lower", blogJSON,
		"--type", "User", "--target", "postgresql",
		"--where", `{"name": {"eq": "Ada"}}`, "--limit", "10")
	require.NoError(t, err)

	assert.Contains(t, out, `WHERE  "data"->>'name' = $1`)
	assert.Contains(t, out, `SQL    SELECT "data" FROM "app"."v_user" WHERE "data"->>'name' = $1 ORDER BY "data"->>'id' ASC LIMIT $2`)
	assert.Contains(t, out, `PARAMS ["Ada", 10]`)
}

func TestLower_SQLiteNestedList(t *testing.T) {
	out, err := execute(t, "", "lower", blogJSON,
		"--type", "User", "--target", "sqlite",
		"--where", `{"posts": {"title": {"contains": "Go"}}}`, "--format", "json")
	require.NoError(t, err)

	data := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, "sqlite", data["target"])
	assert.Equal(t, "app.v_user", data["view"])
	assert.Contains(t, data["where"], `json_each("data", '$.posts')`)
	assert.NotContains(t, data["statement"], "Go", "literals are always bound")
	assert.Equal(t, []any{"*Go*"}, data["where_params"])
}

func TestLower_Predicate(t *testing.T) {
	out, err := execute(t, "", "lower", blogJSON,
		"--type", "Post", "--target", "mysql", "--view", "app.v_post",
		"--predicate", `{"field": ["views"], "op": "gt", "value": 100}`, "--format", "json")
	require.NoError(t, err, out)

	data := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, "app.v_post", data["view"])
	assert.Equal(t, []any{float64(100)}, data["where_params"])
}

func TestLower_NoFilter(t *testing.T) {
	out, err := execute(t, "", "lower", blogJSON, "--type", "Post", "--target", "sqlite")
	require.NoError(t, err)
	assert.NotContains(t, out, "WHERE  ")
	assert.Contains(t, out, `SQL    SELECT "data" FROM "app"."v_post" ORDER BY json_extract("data", '$.id') ASC`)
	assert.Contains(t, out, "PARAMS []")
}

func TestLower_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{
			name: "operator outside manifest",
			args: []string{"--type", "User", "--target", "sqlite", "--where", `{"name": {"matches": "^A"}}`},
			code: ExitFailure,
			want: "UNSUPPORTED_OPERATOR",
		},
		{
			name: "unknown field",
			args: []string{"--type", "User", "--target", "postgresql", "--where", `{"nickname": {"eq": "x"}}`},
			code: ExitFailure,
			want: "MALFORMED_PATH",
		},
		{
			name: "bad where json",
			args: []string{"--type", "User", "--target", "postgresql", "--where", `{"name":`},
			code: ExitFailure,
			want: "invalid filter",
		},
		{
			name: "unknown target",
			args: []string{"--type", "User", "--target", "oracle"},
			code: ExitCommandError,
			want: "invalid --target",
		},
		{
			name: "unknown type",
			args: []string{"--type", "Account", "--target", "sqlite"},
			code: ExitCommandError,
			want: "invalid --type",
		},
		{
			name: "type without root",
			args: []string{"--type", "Profile", "--target", "sqlite"},
			code: ExitCommandError,
			want: "pass --view",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", append([]string{"lower", blogJSON}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestLower_WhereAndPredicateExclusive(t *testing.T) {
	_, err := execute(t, "", "lower", blogJSON, "--type", "User", "--target", "sqlite",
		"--where", `{}`, "--predicate", `{"and": []}`)
	require.Error(t, err)
}
