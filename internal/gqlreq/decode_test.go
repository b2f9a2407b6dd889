package gqlreq

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/predicate"
	"github.com/roach88/viewql/internal/projection"
	"github.com/roach88/viewql/internal/schema"
	"github.com/roach88/viewql/internal/testutil"
)

func decode(t *testing.T, query string, vars map[string]any) (*Query, error) {
	t.Helper()
	return Decode(testutil.BlogSchema(t), Params{Query: query, Variables: vars})
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, code, e.Code, e.Message)
}

func TestDecodeRootAndSelection(t *testing.T) {
	q, err := decode(t, `{ users { id name profile { city } posts { t: title } } }`, nil)
	require.NoError(t, err)

	assert.Equal(t, "users", q.Root)
	assert.Equal(t, "users", q.ResponseKey)
	assert.Equal(t, "User", q.Type)
	assert.Equal(t, testutil.UserView, q.View)
	assert.True(t, q.List)
	assert.Nil(t, q.Where)
	assert.Nil(t, q.Limit)
	assert.Equal(t, projection.SelectionSet{
		projection.Leaf("id"),
		projection.Leaf("name"),
		projection.Nested("profile", projection.Leaf("city")),
		projection.Nested("posts", projection.Leaf("title").As("t")),
	}, q.Selection)
}

func TestDecodeArguments(t *testing.T) {
	q, err := decode(t, `query($min: Int, $n: Int = 5) {
		adults: users(where: {age: {gte: $min}, active: {eq: true}}, limit: $n, offset: 2) { id }
	}`, map[string]any{"min": json.Number("18")})
	require.NoError(t, err)

	assert.Equal(t, "adults", q.ResponseKey)
	require.NotNil(t, q.Limit)
	assert.Equal(t, uint32(5), *q.Limit)
	require.NotNil(t, q.Offset)
	assert.Equal(t, uint32(2), *q.Offset)
	assert.Equal(t, predicate.And{Predicates: []predicate.Predicate{
		predicate.NewField("active", schema.OpEq, ir.IRBool(true)),
		predicate.NewField("age", schema.OpGte, ir.IRInt(18)),
	}}, q.Where)
}

func TestDecodeIDArgument(t *testing.T) {
	q, err := decode(t, `{ user(id: "u1") { name } }`, nil)
	require.NoError(t, err)
	assert.False(t, q.List)
	assert.Equal(t, predicate.NewField("id", schema.OpEq, ir.IRString("u1")), q.Where)

	v, ok := predicate.EqualityOn(q.Where, "id")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("u1"), v)

	q, err = decode(t, `{ user(id: "u1", where: {active: {eq: true}}) { name } }`, nil)
	require.NoError(t, err)
	_, ok = predicate.EqualityOn(q.Where, "id")
	assert.True(t, ok)
}

func TestDecodeFragments(t *testing.T) {
	q, err := decode(t, `
		query {
			users {
				id
				...Contact
				... on User { name posts { id } }
				posts { title }
			}
		}
		fragment Contact on User { name email }
	`, nil)
	require.NoError(t, err)
	assert.Equal(t, projection.SelectionSet{
		projection.Leaf("id"),
		projection.Leaf("name"),
		projection.Leaf("email"),
		projection.Nested("posts", projection.Leaf("id"), projection.Leaf("title")),
	}, q.Selection)
}

func TestDecodeDirectives(t *testing.T) {
	query := `query($full: Boolean!) { users { id email @include(if: $full) name @skip(if: $full) } }`

	q, err := decode(t, query, map[string]any{"full": true})
	require.NoError(t, err)
	assert.Equal(t, projection.SelectionSet{projection.Leaf("id"), projection.Leaf("email")}, q.Selection)

	q, err = decode(t, query, map[string]any{"full": false})
	require.NoError(t, err)
	assert.Equal(t, projection.SelectionSet{projection.Leaf("id"), projection.Leaf("name")}, q.Selection)
}

func TestDecodeOperationName(t *testing.T) {
	s := testutil.BlogSchema(t)
	doc := `query A { users { id } } query B { posts { id } }`

	q, err := Decode(s, Params{Query: doc, OperationName: "B"})
	require.NoError(t, err)
	assert.Equal(t, "Post", q.Type)

	_, err = Decode(s, Params{Query: doc})
	requireCode(t, err, CodeUnknownOperation)

	_, err = Decode(s, Params{Query: doc, OperationName: "C"})
	requireCode(t, err, CodeUnknownOperation)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		vars  map[string]any
		code  string
	}{
		{"syntax", `{ users { id }`, nil, CodeParse},
		{"mutation", `mutation { users { id } }`, nil, CodeUnsupportedOperation},
		{"two roots", `{ users { id } posts { id } }`, nil, CodeSingleRoot},
		{"no roots", `query($x: Boolean!) { users @skip(if: $x) { id } }`, map[string]any{"x": true}, CodeSingleRoot},
		{"unknown root", `{ accounts { id } }`, nil, CodeUnknownRoot},
		{"unknown argument", `{ users(first: 2) { id } }`, nil, CodeInvalidArgument},
		{"negative limit", `{ users(limit: -1) { id } }`, nil, CodeInvalidArgument},
		{"fractional offset", `{ users(offset: 1.5) { id } }`, nil, CodeInvalidArgument},
		{"where not object", `{ users(where: "x") { id } }`, nil, CodeInvalidArgument},
		{"bad where", `{ users(where: {name: {eq: ["a"]}}) { id } }`, nil, CodeInvalidArgument},
		{"nested argument", `{ users { posts(limit: 1) { id } } }`, nil, CodeInvalidArgument},
		{"missing variable", `query($id: ID!) { user(id: $id) { id } }`, nil, CodeInvalidVariable},
		{"unknown fragment", `{ users { ...Nope } }`, nil, CodeInvalidFragment},
		{"wrong fragment type", `{ users { ...P } } fragment P on Post { id }`, nil, CodeInvalidFragment},
		{"fragment cycle", `{ users { ...A } } fragment A on User { posts { ...B } } fragment B on Post { owner_id ...A }`, nil, CodeInvalidFragment},
		{"alias conflict", `{ users { x: id x: name } }`, nil, CodeFieldConflict},
		{"leaf and object", `{ users { posts posts { id } } }`, nil, CodeFieldConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(t, tt.query, tt.vars)
			requireCode(t, err, tt.code)
			assert.True(t, IsRequestError(err))
		})
	}
}

func TestParseErrorCarriesLocation(t *testing.T) {
	_, err := decode(t, "{\n  users { id ", nil)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.NotEmpty(t, e.Locations)
	assert.Equal(t, 2, e.Locations[0].Line)
	assert.Contains(t, e.Details(), "locations")
}
