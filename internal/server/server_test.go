package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/engine"
	"github.com/roach88/viewql/internal/metric"
	"github.com/roach88/viewql/internal/schema"
	"github.com/roach88/viewql/internal/testutil"
)

var quiet = slog.New(slog.DiscardHandler)

type fixture struct {
	server  *Server
	adapter *testutil.FakeAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := metric.NewMetricsRegistry()
	c, err := cache.New(cache.Config{}, cache.WithLogger(quiet), cache.WithMetrics(registry, "result_cache"))
	require.NoError(t, err)

	fake := testutil.NewFakeAdapter(schema.TargetSQLite).SetDocs(testutil.UserView, testutil.BlogUsers())
	e, err := engine.New(testutil.BlogSchema(t), []adapter.Adapter{fake},
		engine.WithCache(c),
		engine.WithLogger(quiet),
		engine.WithMetrics(registry),
		engine.WithRequestIDs(testutil.NewStaticIDs("req-1")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return &fixture{
		server:  New(e, WithMetrics(registry), WithLogger(quiet)),
		adapter: fake,
	}
}

type gqlBody struct {
	Data       map[string]any   `json:"data"`
	Errors     []map[string]any `json:"errors"`
	Extensions map[string]any   `json:"extensions"`
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, gqlBody) {
	t.Helper()
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	var body gqlBody
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func graphql(query string, vars map[string]any, headers map[string]string) *http.Request {
	payload, _ := json.Marshal(map[string]any{"query": query, "variables": vars})
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestGraphQLQuery(t *testing.T) {
	f := newFixture(t)
	w, body := f.do(t, graphql(`{ people: users(limit: 2) { id email } }`, nil, map[string]string{"X-User-Roles": "admin"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, body.Errors)
	people := body.Data["people"].([]any)
	require.Len(t, people, 2)
	assert.Equal(t, map[string]any{"id": "u1", "email": "ada@example.com"}, people[0])
	assert.Equal(t, "req-1", body.Extensions["request_id"])
	assert.Equal(t, false, body.Extensions["cache_hit"])

	_, body = f.do(t, graphql(`{ people: users(limit: 2) { id email } }`, nil, map[string]string{"X-User-Roles": "admin"}))
	assert.Equal(t, true, body.Extensions["cache_hit"])
	assert.Equal(t, 1, f.adapter.Calls())
}

func TestGraphQLMasksByHeaders(t *testing.T) {
	f := newFixture(t)
	query := `query($id: ID!) { user(id: $id) { name email posts { id notes } } }`

	_, body := f.do(t, graphql(query, map[string]any{"id": "u1"}, map[string]string{"X-User-ID": "u1"}))
	require.Empty(t, body.Errors)
	user := body.Data["user"].(map[string]any)
	assert.NotContains(t, user, "email")
	posts := user["posts"].([]any)
	assert.Equal(t, "draft", posts[0].(map[string]any)["notes"])
}

func TestGraphQLOverGET(t *testing.T) {
	f := newFixture(t)
	q := url.Values{}
	q.Set("query", `query($n: Int) { users(limit: $n) { id } }`)
	q.Set("variables", `{"n": 1}`)
	w, body := f.do(t, httptest.NewRequest(http.MethodGet, "/graphql?"+q.Encode(), nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, body.Data["users"], 1)
}

func TestGraphQLErrors(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, graphql(`{ users { id }`, nil, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, body.Errors, 1)
	ext := body.Errors[0]["extensions"].(map[string]any)
	assert.Equal(t, "BAD_REQUEST", ext["kind"])
	assert.Equal(t, "PARSE_ERROR", ext["code"])

	w, body = f.do(t, graphql(`{ users { nope } }`, nil, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "PROJECTION", body.Errors[0]["extensions"].(map[string]any)["kind"])

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":`))
	w, _ = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGraphQLUnavailable(t *testing.T) {
	f := newFixture(t)
	f.adapter.FailNext(&adapter.AdapterError{Kind: adapter.KindPoolExhausted, Target: schema.TargetSQLite, Err: errors.New("timeout")})

	w, body := f.do(t, graphql(`{ users { id } }`, nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	ext := body.Errors[0]["extensions"].(map[string]any)
	assert.Equal(t, true, ext["retryable"])
	assert.NotContains(t, w.Body.String(), "timeout")
}

func TestCascadeInvalidates(t *testing.T) {
	f := newFixture(t)
	f.do(t, graphql(`{ users { id } }`, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/cascade",
		strings.NewReader(`{"updated":[{"type":"User","id":"u2"}]}`))
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"invalidated":1}`, w.Body.String())

	_, body := f.do(t, graphql(`{ users { id } }`, nil, nil))
	assert.Equal(t, false, body.Extensions["cache_hit"])
	assert.Equal(t, 2, f.adapter.Calls())

	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cascade", strings.NewReader(`[]`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string                    `json:"status"`
		Targets map[string]map[string]any `json:"targets"`
		Cache   cache.Stats               `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Targets["sqlite"]["status"])

	f.adapter.SetHealth(errors.New("down"))
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, graphql(`{ users { id } }`, nil, nil))

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `viewql_engine_requests_total{outcome="miss"} 1`)
	assert.Contains(t, w.Body.String(), "viewql_cache_misses_total")
}

func TestUserFromHeaders(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u9")
	req.Header.Set("X-Tenant-ID", "acme")
	req.Header.Set("X-User-Roles", "admin, editor,")
	req.Header.Set("X-User-Attr-Team-Id", "t1")

	w := httptest.NewRecorder()
	c, _ := ginContext(w, req)
	u := f.server.userFrom(c)
	assert.Equal(t, "u9", u.UserID)
	assert.Equal(t, "acme", u.TenantID)
	assert.Equal(t, []string{"admin", "editor"}, u.Roles)
	assert.Nil(t, u.Permissions)
	assert.Equal(t, map[string]any{"team_id": "t1"}, u.Attributes)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx, "127.0.0.1:0", time.Second) }()
	cancel()
	assert.NoError(t, <-done)
}

func ginContext(w http.ResponseWriter, req *http.Request) (*gin.Context, *gin.Engine) {
	c, e := gin.CreateTestContext(w)
	c.Request = req
	return c, e
}
