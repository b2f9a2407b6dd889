package adapter

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/lowering"
	"github.com/roach88/viewql/internal/predicate"
	"github.com/roach88/viewql/internal/retry"
	"github.com/roach88/viewql/internal/schema"
)

func userSchema(t *testing.T) *schema.CompiledSchema {
	t.Helper()
	s, err := schema.New(schema.Artifact{
		Version: "1",
		Types: []schema.TypeDef{{
			Name: "User",
			Fields: []schema.FieldDef{
				{Name: "id", Kind: schema.KindID},
				{Name: "name", Kind: schema.KindString},
				{Name: "age", Kind: schema.KindInt},
			},
		}},
		Capabilities: map[schema.Target]schema.Manifest{
			schema.TargetSQLite: schema.DefaultManifest(schema.TargetSQLite),
		},
	})
	require.NoError(t, err)
	return s
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

// setupAdapter returns an in-memory SQLite adapter with a seeded v_user view.
func setupAdapter(t *testing.T, opts ...Option) *SQLAdapter {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler)), WithRetry(fastRetry())}, opts...)
	a, err := OpenSQLite(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = a.DB().Exec(`CREATE TABLE v_user (data TEXT)`)
	require.NoError(t, err)
	for _, doc := range []string{
		`{"id":"u2","name":"Grace","age":45}`,
		`{"id":"u1","name":"Ada","age":36}`,
		`{"id":"u3","name":"Linus","age":28}`,
	} {
		_, err = a.DB().Exec(`INSERT INTO v_user (data) VALUES (?)`, doc)
		require.NoError(t, err)
	}
	return a
}

func ids(docs []Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["id"]
	}
	return out
}

func u32(n uint32) *uint32 { return &n }

func TestExecuteAllRowsOrdered(t *testing.T) {
	a := setupAdapter(t)

	docs, err := a.Execute(context.Background(), Query{View: "v_user", OrderBy: "id"})
	require.NoError(t, err)
	assert.Equal(t, []any{"u1", "u2", "u3"}, ids(docs))
	assert.Equal(t, json.Number("36"), docs[0]["age"])
	assert.Equal(t, schema.TargetSQLite, a.Target())
}

func TestExecuteWithPredicate(t *testing.T) {
	a := setupAdapter(t)
	l, err := lowering.ForTarget(schema.TargetSQLite)
	require.NoError(t, err)

	frag, err := l.Lower(predicate.NewField("age", schema.OpGte, ir.IRInt(30)), userSchema(t), "User")
	require.NoError(t, err)

	docs, err := a.Execute(context.Background(), Query{View: "v_user", Where: frag, OrderBy: "id"})
	require.NoError(t, err)
	assert.Equal(t, []any{"u1", "u2"}, ids(docs))
}

func TestExecuteNestedListFilterMatchesOneElement(t *testing.T) {
	a := setupAdapter(t)
	_, err := a.DB().Exec(`CREATE TABLE v_author (data TEXT)`)
	require.NoError(t, err)
	for _, doc := range []string{
		`{"id":"u1","posts":[{"title":"Notes","views":120},{"title":"Engines","views":40}]}`,
		`{"id":"u2","posts":[{"title":"Engines","views":300}]}`,
	} {
		_, err = a.DB().Exec(`INSERT INTO v_author (data) VALUES (?)`, doc)
		require.NoError(t, err)
	}

	s, err := schema.New(schema.Artifact{
		Version: "1",
		Types: []schema.TypeDef{
			{Name: "Author", Fields: []schema.FieldDef{
				{Name: "id", Kind: schema.KindID},
				{Name: "posts", Type: "Post", List: true},
			}},
			{Name: "Post", Fields: []schema.FieldDef{
				{Name: "title", Kind: schema.KindString},
				{Name: "views", Kind: schema.KindInt},
			}},
		},
		Capabilities: map[schema.Target]schema.Manifest{
			schema.TargetSQLite: schema.DefaultManifest(schema.TargetSQLite),
		},
	})
	require.NoError(t, err)
	l, err := lowering.ForTarget(schema.TargetSQLite)
	require.NoError(t, err)

	run := func(p predicate.Predicate) []any {
		t.Helper()
		frag, err := l.Lower(p, s, "Author")
		require.NoError(t, err)
		docs, err := a.Execute(context.Background(), Query{View: "v_author", Where: frag, OrderBy: "id"})
		require.NoError(t, err)
		return ids(docs)
	}

	// u1 has a post titled Engines and a post with over 100 views, but no
	// single post with both.
	where, err := predicate.FromWhere(map[string]any{
		"posts": map[string]any{
			"title": map[string]any{"eq": "Engines"},
			"views": map[string]any{"gt": 100},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"u2"}, run(where))

	split := predicate.And{Predicates: []predicate.Predicate{
		predicate.NewField("posts.title", schema.OpEq, ir.IRString("Engines")),
		predicate.NewField("posts.views", schema.OpGt, ir.IRInt(100)),
	}}
	assert.Equal(t, []any{"u1", "u2"}, run(split))
}

func TestExecutePaging(t *testing.T) {
	a := setupAdapter(t)

	docs, err := a.Execute(context.Background(), Query{View: "v_user", OrderBy: "id", Limit: u32(1), Offset: u32(1)})
	require.NoError(t, err)
	assert.Equal(t, []any{"u2"}, ids(docs))

	docs, err = a.Execute(context.Background(), Query{View: "v_user", OrderBy: "id", Offset: u32(2)})
	require.NoError(t, err)
	assert.Equal(t, []any{"u3"}, ids(docs))
}

func TestExecuteEmptyResult(t *testing.T) {
	a := setupAdapter(t)
	l, err := lowering.ForTarget(schema.TargetSQLite)
	require.NoError(t, err)
	frag, err := l.Lower(predicate.Or{}, userSchema(t), "User")
	require.NoError(t, err)

	docs, err := a.Execute(context.Background(), Query{View: "v_user", Where: frag})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestExecuteQueryErrorNotRetried(t *testing.T) {
	var logs bytes.Buffer
	a := setupAdapter(t, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	_, err := a.Execute(context.Background(), Query{View: "missing_view"})
	require.Error(t, err)
	assert.True(t, IsQueryError(err))
	assert.False(t, IsRetryable(err))
	assert.NotContains(t, logs.String(), "retrying query")
}

func TestExecuteRejectsNonDocumentRows(t *testing.T) {
	a := setupAdapter(t)
	_, err := a.DB().Exec(`CREATE TABLE v_bad (data TEXT)`)
	require.NoError(t, err)

	for _, raw := range []any{nil, "[1,2]", "not json"} {
		_, err = a.DB().Exec(`DELETE FROM v_bad`)
		require.NoError(t, err)
		_, err = a.DB().Exec(`INSERT INTO v_bad (data) VALUES (?)`, raw)
		require.NoError(t, err)

		_, err = a.Execute(context.Background(), Query{View: "v_bad"})
		assert.True(t, IsQueryError(err), "row %v: %v", raw, err)
	}
}

func TestPoolExhaustionRetriedThenSurfaced(t *testing.T) {
	var logs bytes.Buffer
	a := setupAdapter(t,
		WithPoolSize(1),
		WithAcquireTimeout(10*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	release, err := a.checkout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, a.PoolMetrics().Active)

	_, err = a.Execute(context.Background(), Query{View: "v_user"})
	require.Error(t, err)
	assert.True(t, IsPoolExhausted(err))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "failed after 2 attempts")
	assert.Contains(t, logs.String(), "retrying query")

	release()
	m := a.PoolMetrics()
	assert.Equal(t, 0, m.Active)
	assert.Equal(t, 0, m.Waiting)
	assert.Equal(t, 1, m.Max)

	_, err = a.Execute(context.Background(), Query{View: "v_user"})
	assert.NoError(t, err)
}

func TestCheckoutHonorsCallerCancellation(t *testing.T) {
	a := setupAdapter(t, WithPoolSize(1), WithAcquireTimeout(time.Second))
	release, err := a.checkout(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.checkout(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealthCheck(t *testing.T) {
	a := setupAdapter(t)
	require.NoError(t, a.HealthCheck(context.Background()))

	require.NoError(t, a.Close())
	assert.Error(t, a.HealthCheck(context.Background()))
}

func TestInvalidStatementIsQueryError(t *testing.T) {
	a := setupAdapter(t)
	_, err := a.Execute(context.Background(), Query{View: "v_user; DROP TABLE v_user"})
	assert.True(t, IsQueryError(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"bad conn", driver.ErrBadConn, KindTransient},
		{"wrapped bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"network", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}, KindTransient},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, KindTransient},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, KindTransient},
		{"sqlite syntax", sqlite3.Error{Code: sqlite3.ErrError}, KindQuery},
		{"mysql invalid conn", mysql.ErrInvalidConn, KindTransient},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, KindTransient},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, KindQuery},
		{"postgres serialization", &pgconn.PgError{Code: "40001"}, KindTransient},
		{"postgres connection", &pgconn.PgError{Code: "08006"}, KindTransient},
		{"postgres undefined table", &pgconn.PgError{Code: "42P01"}, KindQuery},
		{"sqlserver deadlock", mssql.Error{Number: 1205}, KindTransient},
		{"sqlserver syntax", mssql.Error{Number: 102}, KindQuery},
		{"unknown", errors.New("boom"), KindQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestAdapterErrorHelpers(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &AdapterError{Kind: KindTransient, Target: schema.TargetMySQL, Err: errors.New("reset")})
	assert.True(t, IsTransient(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsPoolExhausted(err))
	assert.False(t, IsQueryError(err))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestDriverName(t *testing.T) {
	for target, want := range map[schema.Target]string{
		schema.TargetPostgres:  "pgx",
		schema.TargetMySQL:     "mysql",
		schema.TargetSQLite:    "sqlite3",
		schema.TargetSQLServer: "sqlserver",
	} {
		got, err := DriverName(target)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := DriverName("oracle")
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("user:pw@tcp(localhost:3306)/app")
	require.NoError(t, err)
	assert.Contains(t, dsn, "charset=utf8mb4")

	_, err = mysqlDSN("::::")
	assert.Error(t, err)
}
