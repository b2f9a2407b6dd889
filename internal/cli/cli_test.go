package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/testutil"
)

const (
	blogJSON     = "../harness/testdata/schemas/blog.json"
	blogCUE      = "../harness/testdata/schemas/blog.cue"
	scenariosDir = "../harness/testdata/scenarios"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), stdin, args...)
}

func executeContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// decodeResponse parses a --format json response.
func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

// sqliteFixture writes the blog schema with unqualified view names, a
// SQLite database holding the blog users, and a config file pointing at
// both. It returns the config path.
func sqliteFixture(t *testing.T, extraConfig string) string {
	t.Helper()
	dir := t.TempDir()

	a := testutil.BlogArtifact()
	for name, root := range a.Roots {
		root.View = strings.TrimPrefix(root.View, "app.")
		a.Roots[name] = root
	}
	data, err := json.Marshal(a)
	require.NoError(t, err)
	writeFile(t, dir, "schema.json", string(data))

	dbPath := filepath.Join(dir, "blog.db")
	db, err := adapter.OpenSQLite(dbPath)
	require.NoError(t, err)
	for _, view := range []string{"v_user", "v_post"} {
		_, err := db.DB().Exec(`CREATE TABLE "` + view + `" ("data" TEXT NOT NULL)`)
		require.NoError(t, err)
	}
	for _, doc := range testutil.BlogUsers() {
		raw, err := json.Marshal(doc)
		require.NoError(t, err)
		_, err = db.DB().Exec(`INSERT INTO "v_user" ("data") VALUES (?)`, string(raw))
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	return writeFile(t, dir, "viewql.yaml", `schema: schema.json
database:
  target: sqlite
  dsn: `+dbPath+`
log:
  level: error
`+extraConfig)
}
