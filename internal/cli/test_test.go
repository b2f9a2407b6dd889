package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTest_HarnessScenariosPass(t *testing.T) {
	out, err := execute(t, "", "test", scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ cascade-invalidation")
	assert.Contains(t, out, "✓ read-and-cache")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_JSONAndFilter(t *testing.T) {
	out, err := execute(t, "", "test", scenariosDir, "--filter", "cascade-*", "--format", "json")
	require.NoError(t, err)

	data := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["passed"])
	scenarios := data["scenarios"].([]any)
	assert.Equal(t, "cascade-invalidation", scenarios[0].(map[string]any)["name"])
}

// scenarioDir writes a scenario next to a copy of the blog schema.
func scenarioDir(t *testing.T, body string) string {
	t.Helper()
	root := t.TempDir()
	schema, err := os.ReadFile(blogJSON)
	require.NoError(t, err)
	writeFile(t, root, "schemas/blog.json", string(schema))
	writeFile(t, root, "scenarios/one.yaml", body)
	return filepath.Join(root, "scenarios")
}

const oneScenario = `name: one
schema: ../schemas/blog.json
seed:
  app.v_user:
    - {id: u1, name: Ada}
steps:
  - query: "{ users { name } }"
    expect:
      data: {users: [{name: Ada}]}
`

func TestTest_UpdateThenCompareGolden(t *testing.T) {
	dir := scenarioDir(t, oneScenario)

	out, err := execute(t, "", "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ one (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "..", "golden", "one.golden"))
	require.NoError(t, err)
	assert.Equal(t, `{"scenario":"one","steps":[{"cache_hit":false,"data":{"users":[{"name":"Ada"}]},"index":0,"kind":"query"}]}`, string(golden))

	_, err = execute(t, "", "test", dir)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, ".."), "golden/one.golden", `{"scenario":"one","steps":[]}`)
	out, err = execute(t, "", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_FailingScenario(t *testing.T) {
	dir := scenarioDir(t, `name: one
schema: ../schemas/blog.json
steps:
  - query: "{ users { name } }"
    expect:
      data: {users: [{name: Ada}]}
`)

	out, err := execute(t, "", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ one")
	assert.Contains(t, out, "data mismatch")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTest_LoadError(t *testing.T) {
	dir := scenarioDir(t, "name: one\nschema: ../schemas/blog.json\nsteps: []\n")

	out, err := execute(t, "", "test", dir, "--format", "json")
	require.Error(t, err)
	data := decodeResponse(t, out).Data.(map[string]any)
	result := data["scenarios"].([]any)[0].(map[string]any)
	assert.Equal(t, "one.yaml", result["name"])
	assert.Contains(t, result["errors"].([]any)[0], "steps list is required")
}

func TestTest_Errors(t *testing.T) {
	_, err := execute(t, "", "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := execute(t, "", "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	_, err = execute(t, "", "test", scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
