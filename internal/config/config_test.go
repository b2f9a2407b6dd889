package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/schema"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

const minimal = `
schema: blog.json
database:
  target: sqlite
  dsn: ":memory:"
`

func TestParseMinimalKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal), env(nil))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, schema.TargetSQLite, cfg.Target())
	assert.Equal(t, def.Database.PoolSize, cfg.Database.PoolSize)
	assert.Equal(t, def.Database.Retry, cfg.Database.Retry)
	assert.Equal(t, cache.DefaultConfig(), cfg.Cache.Config)
	assert.Equal(t, auth.PolicyDefaultAllow, cfg.Policy())
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.False(t, cfg.NATS.Enabled())
}

func TestParseFullFile(t *testing.T) {
	data := `
schema: /etc/viewql/schema.cue
database:
  target: postgresql
  dsn: ${DATABASE_URL}
  pool_size: 32
  acquire_timeout: 750ms
  query_timeout: 10s
  retry:
    max_attempts: 5
    initial_delay: 10ms
    max_delay: 500ms
    multiplier: 3
    jitter: false
cache:
  shards: 8
  capacity: 500
  ttl: 1m
  max_tombstones: 1024
auth:
  policy: default-deny
server:
  listen: 127.0.0.1:9000
  headers:
    user_id: X-Subject
nats:
  url: ${NATS_URL:-nats://localhost:4222}
  subject: app.cascade
log:
  level: debug
  format: json
`
	cfg, err := Parse([]byte(data), env(map[string]string{"DATABASE_URL": "postgres://u:p@db/app"}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db/app", cfg.Database.DSN)
	assert.Equal(t, 32, cfg.Database.PoolSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.AcquireTimeout)
	r := cfg.Database.Retry.Retry()
	assert.Equal(t, 5, r.MaxAttempts)
	assert.Equal(t, 3.0, r.Multiplier)
	assert.False(t, r.AddJitter)
	assert.Equal(t, cache.Config{Shards: 8, Capacity: 500, TTL: time.Minute, MaxTombstones: 1024}, cfg.Cache.Config)
	assert.Equal(t, auth.PolicyDefaultDeny, cfg.Policy())
	assert.Equal(t, "X-Subject", cfg.Server.Headers.UserID)
	assert.Equal(t, "X-User-Roles", cfg.Server.Headers.Roles)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.True(t, cfg.NATS.Enabled())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown key", minimal + "cach:\n  ttl: 1m\n", "field cach not found"},
		{"unset variable", "schema: x\ndatabase:\n  target: sqlite\n  dsn: ${NOPE}\n", "NOPE"},
		{"bad target", "schema: x\ndatabase:\n  target: oracle\n  dsn: d\n", "database.target"},
		{"missing schema", "database:\n  target: sqlite\n  dsn: d\n", "schema is required"},
		{"bad policy", minimal + "auth:\n  policy: open\n", "auth.policy"},
		{"bad level", minimal + "log:\n  level: loud\n", "log.level"},
		{"zero pool", minimal + "  pool_size: 0\n", "pool_size"},
		{"negative ttl", minimal + "cache:\n  ttl: -1s\n", "non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), env(nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDisabledCacheSkipsCacheChecks(t *testing.T) {
	cfg, err := Parse([]byte(minimal+"cache:\n  disabled: true\n  shards: 0\n"), env(nil))
	require.NoError(t, err)
	assert.True(t, cfg.Cache.Disabled)
}

func TestLoadResolvesSchemaAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("VIEWQL_TEST_DSN=file.db\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "viewql.yaml"), []byte(`
schema: schemas/blog.json
database:
  target: sqlite
  dsn: ${VIEWQL_TEST_DSN}
`), 0o644))
	t.Cleanup(func() { os.Unsetenv("VIEWQL_TEST_DSN") })

	cfg, err := Load(filepath.Join(dir, "viewql.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "schemas", "blog.json"), cfg.Schema)
	assert.Equal(t, "file.db", cfg.Database.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
