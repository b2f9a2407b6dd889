package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/cascadebus"
	"github.com/roach88/viewql/internal/engine"
	"github.com/roach88/viewql/internal/retry"
	"github.com/roach88/viewql/internal/schema"
)

// Config is the server configuration file.
type Config struct {
	// Schema is the compiled schema artifact (.json or .cue). Relative paths
	// resolve against the config file's directory.
	Schema   string         `yaml:"schema"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
	Server   ServerConfig   `yaml:"server"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the target and tunes the adapter.
type DatabaseConfig struct {
	Target            string        `yaml:"target"`
	DSN               string        `yaml:"dsn"`
	PoolSize          int           `yaml:"pool_size"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	QueryTimeout      time.Duration `yaml:"query_timeout"`
	ProjectionWorkers int           `yaml:"projection_workers"`
	Retry             RetryConfig   `yaml:"retry"`
}

// RetryConfig is the backoff for pool exhaustion and transient failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"`
}

// Retry converts c for the adapter.
func (c RetryConfig) Retry() retry.Config {
	return retry.Config{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		AddJitter:    c.Jitter,
	}
}

// CacheConfig sizes the result cache.
type CacheConfig struct {
	Disabled     bool `yaml:"disabled"`
	cache.Config `yaml:",inline"`
}

// AuthConfig selects the policy for fields without a rule.
type AuthConfig struct {
	Policy string `yaml:"policy"`
}

// ServerConfig is the HTTP listener and the headers carrying the caller.
type ServerConfig struct {
	Listen  string        `yaml:"listen"`
	Headers HeaderConfig  `yaml:"headers"`
	Timeout time.Duration `yaml:"shutdown_timeout"`
}

// HeaderConfig names the request headers the caller identity is read from.
// Roles and permissions are comma separated. Attribute headers are
// "<AttributePrefix><name>".
type HeaderConfig struct {
	UserID          string `yaml:"user_id"`
	Tenant          string `yaml:"tenant"`
	Roles           string `yaml:"roles"`
	Permissions     string `yaml:"permissions"`
	AttributePrefix string `yaml:"attribute_prefix"`
}

// NATSConfig enables the cascade bus when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Name    string `yaml:"name"`
}

// Enabled reports whether the cascade bus is configured.
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration every file is decoded onto.
func Default() Config {
	r := retry.DefaultConfig()
	return Config{
		Database: DatabaseConfig{
			PoolSize:          adapter.DefaultPoolSize,
			AcquireTimeout:    adapter.DefaultAcquireTimeout,
			QueryTimeout:      engine.DefaultQueryTimeout,
			ProjectionWorkers: engine.DefaultProjectionWorkers,
			Retry: RetryConfig{
				MaxAttempts:  r.MaxAttempts,
				InitialDelay: r.InitialDelay,
				MaxDelay:     r.MaxDelay,
				Multiplier:   r.Multiplier,
				Jitter:       r.AddJitter,
			},
		},
		Cache: CacheConfig{Config: cache.DefaultConfig()},
		Auth:  AuthConfig{Policy: string(auth.PolicyDefaultAllow)},
		Server: ServerConfig{
			Listen:  ":8080",
			Timeout: 10 * time.Second,
			Headers: HeaderConfig{
				UserID:          "X-User-ID",
				Tenant:          "X-Tenant-ID",
				Roles:           "X-User-Roles",
				Permissions:     "X-User-Permissions",
				AttributePrefix: "X-User-Attr-",
			},
		},
		NATS: NATSConfig{Subject: cascadebus.DefaultSubject, Name: "viewql"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a config file. A .env file next to it, if present, is loaded
// into the environment first without overriding variables already set.
func Load(path string) (*Config, error) {
	dir := filepath.Dir(path)
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if cfg.Schema != "" && !filepath.IsAbs(cfg.Schema) {
		cfg.Schema = filepath.Join(dir, cfg.Schema)
	}
	return cfg, nil
}

// Parse decodes YAML onto Default, expanding ${VAR} and ${VAR:-default}
// with lookup, and validates the result. Unknown keys are rejected.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	expanded, err := expand(data, lookup)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

func expand(data []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if v, ok := lookup(string(m[1])); ok {
			return []byte(v)
		}
		if m[2] != nil {
			return m[3]
		}
		missing = append(missing, string(m[1]))
		return nil
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Validate checks every section and fills defaults the file may have zeroed.
func (c *Config) Validate() error {
	var errs []error
	if c.Schema == "" {
		errs = append(errs, errors.New("schema is required"))
	}

	if _, ok := schema.ParseTarget(c.Database.Target); !ok {
		errs = append(errs, fmt.Errorf("database.target %q is not one of %v", c.Database.Target, schema.AllTargets()))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Database.PoolSize < 1 {
		errs = append(errs, errors.New("database.pool_size must be at least 1"))
	}
	if c.Database.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("database.acquire_timeout must be positive"))
	}
	if c.Database.QueryTimeout <= 0 {
		errs = append(errs, errors.New("database.query_timeout must be positive"))
	}
	if c.Database.ProjectionWorkers < 1 {
		errs = append(errs, errors.New("database.projection_workers must be at least 1"))
	}
	r := c.Database.Retry
	if r.MaxAttempts < 1 {
		errs = append(errs, errors.New("database.retry.max_attempts must be at least 1"))
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 || r.Multiplier < 1 {
		errs = append(errs, errors.New("database.retry delays must be non-negative and multiplier at least 1"))
	}

	if !c.Cache.Disabled {
		if c.Cache.Shards < 1 {
			errs = append(errs, errors.New("cache.shards must be at least 1"))
		}
		if c.Cache.Capacity < 0 || c.Cache.TTL < 0 || c.Cache.MaxTombstones < 0 {
			errs = append(errs, errors.New("cache capacity, ttl and max_tombstones must be non-negative"))
		}
	}

	if _, err := auth.ParsePolicy(c.Auth.Policy); err != nil {
		errs = append(errs, fmt.Errorf("auth.policy: %w", err))
	}

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.Headers.UserID == "" {
		errs = append(errs, errors.New("server.headers.user_id is required"))
	}

	if c.NATS.Enabled() && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when nats.url is set"))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Target returns the validated database target.
func (c *Config) Target() schema.Target {
	t, _ := schema.ParseTarget(c.Database.Target)
	return t
}

// Policy returns the validated auth policy.
func (c *Config) Policy() auth.Policy {
	p, _ := auth.ParsePolicy(c.Auth.Policy)
	return p
}
