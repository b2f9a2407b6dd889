package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/engine"
)

// Scenario is a scripted session against a fresh database: seed views, then
// run steps that query, write rows and apply cascades, checking each result.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains the behavior under test.
	Description string `yaml:"description"`

	// Schema is the schema artifact (.json or .cue), relative to the
	// scenario file.
	Schema string `yaml:"schema"`

	// Policy is the auth policy for fields without a rule. Default:
	// default-allow.
	Policy string `yaml:"policy,omitempty"`

	// Cache overrides the cache configuration. Nil uses cache.DefaultConfig
	// without a TTL.
	Cache *cache.Config `yaml:"cache,omitempty"`

	// Seed holds the initial rows of each view, keyed by view name.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step does exactly one of: run Query, replace the rows of the views in
// Write, or apply Cascade.
type Step struct {
	Name string `yaml:"name,omitempty"`

	Query         string         `yaml:"query,omitempty"`
	OperationName string         `yaml:"operation_name,omitempty"`
	Variables     map[string]any `yaml:"variables,omitempty"`
	User          User           `yaml:"user,omitempty"`

	Write map[string][]map[string]any `yaml:"write,omitempty"`

	Cascade *cache.CascadeMetadata `yaml:"cascade,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Step kinds, as recorded in the trace.
const (
	StepQuery   = "query"
	StepWrite   = "write"
	StepCascade = "cascade"
)

// Kind returns which action the step performs.
func (s Step) Kind() string {
	switch {
	case s.Query != "":
		return StepQuery
	case s.Write != nil:
		return StepWrite
	default:
		return StepCascade
	}
}

// User is the caller of a query step.
type User struct {
	UserID      string         `yaml:"user_id,omitempty"`
	TenantID    string         `yaml:"tenant_id,omitempty"`
	Roles       []string       `yaml:"roles,omitempty"`
	Permissions []string       `yaml:"permissions,omitempty"`
	Attributes  map[string]any `yaml:"attributes,omitempty"`
}

func (u User) context() auth.UserContext {
	return auth.UserContext{
		UserID:      u.UserID,
		TenantID:    u.TenantID,
		Roles:       u.Roles,
		Permissions: u.Permissions,
		Attributes:  u.Attributes,
	}
}

// Expect checks a step's outcome. Unset fields are not checked.
type Expect struct {
	// Data is the expected response data of a query, compared exactly.
	// Present but null expects a null result.
	Data *yaml.Node `yaml:"data,omitempty"`

	// CacheHit checks whether a query was served from the cache.
	CacheHit *bool `yaml:"cache_hit,omitempty"`

	// Error is the expected error kind ("LOWERING") or kind and code
	// ("LOWERING/UNSUPPORTED_OPERATOR"). Empty expects success.
	Error string `yaml:"error,omitempty"`

	// Invalidated is the number of entries a cascade step removed.
	Invalidated *int `yaml:"invalidated,omitempty"`
}

// Assertion checks engine state after the last step.
type Assertion struct {
	// Type is one of adapter_calls, cache_size or cache_stat.
	Type string `yaml:"type"`

	// Stat names the counter checked by cache_stat.
	Stat string `yaml:"stat,omitempty"`

	Count int64 `yaml:"count"`
}

// Assertion types.
const (
	AssertAdapterCalls = "adapter_calls"
	AssertCacheSize    = "cache_size"
	AssertCacheStat    = "cache_stat"
)

// LoadScenario reads a scenario file. The schema path is resolved relative
// to the file. Unknown keys are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); err != nil {
		return fmt.Errorf("schema file not found: %s", s.Schema)
	}
	if _, err := auth.ParsePolicy(s.Policy); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		actions := 0
		if step.Query != "" {
			actions++
		}
		if step.Write != nil {
			actions++
		}
		if step.Cascade != nil {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("steps[%d]: exactly one of query, write or cascade is required", i)
		}
		if e := step.Expect; e != nil {
			if e.Error != "" && !validErrorKind(e.Error) {
				return fmt.Errorf("steps[%d].expect: unknown error kind in %q", i, e.Error)
			}
			if step.Kind() != StepQuery && (e.Data != nil || e.CacheHit != nil || e.Error != "") {
				return fmt.Errorf("steps[%d].expect: data, cache_hit and error apply to query steps", i)
			}
			if step.Kind() != StepCascade && e.Invalidated != nil {
				return fmt.Errorf("steps[%d].expect: invalidated applies to cascade steps", i)
			}
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertAdapterCalls, AssertCacheSize:
		case AssertCacheStat:
			if _, ok := statValue(cache.Stats{}, a.Stat); !ok {
				return fmt.Errorf("assertions[%d]: unknown cache stat %q", i, a.Stat)
			}
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	}
	return nil
}

func validErrorKind(s string) bool {
	kind, _, _ := strings.Cut(s, "/")
	switch engine.ErrorKind(kind) {
	case engine.KindLowering, engine.KindProjection, engine.KindUnavailable,
		engine.KindQueryFailed, engine.KindCancelled, engine.KindBadRequest, engine.KindInternal:
		return true
	}
	return false
}
