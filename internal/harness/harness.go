package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/engine"
	"github.com/roach88/viewql/internal/gqlreq"
	"github.com/roach88/viewql/internal/schema"
)

// Harness runs the steps of one scenario against its own engine.
type Harness struct {
	schema  *schema.CompiledSchema
	engine  *engine.Engine
	adapter *countingAdapter
	views   *views
}

// countingAdapter counts Execute calls so scenarios can assert on cache use.
type countingAdapter struct {
	adapter.Adapter
	calls atomic.Int64
}

func (c *countingAdapter) Execute(ctx context.Context, q adapter.Query) ([]adapter.Document, error) {
	c.calls.Add(1)
	return c.Adapter.Execute(ctx, q)
}

// Run executes a scenario and returns its result. An error means the
// scenario could not run at all (bad schema, seed failure); failed
// expectations are reported in the Result.
//
// Each scenario gets a fresh in-memory SQLite database and cache, and every
// request id is the scenario name, so traces are deterministic.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	quiet := slog.New(slog.DiscardHandler)

	s, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	if _, ok := s.Manifest(schema.TargetSQLite); !ok {
		return nil, fmt.Errorf("schema %s has no sqlite capability manifest", scenario.Schema)
	}

	db, err := adapter.OpenSQLite(":memory:", adapter.WithLogger(quiet))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}
	counted := &countingAdapter{Adapter: db}

	h := &Harness{schema: s, adapter: counted, views: newViews(db.DB())}
	if _, err := h.views.replace(ctx, scenario.Seed); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed views: %w", err)
	}

	policy, err := auth.ParsePolicy(scenario.Policy)
	if err != nil {
		db.Close()
		return nil, err
	}
	evaluator, err := auth.NewEvaluator(s, auth.WithPolicy(policy), auth.WithLogger(quiet))
	if err != nil {
		db.Close()
		return nil, err
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.TTL = 0
	if scenario.Cache != nil {
		cacheCfg = *scenario.Cache
	}
	c, err := cache.New(cacheCfg, cache.WithLogger(quiet))
	if err != nil {
		db.Close()
		return nil, err
	}

	h.engine, err = engine.New(s, []adapter.Adapter{counted},
		engine.WithCache(c),
		engine.WithAuth(evaluator),
		engine.WithLogger(quiet),
		engine.WithRequestIDs(engine.NewFixedGenerator(scenario.Name)),
	)
	if err != nil {
		c.Close()
		db.Close()
		return nil, err
	}
	defer h.engine.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		trace, err := h.runStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		result.Trace = append(result.Trace, trace)
		for _, msg := range checkStep(step, trace) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, stepLabel(step), msg))
		}
	}

	for _, msg := range h.evaluateAssertions(scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step) (StepTrace, error) {
	trace := StepTrace{Index: i, Name: step.Name, Kind: step.Kind()}
	switch trace.Kind {
	case StepWrite:
		n, err := h.views.replace(ctx, step.Write)
		if err != nil {
			return trace, err
		}
		trace.Rows = n
	case StepCascade:
		n, err := h.engine.ApplyCascade(ctx, *step.Cascade)
		if err != nil {
			return trace, err
		}
		trace.Invalidated = n
	case StepQuery:
		data, hit, err := h.query(ctx, step)
		if err != nil {
			trace.Error = errorLabel(engine.Classify(err))
			return trace, nil
		}
		trace.Data = data
		trace.CacheHit = hit
	}
	return trace, nil
}

// query decodes and executes a query step the way the HTTP server does.
func (h *Harness) query(ctx context.Context, step Step) (any, bool, error) {
	q, err := gqlreq.Decode(h.schema, gqlreq.Params{
		Query:         step.Query,
		OperationName: step.OperationName,
		Variables:     step.Variables,
	})
	if err != nil {
		return nil, false, err
	}
	resp, err := h.engine.ExecuteQuery(ctx, engine.Request{
		Type:      q.Type,
		View:      q.View,
		List:      q.List,
		Where:     q.Where,
		Selection: q.Selection,
		Limit:     q.Limit,
		Offset:    q.Offset,
		User:      step.User.context(),
	})
	if err != nil {
		return nil, false, err
	}
	return map[string]any{q.ResponseKey: resp.Data}, resp.CacheHit, nil
}

func errorLabel(ee *engine.ExecutionError) string {
	if ee.Code == "" || ee.Code == string(ee.Kind) {
		return string(ee.Kind)
	}
	return string(ee.Kind) + "/" + ee.Code
}

func stepLabel(step Step) string {
	if step.Name != "" {
		return fmt.Sprintf("(%s %q)", step.Kind(), step.Name)
	}
	return "(" + step.Kind() + ")"
}
