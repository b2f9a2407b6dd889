package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/lowering"
	"github.com/roach88/viewql/internal/metric"
	"github.com/roach88/viewql/internal/predicate"
	"github.com/roach88/viewql/internal/projection"
	"github.com/roach88/viewql/internal/schema"
)

// Defaults for Engine.
const (
	DefaultQueryTimeout      = 30 * time.Second
	DefaultProjectionWorkers = 4

	// Result sets smaller than this are projected on the calling goroutine.
	parallelProjectionThreshold = 64
)

// Request is one root-field query against a view.
type Request struct {
	Type      string
	View      string
	Target    schema.Target // "" selects the engine's default target
	List      bool          // false returns the first document or nil
	Where     predicate.Predicate
	Selection projection.SelectionSet
	Limit     *uint32
	Offset    *uint32
	User      auth.UserContext
}

// Response is a projected result. Data is []any of objects for list
// requests and an object or nil otherwise. Data may be shared with the cache
// and must not be mutated.
type Response struct {
	Data      any
	CacheHit  bool
	RequestID string
}

// CascadePublisher forwards cascades to peer processes.
type CascadePublisher interface {
	Publish(ctx context.Context, c cache.CascadeMetadata) error
}

// Engine executes queries: cache lookup, lowering, database execution,
// masked projection and cache fill.
//
// Thread-safety: every method is safe for concurrent use. The engine holds
// no mutable state of its own; the cache and adapters synchronize
// themselves.
type Engine struct {
	schema        *schema.CompiledSchema
	adapters      map[schema.Target]adapter.Adapter
	lowerers      map[schema.Target]lowering.Lowerer
	defaultTarget schema.Target
	auth          *auth.Evaluator
	projector     *projection.Projector
	cache         *cache.Cache
	publisher     CascadePublisher
	ids           RequestIDGenerator
	logger        *slog.Logger
	registry      *metric.MetricsRegistry
	metrics       *engineMetrics
	queryTimeout  time.Duration
	workers       int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables result caching.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithAuth sets the authorization evaluator. Defaults to one built from the
// schema with the default-allow policy.
func WithAuth(ev *auth.Evaluator) Option {
	return func(e *Engine) {
		e.auth = ev
	}
}

// WithPublisher forwards every applied cascade to p.
func WithPublisher(p CascadePublisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithRequestIDs sets the request id generator. Defaults to UUIDv7.
func WithRequestIDs(g RequestIDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics registers request metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}

// WithQueryTimeout bounds each database call. The bound applies even after
// the caller cancels, since the call is detached from the request context.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.queryTimeout = d
	}
}

// WithProjectionWorkers bounds the goroutines projecting one large result.
func WithProjectionWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// New creates an engine over adapters. The first adapter's target is the
// default. Every adapter's target must have a capability manifest in s;
// lowerers are resolved here, once.
func New(s *schema.CompiledSchema, adapters []adapter.Adapter, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("engine: schema is required")
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("engine: at least one adapter is required")
	}

	e := &Engine{
		schema:        s,
		adapters:      make(map[schema.Target]adapter.Adapter, len(adapters)),
		lowerers:      make(map[schema.Target]lowering.Lowerer, len(adapters)),
		defaultTarget: adapters[0].Target(),
		projector:     projection.New(s),
		ids:           UUIDv7Generator{},
		logger:        slog.Default(),
		queryTimeout:  DefaultQueryTimeout,
		workers:       DefaultProjectionWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, a := range adapters {
		target := a.Target()
		if _, dup := e.adapters[target]; dup {
			return nil, fmt.Errorf("engine: two adapters for target %s", target)
		}
		if _, ok := s.Manifest(target); !ok {
			return nil, fmt.Errorf("engine: schema has no capability manifest for target %s", target)
		}
		l, err := lowering.ForTarget(target)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.adapters[target] = a
		e.lowerers[target] = l
	}

	if e.auth == nil {
		ev, err := auth.NewEvaluator(s, auth.WithLogger(e.logger))
		if err != nil {
			return nil, fmt.Errorf("engine: build auth evaluator: %w", err)
		}
		e.auth = ev
	}
	if e.registry != nil {
		m, err := newEngineMetrics(e.registry)
		if err != nil {
			return nil, fmt.Errorf("engine: register metrics: %w", err)
		}
		e.metrics = m
	}

	e.logger.Info("engine ready",
		"schema_version", s.Version(),
		"default_target", e.defaultTarget,
		"targets", len(e.adapters),
		"cache", e.cache != nil,
		"auth_policy", e.auth.Policy(),
	)
	return e, nil
}

// Schema returns the schema the engine was built with.
func (e *Engine) Schema() *schema.CompiledSchema {
	return e.schema
}

// Adapter returns the adapter for target, or the default adapter when
// target is empty.
func (e *Engine) Adapter(target schema.Target) (adapter.Adapter, bool) {
	if target == "" {
		target = e.defaultTarget
	}
	a, ok := e.adapters[target]
	return a, ok
}

// Cache returns the result cache, or nil when caching is off.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// ExecuteQuery runs req and returns its projected result.
//
// Errors are always *ExecutionError. A request cancelled after the database
// call was issued lets the call finish, then discards the result without
// caching it.
func (e *Engine) ExecuteQuery(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	id := e.ids.Generate()
	log := e.logger.With("request_id", id, "type", req.Type, "view", req.View)

	resp, err := e.execute(ctx, req, log)
	if err != nil {
		ee := classify(err)
		ee.RequestID = id
		e.logFailure(log, ee)
		e.observe(outcomeError, ee.Kind, start)
		return nil, ee
	}

	resp.RequestID = id
	outcome := outcomeMiss
	if resp.CacheHit {
		outcome = outcomeHit
	}
	e.observe(outcome, "", start)
	log.Debug("query served",
		"cache_hit", resp.CacheHit,
		"duration", time.Since(start),
	)
	return resp, nil
}

func (e *Engine) execute(ctx context.Context, req Request, log *slog.Logger) (*Response, error) {
	td, ok := e.schema.Type(req.Type)
	if !ok {
		return nil, badRequest("UNKNOWN_TYPE", "unknown type %q", req.Type)
	}
	if !schema.ValidView(req.View) {
		return nil, badRequest("INVALID_VIEW", "invalid view name %q", req.View)
	}
	if len(req.Selection) == 0 {
		return nil, badRequest("EMPTY_SELECTION", "selection is empty")
	}
	target := req.Target
	if target == "" {
		target = e.defaultTarget
	}
	a, ok := e.adapters[target]
	if !ok {
		return nil, badRequest("UNSUPPORTED_TARGET", "no database configured for target %q", target)
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	fp := e.fingerprint(req, target, log)
	if v, hit := e.cacheGet(fp, log); hit {
		return &Response{Data: v, CacheHit: true}, nil
	}
	var gen uint64
	if e.cache != nil {
		gen = e.cache.Generation()
	}

	var where *lowering.Fragment
	if req.Where != nil {
		frag, err := e.lowerers[target].Lower(req.Where, e.schema, td.Name)
		if err != nil {
			return nil, err
		}
		where = frag
	}

	q := adapter.Query{
		View:    req.View,
		Where:   where,
		OrderBy: td.IDField,
		Limit:   req.Limit,
		Offset:  req.Offset,
	}
	if !req.List && q.Limit == nil {
		one := uint32(1)
		q.Limit = &one
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.queryTimeout)
	defer cancel()
	docs, err := a.Execute(dbCtx, q)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		log.Debug("discarding result of cancelled request", "rows", len(docs))
		return nil, cancelled(err)
	}

	mask := e.auth.Build(req.User)
	rows, entities, err := e.project(ctx, docs, req, mask)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		log.Debug("discarding result of cancelled request", "rows", len(docs))
		return nil, cancelled(err)
	}

	var data any = rows
	if !req.List {
		data = nil
		if len(rows) > 0 {
			data = rows[0]
		}
	}
	e.cachePut(fp, data, dependencies(e.schema, req, td, entities), gen, log)
	return &Response{Data: data}, nil
}

// project masks and projects every document, in parallel for large results.
func (e *Engine) project(ctx context.Context, docs []adapter.Document, req Request, mask *auth.Mask) ([]any, []projection.Entity, error) {
	rows := make([]any, len(docs))
	found := make([][]projection.Entity, len(docs))
	one := func(i int) error {
		obj, ents, err := e.projector.ProjectWithEntities(docs[i], req.Selection, mask, req.Type)
		if err != nil {
			return err
		}
		rows[i], found[i] = obj, ents
		return nil
	}

	if len(docs) < parallelProjectionThreshold || e.workers <= 1 {
		for i := range docs {
			if err := one(i); err != nil {
				return nil, nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		for i := range docs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return one(i)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	var entities []projection.Entity
	for _, ents := range found {
		entities = append(entities, ents...)
	}
	return rows, entities, nil
}

// dependencies lists the entity keys a result was built from. Unless the
// filter pins the root id, a new row of the root type could join the result,
// so the result also depends on the root type's wildcard. A change to any
// document the filter reaches through a nested path can change which roots
// match, so every nested type on a filter path adds its wildcard too.
func dependencies(s *schema.CompiledSchema, req Request, td *schema.TypeDef, entities []projection.Entity) []string {
	deps := make([]string, 0, len(entities)+2)
	for _, en := range entities {
		deps = append(deps, en.Key())
	}
	for _, name := range filterTypes(s, td, req.Where) {
		deps = append(deps, ir.WildcardKey(name))
	}
	if td.HasIdentity() {
		if v, ok := predicate.EqualityOn(req.Where, td.IDField); ok {
			if id, ok := idLiteral(v); ok {
				return append(deps, ir.EntityKey(td.Name, id))
			}
		}
	}
	return append(deps, ir.WildcardKey(td.Name))
}

// filterTypes returns the object types the paths of where pass through, in
// first-seen order.
func filterTypes(s *schema.CompiledSchema, td *schema.TypeDef, where predicate.Predicate) []string {
	var names []string
	predicate.Walk(where, func(f predicate.Field) {
		cur := td
		for _, seg := range f.Path {
			fd, ok := cur.Field(seg)
			if !ok || !fd.IsObject() {
				return
			}
			next, ok := s.Type(fd.Type)
			if !ok {
				return
			}
			if !slices.Contains(names, next.Name) {
				names = append(names, next.Name)
			}
			cur = next
		}
	})
	return names
}

func idLiteral(v ir.IRValue) (string, bool) {
	switch id := v.(type) {
	case ir.IRString:
		return string(id), id != ""
	case ir.IRInt:
		return strconv.FormatInt(int64(id), 10), true
	}
	return "", false
}

// fingerprint returns the cache key for req, or "" when the request cannot
// be cached.
func (e *Engine) fingerprint(req Request, target schema.Target, log *slog.Logger) string {
	if e.cache == nil {
		return ""
	}
	query := map[string]any{
		"type":      req.Type,
		"view":      req.View,
		"target":    string(target),
		"list":      req.List,
		"selection": req.Selection.Canonical(),
	}
	if req.Where != nil {
		query["where"] = predicate.Canonical(req.Where)
	}
	if req.Limit != nil {
		query["limit"] = *req.Limit
	}
	if req.Offset != nil {
		query["offset"] = *req.Offset
	}

	scope := ir.Scope{
		TenantID:    req.User.TenantID,
		Roles:       req.User.Roles,
		Permissions: req.User.Permissions,
	}
	if e.schema.HasCustomRules() {
		scope.UserID = req.User.UserID
		scope.Attributes = req.User.Attributes
	}

	fp, err := ir.Fingerprint(ir.FingerprintInput{Query: query, Scope: scope})
	if err != nil {
		log.Warn("query not cacheable", "error", err)
		return ""
	}
	return fp
}

// cacheGet treats every cache failure as a miss.
func (e *Engine) cacheGet(fp string, log *slog.Logger) (v any, hit bool) {
	if e.cache == nil || fp == "" {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("cache lookup failed", "panic", r)
			v, hit = nil, false
		}
	}()
	return e.cache.Get(fp)
}

func (e *Engine) cachePut(fp string, data any, deps []string, gen uint64, log *slog.Logger) {
	if e.cache == nil || fp == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("cache store failed", "panic", r)
		}
	}()
	if !e.cache.Put(fp, data, deps, gen) {
		log.Debug("result not cached: dependencies changed during execution", "deps", len(deps))
	}
}

// Invalidate drops cached results that depend on the cascade's entities,
// without forwarding it. Used for cascades that arrive from peers.
func (e *Engine) Invalidate(c cache.CascadeMetadata) int {
	if e.cache == nil {
		return 0
	}
	n := e.cache.InvalidateFromCascade(c)
	e.logger.Debug("cascade applied",
		"updated", len(c.Updated),
		"deleted", len(c.Deleted),
		"invalidated", n,
	)
	return n
}

// ApplyCascade invalidates locally, then publishes c to peers when a
// publisher is configured. The local invalidation stands even when
// publishing fails.
func (e *Engine) ApplyCascade(ctx context.Context, c cache.CascadeMetadata) (int, error) {
	n := e.Invalidate(c)
	if e.metrics != nil {
		e.metrics.cascades.Inc()
	}
	if e.publisher == nil || c.IsEmpty() {
		return n, nil
	}
	if err := e.publisher.Publish(ctx, c); err != nil {
		e.logger.Warn("cascade publish failed", "error", err)
		return n, fmt.Errorf("publish cascade: %w", err)
	}
	return n, nil
}

// HealthCheck checks every adapter.
func (e *Engine) HealthCheck(ctx context.Context) map[schema.Target]error {
	out := make(map[schema.Target]error, len(e.adapters))
	for target, a := range e.adapters {
		out[target] = a.HealthCheck(ctx)
	}
	return out
}

// Close releases the cache and every adapter.
func (e *Engine) Close() error {
	var first error
	if e.cache != nil {
		first = e.cache.Close()
	}
	for _, a := range e.adapters {
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.registry != nil {
		unregisterEngineMetrics(e.registry)
	}
	return first
}

func (e *Engine) logFailure(log *slog.Logger, ee *ExecutionError) {
	switch ee.Kind {
	case KindInternal, KindQueryFailed:
		log.Error("query failed", "kind", ee.Kind, "code", ee.Code, "error", ee.cause)
	case KindUnavailable:
		log.Warn("database unavailable", "code", ee.Code, "error", ee.cause)
	default:
		log.Debug("query rejected", "kind", ee.Kind, "code", ee.Code, "message", ee.Message)
	}
}
