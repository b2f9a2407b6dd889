package adapter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/viewql/internal/lowering"
	"github.com/roach88/viewql/internal/retry"
	"github.com/roach88/viewql/internal/schema"
)

// Document is one row's payload column, decoded with json.Number for
// numbers so integers survive unchanged.
type Document = map[string]any

// Query selects documents from a view.
type Query struct {
	View    string
	Where   *lowering.Fragment // nil = every row
	OrderBy string             // top-level document field, "" = unordered
	Limit   *uint32
	Offset  *uint32
}

// PoolMetrics is a snapshot of connection checkout state.
type PoolMetrics struct {
	Active  int `json:"active"`  // checked out by in-flight queries
	Idle    int `json:"idle"`    // open connections not in use
	Waiting int `json:"waiting"` // queries blocked on checkout
	Max     int `json:"max"`     // checkout bound
}

// Adapter executes lowered queries against one database target.
// Implementations are safe for concurrent use.
type Adapter interface {
	Target() schema.Target

	// Execute returns one document per matched row, unprojected.
	// Errors are *AdapterError; retryable kinds have already been retried.
	Execute(ctx context.Context, q Query) ([]Document, error)

	HealthCheck(ctx context.Context) error
	PoolMetrics() PoolMetrics
	Close() error
}

// Defaults for SQLAdapter.
const (
	DefaultPoolSize       = 10
	DefaultAcquireTimeout = 2 * time.Second
)

// SQLAdapter runs queries through database/sql with a bounded checkout pool.
//
// CRITICAL: checkout never waits longer than the acquire timeout; a
// timed-out wait is KindPoolExhausted, not a hang.
type SQLAdapter struct {
	db             *sql.DB
	lowerer        lowering.Lowerer
	sem            *semaphore.Weighted
	size           int
	acquireTimeout time.Duration
	retry          retry.Config
	logger         *slog.Logger

	active  atomic.Int64
	waiting atomic.Int64
}

// Option configures an SQLAdapter.
type Option func(*SQLAdapter)

// WithPoolSize bounds concurrent checkouts. Values below 1 are ignored.
func WithPoolSize(n int) Option {
	return func(a *SQLAdapter) {
		if n > 0 {
			a.size = n
		}
	}
}

// WithAcquireTimeout bounds how long Execute waits for a checkout.
func WithAcquireTimeout(d time.Duration) Option {
	return func(a *SQLAdapter) {
		if d > 0 {
			a.acquireTimeout = d
		}
	}
}

// WithRetry sets the backoff for retryable failures.
func WithRetry(cfg retry.Config) Option {
	return func(a *SQLAdapter) {
		a.retry = cfg
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *SQLAdapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New wraps an open database handle. The adapter owns db and closes it.
func New(db *sql.DB, target schema.Target, opts ...Option) (*SQLAdapter, error) {
	l, err := lowering.ForTarget(target)
	if err != nil {
		return nil, err
	}
	a := &SQLAdapter{
		db:             db,
		lowerer:        l,
		size:           DefaultPoolSize,
		acquireTimeout: DefaultAcquireTimeout,
		retry:          retry.DefaultConfig(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.sem = semaphore.NewWeighted(int64(a.size))
	if a.db.Stats().MaxOpenConnections == 0 {
		a.db.SetMaxOpenConns(a.size)
	}
	return a, nil
}

func (a *SQLAdapter) Target() schema.Target {
	return a.lowerer.Target()
}

// Execute runs q, retrying pool exhaustion and transient failures with
// backoff. Query errors return on the first attempt.
func (a *SQLAdapter) Execute(ctx context.Context, q Query) ([]Document, error) {
	stmt, err := a.lowerer.BuildSelect(lowering.Select{
		View:    q.View,
		Where:   q.Where,
		OrderBy: q.OrderBy,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		return nil, &AdapterError{Kind: KindQuery, Target: a.Target(), View: q.View, Err: err}
	}

	cfg := a.retry
	cfg.Retryable = IsRetryable
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		a.logger.Warn("retrying query",
			"target", a.Target(),
			"view", q.View,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}
	return retry.DoWithResult(ctx, cfg, func() ([]Document, error) {
		return a.executeOnce(ctx, q.View, stmt)
	})
}

func (a *SQLAdapter) executeOnce(ctx context.Context, view string, stmt lowering.Statement) ([]Document, error) {
	release, err := a.checkout(ctx)
	if err != nil {
		return nil, &AdapterError{Kind: KindPoolExhausted, Target: a.Target(), View: view, Err: err}
	}
	defer release()

	rows, err := a.db.QueryContext(ctx, stmt.SQL, stmt.Params...)
	if err != nil {
		return nil, &AdapterError{Kind: classify(err), Target: a.Target(), View: view, Err: err}
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, &AdapterError{Kind: classify(err), Target: a.Target(), View: view, Err: err}
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, &AdapterError{
				Kind:   KindQuery,
				Target: a.Target(),
				View:   view,
				Err:    fmt.Errorf("row %d: %w", len(docs), err),
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &AdapterError{Kind: classify(err), Target: a.Target(), View: view, Err: err}
	}
	return docs, nil
}

var errAcquireTimeout = errors.New("connection checkout timed out")

// checkout blocks until a slot is free or the acquire timeout passes.
func (a *SQLAdapter) checkout(ctx context.Context) (func(), error) {
	actx, cancel := context.WithTimeout(ctx, a.acquireTimeout)
	defer cancel()

	a.waiting.Add(1)
	err := a.sem.Acquire(actx, 1)
	a.waiting.Add(-1)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", errAcquireTimeout, a.acquireTimeout)
	}

	a.active.Add(1)
	return func() {
		a.active.Add(-1)
		a.sem.Release(1)
	}, nil
}

func decodeDocument(raw []byte) (Document, error) {
	if raw == nil {
		return nil, errors.New("document column is NULL")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, errors.New("document is not a JSON object")
	}
	return doc, nil
}

// HealthCheck pings the database through the checkout pool.
func (a *SQLAdapter) HealthCheck(ctx context.Context) error {
	release, err := a.checkout(ctx)
	if err != nil {
		return &AdapterError{Kind: KindPoolExhausted, Target: a.Target(), Err: err}
	}
	defer release()
	if err := a.db.PingContext(ctx); err != nil {
		return &AdapterError{Kind: classify(err), Target: a.Target(), Err: err}
	}
	return nil
}

func (a *SQLAdapter) PoolMetrics() PoolMetrics {
	return PoolMetrics{
		Active:  int(a.active.Load()),
		Idle:    a.db.Stats().Idle,
		Waiting: int(a.waiting.Load()),
		Max:     a.size,
	}
}

// DB returns the underlying handle for setup and tests.
func (a *SQLAdapter) DB() *sql.DB {
	return a.db
}

func (a *SQLAdapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
