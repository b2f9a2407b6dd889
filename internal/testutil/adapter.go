package testutil

import (
	"context"
	"sync"

	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/schema"
)

// FakeAdapter serves fixed documents per view. It ignores the WHERE
// fragment, honours Offset and Limit, and counts calls.
// Safe for concurrent use.
type FakeAdapter struct {
	mu       sync.Mutex
	target   schema.Target
	docs     map[string][]adapter.Document
	failures []error
	queries  []adapter.Query
	health   error
	closed   bool

	// Hook, when set, runs at the start of every Execute with the context
	// the adapter received. A non-nil return fails the call.
	Hook func(ctx context.Context, q adapter.Query) error
}

var _ adapter.Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter creates an adapter for target with no documents.
func NewFakeAdapter(target schema.Target) *FakeAdapter {
	return &FakeAdapter{target: target, docs: make(map[string][]adapter.Document)}
}

// SetDocs replaces the documents of view.
func (f *FakeAdapter) SetDocs(view string, docs []adapter.Document) *FakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[view] = docs
	return f
}

// FailNext makes the next len(errs) calls return errs in order.
func (f *FakeAdapter) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// SetHealth sets the HealthCheck result.
func (f *FakeAdapter) SetHealth(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = err
}

// Calls returns how many times Execute ran.
func (f *FakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// Queries returns every query received, in order.
func (f *FakeAdapter) Queries() []adapter.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adapter.Query(nil), f.queries...)
}

// Closed reports whether Close was called.
func (f *FakeAdapter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeAdapter) Target() schema.Target {
	return f.target
}

func (f *FakeAdapter) Execute(ctx context.Context, q adapter.Query) ([]adapter.Document, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	var fail error
	if len(f.failures) > 0 {
		fail, f.failures = f.failures[0], f.failures[1:]
	}
	docs := f.docs[q.View]
	hook := f.Hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, q); err != nil {
			return nil, err
		}
	}
	if fail != nil {
		return nil, fail
	}

	if q.Offset != nil {
		docs = docs[min(int(*q.Offset), len(docs)):]
	}
	if q.Limit != nil {
		docs = docs[:min(int(*q.Limit), len(docs))]
	}
	return append([]adapter.Document(nil), docs...), nil
}

func (f *FakeAdapter) HealthCheck(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *FakeAdapter) PoolMetrics() adapter.PoolMetrics {
	return adapter.PoolMetrics{Max: 1}
}

func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
