package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/ir"
)

// checkStep compares a step's trace with its expectations.
func checkStep(step Step, got StepTrace) []string {
	e := step.Expect
	var errs []string

	if got.Kind == StepQuery {
		want := ""
		if e != nil {
			want = e.Error
		}
		if msg := checkError(want, got.Error); msg != "" {
			return []string{msg}
		}
	}
	if e == nil {
		return nil
	}

	if e.Data != nil {
		var want any
		if err := e.Data.Decode(&want); err != nil {
			errs = append(errs, fmt.Sprintf("expect.data: %v", err))
		} else if msg := compareData(want, got.Data); msg != "" {
			errs = append(errs, msg)
		}
	}
	if e.CacheHit != nil && *e.CacheHit != got.CacheHit {
		errs = append(errs, fmt.Sprintf("cache_hit: expected %t, got %t", *e.CacheHit, got.CacheHit))
	}
	if e.Invalidated != nil && *e.Invalidated != got.Invalidated {
		errs = append(errs, fmt.Sprintf("invalidated: expected %d, got %d", *e.Invalidated, got.Invalidated))
	}
	return errs
}

// checkError matches an expected kind ("LOWERING") or kind/code against
// the error label of a query.
func checkError(want, got string) string {
	switch {
	case want == "" && got == "":
		return ""
	case want == "":
		return "unexpected error " + got
	case got == "":
		return "expected error " + want + ", query succeeded"
	case strings.Contains(want, "/"):
		if want != got {
			return fmt.Sprintf("expected error %s, got %s", want, got)
		}
	default:
		kind, _, _ := strings.Cut(got, "/")
		if want != kind {
			return fmt.Sprintf("expected error %s, got %s", want, got)
		}
	}
	return ""
}

// compareData compares values as JSON, so YAML integers match decoded
// database numbers.
func compareData(want, got any) string {
	w, err := ir.FromJSON(want)
	if err != nil {
		return fmt.Sprintf("expect.data: %v", err)
	}
	g, err := ir.FromJSON(got)
	if err != nil {
		return fmt.Sprintf("data: %v", err)
	}
	if reflect.DeepEqual(w, g) {
		return ""
	}
	wj, _ := ir.MarshalCanonical(w)
	gj, _ := ir.MarshalCanonical(g)
	return fmt.Sprintf("data mismatch\n  expected: %s\n  actual:   %s", wj, gj)
}

func (h *Harness) evaluateAssertions(assertions []Assertion) []string {
	var errs []string
	stats := h.engine.Cache().Stats()
	for i, a := range assertions {
		var got int64
		switch a.Type {
		case AssertAdapterCalls:
			got = h.adapter.calls.Load()
		case AssertCacheSize:
			got = int64(stats.Size)
		case AssertCacheStat:
			got, _ = statValue(stats, a.Stat)
		}
		if got != a.Count {
			label := a.Type
			if a.Stat != "" {
				label += " " + a.Stat
			}
			errs = append(errs, fmt.Sprintf("assertions[%d] %s: expected %d, got %d", i, label, a.Count, got))
		}
	}
	return errs
}

func statValue(s cache.Stats, name string) (int64, bool) {
	switch name {
	case "hits":
		return s.Hits, true
	case "misses":
		return s.Misses, true
	case "puts":
		return s.Puts, true
	case "rejected_puts":
		return s.RejectedPuts, true
	case "invalidated":
		return s.Invalidated, true
	case "evicted":
		return s.Evicted, true
	case "invalidate_calls":
		return s.InvalidateCalls, true
	}
	return 0, false
}
