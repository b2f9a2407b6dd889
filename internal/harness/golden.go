package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/viewql/internal/ir"
)

// Snapshot renders a scenario's trace as canonical JSON for golden
// comparison.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Trace))
	for i, s := range result.Trace {
		steps[i] = s.canonical()
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario": name,
		"steps":    steps,
	})
}

// RunWithGolden runs a scenario, fails t on any failed expectation, and
// compares the trace with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}
