package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	result := NewResult()
	result.Trace = []StepTrace{
		{Index: 0, Name: "read", Kind: StepQuery, Data: map[string]any{"users": []any{}}, CacheHit: false},
		{Index: 1, Kind: StepQuery, Error: "LOWERING/UNSUPPORTED_OPERATOR"},
		{Index: 2, Kind: StepWrite, Rows: 0},
		{Index: 3, Kind: StepCascade, Invalidated: 2},
	}

	got, err := Snapshot("snap", result)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario":"snap","steps":[`+
		`{"cache_hit":false,"data":{"users":[]},"index":0,"kind":"query","name":"read"},`+
		`{"error":"LOWERING/UNSUPPORTED_OPERATOR","index":1,"kind":"query"},`+
		`{"index":2,"kind":"write","rows":0},`+
		`{"index":3,"invalidated":2,"kind":"cascade"}]}`, string(got))
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/read-and-cache.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
