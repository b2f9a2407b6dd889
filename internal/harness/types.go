package harness

// StepTrace records what one step did.
type StepTrace struct {
	Index       int    `json:"index"`
	Name        string `json:"name,omitempty"`
	Kind        string `json:"kind"`
	Data        any    `json:"data,omitempty"`
	CacheHit    bool   `json:"cache_hit,omitempty"`
	Error       string `json:"error,omitempty"`
	Invalidated int    `json:"invalidated,omitempty"`
	Rows        int    `json:"rows,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Errors describes every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// canonical returns the trace entry as plain JSON values.
func (s StepTrace) canonical() map[string]any {
	m := map[string]any{
		"index": s.Index,
		"kind":  s.Kind,
	}
	if s.Name != "" {
		m["name"] = s.Name
	}
	switch s.Kind {
	case StepQuery:
		if s.Error != "" {
			m["error"] = s.Error
		} else {
			m["data"] = s.Data
			m["cache_hit"] = s.CacheHit
		}
	case StepWrite:
		m["rows"] = s.Rows
	case StepCascade:
		m["invalidated"] = s.Invalidated
	}
	return m
}
