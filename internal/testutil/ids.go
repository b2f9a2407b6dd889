package testutil

// StaticIDs returns the same request id every time, so logs and error
// extensions compare byte-for-byte across runs.
// Stateless and safe for concurrent use.
type StaticIDs struct {
	id string
}

// NewStaticIDs creates a generator for id. An empty id becomes
// "test-request".
func NewStaticIDs(id string) *StaticIDs {
	if id == "" {
		id = "test-request"
	}
	return &StaticIDs{id: id}
}

// Generate returns the fixed id.
func (g *StaticIDs) Generate() string {
	return g.id
}
