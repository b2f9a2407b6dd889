package cascadebus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/viewql/internal/cache"
)

// Version tags every envelope. Peers drop envelopes of any other version.
const Version = "viewql/cascade/v1"

// ErrUnsupportedVersion is returned by Decode for a foreign envelope.
var ErrUnsupportedVersion = errors.New("unsupported cascade envelope version")

// Envelope is the wire form of a cascade.
type Envelope struct {
	Version string            `json:"version"`
	Origin  string            `json:"origin,omitempty"`
	Updated []cache.EntityRef `json:"updated"`
	Deleted []cache.EntityRef `json:"deleted"`
}

// Cascade returns the cascade carried by the envelope.
func (e Envelope) Cascade() cache.CascadeMetadata {
	return cache.CascadeMetadata{Updated: e.Updated, Deleted: e.Deleted}
}

// Encode wraps c for publishing. Empty lists encode as [] so every envelope
// has the same shape.
func Encode(origin string, c cache.CascadeMetadata) ([]byte, error) {
	env := Envelope{
		Version: Version,
		Origin:  origin,
		Updated: c.Updated,
		Deleted: c.Deleted,
	}
	if env.Updated == nil {
		env.Updated = []cache.EntityRef{}
	}
	if env.Deleted == nil {
		env.Deleted = []cache.EntityRef{}
	}
	return json.Marshal(env)
}

// Decode parses an envelope and checks its version.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode cascade envelope: %w", err)
	}
	if env.Version != Version {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, env.Version)
	}
	return env, nil
}
