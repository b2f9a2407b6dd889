package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration; a process reading a
// shared cache must agree on these values.
const (
	DomainFingerprint = "viewql/fingerprint/v1"
)

// Wildcard is the entity id meaning "any row of this type".
const Wildcard = "*"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Scope identifies who a cached result was computed for.
// Two requests share a cache entry only if their scopes are equal.
type Scope struct {
	TenantID    string
	UserID      string // Only set when per-user rules can change the result
	Roles       []string
	Permissions []string
	Attributes  map[string]any // Same condition as UserID
}

// FingerprintInput is the normalized form of a query used for cache keying.
// Query holds an already-normalized, JSON-compatible description of the
// query (type, view, target, predicate, selection, paging).
type FingerprintInput struct {
	Query     map[string]any
	Variables map[string]any
	Scope     Scope
}

// Fingerprint computes the stable cache key for a query.
// Roles and permissions are order-insensitive; the result is identical for
// permutations of either slice.
func Fingerprint(in FingerprintInput) (string, error) {
	scope := map[string]any{
		"tenant":      in.Scope.TenantID,
		"user":        in.Scope.UserID,
		"roles":       sortedCopy(in.Scope.Roles),
		"permissions": sortedCopy(in.Scope.Permissions),
	}
	if len(in.Scope.Attributes) > 0 {
		scope["attributes"] = in.Scope.Attributes
	}
	obj := map[string]any{
		"query": in.Query,
		"scope": scope,
	}
	if len(in.Variables) > 0 {
		obj["variables"] = in.Variables
	}
	if in.Query == nil {
		obj["query"] = map[string]any{}
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFingerprint, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(in FingerprintInput) string {
	fp, err := Fingerprint(in)
	if err != nil {
		panic(err)
	}
	return fp
}

// EntityKey is the reverse-index key of an entity dependency.
func EntityKey(typeName, id string) string {
	return typeName + ":" + id
}

// SplitEntityKey is the inverse of EntityKey.
func SplitEntityKey(key string) (typeName, id string, ok bool) {
	return strings.Cut(key, ":")
}

// WildcardKey is the reverse-index key matching every entity of a type.
func WildcardKey(typeName string) string {
	return EntityKey(typeName, Wildcard)
}

func sortedCopy(in []string) []any {
	s := slices.Clone(in)
	slices.Sort(s)
	s = slices.Compact(s)
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
