// Package ir provides the value and hashing primitives shared by every other
// viewql package.
//
// ir imports nothing internal. It defines:
//   - IRValue, the sealed set of literal values allowed in filter predicates
//   - MarshalCanonical, RFC 8785 canonical JSON used for all hashing
//   - Fingerprint and EntityKey, the stable key formats of the result cache
//
// Fingerprints are SHA-256 over a domain-separated canonical encoding
// ("viewql/fingerprint/v1"), so they are stable across processes and can be
// used to address an out-of-process cache.
package ir
