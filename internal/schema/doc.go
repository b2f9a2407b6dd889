// Package schema loads and validates the compiled schema artifact.
//
// A compiled schema describes the document types a deployment serves, the
// filter operators each database target supports per scalar kind, and the
// field-level authorization rules. It is produced by an external compiler,
// loaded once at startup, and never mutated afterwards: every consumer
// receives the same *CompiledSchema by reference.
//
// Every rule that could fail at request time because of a schema/runtime
// mismatch is checked here instead, so a loaded schema never offers an
// operator its target cannot lower.
package schema
