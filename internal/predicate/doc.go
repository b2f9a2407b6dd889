// Package predicate defines the filter predicate tree handed to the
// lowering engine.
//
// Predicate is a sealed interface with five node types:
//   - Field: compare the value at a document path with a literal
//   - Nested: evaluate a subtree at a path, against one list element at a time
//   - And, Or: conjunction and disjunction (empty And is true, empty Or false)
//   - Not: negation
//
// Trees come from two places: FromWhere converts a GraphQL where argument,
// and Decode reads the JSON form used by the CLI. Both validate structure
// before returning; operator capability is checked later, per target, by the
// lowering package.
package predicate
