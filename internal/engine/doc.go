// Package engine executes compiled GraphQL queries against database views.
//
// One call to ExecuteQuery runs the whole pipeline:
//
//  1. Fingerprint the normalized request and caller scope; a cache hit
//     returns immediately.
//  2. Lower the filter predicate with the target's lowerer (resolved once in
//     New, never per request).
//  3. Execute the single-statement query through the target's adapter, which
//     retries pool exhaustion and transient failures.
//  4. Build the caller's auth mask and project every document, fanning out
//     over a bounded errgroup for large results.
//  5. Cache the response under the entities it was read from.
//
// CRITICAL: the database call is detached from the request context. A
// cancelled request lets it finish, then discards the result uncached.
//
// Every failure is an *ExecutionError whose Kind tells a client whether to
// fix the request (LOWERING, PROJECTION, BAD_REQUEST, QUERY_FAILED) or retry
// it (UNAVAILABLE). Database text never reaches Message or Details.
package engine
