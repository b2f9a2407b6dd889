// Package lowering translates filter predicates into parameterized SQL for
// each supported database target.
//
// Documents live in a single JSON column (DocumentColumn) of a view, so a
// Field predicate becomes a comparison on a JSON extraction expression:
//
//	postgresql  "data"->>'name' = $1
//	mysql       JSON_UNQUOTE(JSON_EXTRACT(`data`, '$.name')) = ?
//	sqlite      json_extract("data", '$.name') = ?
//	sqlserver   JSON_VALUE([data], '$.name') = @p1
//
// Paths through nested lists become EXISTS subqueries over the target's array
// expansion (jsonb_array_elements, JSON_TABLE, json_each, OPENJSON), keeping
// every query a single statement against a single view with no joins.
//
// CRITICAL: literal values are always bound parameters. The only text that
// reaches SQL from outside the package is field names and view names, which
// the schema validates as identifiers.
//
// Each target has its own dialect; an operator a target cannot express is an
// UNSUPPORTED_OPERATOR error, never a translation borrowed from another
// target.
package lowering
