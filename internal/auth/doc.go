// Package auth builds per-request field authorization masks from the rules
// in a compiled schema.
//
// A field rule requires any one of its Roles, all of its Permissions, and,
// when present, a custom check against the document holding the field.
// Role and permission checks run once in Evaluator.Build. Custom checks run
// in Mask.Allowed, so they cost nothing for fields a query does not select.
//
// Fields without a rule follow the evaluator's Policy. PolicyDefaultAllow is
// the default.
package auth
