package lowering

import (
	"errors"
	"fmt"

	"github.com/roach88/viewql/internal/schema"
)

// Lowering error codes. All are deterministic: retrying yields the same error.
const (
	// CodeUnsupportedOperator means the target's manifest does not offer the
	// operator for the field's kind. At runtime this indicates a mismatch
	// between the schema and the request, since the schema compiler never
	// offers such operators.
	CodeUnsupportedOperator = "UNSUPPORTED_OPERATOR"

	// CodeUnsupportedTarget means the schema has no manifest for the target.
	CodeUnsupportedTarget = "UNSUPPORTED_TARGET"

	// CodeMalformedPath means the path does not resolve against the schema.
	CodeMalformedPath = "MALFORMED_PATH"

	// CodeInvalidValue means the literal does not fit the operator or kind.
	CodeInvalidValue = "INVALID_VALUE"
)

// LoweringError describes why a predicate could not be lowered.
// Field is the dotted path of the offending node; it never contains SQL.
type LoweringError struct {
	Code     string
	Field    string
	Operator schema.Operator
	Target   schema.Target
	Message  string
}

func (e *LoweringError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

// Details returns the structured fields of the error for client display.
func (e *LoweringError) Details() map[string]any {
	d := map[string]any{"target": string(e.Target)}
	if e.Field != "" {
		d["field"] = e.Field
	}
	if e.Operator != "" {
		d["operator"] = string(e.Operator)
	}
	return d
}

// IsUnsupportedOperator checks if an error is an UNSUPPORTED_OPERATOR error.
func IsUnsupportedOperator(err error) bool {
	var le *LoweringError
	return errors.As(err, &le) && le.Code == CodeUnsupportedOperator
}

// IsMalformedPath checks if an error is a MALFORMED_PATH error.
func IsMalformedPath(err error) bool {
	var le *LoweringError
	return errors.As(err, &le) && le.Code == CodeMalformedPath
}

// IsInvalidValue checks if an error is an INVALID_VALUE error.
func IsInvalidValue(err error) bool {
	var le *LoweringError
	return errors.As(err, &le) && le.Code == CodeInvalidValue
}
