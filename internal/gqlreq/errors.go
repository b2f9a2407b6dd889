package gqlreq

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Error codes.
const (
	CodeParse                = "PARSE_ERROR"
	CodeUnknownOperation     = "UNKNOWN_OPERATION"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeSingleRoot           = "SINGLE_ROOT_REQUIRED"
	CodeUnknownRoot          = "UNKNOWN_ROOT"
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeInvalidVariable      = "INVALID_VARIABLE"
	CodeInvalidFragment      = "INVALID_FRAGMENT"
	CodeFieldConflict        = "FIELD_CONFLICT"
)

// Error reports a request that cannot be turned into a query.
type Error struct {
	Code      string
	Message   string
	Locations []gqlerror.Location

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Details returns the error positions, if any, for client rendering.
func (e *Error) Details() map[string]any {
	if len(e.Locations) == 0 {
		return nil
	}
	locs := make([]map[string]int, len(e.Locations))
	for i, l := range e.Locations {
		locs[i] = map[string]int{"line": l.Line, "column": l.Column}
	}
	return map[string]any{"locations": locs}
}

// IsRequestError reports whether err is an *Error.
func IsRequestError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func parseError(err error) *Error {
	e := &Error{Code: CodeParse, Message: err.Error(), cause: err}
	var ge *gqlerror.Error
	if errors.As(err, &ge) {
		e.Message = ge.Message
		e.Locations = ge.Locations
	}
	return e
}
