package engine

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/gqlreq"
	"github.com/roach88/viewql/internal/lowering"
	"github.com/roach88/viewql/internal/projection"
)

// ErrorKind separates failures a client can fix from failures it should
// retry.
type ErrorKind string

const (
	// KindLowering: the filter uses a path, operator or value the target
	// cannot express. Deterministic.
	KindLowering ErrorKind = "LOWERING"

	// KindProjection: the selection does not match the schema or the stored
	// documents. Deterministic.
	KindProjection ErrorKind = "PROJECTION"

	// KindUnavailable: the database stayed busy or unreachable through every
	// retry. Retryable.
	KindUnavailable ErrorKind = "UNAVAILABLE"

	// KindQueryFailed: the database rejected the query. Not retryable.
	KindQueryFailed ErrorKind = "QUERY_FAILED"

	// KindCancelled: the caller went away before the response was built.
	KindCancelled ErrorKind = "CANCELLED"

	// KindBadRequest: the request does not parse, or names an unknown type,
	// view or target.
	KindBadRequest ErrorKind = "BAD_REQUEST"

	// KindInternal: a bug. The message never carries internal detail.
	KindInternal ErrorKind = "INTERNAL"
)

// ExecutionError is the only error type ExecuteQuery returns.
//
// Message and Details are safe to show to clients. The underlying cause,
// which may contain database text, is only reachable through Unwrap and is
// logged, never rendered.
type ExecutionError struct {
	Kind      ErrorKind
	Code      string
	Message   string
	Details   map[string]any
	Retryable bool
	RequestID string

	cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Code != "" && e.Code != string(e.Kind) {
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.cause
}

// GQLError renders the error for a GraphQL errors array.
func (e *ExecutionError) GQLError() *gqlerror.Error {
	ext := map[string]any{
		"kind":      string(e.Kind),
		"code":      e.Code,
		"retryable": e.Retryable,
	}
	if e.RequestID != "" {
		ext["request_id"] = e.RequestID
	}
	if len(e.Details) > 0 {
		ext["details"] = e.Details
	}
	return &gqlerror.Error{Message: e.Message, Extensions: ext}
}

// KindOf returns the kind of an ExecutionError anywhere in err's chain, or
// KindInternal.
func KindOf(err error) ErrorKind {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is an ExecutionError a client may retry.
func IsRetryable(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Retryable
}

func badRequest(code, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: KindBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

func cancelled(cause error) *ExecutionError {
	return &ExecutionError{Kind: KindCancelled, Code: "CANCELLED", Message: "request cancelled", cause: cause}
}

func internal(cause error) *ExecutionError {
	return &ExecutionError{Kind: KindInternal, Code: "INTERNAL", Message: "internal error", cause: cause}
}

// Classify converts any error from decoding or executing a request into an
// ExecutionError safe to render.
func Classify(err error) *ExecutionError {
	return classify(err)
}

func classify(err error) *ExecutionError {
	var (
		ee *ExecutionError
		re *gqlreq.Error
		le *lowering.LoweringError
		pe *projection.ProjectionError
		ae *adapter.AdapterError
	)
	switch {
	case errors.As(err, &ee):
		return ee
	case errors.As(err, &re):
		return &ExecutionError{Kind: KindBadRequest, Code: re.Code, Message: re.Message, Details: re.Details(), cause: err}
	case errors.As(err, &le):
		return &ExecutionError{Kind: KindLowering, Code: string(le.Code), Message: le.Message, Details: le.Details(), cause: err}
	case errors.As(err, &pe):
		return &ExecutionError{Kind: KindProjection, Code: string(pe.Code), Message: pe.Message, Details: pe.Details(), cause: err}
	case errors.As(err, &ae):
		if ae.Retryable() {
			return &ExecutionError{
				Kind:      KindUnavailable,
				Code:      string(ae.Kind),
				Message:   "database temporarily unavailable, try again later",
				Retryable: true,
				cause:     err,
			}
		}
		return &ExecutionError{Kind: KindQueryFailed, Code: "QUERY_FAILED", Message: "query execution failed", cause: err}
	default:
		return internal(err)
	}
}
