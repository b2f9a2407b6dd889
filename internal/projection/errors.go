package projection

import (
	"errors"
	"fmt"
)

// Projection error codes.
const (
	// CodeUnknownField means the selection names a field the schema does
	// not declare for the type.
	CodeUnknownField = "UNKNOWN_FIELD"

	// CodeInvalidSelection means a scalar was given children or an object
	// was selected without any.
	CodeInvalidSelection = "INVALID_SELECTION"

	// CodeDocumentShape means the stored document disagrees with the schema
	// (an object field holding a string, for example).
	CodeDocumentShape = "DOCUMENT_SHAPE"
)

// ProjectionError reports a selection that does not fit the schema or
// document. Path is the dotted output path.
type ProjectionError struct {
	Code    string
	Type    string
	Field   string
	Path    string
	Message string
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
}

// Details returns the structured fields of the error for client display.
func (e *ProjectionError) Details() map[string]any {
	return map[string]any{"type": e.Type, "field": e.Field, "path": e.Path}
}

// IsUnknownField checks if an error is an UNKNOWN_FIELD projection error.
func IsUnknownField(err error) bool {
	var pe *ProjectionError
	return errors.As(err, &pe) && pe.Code == CodeUnknownField
}

// IsProjectionError checks if an error is any projection error.
func IsProjectionError(err error) bool {
	var pe *ProjectionError
	return errors.As(err, &pe)
}
