package schema

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Load-time error codes (E100-E199)
const (
	// Artifact structure (E100-E109)
	ErrMissingVersion = "E100" // version is required
	ErrNoTypes        = "E101" // at least one type required
	ErrInvalidName    = "E102" // type, field, or view name is not an identifier
	ErrDuplicateType  = "E103" // type declared twice
	ErrDuplicateField = "E104" // field declared twice on one type
	ErrFieldShape     = "E105" // field must set exactly one of kind or type
	ErrUnknownKind    = "E106" // scalar kind not recognized
	ErrUnknownType    = "E107" // object field references an undeclared type
	ErrInvalidIDField = "E108" // id_field missing or not a scalar
	ErrInvalidRoot    = "E109" // root references an undeclared type or bad view

	// Capability manifests (E110-E119)
	ErrNoCapabilities       = "E110" // no target manifests declared
	ErrUnknownTarget        = "E111" // target not in the supported set
	ErrUnknownOperator      = "E112" // operator not recognized
	ErrInapplicableOperator = "E113" // operator makes no sense for the kind

	// Authorization rules (E120-E129)
	ErrEmptyRule         = "E120" // rule names no role, permission, or check
	ErrInvalidCustomRule = "E121" // custom rule shape is invalid
	ErrRuleOperator      = "E122" // rule operator absent from a target manifest
	ErrInvalidJSONPath   = "E123" // custom rule path does not parse

	// Loading (E130-E139)
	ErrInvalidArtifact   = "E130" // artifact is not decodable
	ErrUnsupportedFormat = "E131" // file extension not recognized
	ErrCUEEvaluation     = "E132" // CUE source failed to evaluate
)

// CompileError reports a problem with a schema artifact found at load time.
// Field is a dotted location inside the artifact, e.g. "types.User.fields.email".
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("[%s] %s:%d:%d: %s: %s",
			e.Code, e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Code: ErrCUEEvaluation, Field: "cue", Message: err.Error()}
	}

	first := errs[0]
	ce := &CompileError{Code: ErrCUEEvaluation, Field: "cue", Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
