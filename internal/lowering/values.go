package lowering

import (
	"fmt"
	"strconv"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/schema"
)

// param converts a literal into a driver parameter for a field of kind.
// Returns a non-empty message when the literal cannot be compared with the
// field.
func (w *walk) param(kind schema.ScalarKind, v ir.IRValue) (any, string) {
	switch kind {
	case schema.KindString, schema.KindDateTime:
		if s, ok := v.(ir.IRString); ok {
			return string(s), ""
		}
		return nil, fmt.Sprintf("%s field requires a string, got %s", kind, describe(v))
	case schema.KindID:
		switch val := v.(type) {
		case ir.IRString:
			return string(val), ""
		case ir.IRInt:
			return strconv.FormatInt(int64(val), 10), ""
		}
		return nil, fmt.Sprintf("ID field requires a string or integer, got %s", describe(v))
	case schema.KindInt, schema.KindFloat:
		switch val := v.(type) {
		case ir.IRInt:
			return int64(val), ""
		case ir.IRFloat:
			return float64(val), ""
		}
		return nil, fmt.Sprintf("%s field requires a number, got %s", kind, describe(v))
	case schema.KindBoolean:
		if b, ok := v.(ir.IRBool); ok {
			return w.d.boolParam(bool(b)), ""
		}
		return nil, fmt.Sprintf("Boolean field requires a boolean, got %s", describe(v))
	default:
		return nil, fmt.Sprintf("%s fields cannot be compared", kind)
	}
}

func describe(v ir.IRValue) string {
	switch v.(type) {
	case ir.IRString:
		return "string"
	case ir.IRInt, ir.IRFloat:
		return "number"
	case ir.IRBool:
		return "boolean"
	case ir.IRArray:
		return "array"
	case ir.IRObject:
		return "object"
	default:
		return "null"
	}
}
