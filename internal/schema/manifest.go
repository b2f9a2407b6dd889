package schema

// DefaultManifest returns the operator set the schema compiler emits for a
// target when the author does not narrow it. Postgres and MySQL support
// regular expressions natively; SQLite and SQL Server do not.
func DefaultManifest(target Target) Manifest {
	ordered := []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpIsNull}
	text := []Operator{
		OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin,
		OpContains, OpIContains, OpStartsWith, OpEndsWith, OpIsNull,
	}
	switch target {
	case TargetPostgres, TargetMySQL:
		text = append(text, OpMatches)
	case TargetSQLite, TargetSQLServer:
	default:
		return nil
	}

	return Manifest{
		KindString:   text,
		KindID:       []Operator{OpEq, OpNeq, OpIn, OpNin, OpContains, OpStartsWith, OpEndsWith, OpIsNull},
		KindInt:      ordered,
		KindFloat:    ordered,
		KindDateTime: ordered,
		KindBoolean:  []Operator{OpEq, OpNeq, OpIsNull},
		KindJSON:     []Operator{OpIsNull},
	}
}
