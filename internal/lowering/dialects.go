package lowering

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/viewql/internal/schema"
)

// likePattern escapes LIKE wildcards in s using backslash and wraps it for op.
// extra lists additional characters the target treats as wildcards.
func likePattern(op schema.Operator, s, extra string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\\' || r == '%' || r == '_' || strings.ContainsRune(extra, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return wrap(op, b.String(), "%")
}

// globPattern escapes GLOB metacharacters by bracketing them.
func globPattern(op schema.Operator, s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return wrap(op, b.String(), "*")
}

func wrap(op schema.Operator, s, wild string) string {
	switch op {
	case schema.OpStartsWith:
		return s + wild
	case schema.OpEndsWith:
		return wild + s
	default:
		return wild + s + wild
	}
}

// dotPath renders a JSON path literal: '$.a.b'. Segments are validated
// identifiers, so no quoting is needed inside the literal.
func dotPath(path []string) string {
	if len(path) == 0 {
		return "'$'"
	}
	return "'$." + strings.Join(path, ".") + "'"
}

// ---------------------------------------------------------------------------
// PostgreSQL: jsonb operators, casts per kind, $n placeholders.

type postgres struct{}

func (postgres) target() schema.Target { return schema.TargetPostgres }
func (postgres) placeholders() sq.PlaceholderFormat { return sq.Dollar }
func (postgres) quote(ident string) string { return `"` + ident + `"` }
func (postgres) boolParam(b bool) any { return b }

func (postgres) text(ref jsonRef) string {
	if len(ref.path) == 0 {
		return ref.base + "#>>'{}'"
	}
	var b strings.Builder
	b.WriteString(ref.base)
	for _, seg := range ref.path[:len(ref.path)-1] {
		b.WriteString("->'" + seg + "'")
	}
	b.WriteString("->>'" + ref.path[len(ref.path)-1] + "'")
	return b.String()
}

func (p postgres) scalar(ref jsonRef, kind schema.ScalarKind) string {
	switch kind {
	case schema.KindInt, schema.KindFloat:
		return "(" + p.text(ref) + ")::numeric"
	case schema.KindBoolean:
		return "(" + p.text(ref) + ")::boolean"
	case schema.KindDateTime:
		return "(" + p.text(ref) + ")::timestamptz"
	default:
		return p.text(ref)
	}
}

func (postgres) json(ref jsonRef) string {
	var b strings.Builder
	b.WriteString(ref.base)
	for _, seg := range ref.path {
		b.WriteString("->'" + seg + "'")
	}
	return b.String()
}

func (p postgres) elements(ref jsonRef, alias string) (string, string) {
	return "jsonb_array_elements(" + p.json(ref) + ") AS " + alias + "(value)", alias + ".value"
}

func (p postgres) isNull(ref jsonRef, null bool) string {
	if null {
		return p.text(ref) + " IS NULL"
	}
	return p.text(ref) + " IS NOT NULL"
}

func (p postgres) pattern(ref jsonRef, op schema.Operator, s string) (string, any, bool) {
	switch op {
	case schema.OpContains, schema.OpStartsWith, schema.OpEndsWith:
		return p.text(ref) + ` LIKE ? ESCAPE '\'`, likePattern(op, s, ""), true
	case schema.OpIContains:
		return p.text(ref) + ` ILIKE ? ESCAPE '\'`, likePattern(op, s, ""), true
	case schema.OpMatches:
		return p.text(ref) + " ~ ?", s, true
	}
	return "", nil, false
}

func (postgres) paginate(b sq.SelectBuilder, orderBy string, limit, offset *uint32) sq.SelectBuilder {
	if orderBy != "" {
		b = b.OrderBy(orderBy)
	}
	if limit != nil {
		b = b.Suffix("LIMIT ?", int64(*limit))
	}
	if offset != nil {
		b = b.Suffix("OFFSET ?", int64(*offset))
	}
	return b
}

// ---------------------------------------------------------------------------
// MySQL: JSON_EXTRACT paths, JSON_TABLE expansion, ? placeholders.

type mysql struct{}

func (mysql) target() schema.Target { return schema.TargetMySQL }
func (mysql) placeholders() sq.PlaceholderFormat { return sq.Question }
func (mysql) quote(ident string) string { return "`" + ident + "`" }

// JSON booleans unquote to the strings "true" and "false".
func (mysql) boolParam(b bool) any {
	if b {
		return "true"
	}
	return "false"
}

func (mysql) extract(ref jsonRef) string {
	return "JSON_EXTRACT(" + ref.base + ", " + dotPath(ref.path) + ")"
}

func (m mysql) text(ref jsonRef) string {
	return "JSON_UNQUOTE(" + m.extract(ref) + ")"
}

func (m mysql) scalar(ref jsonRef, kind schema.ScalarKind) string {
	if kind.IsNumeric() {
		return "CAST(" + m.text(ref) + " AS DECIMAL(65,30))"
	}
	return m.text(ref)
}

func (m mysql) elements(ref jsonRef, alias string) (string, string) {
	path := strings.TrimSuffix(dotPath(ref.path), "'") + "[*]'"
	return "JSON_TABLE(" + ref.base + ", " + path + " COLUMNS (`value` JSON PATH '$')) AS " + alias,
		alias + ".`value`"
}

// JSON null extracts as a JSON value, not SQL NULL, so both are checked.
func (m mysql) isNull(ref jsonRef, null bool) string {
	e := m.extract(ref)
	if null {
		return "(" + e + " IS NULL OR JSON_TYPE(" + e + ") = 'NULL')"
	}
	return "(" + e + " IS NOT NULL AND JSON_TYPE(" + e + ") <> 'NULL')"
}

func (m mysql) pattern(ref jsonRef, op schema.Operator, s string) (string, any, bool) {
	switch op {
	case schema.OpContains, schema.OpStartsWith, schema.OpEndsWith:
		return m.text(ref) + " LIKE ?", likePattern(op, s, ""), true
	case schema.OpIContains:
		return "LOWER(" + m.text(ref) + ") LIKE LOWER(?)", likePattern(op, s, ""), true
	case schema.OpMatches:
		return m.text(ref) + " REGEXP ?", s, true
	}
	return "", nil, false
}

func (mysql) paginate(b sq.SelectBuilder, orderBy string, limit, offset *uint32) sq.SelectBuilder {
	if orderBy != "" {
		b = b.OrderBy(orderBy)
	}
	switch {
	case limit != nil:
		b = b.Suffix("LIMIT ?", int64(*limit))
	case offset != nil:
		// MySQL has no OFFSET without LIMIT.
		b = b.Suffix("LIMIT 18446744073709551615")
	}
	if offset != nil {
		b = b.Suffix("OFFSET ?", int64(*offset))
	}
	return b
}

// ---------------------------------------------------------------------------
// SQLite: json1 functions, json_each expansion, GLOB for case-sensitive
// patterns, ? placeholders.

type sqlite struct{}

func (sqlite) target() schema.Target { return schema.TargetSQLite }
func (sqlite) placeholders() sq.PlaceholderFormat { return sq.Question }
func (sqlite) quote(ident string) string { return `"` + ident + `"` }
func (sqlite) boolParam(b bool) any { return b }

// json_each yields scalar elements as SQL values, which json_extract
// cannot parse, so an element with no remaining path is used directly.
func (sqlite) text(ref jsonRef) string {
	if ref.element && len(ref.path) == 0 {
		return ref.base
	}
	return "json_extract(" + ref.base + ", " + dotPath(ref.path) + ")"
}

// json_extract already returns INTEGER, REAL, and 0/1 for booleans.
func (s sqlite) scalar(ref jsonRef, _ schema.ScalarKind) string {
	return s.text(ref)
}

func (sqlite) elements(ref jsonRef, alias string) (string, string) {
	return "json_each(" + ref.base + ", " + dotPath(ref.path) + ") AS " + alias, alias + ".value"
}

func (s sqlite) isNull(ref jsonRef, null bool) string {
	if null {
		return s.text(ref) + " IS NULL"
	}
	return s.text(ref) + " IS NOT NULL"
}

// LIKE is case-insensitive in SQLite; GLOB is not.
func (s sqlite) pattern(ref jsonRef, op schema.Operator, v string) (string, any, bool) {
	switch op {
	case schema.OpContains, schema.OpStartsWith, schema.OpEndsWith:
		return s.text(ref) + " GLOB ?", globPattern(op, v), true
	case schema.OpIContains:
		return "LOWER(" + s.text(ref) + `) LIKE LOWER(?) ESCAPE '\'`, likePattern(op, v, ""), true
	}
	return "", nil, false
}

func (sqlite) paginate(b sq.SelectBuilder, orderBy string, limit, offset *uint32) sq.SelectBuilder {
	if orderBy != "" {
		b = b.OrderBy(orderBy)
	}
	switch {
	case limit != nil:
		b = b.Suffix("LIMIT ?", int64(*limit))
	case offset != nil:
		b = b.Suffix("LIMIT -1")
	}
	if offset != nil {
		b = b.Suffix("OFFSET ?", int64(*offset))
	}
	return b
}

// ---------------------------------------------------------------------------
// SQL Server: JSON_VALUE, OPENJSON expansion, OFFSET/FETCH paging, @pN
// placeholders.

type sqlserver struct{}

func (sqlserver) target() schema.Target { return schema.TargetSQLServer }
func (sqlserver) placeholders() sq.PlaceholderFormat { return sq.AtP }
func (sqlserver) quote(ident string) string { return "[" + ident + "]" }

// JSON_VALUE renders booleans as "true" and "false".
func (sqlserver) boolParam(b bool) any {
	if b {
		return "true"
	}
	return "false"
}

func (sqlserver) text(ref jsonRef) string {
	if ref.element && len(ref.path) == 0 {
		return ref.base
	}
	return "JSON_VALUE(" + ref.base + ", " + dotPath(ref.path) + ")"
}

func (s sqlserver) scalar(ref jsonRef, kind schema.ScalarKind) string {
	switch kind {
	case schema.KindInt:
		return "TRY_CAST(" + s.text(ref) + " AS bigint)"
	case schema.KindFloat:
		return "TRY_CAST(" + s.text(ref) + " AS float)"
	case schema.KindDateTime:
		return "TRY_CAST(" + s.text(ref) + " AS datetimeoffset)"
	default:
		return s.text(ref)
	}
}

func (sqlserver) elements(ref jsonRef, alias string) (string, string) {
	return "OPENJSON(" + ref.base + ", " + dotPath(ref.path) + ") AS " + alias, alias + ".[value]"
}

func (s sqlserver) isNull(ref jsonRef, null bool) string {
	if null {
		return s.text(ref) + " IS NULL"
	}
	return s.text(ref) + " IS NOT NULL"
}

// Brackets are wildcards in T-SQL LIKE and are escaped too.
func (s sqlserver) pattern(ref jsonRef, op schema.Operator, v string) (string, any, bool) {
	switch op {
	case schema.OpContains, schema.OpStartsWith, schema.OpEndsWith:
		return s.text(ref) + ` LIKE ? ESCAPE '\'`, likePattern(op, v, "["), true
	case schema.OpIContains:
		return "LOWER(" + s.text(ref) + `) LIKE LOWER(?) ESCAPE '\'`, likePattern(op, v, "["), true
	}
	return "", nil, false
}

// OFFSET/FETCH requires ORDER BY.
func (sqlserver) paginate(b sq.SelectBuilder, orderBy string, limit, offset *uint32) sq.SelectBuilder {
	if limit == nil && offset == nil {
		if orderBy != "" {
			b = b.OrderBy(orderBy)
		}
		return b
	}
	if orderBy == "" {
		orderBy = "(SELECT NULL)"
	}
	b = b.OrderBy(orderBy)
	if offset != nil {
		b = b.Suffix("OFFSET ? ROWS", int64(*offset))
	} else {
		b = b.Suffix("OFFSET 0 ROWS")
	}
	if limit != nil {
		b = b.Suffix("FETCH NEXT ? ROWS ONLY", int64(*limit))
	}
	return b
}
