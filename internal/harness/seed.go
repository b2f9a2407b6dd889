package harness

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/viewql/internal/lowering"
	"github.com/roach88/viewql/internal/schema"
)

// views materializes scenario rows as SQLite tables with one JSON column.
// A view "app.v_user" becomes table v_user in an attached in-memory
// database named app.
type views struct {
	db       *sql.DB
	attached map[string]bool
	created  map[string]bool
}

func newViews(db *sql.DB) *views {
	return &views{db: db, attached: make(map[string]bool), created: make(map[string]bool)}
}

// replace sets the rows of each view, creating it on first use.
func (v *views) replace(ctx context.Context, rows map[string][]map[string]any) (int, error) {
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	slices.Sort(names)

	total := 0
	for _, name := range names {
		if err := v.ensure(ctx, name); err != nil {
			return total, err
		}
		table := quoteView(name)
		if _, err := v.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return total, fmt.Errorf("clear %s: %w", name, err)
		}
		for i, row := range rows[name] {
			data, err := json.Marshal(row)
			if err != nil {
				return total, fmt.Errorf("%s[%d]: %w", name, i, err)
			}
			if _, err := v.db.ExecContext(ctx, "INSERT INTO "+table+" ("+quoteIdent(lowering.DocumentColumn)+") VALUES (?)", string(data)); err != nil {
				return total, fmt.Errorf("insert %s[%d]: %w", name, i, err)
			}
			total++
		}
	}
	return total, nil
}

func (v *views) ensure(ctx context.Context, name string) error {
	if v.created[name] {
		return nil
	}
	if !schema.ValidView(name) {
		return fmt.Errorf("invalid view name %q", name)
	}
	if db, _, ok := strings.Cut(name, "."); ok && !v.attached[db] {
		if _, err := v.db.ExecContext(ctx, "ATTACH DATABASE ':memory:' AS "+quoteIdent(db)); err != nil {
			return fmt.Errorf("attach %s: %w", db, err)
		}
		v.attached[db] = true
	}
	if _, err := v.db.ExecContext(ctx, "CREATE TABLE "+quoteView(name)+" ("+quoteIdent(lowering.DocumentColumn)+" TEXT NOT NULL)"); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	v.created[name] = true
	return nil
}

func quoteView(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
