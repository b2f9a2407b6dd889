package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/viewql/internal/lowering"
	"github.com/roach88/viewql/internal/predicate"
	"github.com/roach88/viewql/internal/schema"
)

// LowerOptions holds flags for the lower command.
type LowerOptions struct {
	*RootOptions
	Type      string
	Target    string
	View      string
	Where     string // GraphQL where object, as JSON
	Predicate string // encoded predicate tree, as JSON
	Limit     int
	Offset    int
}

// LowerResult is the SQL produced for a filter.
type LowerResult struct {
	Target          schema.Target `json:"target"`
	Type            string        `json:"type"`
	View            string        `json:"view"`
	Where           string        `json:"where,omitempty"`
	WhereParams     []any         `json:"where_params,omitempty"`
	Statement       string        `json:"statement"`
	StatementParams []any         `json:"statement_params"`
}

// NewLowerCommand creates the lower command.
func NewLowerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LowerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lower <schema>",
		Short: "Show the SQL generated for a filter",
		Long: `Lower a filter to parameterized SQL for one database target, exactly as
the server would, and print the WHERE fragment and the full statement.

The filter is either a GraphQL where object (--where) or an encoded
predicate tree (--predicate). The view defaults to the first root
returning --type.

Examples:
  viewql lower schema.json --type User --target postgresql \
    --where '{"name": {"startsWith": "A"}, "age": {"gte": 30}}'
  viewql lower schema.json --type User --target sqlite \
    --where '{"posts": {"title": {"contains": "Go"}}}' --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "type the filter applies to (required)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "database target (required)")
	cmd.Flags().StringVar(&opts.View, "view", "", "view to select from")
	cmd.Flags().StringVar(&opts.Where, "where", "", "GraphQL where object as JSON")
	cmd.Flags().StringVar(&opts.Predicate, "predicate", "", "encoded predicate as JSON")
	cmd.Flags().IntVar(&opts.Limit, "limit", -1, "row limit")
	cmd.Flags().IntVar(&opts.Offset, "offset", -1, "row offset")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("target")
	cmd.MarkFlagsMutuallyExclusive("where", "predicate")

	return cmd
}

func runLower(opts *LowerOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := schema.Load(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSchema, "failed to load schema", err, schemaIssues(err))
	}
	target, ok := schema.ParseTarget(opts.Target)
	if !ok {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid --target",
			fmt.Errorf("%q is not one of %v", opts.Target, schema.AllTargets()), nil)
	}
	td, ok := s.Type(opts.Type)
	if !ok {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid --type",
			fmt.Errorf("schema has no type %q", opts.Type), nil)
	}
	view := opts.View
	if view == "" {
		if view, ok = rootView(s, td.Name); !ok {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "no view",
				fmt.Errorf("no root returns %s; pass --view", td.Name), nil)
		}
	}

	p, err := parseFilter(opts)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeQuery, "invalid filter", err, nil)
	}

	l, err := lowering.ForTarget(target)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeQuery, "lowering failed", err, nil)
	}
	result := LowerResult{Target: target, Type: td.Name, View: view}

	sel := lowering.Select{View: view, Limit: bound(opts.Limit), Offset: bound(opts.Offset)}
	if td.HasIdentity() {
		sel.OrderBy = td.IDField
	}
	if p != nil {
		frag, err := l.Lower(p, s, td.Name)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeQuery, "lowering failed", err, loweringDetails(err))
		}
		sel.Where = frag
		result.Where, result.WhereParams = frag.SQL, frag.Params
	}
	stmt, err := l.BuildSelect(sel)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeQuery, "failed to build statement", err, nil)
	}
	result.Statement, result.StatementParams = stmt.SQL, stmt.Params

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	if result.Where != "" {
		fmt.Fprintf(w, "WHERE  %s\n", result.Where)
		fmt.Fprintf(w, "PARAMS %s\n", formatParams(result.WhereParams))
	}
	fmt.Fprintf(w, "SQL    %s\n", result.Statement)
	fmt.Fprintf(w, "PARAMS %s\n", formatParams(result.StatementParams))
	return nil
}

func parseFilter(opts *LowerOptions) (predicate.Predicate, error) {
	switch {
	case opts.Predicate != "":
		return predicate.Decode([]byte(opts.Predicate))
	case opts.Where != "":
		var where map[string]any
		dec := json.NewDecoder(bytes.NewReader([]byte(opts.Where)))
		dec.UseNumber()
		if err := dec.Decode(&where); err != nil {
			return nil, fmt.Errorf("--where: %w", err)
		}
		return predicate.FromWhere(where)
	}
	return nil, nil
}

func rootView(s *schema.CompiledSchema, typeName string) (string, bool) {
	for _, name := range s.RootNames() {
		if r, _ := s.Root(name); r.Type == typeName {
			return r.View, true
		}
	}
	return "", false
}

func bound(n int) *uint32 {
	if n < 0 {
		return nil
	}
	v := uint32(n)
	return &v
}

func loweringDetails(err error) any {
	var le *lowering.LoweringError
	if errors.As(err, &le) {
		d := le.Details()
		d["code"] = le.Code
		return d
	}
	return nil
}

func formatParams(params []any) string {
	parts := make([]string, len(params))
	for i, p := range params {
		if s, ok := p.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
			continue
		}
		parts[i] = fmt.Sprint(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
