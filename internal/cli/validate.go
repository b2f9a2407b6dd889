package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/viewql/internal/config"
	"github.com/roach88/viewql/internal/schema"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Config string
}

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Version string            `json:"version,omitempty"`
	Types   []string          `json:"types,omitempty"`
	Roots   []string          `json:"roots,omitempty"`
	Targets []schema.Target   `json:"targets,omitempty"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <schema>",
		Short: "Validate a schema artifact",
		Long: `Validate a schema artifact (.json) or CUE source (.cue) without starting
the server. Every problem is reported, not just the first.

With --config, the config file is validated too and the schema must carry a
capability manifest for its database target.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "config file to validate against the schema")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "schema not found", err, nil)
	}

	result := ValidationResult{}
	s, err := schema.Load(path)
	if err != nil {
		result.Errors = append(result.Errors, schemaIssues(err)...)
	} else {
		result.Version = s.Version()
		result.Types = s.TypeNames()
		result.Roots = s.RootNames()
		result.Targets = s.Targets()
		formatter.VerboseLog("schema %s: %d type(s), %d root(s)", s.Version(), len(result.Types), len(result.Roots))
	}

	if opts.Config != "" {
		cfg, err := config.Load(opts.Config)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, ValidationIssue{Code: ErrCodeConfig, Field: "config", Message: err.Error()})
		case s != nil:
			if _, ok := s.Manifest(cfg.Target()); !ok {
				result.Errors = append(result.Errors, ValidationIssue{
					Code:    ErrCodeConfig,
					Field:   "database.target",
					Message: fmt.Sprintf("schema has no capability manifest for target %s", cfg.Target()),
				})
			}
		}
	}
	result.Valid = len(result.Errors) == 0

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		writeValidationText(formatter, path, result)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}
	return nil
}

// schemaIssues flattens a load error into one issue per compile error.
func schemaIssues(err error) []ValidationIssue {
	compileErrs := schema.CompileErrors(err)
	if len(compileErrs) == 0 {
		return []ValidationIssue{{Code: ErrCodeSchema, Field: "schema", Message: err.Error()}}
	}
	issues := make([]ValidationIssue, 0, len(compileErrs))
	for _, ce := range compileErrs {
		issue := ValidationIssue{Code: ce.Code, Field: ce.Field, Message: ce.Message}
		if ce.Pos.IsValid() {
			issue.Line = ce.Pos.Line()
		}
		issues = append(issues, issue)
	}
	return issues
}

func writeValidationText(f *OutputFormatter, path string, r ValidationResult) {
	w := f.Writer
	if r.Valid {
		fmt.Fprintf(w, "✓ %s is valid (version %s)\n", path, r.Version)
		fmt.Fprintf(w, "  types:   %v\n", r.Types)
		fmt.Fprintf(w, "  roots:   %v\n", r.Roots)
		fmt.Fprintf(w, "  targets: %v\n", r.Targets)
		return
	}
	fmt.Fprintf(w, "✗ %s has %d error(s)\n", path, len(r.Errors))
	for _, issue := range r.Errors {
		loc := issue.Field
		if issue.Line > 0 {
			loc = fmt.Sprintf("%s (line %d)", loc, issue.Line)
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", issue.Code, loc, issue.Message)
	}
}
