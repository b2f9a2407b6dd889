package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/viewql/internal/schema"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// CompileResult describes a written artifact.
type CompileResult struct {
	Output  string          `json:"output"`
	Version string          `json:"version"`
	Types   int             `json:"types"`
	Roots   int             `json:"roots"`
	Targets []schema.Target `json:"targets"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <schema.cue>",
		Short: "Compile a CUE schema into a JSON artifact",
		Long: `Evaluate a CUE schema source, validate it, and write the JSON artifact
the server loads. Defaulted id fields are written out explicitly.

Without --output the artifact is printed to stdout.

Example:
  viewql compile schema/blog.cue -o build/blog.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the artifact to this file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "schema not found", err, nil)
	}
	s, err := schema.Load(path)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSchema, "schema failed to compile", err, schemaIssues(err))
	}

	data, err := json.MarshalIndent(s.Artifact(), "", "  ")
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to encode artifact", err, nil)
	}
	data = append(data, '\n')

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWrite, "failed to create output directory", err, nil)
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWrite, "failed to write artifact", err, nil)
	}
	formatter.VerboseLog("wrote %d bytes to %s", len(data), opts.Output)

	result := CompileResult{
		Output:  opts.Output,
		Version: s.Version(),
		Types:   len(s.TypeNames()),
		Roots:   len(s.RootNames()),
		Targets: s.Targets(),
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(fmt.Sprintf("✓ Compiled %s (version %s, %d types, %d roots) to %s",
		path, result.Version, result.Types, result.Roots, result.Output))
}
