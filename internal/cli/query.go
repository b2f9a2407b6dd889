package cli

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/engine"
	"github.com/roach88/viewql/internal/gqlreq"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Config        string
	Variables     string // JSON object
	OperationName string
	UserID        string
	TenantID      string
	Roles         []string
	Permissions   []string

	// RequestIDs overrides the engine's request id generator (for testing).
	RequestIDs engine.RequestIDGenerator
}

// QueryResult is the output of the query command.
type QueryResult struct {
	Data      map[string]any `json:"data"`
	RequestID string         `json:"request_id"`
	CacheHit  bool           `json:"cache_hit"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <graphql|->",
		Short: "Execute one GraphQL query",
		Long: `Execute a single GraphQL query against the configured database and
print the projected result. Pass "-" to read the query from stdin.

Exit codes:
  0 - Query succeeded
  1 - Query was rejected or failed
  2 - Command error (bad config, unreachable database, etc.)

Examples:
  viewql query --config viewql.yaml '{ users { id name } }'
  viewql query --config viewql.yaml --roles admin '{ user(id: "u1") { email } }'
  viewql query --config viewql.yaml --variables '{"min": 30}' - < query.graphql`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to config file (required)")
	cmd.Flags().StringVar(&opts.Variables, "variables", "", "query variables as a JSON object")
	cmd.Flags().StringVar(&opts.OperationName, "operation", "", "operation to run when the document has several")
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "caller user id")
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "caller tenant id")
	cmd.Flags().StringSliceVar(&opts.Roles, "roles", nil, "caller roles")
	cmd.Flags().StringSliceVar(&opts.Permissions, "permissions", nil, "caller permissions")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runQuery(opts *QueryOptions, source string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	query, err := readQuery(source, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to read query", err, nil)
	}
	variables, err := parseVariables(opts.Variables)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, "invalid --variables", err, nil)
	}

	cfg, logger, err := loadConfig(opts.Config, opts.Verbose, formatter.GetErrWriter())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err, nil)
	}
	ctx := commandContext(cmd)
	var extra []engine.Option
	if opts.RequestIDs != nil {
		extra = append(extra, engine.WithRequestIDs(opts.RequestIDs))
	}
	rt, err := openRuntime(ctx, cfg, logger, nil, extra...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to start", err, nil)
	}
	defer rt.Close()

	q, err := gqlreq.Decode(rt.engine.Schema(), gqlreq.Params{
		Query:         query,
		OperationName: opts.OperationName,
		Variables:     variables,
	})
	if err != nil {
		return queryFailed(formatter, err)
	}
	formatter.VerboseLog("root %s: type %s, view %s", q.Root, q.Type, q.View)

	resp, err := rt.engine.ExecuteQuery(ctx, request(q, opts))
	if err != nil {
		return queryFailed(formatter, err)
	}

	return formatter.Success(QueryResult{
		Data:      map[string]any{q.ResponseKey: resp.Data},
		RequestID: resp.RequestID,
		CacheHit:  resp.CacheHit,
	})
}

func request(q *gqlreq.Query, opts *QueryOptions) engine.Request {
	return engine.Request{
		Type:      q.Type,
		View:      q.View,
		List:      q.List,
		Where:     q.Where,
		Selection: q.Selection,
		Limit:     q.Limit,
		Offset:    q.Offset,
		User: auth.UserContext{
			UserID:      opts.UserID,
			TenantID:    opts.TenantID,
			Roles:       opts.Roles,
			Permissions: opts.Permissions,
		},
	}
}

func queryFailed(formatter *OutputFormatter, err error) error {
	ee := engine.Classify(err)
	code := string(ee.Kind)
	if ee.Code != "" && ee.Code != code {
		code += "/" + ee.Code
	}
	if outErr := formatter.Error(code, ee.Message, ee.Details); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "query failed", ee)
}

func readQuery(source string, stdin io.Reader) (string, error) {
	if source != "-" {
		return source, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseVariables(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var vars map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&vars); err != nil {
		return nil, err
	}
	return vars, nil
}
