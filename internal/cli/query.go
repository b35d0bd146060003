package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/docrel/internal/relast"
)

// QueryResult is the JSON payload of a query.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <statement.yaml>",
		Short: "Run a SELECT against the backend",
		Long: `Compile a SELECT statement document, run the pipeline against the
configured database and print the resulting rows.

Examples:
  docrel query orders.yaml
  docrel query orders.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runQuery(opts *RootOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(cmd, opts)

	cfg, cat, stmt, err := loadStatement(opts, path)
	if err != nil {
		return fail(formatter, err)
	}
	sel, ok := stmt.(*relast.Select)
	if !ok {
		return fail(formatter, coded(ExitCommandError, ErrCodeStatement,
			fmt.Errorf("query needs a select statement, got %s; use exec", stmt.Kind())))
	}

	sess, err := openSession(ctx, cfg, cat)
	if err != nil {
		return fail(formatter, err)
	}
	defer sess.Close(ctx)

	rows, err := sess.engine.Query(ctx, sel)
	if err != nil {
		return fail(formatter, coded(ExitFailure, ErrorCode(err, ErrCodeBackend), err))
	}
	formatter.VerboseLog("Running pipeline on %s (%d stage(s))", rows.Plan().Collection, len(rows.Plan().Stages))

	result := QueryResult{Columns: rows.Columns()}
	result.Rows, err = rows.All(ctx)
	if err != nil {
		return fail(formatter, coded(ExitFailure, ErrorCode(err, ErrCodeBackend), err))
	}
	if result.Rows == nil {
		result.Rows = [][]any{}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputQueryText(formatter, result)
}

// outputQueryText prints rows as an aligned table.
func outputQueryText(formatter *OutputFormatter, result QueryResult) error {
	tw := tabwriter.NewWriter(formatter.Writer, 0, 0, 2, ' ', 0)
	for i, c := range result.Columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c)
	}
	fmt.Fprintln(tw)
	for _, row := range result.Rows {
		for i, v := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			if v == nil {
				fmt.Fprint(tw, "NULL")
			} else {
				fmt.Fprint(tw, v)
			}
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	fmt.Fprintf(formatter.Writer, "(%d row(s))\n", len(result.Rows))
	return nil
}
