package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/engine"
	"github.com/roach88/docrel/internal/relast"
)

// ExecResult is the JSON payload of an executed write statement.
type ExecResult struct {
	StatementID string              `json:"statement_id"`
	Statement   string              `json:"statement"`
	Table       string              `json:"table"`
	Inserted    int64               `json:"inserted"`
	Matched     int64               `json:"matched"`
	Modified    int64               `json:"modified"`
	Deleted     int64               `json:"deleted"`
	Propagated  int                 `json:"propagated"`
	Failures    []PropagationReport `json:"failures,omitempty"`
}

// PropagationReport describes one copy that was not refreshed.
type PropagationReport struct {
	EntryID          string `json:"entry_id,omitempty"`
	SourceTable      string `json:"source_table"`
	SourceID         string `json:"source_id"`
	TargetTable      string `json:"target_table"`
	TargetCollection string `json:"target_collection"`
	Error            string `json:"error"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <statement.yaml>",
		Short: "Run an INSERT, UPDATE or DELETE",
		Long: `Compile a write statement document and apply its write plan: provision
collections, check related documents, perform the primary write and
refresh denormalized copies.

When the primary write succeeds but some copies could not be refreshed,
the counts are still printed, the failures are recorded in the journal
and the command exits with code 1. Run "docrel repair" to retry them.

Exit codes:
  0 - Statement applied
  1 - Statement refused or partially applied
  2 - Command error (bad statement file, unreachable backend, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runExec(opts *RootOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(cmd, opts)

	cfg, cat, stmt, err := loadStatement(opts, path)
	if err != nil {
		return fail(formatter, err)
	}
	if _, ok := stmt.(*relast.Select); ok {
		return fail(formatter, coded(ExitCommandError, ErrCodeStatement,
			errors.New("exec needs an insert, update or delete statement; use query")))
	}

	sess, err := openSession(ctx, cfg, cat)
	if err != nil {
		return fail(formatter, err)
	}
	defer sess.Close(ctx)

	res, err := sess.engine.Exec(ctx, stmt)
	if err != nil && res == nil {
		return fail(formatter, coded(ExitFailure, ErrorCode(err, ErrCodeBackend), err))
	}

	result := ExecResult{
		StatementID: res.StatementID,
		Statement:   stmt.Kind(),
		Table:       relast.TargetTable(stmt),
		Inserted:    res.Inserted,
		Matched:     res.Matched,
		Modified:    res.Modified,
		Deleted:     res.Deleted,
		Propagated:  res.Propagated,
	}
	var pe *engine.PropagationError
	if errors.As(err, &pe) {
		for _, f := range pe.Failures {
			result.Failures = append(result.Failures, PropagationReport{
				EntryID:          f.EntryID,
				SourceTable:      f.SourceTable,
				SourceID:         fmt.Sprint(f.SourceID),
				TargetTable:      f.TargetTable,
				TargetCollection: f.TargetCollection,
				Error:            f.Err.Error(),
			})
		}
		return outputPartialExec(formatter, result, pe)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s on %s applied (statement %s)\n", result.Statement, result.Table, result.StatementID)
	printExecCounts(formatter, result)
	return nil
}

func printExecCounts(formatter *OutputFormatter, result ExecResult) {
	fmt.Fprintf(formatter.Writer, "  inserted: %d, matched: %d, modified: %d, deleted: %d, propagated: %d\n",
		result.Inserted, result.Matched, result.Modified, result.Deleted, result.Propagated)
}

// outputPartialExec reports a statement whose copies were not all refreshed.
func outputPartialExec(formatter *OutputFormatter, result ExecResult, pe *engine.PropagationError) error {
	exitErr := WrapExitError(ExitFailure, ErrCodePropagation, pe)

	if formatter.JSON() {
		if err := formatter.Partial(result, result.StatementID, &CLIError{
			Code:     ErrCodePropagation,
			Category: string(docerr.CategoryPropagationFailure),
			Message:  fmt.Sprintf("%d copy update(s) failed after the primary write", len(pe.Failures)),
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintf(formatter.Writer, "✗ %s on %s partially applied (statement %s)\n", result.Statement, result.Table, result.StatementID)
	printExecCounts(formatter, result)
	fmt.Fprintln(formatter.Writer)
	for _, f := range result.Failures {
		fmt.Fprintf(formatter.Writer, "  %s: %s %s -> %s: %s\n",
			ErrCodePropagation, f.SourceTable, f.SourceID, f.TargetCollection, f.Error)
	}
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintln(formatter.Writer, `Run "docrel repair" to retry the failed copies.`)
	return exitErr
}
