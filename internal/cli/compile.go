package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/pipeline"
	"github.com/roach88/docrel/internal/relast"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the JSON payload of a successful compile.
type CompilationResult struct {
	Statement   string          `json:"statement"`
	Table       string          `json:"table"`
	Collection  string          `json:"collection"`
	Fingerprint string          `json:"fingerprint"`
	Plan        json.RawMessage `json:"plan"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <statement.yaml>",
		Short: "Compile a statement to its pipeline or write plan",
		Long: `Compile a relational statement document against the CUE table
mappings and print the resulting plan as Extended JSON.

SELECT compiles to an aggregation pipeline; INSERT, UPDATE and DELETE
compile to an ordered list of single-collection write steps. Nothing is
sent to the backend.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	cfg, cat, stmt, err := loadStatement(opts.RootOptions, path)
	if err != nil {
		return fail(formatter, err)
	}
	formatter.VerboseLog("Loaded %d table(s) from %s", cat.Len(), cfg.Schema.Dir)
	formatter.VerboseLog("Compiling %s on %s", stmt.Kind(), relast.TargetTable(stmt))

	plan, err := pipeline.Compile(cat, pipeline.Options{ServerVersion: cfg.Mongo.ServerVersion}, stmt)
	if err != nil {
		return fail(formatter, coded(ExitFailure, ErrorCode(err, ErrCodeGeneric), err))
	}

	result, err := newCompilationResult(stmt.Kind(), plan)
	if err != nil {
		return fail(formatter, err)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, result.Plan, 0o644); err != nil {
			return fail(formatter, coded(ExitCommandError, ErrCodeWriteFailed, fmt.Errorf("writing output file: %w", err)))
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

func newCompilationResult(kind string, plan any) (*CompilationResult, error) {
	rendered, err := ir.RenderJSON(plan)
	if err != nil {
		return nil, fmt.Errorf("rendering plan: %w", err)
	}
	fp, err := ir.Fingerprint(plan)
	if err != nil {
		return nil, err
	}
	result := &CompilationResult{Statement: kind, Fingerprint: fp, Plan: rendered}
	switch p := plan.(type) {
	case *ir.ReadPlan:
		result.Table, result.Collection = p.Table, p.Collection
	case *ir.WritePlan:
		result.Table, result.Collection = p.Table, p.Collection
	}
	return result, nil
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %s on %s (collection %s)\n",
		result.Statement, result.Table, result.Collection)
	fmt.Fprintf(formatter.Writer, "  fingerprint: %s\n\n", result.Fingerprint)
	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote plan to %s\n", outputFile)
		return nil
	}
	_, err := formatter.Writer.Write(result.Plan)
	return err
}
