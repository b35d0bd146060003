package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// RepairResult is the JSON payload of a repair run.
type RepairResult struct {
	Attempted int `json:"attempted"`
	Applied   int `json:"applied"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Retry copy updates that failed after a write",
		Long: `Replay every pending or failed entry of the propagation journal in
sequence order. Each copy is rebuilt from the source document as it is
now; entries whose source document no longer exists are marked applied.

Exit codes:
  0 - Every entry was applied or skipped
  1 - Some entries failed again and stay in the journal
  2 - Command error (no journal configured, backend unreachable, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(rootOpts, cmd)
		},
	}

	return cmd
}

func runRepair(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(cmd, opts)

	cfg, err := opts.settings()
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeConfig, err))
	}
	if cfg.Journal.Path == "" {
		return fail(formatter, coded(ExitCommandError, ErrCodeJournal, errors.New("journal.path is not configured")))
	}
	cat, err := loadCatalog(cfg.Schema.Dir)
	if err != nil {
		return fail(formatter, err)
	}
	sess, err := openSession(ctx, cfg, cat)
	if err != nil {
		return fail(formatter, err)
	}
	defer sess.Close(ctx)

	rep, err := sess.engine.Repair(ctx)
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeJournal, err))
	}
	result := RepairResult(rep)

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		mark := "✓"
		if result.Failed > 0 {
			mark = "✗"
		}
		fmt.Fprintf(formatter.Writer, "%s Repaired %d of %d propagation(s)\n", mark, result.Applied, result.Attempted)
		fmt.Fprintf(formatter.Writer, "  applied: %d, failed: %d, skipped: %d\n", result.Applied, result.Failed, result.Skipped)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d propagation(s) still failing", ErrCodePropagation, result.Failed))
	}
	return nil
}
