package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/store"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	StatementID string // optional - one statement's entries only
}

// JournalEntry is one propagation entry as printed.
type JournalEntry struct {
	ID               string          `json:"id"`
	StatementID      string          `json:"statement_id"`
	Seq              int64           `json:"seq"`
	Status           string          `json:"status"`
	Attempts         int             `json:"attempts"`
	SourceTable      string          `json:"source_table"`
	SourceID         string          `json:"source_id"`
	TargetCollection string          `json:"target_collection"`
	Update           json.RawMessage `json:"update,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// JournalResult holds the journal listing.
type JournalResult struct {
	Entries []JournalEntry `json:"entries"`
	Stats   JournalStats   `json:"stats"`
}

// JournalStats counts entries by status.
type JournalStats struct {
	Pending int `json:"pending"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the propagation journal",
		Long: `List propagation journal entries. Without flags, lists the entries that
are still pending or failed; with --statement, lists every entry written
by one statement.

Examples:
  docrel journal
  docrel journal --statement 01926b3e-7c1a-7000-8000-000000000001
  docrel journal --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StatementID, "statement", "", "list entries of one statement")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(cmd, opts.RootOptions)

	cfg, err := opts.settings()
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeConfig, err))
	}
	if cfg.Journal.Path == "" {
		return fail(formatter, coded(ExitCommandError, ErrCodeJournal, errors.New("journal.path is not configured")))
	}

	st, err := store.Open(cfg.Journal.Path)
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeJournal, err))
	}
	defer st.Close()

	var entries []store.Propagation
	if opts.StatementID != "" {
		entries, err = st.StatementPropagations(ctx, opts.StatementID)
	} else {
		entries, err = st.PendingPropagations(ctx)
	}
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeJournal, err))
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeJournal, err))
	}

	result := JournalResult{
		Entries: make([]JournalEntry, 0, len(entries)),
		Stats:   JournalStats(stats),
	}
	for _, p := range entries {
		e := JournalEntry{
			ID:               p.ID,
			StatementID:      p.StatementID,
			Seq:              p.Seq,
			Status:           string(p.Status),
			Attempts:         p.Attempts,
			SourceTable:      p.SourceTable,
			SourceID:         fmt.Sprint(p.SourceID),
			TargetCollection: p.TargetCollection,
			Error:            p.Error,
		}
		if opts.Verbose {
			if u, err := ir.RenderCompact(p.Update); err == nil {
				e.Update = json.RawMessage(u)
			}
		}
		result.Entries = append(result.Entries, e)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputJournalText(formatter, result)
}

func outputJournalText(formatter *OutputFormatter, result JournalResult) error {
	fmt.Fprintf(formatter.Writer, "Journal: %d pending, %d applied, %d failed\n\n",
		result.Stats.Pending, result.Stats.Applied, result.Stats.Failed)

	if len(result.Entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No entries.")
		return nil
	}
	for _, e := range result.Entries {
		fmt.Fprintf(formatter.Writer, "[%d] %s %s %s %s -> %s (attempts: %d)\n",
			e.Seq, e.Status, e.ID, e.SourceTable, e.SourceID, e.TargetCollection, e.Attempts)
		if e.Error != "" {
			fmt.Fprintf(formatter.Writer, "      error: %s\n", e.Error)
		}
		if e.Update != nil {
			fmt.Fprintf(formatter.Writer, "      update: %s\n", e.Update)
		}
	}
	return nil
}
