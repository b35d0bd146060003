package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docrel/internal/ir"
)

// NativeResult is the JSON payload of a native query.
type NativeResult struct {
	Documents []json.RawMessage `json:"documents"`
}

// NewNativeCommand creates the native command.
func NewNativeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "native <collection;stage;...> [args...]",
		Short: "Run a raw aggregation pipeline",
		Long: `Run an aggregation pipeline written directly in Extended JSON, bypassing
the relational compiler. The first segment names the collection; every
following segment is one stage. Placeholders $1..$n are replaced by the
extra arguments, which are read as YAML scalars (42, 1.5, true, null, text).

Examples:
  docrel native 'customers; {"$match": {"_id": $1}}' 7
  docrel native 'products; {"$match": {"name": $1}}; {"$limit": 1}' Lamp`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNative(rootOpts, args[0], args[1:], cmd)
		},
	}

	return cmd
}

func runNative(opts *RootOptions, text string, rawArgs []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(cmd, opts)

	args, err := parseNativeArgs(rawArgs)
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeStatement, err))
	}

	cfg, err := opts.settings()
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeConfig, err))
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

	docs, err := sess.engine.Native(ctx, text, args...)
	if err != nil {
		return fail(formatter, coded(ExitFailure, ErrCodeBackend, err))
	}

	result := NativeResult{Documents: make([]json.RawMessage, 0, len(docs))}
	for _, d := range docs {
		s, err := ir.RenderCompact(d)
		if err != nil {
			return fail(formatter, err)
		}
		result.Documents = append(result.Documents, json.RawMessage(s))
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	for _, d := range result.Documents {
		fmt.Fprintln(formatter.Writer, string(d))
	}
	fmt.Fprintf(formatter.Writer, "(%d document(s))\n", len(result.Documents))
	return nil
}

// parseNativeArgs reads each argument as a YAML scalar so that numbers,
// booleans and null keep their type.
func parseNativeArgs(raw []string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for i, r := range raw {
		var v any
		if err := yaml.Unmarshal([]byte(r), &v); err != nil {
			return nil, fmt.Errorf("argument $%d: %w", i+1, err)
		}
		switch x := v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("argument $%d: must be a scalar", i+1)
		case int:
			v = int64(x)
		}
		out = append(out, v)
	}
	return out, nil
}
