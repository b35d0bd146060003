package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docrel/internal/harness"
	"github.com/roach88/docrel/internal/ir"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // glob over scenario file names, without extension
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name        string   `json:"name"`
	Pass        bool     `json:"pass"`
	Fingerprint string   `json:"fingerprint,omitempty"` // empty for expected failures
	Errors      []string `json:"errors,omitempty"`
}

// TestResult is the outcome of a scenario directory.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run compile scenarios",
		Long: `Compile every scenario file in a directory and compare each plan, or
expected failure, against golden/<name>.golden next to the scenario.
Scenario assertions are checked as well.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  docrel test ./testdata/scenarios
  docrel test ./testdata/scenarios --filter "insert_*"
  docrel test ./testdata/scenarios --update
  docrel test ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	files, err := findScenarioFiles(dir, opts.Filter)
	if errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: scenarios directory not found: %s", ErrCodeNotFound, dir))
	}
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %v", ErrCodeScenarioLoad, err))
	}

	r := &scenarioRunner{opts: opts, out: formatter}
	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, path := range files {
		sr := r.run(path)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	return outputTestResult(formatter, result)
}

// findScenarioFiles lists the YAML files directly inside dir whose base
// name matches filter. Subdirectories hold golden files and schemas.
func findScenarioFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
			}
			if !ok {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// scenarioRunner compiles scenarios and checks them against their golden
// files, printing one line per scenario in text mode.
type scenarioRunner struct {
	opts *TestOptions
	out  *OutputFormatter
}

func (r *scenarioRunner) run(path string) ScenarioResult {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return r.fail(filepath.Base(path), fmt.Sprintf("failed to load scenario: %v", err))
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return r.fail(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}
	snap, err := result.Snapshot()
	if err != nil {
		return r.fail(scenario.Name, fmt.Sprintf("snapshot failed: %v", err))
	}

	sr := ScenarioResult{Name: scenario.Name, Pass: true}
	if result.Plan != nil {
		if sr.Fingerprint, err = ir.Fingerprint(result.Plan); err != nil {
			return r.fail(scenario.Name, fmt.Sprintf("fingerprint failed: %v", err))
		}
	}

	golden := filepath.Join(scenario.GoldenDir(), scenario.Name+".golden")
	if r.opts.Update {
		if err := writeGolden(golden, snap); err != nil {
			return r.fail(scenario.Name, err.Error())
		}
		if !result.Pass {
			return r.fail(scenario.Name, result.Errors...)
		}
		r.pass(sr, " (golden updated)")
		return sr
	}

	errs := append([]string{}, result.Errors...)
	want, err := os.ReadFile(golden)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// assertions only
	case err != nil:
		errs = append(errs, fmt.Sprintf("failed to read golden file: %v", err))
	case !bytes.Equal(want, snap):
		errs = append(errs, "plan does not match golden file (run with --update to regenerate)")
		if r.opts.Verbose {
			errs = append(errs, "got:\n"+string(snap))
		}
	}
	if len(errs) > 0 {
		return r.fail(scenario.Name, errs...)
	}
	r.pass(sr, "")
	return sr
}

func (r *scenarioRunner) pass(sr ScenarioResult, note string) {
	if !r.out.JSON() {
		fmt.Fprintf(r.out.Writer, "✓ %s%s\n", sr.Name, note)
	}
}

func (r *scenarioRunner) fail(name string, errs ...string) ScenarioResult {
	if !r.out.JSON() {
		fmt.Fprintf(r.out.Writer, "✗ %s\n", name)
		for _, e := range errs {
			fmt.Fprintf(r.out.Writer, "  %s\n", e)
		}
	}
	return ScenarioResult{Name: name, Errors: errs}
}

func writeGolden(path string, snap []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, snap, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func outputTestResult(f *OutputFormatter, result TestResult) error {
	var failed error
	if result.Failed > 0 {
		failed = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	if f.JSON() {
		if failed == nil {
			return f.Success(result)
		}
		if err := f.Partial(result, "", &CLIError{Code: "E_TEST_FAILED", Message: failed.Error()}); err != nil {
			return err
		}
		return failed
	}

	if result.Total == 0 {
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return nil
	}
	fmt.Fprintln(f.Writer)
	fmt.Fprintf(f.Writer, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if failed != nil {
		return failed
	}
	fmt.Fprintln(f.Writer, "✓ All scenarios passed")
	return nil
}
