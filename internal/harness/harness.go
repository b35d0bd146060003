package harness

import (
	"fmt"
	"log/slog"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/pipeline"
	"github.com/roach88/docrel/internal/schema"
	"github.com/roach88/docrel/internal/stmtdoc"
)

// Run compiles a scenario's statement and checks the outcome.
//
// A returned error means the scenario itself could not be set up (schema
// or statement document unreadable). Compile failures are part of the
// outcome: they land in Result.Err and are compared against expect_error.
func Run(scenario *Scenario) (*Result, error) {
	cat, err := schema.LoadCatalog(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	stmt, err := stmtdoc.FromNode(&scenario.Statement, cat)
	if err != nil {
		return nil, fmt.Errorf("failed to bind statement: %w", err)
	}

	result := NewResult()
	plan, err := pipeline.Compile(cat, pipeline.Options{ServerVersion: scenario.ServerVersion}, stmt)
	result.Plan = plan
	result.Err = err
	if err != nil {
		result.Plan = nil
	}

	checkOutcome(scenario, result)
	if result.Err == nil {
		for _, msg := range EvaluateAssertions(result.Plan, scenario.Assertions) {
			result.AddError(msg)
		}
	}

	slog.Debug("scenario compiled",
		"scenario", scenario.Name,
		"statement", stmt.Kind(),
		"pass", result.Pass,
	)
	return result, nil
}

// checkOutcome compares the compile error, if any, against expect_error.
func checkOutcome(scenario *Scenario, result *Result) {
	want := docerr.Category(scenario.ExpectError)
	switch {
	case want == docerr.CategoryNone && result.Err != nil:
		result.AddError(fmt.Sprintf("unexpected compile error: %v", result.Err))
	case want != docerr.CategoryNone && result.Err == nil:
		result.AddError(fmt.Sprintf("expected %s error, statement compiled", want))
	case want != docerr.CategoryNone:
		if got := docerr.CategoryOf(result.Err); got != want {
			result.AddError(fmt.Sprintf("expected %s error, got %s: %v", want, got, result.Err))
		}
	}
}
