package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden runs a scenario, fails the test on any outcome or assertion
// mismatch, and compares the snapshot against golden/{scenario.Name}.golden
// next to the scenario file.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario could not be set up.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	return assertSnapshot(t, scenario.GoldenDir(), scenario.Name, result)
}

// AssertGolden compares an already computed result against a golden file
// in dir.
func AssertGolden(t *testing.T, dir, scenarioName string, result *Result) error {
	t.Helper()
	return assertSnapshot(t, dir, scenarioName, result)
}

func assertSnapshot(t *testing.T, dir, name string, result *Result) error {
	t.Helper()

	snap, err := result.Snapshot()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snap)

	return nil
}
