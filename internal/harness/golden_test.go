package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docrel/internal/docerr"
)

// TestScenarios runs every scenario under testdata/scenarios against its
// golden file. Regenerate with:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("../../testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestAssertGolden_ErrorSnapshot(t *testing.T) {
	result := NewResult()
	result.Err = docerr.ErrUnsupportedJoinType.New("CROSS")

	require.NoError(t, AssertGolden(t, "../../testdata/scenarios/golden", "cross_join_rejected", result))
}

func TestAssertGolden_EmptyResult(t *testing.T) {
	err := AssertGolden(t, t.TempDir(), "empty", NewResult())
	require.Error(t, err)
}
