package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyScenario copies one scenario and its golden file into a temp dir
// whose schema path still resolves to the shop schema.
func copyScenario(t *testing.T, name string, withGolden bool) string {
	t.Helper()
	dir := t.TempDir()
	abs, err := filepath.Abs(shopDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	data = []byte(strings.ReplaceAll(string(data), "schema: ../schema/shop", "schema: "+abs))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0644))

	if withGolden {
		golden, err := os.ReadFile(filepath.Join(scenariosDir, "golden", name+".golden"))
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", name+".golden"), golden, 0644))
	}
	return dir
}

func TestTestCommand_AllScenariosPass(t *testing.T) {
	out, err := run(NewTestCommand(testOptions(t, "text")), scenariosDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ customer_orders")
	assert.Contains(t, out, "✓ cross_join_rejected")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_JSON(t *testing.T) {
	out, err := run(NewTestCommand(testOptions(t, "json")), scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, resp.Data.Total, resp.Data.Passed)
	assert.Zero(t, resp.Data.Failed)
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := run(NewTestCommand(testOptions(t, "text")), scenariosDir, "--filter", "insert_*")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ insert_customer")
	assert.NotContains(t, out, "customer_orders")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir := copyScenario(t, "insert_customer", true)
	golden := filepath.Join(dir, "golden", "insert_customer.golden")
	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0644))

	out, err := run(NewTestCommand(testOptions(t, "text")), dir)
	require.Error(t, err)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ insert_customer")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	dir := copyScenario(t, "customer_orders", false)

	out, err := run(NewTestCommand(testOptions(t, "text")), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ customer_orders (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "customer_orders.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(scenariosDir, "golden", "customer_orders.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	_, err = run(NewTestCommand(testOptions(t, "text")), dir)
	require.NoError(t, err)
}

func TestTestCommand_InvalidScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\n"), 0644))

	out, err := run(NewTestCommand(testOptions(t, "text")), dir)
	require.Error(t, err)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ bad.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_Empty(t *testing.T) {
	out, err := run(NewTestCommand(testOptions(t, "text")), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDirectory(t *testing.T) {
	_, err := run(NewTestCommand(testOptions(t, "text")), filepath.Join(t.TempDir(), "nowhere"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
