package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateShop(t *testing.T) {
	out, err := run(NewValidateCommand(testOptions(t, "text")))
	require.NoError(t, err)

	assert.Contains(t, out, "✓ All 5 table mapping(s) valid")
}

func TestValidateShopJSON(t *testing.T) {
	out, err := run(NewValidateCommand(testOptions(t, "json")))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 5, resp.Data.Tables)
}

func TestValidateBroken(t *testing.T) {
	opts := testOptions(t, "text")
	opts.Config.Schema.Dir = brokenDir

	out, err := run(NewValidateCommand(opts))
	require.Error(t, err)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E101: table order declares both merge_into and embeddable_into")
}

func TestValidateBrokenJSON(t *testing.T) {
	opts := testOptions(t, "json")
	opts.Config.Schema.Dir = brokenDir

	out, err := run(NewValidateCommand(opts))
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.GreaterOrEqual(t, len(resp.Data.Errors), 2)
	for _, e := range resp.Data.Errors {
		assert.Equal(t, ErrCodeConfiguration, e.Code)
		assert.Equal(t, "CONFIGURATION", e.Category)
	}
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfiguration, resp.Error.Code)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	opts := testOptions(t, "text")
	opts.Config.Schema.Dir = filepath.Join(t.TempDir(), "nowhere")

	out, err := run(NewValidateCommand(opts))
	require.Error(t, err)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]: schema directory not found")
}
