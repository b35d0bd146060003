package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrel/internal/config"
	"github.com/roach88/docrel/internal/testutil"
)

var (
	shopDir       = filepath.Join("..", "..", "testdata", "schema", "shop")
	brokenDir     = filepath.Join("..", "..", "testdata", "schema", "broken")
	statementsDir = filepath.Join("..", "..", "testdata", "statements")
	scenariosDir  = filepath.Join("..", "..", "testdata", "scenarios")
)

func statement(name string) string {
	return filepath.Join(statementsDir, name)
}

// writeConfig writes a TOML config into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docrel.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testOptions returns root options over the shop schema with a journal in
// a temp dir and no config file.
func testOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	cfg := config.Default()
	cfg.Schema.Dir = shopDir
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Mongo.ServerVersion = "6.0"
	return &RootOptions{Format: format, Config: cfg}
}

// useFakeDriver routes every session of the test to fake.
func useFakeDriver(t *testing.T, fake *testutil.FakeDriver) {
	t.Helper()
	prev := openDriver
	openDriver = func(context.Context, config.MongoConfig) (*driverConn, error) {
		return &driverConn{driver: fake, serverVersion: "6.0"}, nil
	}
	t.Cleanup(func() { openDriver = prev })
}

// run executes cmd with args and returns its stdout.
func run(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
