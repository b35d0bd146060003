package cli

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/config"
	"github.com/roach88/docrel/internal/testutil"
)

func desk() bson.D {
	return bson.D{{Key: "_id", Value: int64(3)}, {Key: "name", Value: "Desk"}, {Key: "price", Value: float64(10)}}
}

func TestExecInsert(t *testing.T) {
	fake := testutil.NewFakeDriver()
	useFakeDriver(t, fake)

	out, err := run(NewExecCommand(testOptions(t, "text")), statement("insert_customer.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "✓ INSERT on customer applied")
	assert.Contains(t, out, "inserted: 1")
	require.Len(t, fake.Docs("customers"), 1)
	assert.Equal(t, []string{"create_collection customers", "ensure_index customers", "insert customers"}, fake.Ops())
}

func TestExecInsertJSON(t *testing.T) {
	useFakeDriver(t, testutil.NewFakeDriver())

	out, err := run(NewExecCommand(testOptions(t, "json")), statement("insert_customer.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   ExecResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "INSERT", resp.Data.Statement)
	assert.Equal(t, "customer", resp.Data.Table)
	assert.Equal(t, int64(1), resp.Data.Inserted)
	assert.NotEmpty(t, resp.Data.StatementID)
}

func TestExecRejectsSelect(t *testing.T) {
	useFakeDriver(t, testutil.NewFakeDriver())

	out, err := run(NewExecCommand(testOptions(t, "text")), statement("select_orders.yaml"))
	require.Error(t, err)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestExecBackendUnreachable(t *testing.T) {
	prev := openDriver
	openDriver = func(ctx context.Context, _ config.MongoConfig) (*driverConn, error) {
		return nil, errors.New("server selection timeout")
	}
	t.Cleanup(func() { openDriver = prev })

	out, err := run(NewExecCommand(testOptions(t, "text")), statement("insert_customer.yaml"))
	require.Error(t, err)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E007]: server selection timeout")
}

// TestExecPartialThenRepair walks one failed propagation through exec,
// journal and repair, sharing the journal between the three commands.
func TestExecPartialThenRepair(t *testing.T) {
	fake := testutil.NewFakeDriver().
		Seed("products", desk()).
		Fail("update", "customers", errors.New("connection reset"))
	useFakeDriver(t, fake)
	opts := testOptions(t, "text")

	out, err := run(NewExecCommand(opts), statement("update_price.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ UPDATE on product partially applied")
	assert.Contains(t, out, "E105: product 3 -> customers: update customers: connection reset")
	assert.Contains(t, out, `Run "docrel repair"`)

	out, err = run(NewJournalCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "Journal: 0 pending, 0 applied, 1 failed")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "error: update customers: connection reset")

	out, err = run(NewRepairCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Repaired 0 of 1 propagation(s)")

	fake.Recover("update", "customers")
	out, err = run(NewRepairCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Repaired 1 of 1 propagation(s)")

	out, err = run(NewJournalCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "Journal: 0 pending, 1 applied, 0 failed")
	assert.Contains(t, out, "No entries.")
}

func TestExecPartialJSON(t *testing.T) {
	fake := testutil.NewFakeDriver().
		Seed("products", desk()).
		Fail("update", "customers", errors.New("connection reset"))
	useFakeDriver(t, fake)

	out, err := run(NewExecCommand(testOptions(t, "json")), statement("update_price.yaml"))
	require.Error(t, err)

	var resp struct {
		Status      string     `json:"status"`
		Data        ExecResult `json:"data"`
		Error       *CLIError  `json:"error"`
		StatementID string     `json:"statement_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodePropagation, resp.Error.Code)
	assert.Equal(t, resp.Data.StatementID, resp.StatementID)
	assert.Equal(t, int64(1), resp.Data.Modified)
	require.Len(t, resp.Data.Failures, 1)
	assert.Equal(t, "order", resp.Data.Failures[0].TargetTable)
	assert.NotEmpty(t, resp.Data.Failures[0].EntryID)
}

func TestJournalByStatement(t *testing.T) {
	fake := testutil.NewFakeDriver().Seed("products", desk())
	useFakeDriver(t, fake)
	opts := testOptions(t, "json")

	out, err := run(NewExecCommand(opts), statement("update_price.yaml"))
	require.NoError(t, err)
	var exec struct {
		Data ExecResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.Equal(t, 1, exec.Data.Propagated)

	out, err = run(NewJournalCommand(opts), "--statement", exec.Data.StatementID)
	require.NoError(t, err)
	var journal struct {
		Data JournalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &journal))
	require.Len(t, journal.Data.Entries, 1)
	e := journal.Data.Entries[0]
	assert.Equal(t, exec.Data.StatementID, e.StatementID)
	assert.Equal(t, "applied", e.Status)
	assert.Equal(t, "product", e.SourceTable)
	assert.Equal(t, "3", e.SourceID)
	assert.Equal(t, "customers", e.TargetCollection)
	assert.Equal(t, 1, journal.Data.Stats.Applied)
}

func TestRepairWithoutJournal(t *testing.T) {
	opts := testOptions(t, "text")
	opts.Config.Journal.Path = ""

	out, err := run(NewRepairCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E008]: journal.path is not configured")
}
