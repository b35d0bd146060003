package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/ir"
)

// newScenario builds a scenario over the shop schema from a statement
// document.
func newScenario(t *testing.T, statement string) *Scenario {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(statement), &doc))
	return &Scenario{
		Name:        "inline",
		Description: "inline scenario",
		Schema:      shopSchema,
		Statement:   *doc.Content[0],
	}
}

func TestRun_CompilesSelect(t *testing.T) {
	s := newScenario(t, `
select:
  columns: [{expr: {col: customer.name}}]
  from: customer
  where: {eq: [{col: customer.id}, {lit: 7}]}
`)
	s.Assertions = []Assertion{
		{Type: AssertCollection, Collection: "customers"},
		{Type: AssertStageOrder, Stages: []string{"$match", "$project"}},
	}

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.NoError(t, result.Err)
	plan, ok := result.Plan.(*ir.ReadPlan)
	require.True(t, ok)
	assert.Equal(t, "customer", plan.Table)
}

func TestRun_CompilesWrite(t *testing.T) {
	s := newScenario(t, `
delete:
  table: product
  where: {eq: [{col: product.id}, {lit: 3}]}
`)
	s.Assertions = []Assertion{
		{Type: AssertStepOrder, Steps: []string{"capture_identity", "delete"}},
	}

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	_, ok := result.Plan.(*ir.WritePlan)
	assert.True(t, ok)
}

func TestRun_ExpectedErrorMatches(t *testing.T) {
	s := newScenario(t, `
select:
  columns: [{expr: {col: customer.name}}]
  from: customer
  joins: [{type: cross, table: order}]
`)
	s.ExpectError = string(docerr.CategoryUnsupported)

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Nil(t, result.Plan)
	assert.Equal(t, docerr.CategoryUnsupported, docerr.CategoryOf(result.Err))
}

func TestRun_UnexpectedError(t *testing.T) {
	s := newScenario(t, `
select:
  columns: [{expr: {col: customer.name}}]
  from: customer
  joins: [{type: cross, table: order}]
`)

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected compile error")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	s := newScenario(t, `
select:
  columns: [{expr: {col: customer.name}}]
  from: customer
`)
	s.ExpectError = string(docerr.CategoryUnsupported)

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "statement compiled")
}

func TestRun_FailedAssertion(t *testing.T) {
	s := newScenario(t, `
select:
  columns: [{expr: {col: customer.name}}]
  from: customer
`)
	s.Assertions = []Assertion{{Type: AssertCollection, Collection: "orders"}}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Expected: orders")
}

func TestRun_BadStatementIsSetupError(t *testing.T) {
	s := newScenario(t, `
select:
  columns: [{expr: {col: nosuch.column}}]
  from: customer
`)

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind statement")
}

func TestRun_MissingSchemaIsSetupError(t *testing.T) {
	s := newScenario(t, `select: {columns: [{expr: {col: customer.name}}], from: customer}`)
	s.Schema = t.TempDir() + "/missing"

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load schema")
}

func TestResult_Snapshot(t *testing.T) {
	r := NewResult()
	r.Err = docerr.ErrUnsupportedJoinType.New("CROSS")
	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "error UNSUPPORTED_QUERY_SHAPE: unsupported join type CROSS\n", string(snap))

	_, err = NewResult().Snapshot()
	assert.Error(t, err)
}
