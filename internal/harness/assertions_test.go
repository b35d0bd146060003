package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/ir"
)

func testReadPlan() *ir.ReadPlan {
	return &ir.ReadPlan{
		Table:      "customer",
		Collection: "customers",
		Stages: []ir.Stage{
			{{Key: "$unwind", Value: "$order"}},
			{{Key: "$match", Value: bson.D{{Key: "order.total", Value: bson.D{{Key: "$gt", Value: 10}}}}}},
			{{Key: "$unwind", Value: "$order.line"}},
			{{Key: "$project", Value: bson.D{{Key: "_id", Value: 0}}}},
		},
	}
}

func testWritePlan() *ir.WritePlan {
	return &ir.WritePlan{
		Statement:  "UPDATE",
		Table:      "product",
		Collection: "products",
		Steps: []ir.Step{
			{Kind: ir.StepCaptureIdentity},
			{Kind: ir.StepUpdate},
			{Kind: ir.StepPropagate},
		},
	}
}

func TestAssertCollection(t *testing.T) {
	assert.NoError(t, assertCollection(testReadPlan(), Assertion{Collection: "customers"}))
	assert.NoError(t, assertCollection(testWritePlan(), Assertion{Collection: "products"}))

	err := assertCollection(testReadPlan(), Assertion{Collection: "orders"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "customers", ae.Actual)
}

func TestAssertStageContains(t *testing.T) {
	assert.NoError(t, assertStageContains(testReadPlan(), Assertion{Stage: "$match"}))

	err := assertStageContains(testReadPlan(), Assertion{Stage: "$lookup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1] $unwind")
	assert.Contains(t, err.Error(), "[4] $project")

	err = assertStageContains(testWritePlan(), Assertion{Stage: "$match"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a read plan")
}

func TestAssertStageCount(t *testing.T) {
	assert.NoError(t, assertStageCount(testReadPlan(), Assertion{Stage: "$unwind", Count: 2}))
	assert.NoError(t, assertStageCount(testReadPlan(), Assertion{Stage: "$lookup", Count: 0}))

	err := assertStageCount(testReadPlan(), Assertion{Stage: "$unwind", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertStageOrder(t *testing.T) {
	tests := []struct {
		name   string
		stages []string
		ok     bool
	}{
		{name: "exact", stages: []string{"$unwind", "$match", "$unwind", "$project"}, ok: true},
		{name: "gaps allowed", stages: []string{"$unwind", "$project"}, ok: true},
		{name: "repeated operator", stages: []string{"$unwind", "$unwind"}, ok: true},
		{name: "out of order", stages: []string{"$project", "$match"}, ok: false},
		{name: "too many repeats", stages: []string{"$unwind", "$unwind", "$unwind"}, ok: false},
		{name: "missing", stages: []string{"$match", "$sort"}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertStageOrder(testReadPlan(), Assertion{Stages: tt.stages})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertStepOrder(t *testing.T) {
	assert.NoError(t, assertStepOrder(testWritePlan(), Assertion{Steps: []string{"capture_identity", "propagate"}}))

	err := assertStepOrder(testWritePlan(), Assertion{Steps: []string{"update", "capture_identity"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture_identity missing or out of order")

	err = assertStepOrder(testReadPlan(), Assertion{Steps: []string{"insert"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a write plan")
}

func TestEvaluateAssertions(t *testing.T) {
	errs := EvaluateAssertions(testReadPlan(), []Assertion{
		{Type: AssertCollection, Collection: "customers"},
		{Type: AssertStageCount, Stage: "$unwind", Count: 3},
		{Type: "trace_contains"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "stage_count")
	assert.Contains(t, errs[1], `unknown assertion type "trace_contains"`)
}
