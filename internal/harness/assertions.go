package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/docrel/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the plan outline to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Outline  []string // Stage operators or step kinds of the plan
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Outline) > 0 {
		fmt.Fprintf(&buf, "\nPlan:\n")
		for i, op := range e.Outline {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, op)
		}
	}

	return buf.String()
}

// stageOperators lists the operator of each stage, e.g. [$match $project].
func stageOperators(p *ir.ReadPlan) []string {
	out := make([]string, 0, len(p.Stages))
	for _, st := range p.Stages {
		if len(st) == 0 {
			out = append(out, "")
			continue
		}
		out = append(out, st[0].Key)
	}
	return out
}

// stepKinds lists the kind of each write step.
func stepKinds(p *ir.WritePlan) []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, string(s.Kind))
	}
	return out
}

func readPlan(plan any, typ string) (*ir.ReadPlan, error) {
	p, ok := plan.(*ir.ReadPlan)
	if !ok {
		return nil, &AssertionError{
			Type:     typ,
			Expected: "a read plan",
			Actual:   fmt.Sprintf("%T", plan),
		}
	}
	return p, nil
}

// assertCollection checks the collection the plan runs against.
func assertCollection(plan any, assertion Assertion) error {
	var got string
	switch p := plan.(type) {
	case *ir.ReadPlan:
		got = p.Collection
	case *ir.WritePlan:
		got = p.Collection
	default:
		return fmt.Errorf("collection: unsupported plan %T", plan)
	}
	if got != assertion.Collection {
		return &AssertionError{
			Type:     AssertCollection,
			Expected: assertion.Collection,
			Actual:   got,
		}
	}
	return nil
}

// assertStageContains checks that some stage uses the operator.
func assertStageContains(plan any, assertion Assertion) error {
	p, err := readPlan(plan, AssertStageContains)
	if err != nil {
		return err
	}
	ops := stageOperators(p)
	for _, op := range ops {
		if op == assertion.Stage {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertStageContains,
		Expected: fmt.Sprintf("a %s stage", assertion.Stage),
		Actual:   "not found in pipeline",
		Outline:  ops,
	}
}

// assertStageCount checks that the operator appears exactly Count times.
func assertStageCount(plan any, assertion Assertion) error {
	p, err := readPlan(plan, AssertStageCount)
	if err != nil {
		return err
	}
	ops := stageOperators(p)
	count := 0
	for _, op := range ops {
		if op == assertion.Stage {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertStageCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Stage),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Outline:  ops,
		}
	}
	return nil
}

// assertStageOrder checks that operators appear in the given order.
// Other stages may appear in between.
func assertStageOrder(plan any, assertion Assertion) error {
	p, err := readPlan(plan, AssertStageOrder)
	if err != nil {
		return err
	}
	return checkOrder(AssertStageOrder, stageOperators(p), assertion.Stages)
}

// assertStepOrder checks that write step kinds appear in the given order.
func assertStepOrder(plan any, assertion Assertion) error {
	p, ok := plan.(*ir.WritePlan)
	if !ok {
		return &AssertionError{
			Type:     AssertStepOrder,
			Expected: "a write plan",
			Actual:   fmt.Sprintf("%T", plan),
		}
	}
	return checkOrder(AssertStepOrder, stepKinds(p), assertion.Steps)
}

// checkOrder matches want as a subsequence of got. Repeated names in want
// consume successive occurrences in got.
func checkOrder(typ string, got, want []string) error {
	pos := 0
	for _, w := range want {
		found := false
		for pos < len(got) {
			pos++
			if got[pos-1] == w {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("in order: %v", want),
				Actual:   fmt.Sprintf("%s missing or out of order", w),
				Outline:  got,
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against a compiled plan.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(plan any, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCollection:
			err = assertCollection(plan, assertion)
		case AssertStageContains:
			err = assertStageContains(plan, assertion)
		case AssertStageCount:
			err = assertStageCount(plan, assertion)
		case AssertStageOrder:
			err = assertStageOrder(plan, assertion)
		case AssertStepOrder:
			err = assertStepOrder(plan, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
