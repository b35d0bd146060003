package harness

import (
	"fmt"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/ir"
)

// Result is the outcome of compiling one scenario.
type Result struct {
	// Pass is true when the compile outcome matches expect_error and every
	// assertion holds.
	Pass bool `json:"pass"`

	// Plan is the compiled *ir.ReadPlan or *ir.WritePlan, nil on error.
	Plan any `json:"-"`

	// Err is the compile error, nil on success.
	Err error `json:"-"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Snapshot renders the outcome for golden comparison: the plan as indented
// Extended JSON, or one "error CATEGORY: message" line.
func (r *Result) Snapshot() ([]byte, error) {
	if r.Err != nil {
		if cat := docerr.CategoryOf(r.Err); cat != docerr.CategoryNone {
			return []byte(fmt.Sprintf("error %s: %s\n", cat, r.Err.Error())), nil
		}
		return []byte(fmt.Sprintf("error: %s\n", r.Err.Error())), nil
	}
	if r.Plan == nil {
		return nil, fmt.Errorf("scenario produced neither a plan nor an error")
	}
	return ir.RenderJSON(r.Plan)
}
