package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/docrel/internal/docerr"
)

// PropagationFailure is one copy-out update that did not apply.
type PropagationFailure struct {
	// EntryID is the journal entry recording the update, empty when the
	// engine runs without a journal.
	EntryID          string
	SourceTable      string
	SourceID         any
	TargetTable      string
	TargetCollection string
	Err              error
}

// PropagationError reports a statement whose primary write succeeded but
// whose copies were not all refreshed. It is returned together with the
// statement's Result.
type PropagationError struct {
	StatementID string
	Failures    []PropagationFailure
}

// Error implements the error interface.
func (e *PropagationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %v -> %s: %v", f.SourceTable, f.SourceID, f.TargetCollection, f.Err))
	}
	return fmt.Sprintf("statement %s: %d propagation(s) failed: %s",
		e.StatementID, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes each failure as a docerr propagation kind.
func (e *PropagationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, docerr.ErrPropagationFailed.Wrap(f.Err, f.SourceTable, f.TargetTable))
	}
	return out
}

// Category classifies the error for docerr.CategoryOf.
func (e *PropagationError) Category() docerr.Category {
	return docerr.CategoryPropagationFailure
}

// IsPropagationError returns true if err is or wraps a *PropagationError.
func IsPropagationError(err error) bool {
	var pe *PropagationError
	return errors.As(err, &pe)
}
