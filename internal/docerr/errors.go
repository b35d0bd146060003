// Package docerr declares the failure taxonomy shared by the schema model,
// the compilers and the executor.
//
// Every failure is a go-errors kind belonging to exactly one Category:
//
//   - Configuration: the table mapping itself is invalid. Fatal at schema
//     resolution time, before any pipeline is built.
//   - UnsupportedQueryShape: the statement cannot be expressed against the
//     document model. Fatal for the current compile; no partial plan.
//   - MissingRelatedDocument: a write needs a related document that does not
//     exist. Fatal for the statement.
//   - OrphanRisk: a delete would leave dangling denormalized copies. Refused.
//   - PropagationFailure: a copy-out update failed after the primary write
//     succeeded. Partial success; the primary write stands.
package docerr

import (
	"errors"

	goerrors "gopkg.in/src-d/go-errors.v1"
)

// Category groups error kinds by how callers must react to them.
type Category string

const (
	CategoryNone               Category = ""
	CategoryConfiguration      Category = "CONFIGURATION"
	CategoryUnsupported        Category = "UNSUPPORTED_QUERY_SHAPE"
	CategoryMissingRelated     Category = "MISSING_RELATED_DOCUMENT"
	CategoryOrphanRisk         Category = "ORPHAN_RISK"
	CategoryPropagationFailure Category = "PROPAGATION_FAILURE"
)

// Configuration errors.
var (
	ErrMergeAndEmbeddable         = goerrors.NewKind("table %s declares both merge_into and embeddable_into")
	ErrMergeKeyNotFound           = goerrors.NewKind("table %s merges into %s but has no foreign key referencing it")
	ErrAmbiguousMergeCardinality  = goerrors.NewKind("table %s has %d foreign keys to merge parent %s")
	ErrSchemaCycle                = goerrors.NewKind("schema relationship cycle through %s")
	ErrUnknownTable               = goerrors.NewKind("unknown table %s")
	ErrUnknownColumn              = goerrors.NewKind("table %s has no column %s")
	ErrEmbeddableWithoutReference = goerrors.NewKind("table %s is embeddable into %s but %s has no foreign key referencing it")
	ErrForeignKeyArity            = goerrors.NewKind("foreign key %s on %s has %d columns but references %d")
	ErrMergeKeyReassign           = goerrors.NewKind("cannot re-point merge key column %s.%s to a different parent")
)

// Unsupported query shape errors.
var (
	ErrUnsupportedJoinPredicate = goerrors.NewKind("unsupported join predicate: %s")
	ErrUnsupportedJoinType      = goerrors.NewKind("unsupported join type %s")
	ErrUnsupportedJoinShape     = goerrors.NewKind("unsupported join between %s and %s: %s")
	ErrUnresolvableColumn       = goerrors.NewKind("cannot resolve document path for %s.%s from %s")
	ErrMixedCountRewrite        = goerrors.NewKind("projection has %d COUNT(column) aggregates; at most one can be normalized")
	ErrLiteralProjection        = goerrors.NewKind("projecting literal %v requires backend version 2.6 or later, have %s")
	ErrArrayColumnFilter        = goerrors.NewKind("array column %s.%s cannot be used in a filter")
	ErrUnresolvedOperand        = goerrors.NewKind("%s requires a column operand, got %T")
	ErrUnsupportedExpression    = goerrors.NewKind("unsupported expression %T in %s position")
	ErrUnknownFunction          = goerrors.NewKind("unknown function %s")
	ErrNotGrouped               = goerrors.NewKind("column %s must appear in GROUP BY or an aggregate")
	ErrAmbiguousIdentity        = goerrors.NewKind("conflicting equality predicates on key column %s.%s")
	ErrIdentityArity            = goerrors.NewKind("identity for %s has %d bound columns, key declares %d")
	ErrPrimaryKeyUpdate         = goerrors.NewKind("cannot update primary key column %s.%s")
	ErrArrayFilterWrite         = goerrors.NewKind("write to %s inside a nested array requires backend version 3.6 or later, have %s")
	ErrArrayElementFilter       = goerrors.NewKind("write to %s: a WHERE condition reads %s elements but cannot select them one by one")
)

// Missing related document errors.
var (
	ErrMissingEmbeddedDocument = goerrors.NewKind("missing embedded document: %s %v referenced by %s")
	ErrMissingMergeParent      = goerrors.NewKind("missing merge parent: %s %v for %s")
)

// Orphan risk errors.
var (
	ErrWouldOrphan = goerrors.NewKind("would orphan embedded document: %s rows still embed %s %v")
)

// Propagation failure errors.
var (
	ErrPropagationFailed = goerrors.NewKind("propagating %s to %s failed")
)

var categories = map[*goerrors.Kind]Category{
	ErrMergeAndEmbeddable:         CategoryConfiguration,
	ErrMergeKeyNotFound:           CategoryConfiguration,
	ErrAmbiguousMergeCardinality:  CategoryConfiguration,
	ErrSchemaCycle:                CategoryConfiguration,
	ErrUnknownTable:               CategoryConfiguration,
	ErrUnknownColumn:              CategoryConfiguration,
	ErrEmbeddableWithoutReference: CategoryConfiguration,
	ErrForeignKeyArity:            CategoryConfiguration,
	ErrMergeKeyReassign:           CategoryConfiguration,

	ErrUnsupportedJoinPredicate: CategoryUnsupported,
	ErrUnsupportedJoinType:      CategoryUnsupported,
	ErrUnsupportedJoinShape:     CategoryUnsupported,
	ErrUnresolvableColumn:       CategoryUnsupported,
	ErrMixedCountRewrite:        CategoryUnsupported,
	ErrLiteralProjection:        CategoryUnsupported,
	ErrArrayColumnFilter:        CategoryUnsupported,
	ErrUnresolvedOperand:        CategoryUnsupported,
	ErrUnsupportedExpression:    CategoryUnsupported,
	ErrUnknownFunction:          CategoryUnsupported,
	ErrNotGrouped:               CategoryUnsupported,
	ErrAmbiguousIdentity:        CategoryUnsupported,
	ErrIdentityArity:            CategoryUnsupported,
	ErrPrimaryKeyUpdate:         CategoryUnsupported,
	ErrArrayFilterWrite:         CategoryUnsupported,
	ErrArrayElementFilter:       CategoryUnsupported,

	ErrMissingEmbeddedDocument: CategoryMissingRelated,
	ErrMissingMergeParent:      CategoryMissingRelated,

	ErrWouldOrphan: CategoryOrphanRisk,

	ErrPropagationFailed: CategoryPropagationFailure,
}

// KindOf returns the go-errors kind of err, unwrapping fmt wrappers.
func KindOf(err error) *goerrors.Kind {
	if err == nil {
		return nil
	}
	var e *goerrors.Error
	if !errors.As(err, &e) {
		return nil
	}
	for k := range categories {
		if k.Is(e) {
			return k
		}
	}
	return nil
}

// CategoryOf classifies err. Errors outside the taxonomy return CategoryNone.
func CategoryOf(err error) Category {
	if k := KindOf(err); k != nil {
		return categories[k]
	}
	var pc interface{ Category() Category }
	if errors.As(err, &pc) {
		return pc.Category()
	}
	return CategoryNone
}

// Is reports whether err (or anything it wraps) is of kind k.
func Is(err error, k *goerrors.Kind) bool {
	var e *goerrors.Error
	if !errors.As(err, &e) {
		return false
	}
	return k.Is(e)
}

// IsConfiguration returns true for schema mapping errors.
func IsConfiguration(err error) bool {
	return CategoryOf(err) == CategoryConfiguration
}

// IsUnsupported returns true when the statement shape cannot be compiled.
func IsUnsupported(err error) bool {
	return CategoryOf(err) == CategoryUnsupported
}

// IsMissingRelated returns true when a write needed a document that is absent.
func IsMissingRelated(err error) bool {
	return CategoryOf(err) == CategoryMissingRelated
}

// IsOrphanRisk returns true when a delete was refused to protect copies.
func IsOrphanRisk(err error) bool {
	return CategoryOf(err) == CategoryOrphanRisk
}

// IsPropagationFailure returns true for partial-success write outcomes.
func IsPropagationFailure(err error) bool {
	return CategoryOf(err) == CategoryPropagationFailure
}
