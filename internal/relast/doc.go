// Package relast defines the resolved relational statement tree consumed by
// the document compilers.
//
// The tree arrives already bound: column references carry their table and
// declared type, and table references point into a Catalog of logical tables
// that also carries the document mapping declarations (MergeInto,
// EmbeddableInto).
//
// # Sealed Unions
//
// Expr and Statement are sealed interfaces using the marker method pattern.
// Only types in this package implement them, which lets the compilers use
// exhaustive type switches:
//
//	switch e := expr.(type) {
//	case *ColumnRef:
//	case *Literal:
//	case *Comparison:
//	...
//	}
//
// # Identity
//
// Expression nodes are always handled by pointer. The compilers memoize
// per-node state keyed by pointer identity, so the same *ColumnRef used twice
// in one statement shares one compiled binding while two structurally equal
// nodes do not.
package relast
