// Package schema models how logical tables map onto documents.
//
// Three layers build on each other:
//
//   - IdentityKey: a scalar-or-composite identity assembled from bound
//     key columns.
//   - DocRef: a typed edge between two tables (join columns, ONE/MANY
//     association, generated alias) that can late-bind an identity and
//     materialize a cross-collection pointer.
//   - DocumentSchema: per table, its foreign-key edges, the tables it is
//     copied out to (embeddable_into), the tables it pulls in (embeds) and
//     its merge-parent edge with inferred cardinality.
//
// A Resolver builds DocumentSchemas lazily and memoizes them for one compile
// session. Containment (Embeds, Merges, Contains) is always computed from the
// memo, never stored, and recursion through the memo is guarded so that a
// relationship cycle surfaces as ErrSchemaCycle.
//
// Resolvers are not safe for concurrent use; every compile builds its own.
package schema
