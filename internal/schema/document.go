package schema

import (
	"strings"

	"github.com/roach88/docrel/internal/relast"
)

// DocumentSchema is the resolved document mapping of one logical table.
type DocumentSchema struct {
	Table *relast.Table

	// ForeignKeys holds one edge per declared foreign key, keyed by
	// relast.ColumnKey of its columns.
	ForeignKeys map[string]DocRef
	// CopyOutRefs point at every table that keeps a copy of this one,
	// in embeddable_into declaration order.
	CopyOutRefs []DocRef
	// PullInRefs point at the tables nested inside this document. Direct
	// edges come first, then grandchildren reached through one of them.
	PullInRefs []DocRef
	// MergeKey is the edge to the table this one folds into, or nil.
	MergeKey *DocRef

	fkOrder []string
}

// Name returns the table name.
func (d *DocumentSchema) Name() string {
	return d.Table.Name
}

// Collection returns the table's own collection name. Merge children have
// no storage of their own; see Resolver.TargetDocument.
func (d *DocumentSchema) Collection() string {
	return d.Table.CollectionName()
}

// IsMergeChild reports whether the table folds into a parent document.
func (d *DocumentSchema) IsMergeChild() bool {
	return d.MergeKey != nil
}

// IsEmbeddable reports whether the table is copied into other documents.
func (d *DocumentSchema) IsEmbeddable() bool {
	return len(d.CopyOutRefs) > 0
}

// ForeignKeyList returns the foreign-key edges in declaration order.
func (d *DocumentSchema) ForeignKeyList() []DocRef {
	out := make([]DocRef, 0, len(d.fkOrder))
	for _, k := range d.fkOrder {
		out = append(out, d.ForeignKeys[k])
	}
	return out
}

// ForeignKeyFor returns the first foreign-key edge that includes col.
func (d *DocumentSchema) ForeignKeyFor(col string) (DocRef, bool) {
	for _, k := range d.fkOrder {
		ref := d.ForeignKeys[k]
		if ref.ColumnIndex(col) >= 0 {
			return ref, true
		}
	}
	return DocRef{}, false
}

// PullInFor returns the pull-in edge nesting table, preferring direct edges.
func (d *DocumentSchema) PullInFor(table string) (DocRef, bool) {
	for _, ref := range d.PullInRefs {
		if ref.ChildTable == table {
			return ref, true
		}
	}
	return DocRef{}, false
}

// CopyOutTo returns the copy-out edge into table.
func (d *DocumentSchema) CopyOutTo(table string) (DocRef, bool) {
	for _, ref := range d.CopyOutRefs {
		if ref.ParentTable == table {
			return ref, true
		}
	}
	return DocRef{}, false
}

// OwnPath returns where col lives inside this table's own document and
// whether it is stored as a pointer. Primary-key columns live under _id;
// foreign-key columns hold a pointer at the edge's RefName.
func (d *DocumentSchema) OwnPath(col string) (path string, ref *DocRef) {
	if d.Table.IsPrimaryKey(col) {
		return IDPath(d.Table, col), nil
	}
	if fk, ok := d.ForeignKeyFor(col); ok {
		return fk.RefName(), &fk
	}
	return col, nil
}

// IDPath is the _id path of a primary-key column.
func IDPath(t *relast.Table, col string) string {
	if t.HasCompositePrimaryKey() {
		return "_id." + col
	}
	return "_id"
}

// JoinPath joins non-empty field path segments with dots.
func JoinPath(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}

func foreignKeyAlias(fk relast.ForeignKey) string {
	if fk.Name != "" {
		return fk.Name
	}
	return strings.Join(fk.Columns, "_")
}
