package schema

import (
	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
)

// Resolver builds and memoizes DocumentSchemas for one compile session.
type Resolver struct {
	catalog   *relast.Catalog
	memo      map[string]*DocumentSchema
	resolving map[string]bool
}

// NewResolver creates a resolver with an empty memo.
func NewResolver(cat *relast.Catalog) *Resolver {
	return &Resolver{
		catalog:   cat,
		memo:      make(map[string]*DocumentSchema),
		resolving: make(map[string]bool),
	}
}

// Catalog returns the catalog the resolver reads from.
func (r *Resolver) Catalog() *relast.Catalog {
	return r.catalog
}

// Table looks up a table, failing with ErrUnknownTable.
func (r *Resolver) Table(name string) (*relast.Table, error) {
	t, ok := r.catalog.Table(name)
	if !ok {
		return nil, docerr.ErrUnknownTable.New(name)
	}
	return t, nil
}

// Resolve returns the DocumentSchema of table name, building it on first use.
func (r *Resolver) Resolve(name string) (*DocumentSchema, error) {
	if d, ok := r.memo[name]; ok {
		return d, nil
	}
	if r.resolving[name] {
		return nil, docerr.ErrSchemaCycle.New(name)
	}
	t, err := r.Table(name)
	if err != nil {
		return nil, err
	}
	if t.MergeInto != "" && len(t.EmbeddableInto) > 0 {
		return nil, docerr.ErrMergeAndEmbeddable.New(name)
	}

	r.resolving[name] = true
	defer delete(r.resolving, name)

	d := &DocumentSchema{Table: t, ForeignKeys: make(map[string]DocRef)}
	if err := r.buildForeignKeys(d); err != nil {
		return nil, err
	}
	if err := r.buildMergeKey(d); err != nil {
		return nil, err
	}
	if err := r.buildCopyOuts(d); err != nil {
		return nil, err
	}
	if err := r.buildPullIns(d); err != nil {
		return nil, err
	}

	r.memo[name] = d
	return d, nil
}

func (r *Resolver) referenceColumns(owner string, fk relast.ForeignKey) ([]string, error) {
	ref, err := r.Table(fk.RefTable)
	if err != nil {
		return nil, err
	}
	cols := fk.RefColumns
	if len(cols) == 0 {
		cols = ref.PrimaryKey
	}
	if len(cols) != len(fk.Columns) {
		return nil, docerr.ErrForeignKeyArity.New(foreignKeyAlias(fk), owner, len(fk.Columns), len(cols))
	}
	return cols, nil
}

func (r *Resolver) buildForeignKeys(d *DocumentSchema) error {
	for _, fk := range d.Table.ForeignKeys {
		refCols, err := r.referenceColumns(d.Name(), fk)
		if err != nil {
			return err
		}
		key := relast.ColumnKey(fk.Columns)
		if _, dup := d.ForeignKeys[key]; dup {
			continue
		}
		d.ForeignKeys[key] = DocRef{
			ParentTable:      d.Name(),
			ChildTable:       fk.RefTable,
			Columns:          fk.Columns,
			ReferenceColumns: refCols,
			Association:      One,
			Alias:            foreignKeyAlias(fk),
		}
		d.fkOrder = append(d.fkOrder, key)
	}
	return nil
}

// buildMergeKey infers the merge edge cardinality: MANY by default, ONE when
// the parent holds a reciprocal foreign key or when the foreign-key columns
// are exactly this table's primary key.
func (r *Resolver) buildMergeKey(d *DocumentSchema) error {
	t := d.Table
	if t.MergeInto == "" {
		return nil
	}
	if err := r.checkMergeChain(t); err != nil {
		return err
	}
	parent, err := r.Table(t.MergeInto)
	if err != nil {
		return err
	}

	var fks []relast.ForeignKey
	for _, fk := range t.ForeignKeys {
		if fk.RefTable == parent.Name {
			fks = append(fks, fk)
		}
	}
	switch len(fks) {
	case 0:
		return docerr.ErrMergeKeyNotFound.New(t.Name, parent.Name)
	case 1:
	default:
		return docerr.ErrAmbiguousMergeCardinality.New(t.Name, len(fks), parent.Name)
	}
	fk := fks[0]
	refCols, err := r.referenceColumns(t.Name, fk)
	if err != nil {
		return err
	}

	assoc := Many
	if _, reciprocal := parent.ForeignKeyTo(t.Name); reciprocal {
		assoc = One
	} else if relast.SameColumns(fk.Columns, t.PrimaryKey) {
		assoc = One
	}

	d.MergeKey = &DocRef{
		ParentTable:      parent.Name,
		ChildTable:       t.Name,
		Columns:          fk.Columns,
		ReferenceColumns: refCols,
		Association:      assoc,
		Alias:            t.Name,
	}
	return nil
}

func (r *Resolver) checkMergeChain(t *relast.Table) error {
	seen := map[string]bool{t.Name: true}
	for p := t.MergeInto; p != ""; {
		if seen[p] {
			return docerr.ErrSchemaCycle.New(p)
		}
		seen[p] = true
		pt, err := r.Table(p)
		if err != nil {
			return err
		}
		p = pt.MergeInto
	}
	return nil
}

func (r *Resolver) buildCopyOuts(d *DocumentSchema) error {
	for _, target := range d.Table.EmbeddableInto {
		tt, err := r.Table(target)
		if err != nil {
			return err
		}
		fk, ok := tt.ForeignKeyTo(d.Name())
		if !ok {
			return docerr.ErrEmbeddableWithoutReference.New(d.Name(), target, target)
		}
		refCols, err := r.referenceColumns(target, fk)
		if err != nil {
			return err
		}
		d.CopyOutRefs = append(d.CopyOutRefs, DocRef{
			ParentTable:      target,
			ChildTable:       d.Name(),
			Columns:          fk.Columns,
			ReferenceColumns: refCols,
			Association:      One,
			Alias:            d.Name(),
		})
	}
	return nil
}

// buildPullIns collects the tables copied into this one. A grandchild nested
// inside a directly embedded table is recorded once more as a nested edge
// whose alias carries the intermediate table name.
func (r *Resolver) buildPullIns(d *DocumentSchema) error {
	var direct []DocRef
	seen := make(map[string]bool)
	for _, fk := range d.ForeignKeyList() {
		if seen[fk.ChildTable] {
			continue
		}
		child, err := r.Table(fk.ChildTable)
		if err != nil {
			return err
		}
		if !child.IsEmbeddableInto(d.Name()) {
			continue
		}
		seen[fk.ChildTable] = true
		direct = append(direct, DocRef{
			ParentTable:      d.Name(),
			ChildTable:       child.Name,
			Columns:          fk.Columns,
			ReferenceColumns: fk.ReferenceColumns,
			Association:      One,
			Alias:            child.Name,
		})
	}
	d.PullInRefs = append(d.PullInRefs, direct...)

	for _, ref := range direct {
		inner, err := r.Resolve(ref.ChildTable)
		if err != nil {
			return err
		}
		for _, grand := range inner.PullInRefs {
			if grand.Nested {
				continue
			}
			nested := grand
			nested.Nested = true
			nested.Alias = ref.Alias + "." + grand.Alias
			d.PullInRefs = append(d.PullInRefs, nested)
		}
	}
	return nil
}

// Embeds reports whether b is nested as a copy inside a, directly or through
// one intermediate embedding.
func (r *Resolver) Embeds(a, b *DocumentSchema) bool {
	if _, ok := a.PullInFor(b.Name()); ok {
		return true
	}
	_, ok := b.CopyOutTo(a.Name())
	return ok
}

// Merges reports whether b folds into a, directly or through b's own merge
// chain.
func (r *Resolver) Merges(a, b *DocumentSchema) bool {
	p := b.Table.MergeInto
	for i := 0; p != "" && i <= r.catalog.Len(); i++ {
		if p == a.Name() {
			return true
		}
		pt, ok := r.catalog.Table(p)
		if !ok {
			return false
		}
		p = pt.MergeInto
	}
	return false
}

// Contains is Embeds or Merges.
func (r *Resolver) Contains(a, b *DocumentSchema) bool {
	return r.Embeds(a, b) || r.Merges(a, b)
}

// TargetDocument follows the merge chain to the document that is physically
// stored, queried and written.
func (r *Resolver) TargetDocument(d *DocumentSchema) (*DocumentSchema, error) {
	for d.MergeKey != nil {
		parent, err := r.Resolve(d.MergeKey.ParentTable)
		if err != nil {
			return nil, err
		}
		d = parent
	}
	return d, nil
}

// MergePath returns the merge edges from the target document down to d,
// root first. It is empty for tables that do not merge.
func (r *Resolver) MergePath(d *DocumentSchema) ([]DocRef, error) {
	var path []DocRef
	for d.MergeKey != nil {
		path = append([]DocRef{*d.MergeKey}, path...)
		parent, err := r.Resolve(d.MergeKey.ParentTable)
		if err != nil {
			return nil, err
		}
		d = parent
	}
	return path, nil
}
