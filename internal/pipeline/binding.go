package pipeline

import (
	"sort"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/schema"
)

// ColumnPathBinding records where one column lives for the current compile.
//
// DocumentFieldName is the column's path inside its own (sub)document.
// DocumentQueryFieldName is the path used in filters against the root
// document; it addresses a pointer's identity component when the column is
// stored as, or redirected through, a cross-collection pointer.
// TargetDocumentFieldName is the path used when projecting from the root.
type ColumnPathBinding struct {
	Column *relast.ColumnRef
	Table  string
	Name   string
	Type   relast.ColumnType

	ProjectedName           string
	DocumentFieldName       string
	DocumentQueryFieldName  string
	TargetDocumentFieldName string

	Pointer    bool
	PointerKey string
	// UnderArray is set when the projection path crosses an unwound array.
	UnderArray bool

	PartOfGroupBy bool
	PartOfProject bool
}

// Key identifies the bound column independent of expression identity.
func (b *ColumnPathBinding) Key() string {
	return b.Table + "." + b.Name
}

type columnPath struct {
	own        string
	query      string
	target     string
	pointer    bool
	pointerKey string
	underArray bool
}

// resolvePath maps table.col onto the current root document.
//
// At the root, primary-key columns live under _id and foreign-key columns
// hold pointers. Below a merge hop, the merge foreign-key columns resolve to
// the parent's referenced columns and everything else sits under the hop's
// prefix. Below an embed hop, the copy keeps the embedded table's own layout
// under the prefix, while filters on its referenced key go through the
// enclosing document's pointer.
func (c *CompileCtx) resolvePath(table, col string) (columnPath, error) {
	d, err := c.resolver.Resolve(table)
	if err != nil {
		return columnPath{}, err
	}
	if _, ok := d.Table.Column(col); !ok {
		return columnPath{}, docerr.ErrUnknownColumn.New(table, col)
	}
	chain, err := c.chainFor(table)
	if err != nil {
		return columnPath{}, err
	}

	hop, nested := chain.Last()
	if !nested {
		own, ref := d.OwnPath(col)
		p := columnPath{own: own, query: own, target: own}
		if ref != nil {
			i := ref.ColumnIndex(col)
			p.query = ref.IDPath(i)
			p.pointer = true
			if len(ref.ReferenceColumns) > 1 {
				p.pointerKey = ref.ReferenceColumns[i]
			}
		}
		return p, nil
	}

	prefix, err := c.prefixOf(table)
	if err != nil {
		return columnPath{}, err
	}
	underArray := c.chainUnderArray(chain)

	switch hop.Kind {
	case schema.HopMerge:
		if i := hop.Ref.ColumnIndex(col); i >= 0 {
			p, err := c.resolvePath(hop.Parent, hop.Ref.ReferenceColumns[i])
			if err != nil {
				return columnPath{}, err
			}
			p.own = col
			return p, nil
		}
		p := columnPath{own: col, underArray: underArray}
		if ref, ok := d.ForeignKeyFor(col); ok && !d.Table.IsPrimaryKey(col) {
			i := ref.ColumnIndex(col)
			p.own = ref.RefName()
			p.query = schema.JoinPath(prefix, ref.IDPath(i))
			p.pointer = true
			if len(ref.ReferenceColumns) > 1 {
				p.pointerKey = ref.ReferenceColumns[i]
			}
		} else {
			p.query = schema.JoinPath(prefix, col)
		}
		p.target = schema.JoinPath(prefix, p.own)
		return p, nil

	case schema.HopEmbed:
		own, ref := d.OwnPath(col)
		p := columnPath{
			own:        own,
			query:      schema.JoinPath(prefix, own),
			target:     schema.JoinPath(prefix, own),
			underArray: underArray,
		}
		if ref != nil {
			i := ref.ColumnIndex(col)
			p.query = schema.JoinPath(prefix, ref.IDPath(i))
			p.pointer = true
			if len(ref.ReferenceColumns) > 1 {
				p.pointerKey = ref.ReferenceColumns[i]
			}
		}
		if i := relast.IndexOf(hop.Ref.ReferenceColumns, col); i >= 0 {
			parent, err := c.resolvePath(hop.Parent, hop.Ref.Columns[i])
			if err != nil {
				return columnPath{}, err
			}
			p.query = parent.query
		}
		return p, nil
	}
	return columnPath{}, docerr.ErrUnresolvableColumn.New(table, col, c.root.Name())
}

// binding returns the memoized binding for ref, creating it on first visit.
// Bindings are keyed by expression identity; distinct references to the
// same column share path data but not projection flags.
func (c *CompileCtx) binding(ref *relast.ColumnRef) (*ColumnPathBinding, error) {
	if b, ok := c.bindings[ref]; ok {
		return b, nil
	}
	if ref.Table == "" {
		return nil, docerr.ErrUnresolvableColumn.New("?", ref.Name, c.root.Name())
	}
	p, err := c.resolvePath(ref.Table, ref.Name)
	if err != nil {
		return nil, err
	}
	t, _ := c.resolver.Catalog().Table(ref.Table)
	decl, _ := t.Column(ref.Name)
	typ := ref.Type
	if typ == "" {
		typ = decl.Type
	}
	b := &ColumnPathBinding{
		Column:                  ref,
		Table:                   ref.Table,
		Name:                    ref.Name,
		Type:                    typ,
		ProjectedName:           ref.Name,
		DocumentFieldName:       p.own,
		DocumentQueryFieldName:  p.query,
		TargetDocumentFieldName: p.target,
		Pointer:                 p.pointer,
		PointerKey:              p.pointerKey,
		UnderArray:              p.underArray,
	}
	c.bindings[ref] = b
	return b, nil
}

// Bindings returns every binding created so far, sorted by column.
func (c *CompileCtx) Bindings() []*ColumnPathBinding {
	out := make([]*ColumnPathBinding, 0, len(c.bindings))
	for _, b := range c.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
