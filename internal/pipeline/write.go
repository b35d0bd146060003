package pipeline

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/schema"
)

// WriteCompiler compiles INSERT, UPDATE and DELETE statements into ordered
// single-collection steps.
type WriteCompiler struct {
	catalog *relast.Catalog
	opts    Options
}

// NewWriteCompiler returns a compiler for cat.
func NewWriteCompiler(cat *relast.Catalog, opts Options) *WriteCompiler {
	return &WriteCompiler{catalog: cat, opts: opts.withDefaults()}
}

// Compile translates stmt into a write plan.
func (w *WriteCompiler) Compile(stmt relast.Statement) (*ir.WritePlan, error) {
	if err := validate(stmt, w.catalog); err != nil {
		return nil, err
	}
	a, err := w.assembly(relast.TargetTable(stmt))
	if err != nil {
		return nil, err
	}
	a.plan.Statement = stmt.Kind()

	switch s := stmt.(type) {
	case *relast.Insert:
		err = a.insert(s)
	case *relast.Update:
		err = a.update(s)
	case *relast.Delete:
		err = a.delete(s)
	default:
		err = docerr.ErrUnsupportedExpression.New(stmt, "write statement")
	}
	if err != nil {
		return nil, err
	}
	if err := a.ctx.firstError(); err != nil {
		return nil, err
	}
	return a.plan, nil
}

type writeAssembly struct {
	ctx   *CompileCtx
	x     *ExprCompiler
	table *schema.DocumentSchema
	root  *schema.DocumentSchema
	chain schema.Chain
	plan  *ir.WritePlan
}

func (w *WriteCompiler) assembly(table string) (*writeAssembly, error) {
	ctx := newCompileCtx(w.catalog, w.opts)
	ctx.allowElevation = false
	d, err := ctx.resolver.Resolve(table)
	if err != nil {
		return nil, err
	}
	root, err := ctx.resolver.TargetDocument(d)
	if err != nil {
		return nil, err
	}
	if err := ctx.setRoot(root, []string{table}); err != nil {
		return nil, err
	}
	ch, err := ctx.chainFor(table)
	if err != nil {
		return nil, err
	}
	return &writeAssembly{
		ctx:   ctx,
		x:     &ExprCompiler{ctx: ctx},
		table: d,
		root:  root,
		chain: ch,
		plan:  &ir.WritePlan{Table: table, Collection: root.Collection()},
	}, nil
}

func (a *writeAssembly) add(steps ...ir.Step) {
	a.plan.Steps = append(a.plan.Steps, steps...)
}

// literal returns the backend value of an assigned expression. Writes only
// accept literals.
func (a *writeAssembly) literal(e relast.Expr, typ relast.ColumnType) (any, error) {
	lit, ok := e.(*relast.Literal)
	if !ok {
		return nil, docerr.ErrUnsupportedExpression.New(e, "assigned value")
	}
	if lit.Value == nil {
		return nil, nil
	}
	if lit.Type != "" {
		typ = lit.Type
	}
	return a.ctx.convert(lit.Value, typ)
}

func (a *writeAssembly) columnType(table, col string) relast.ColumnType {
	t, ok := a.ctx.resolver.Catalog().Table(table)
	if !ok {
		return ""
	}
	c, _ := t.Column(col)
	return c.Type
}

// filter compiles WHERE into the root filter and its conjuncts. Writes to a
// singular nested table only match documents holding it.
func (a *writeAssembly) filter(where relast.Expr) (bson.D, []bson.D, error) {
	var conds []bson.D
	for _, c := range relast.Conjuncts(where) {
		q, err := a.x.Predicate(c)
		if err != nil {
			return nil, nil, err
		}
		conds = append(conds, q)
	}
	if hop, nested := a.chain.Last(); nested && !hop.IsArray() {
		conds = append(conds, existsFilter(hop.Prefix))
	}
	f := combine(conds)
	if f == nil {
		f = bson.D{}
	}
	return f, conds, nil
}

// identity binds the key columns of a statement's table from WHERE.
func (a *writeAssembly) identity(where relast.Expr) (any, error) {
	k, err := BindIdentitySlots(where, a.table.Name(), a.table.Table.PrimaryKey)
	if err != nil {
		return nil, err
	}
	return identityValue(k), nil
}

// pointer builds the stored pointer for ref from column values. The second
// result is false when every column is null or absent.
func (a *writeAssembly) pointer(ref schema.DocRef, values map[string]any) (bson.D, schema.IdentityKey, bool, error) {
	id := schema.NewIdentityKey(ref.ChildTable, ref.ReferenceColumns...)
	for i, col := range ref.Columns {
		v, ok := values[col]
		if !ok || v == nil {
			continue
		}
		next, err := id.Set(ref.ReferenceColumns[i], v)
		if err != nil {
			return nil, id, false, err
		}
		id = next
	}
	if id.Bound() == 0 {
		return nil, id, false, nil
	}
	child, err := a.ctx.resolver.Resolve(ref.ChildTable)
	if err != nil {
		return nil, id, false, err
	}
	target, err := a.ctx.resolver.TargetDocument(child)
	if err != nil {
		return nil, id, false, err
	}
	ptr, err := ref.Bind(id).ResolvePointer(target.Collection())
	if err != nil {
		return nil, id, false, err
	}
	return ptr, id, true, nil
}

// fetch returns the step loading the copy of ref's child for id. alias is
// where the copy is stitched.
func (a *writeAssembly) fetch(ref schema.DocRef, id schema.IdentityKey, alias string) (ir.Step, error) {
	child, err := a.ctx.resolver.Resolve(ref.ChildTable)
	if err != nil {
		return ir.Step{}, err
	}
	f := bson.D{}
	for _, rc := range ref.ReferenceColumns {
		v, _ := id.Get(rc)
		f = append(f, bson.E{Key: keyPath(child, rc), Value: v})
	}
	return ir.Step{
		Kind:        ir.StepFetchEmbedded,
		Table:       child.Name(),
		Collection:  child.Collection(),
		Filter:      f,
		Alias:       alias,
		SourceTable: a.table.Name(),
		Identity:    id.Value(),
	}, nil
}

// keyPath is where a referenced key column lives in its own document.
func keyPath(d *schema.DocumentSchema, col string) string {
	if d.Table.IsPrimaryKey(col) {
		return schema.IDPath(d.Table, col)
	}
	return col
}

// storedAsPointer reports whether ref is kept as a pointer field. Keys made
// only of primary-key columns are already stored in _id.
func (a *writeAssembly) storedAsPointer(ref schema.DocRef) bool {
	if a.table.IsMergeChild() && relast.SameColumns(ref.Columns, a.table.MergeKey.Columns) {
		return false
	}
	for _, c := range ref.Columns {
		if !a.table.Table.IsPrimaryKey(c) {
			return true
		}
	}
	return false
}

// row builds the document of one inserted row and the fetch steps of the
// copies to stitch into it.
func (a *writeAssembly) row(values map[string]any, provided map[string]bool) (bson.D, []ir.Step, error) {
	d := a.table
	t := d.Table
	row := bson.D{}

	if !d.IsMergeChild() {
		if t.HasCompositePrimaryKey() {
			id := bson.D{}
			for _, c := range t.PrimaryKey {
				if provided[c] {
					id = append(id, bson.E{Key: c, Value: values[c]})
				}
			}
			if len(id) > 0 {
				row = append(row, bson.E{Key: "_id", Value: id})
			}
		} else if len(t.PrimaryKey) == 1 && provided[t.PrimaryKey[0]] {
			row = append(row, bson.E{Key: "_id", Value: values[t.PrimaryKey[0]]})
		}
	}

	var fetches []ir.Step
	pointers := make(map[string]bson.E)
	for _, ref := range d.ForeignKeyList() {
		if !a.storedAsPointer(ref) {
			continue
		}
		ptr, id, ok, err := a.pointer(ref, values)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			for _, c := range ref.Columns {
				if provided[c] {
					pointers[ref.RefName()] = bson.E{Key: ref.RefName(), Value: nil}
					break
				}
			}
			continue
		}
		pointers[ref.RefName()] = bson.E{Key: ref.RefName(), Value: ptr}
		if pull, ok := d.PullInFor(ref.ChildTable); ok && !pull.Nested && relast.SameColumns(pull.Columns, ref.Columns) {
			step, err := a.fetch(pull, id, pull.Alias)
			if err != nil {
				return nil, nil, err
			}
			fetches = append(fetches, step)
		}
	}

	written := make(map[string]bool)
	for _, c := range t.Columns {
		switch {
		case d.IsMergeChild() && d.MergeKey.ColumnIndex(c.Name) >= 0:
		case !d.IsMergeChild() && t.IsPrimaryKey(c.Name):
		case !t.IsPrimaryKey(c.Name) && len(t.ForeignKeysFor(c.Name)) > 0:
			ref, _ := d.ForeignKeyFor(c.Name)
			if e, ok := pointers[ref.RefName()]; ok && !written[e.Key] {
				row = append(row, e)
				written[e.Key] = true
			}
		case provided[c.Name]:
			row = append(row, bson.E{Key: c.Name, Value: values[c.Name]})
		}
	}
	return row, fetches, nil
}

func (a *writeAssembly) insert(s *relast.Insert) error {
	values := make(map[string]any, len(s.Columns))
	provided := make(map[string]bool, len(s.Columns))
	for i, col := range s.Columns {
		v, err := a.literal(s.Values[i], a.columnType(s.Table, col))
		if err != nil {
			return err
		}
		values[col] = v
		provided[col] = true
	}

	row, fetches, err := a.row(values, provided)
	if err != nil {
		return err
	}

	if !a.table.IsMergeChild() {
		idx, err := a.indexes()
		if err != nil {
			return err
		}
		a.add(ir.Step{
			Kind:       ir.StepEnsureCollection,
			Table:      a.table.Name(),
			Collection: a.table.Collection(),
			Indexes:    idx,
		})
		a.add(fetches...)
		a.add(ir.Step{
			Kind:       ir.StepInsert,
			Table:      a.table.Name(),
			Collection: a.table.Collection(),
			Document:   row,
			Stitch:     len(fetches) > 0,
		})
		return nil
	}
	return a.insertMerged(row, fetches, values)
}

// insertMerged appends or sets the row inside its merge parent.
func (a *writeAssembly) insertMerged(row bson.D, fetches []ir.Step, values map[string]any) error {
	mk := a.table.MergeKey
	parent := schema.NewIdentityKey(mk.ParentTable, mk.ReferenceColumns...)
	var conds []bson.D
	for i, col := range mk.Columns {
		v, ok := values[col]
		if !ok || v == nil {
			continue
		}
		p, err := a.ctx.resolvePath(mk.ParentTable, mk.ReferenceColumns[i])
		if err != nil {
			return err
		}
		conds = append(conds, bson.D{{Key: p.query, Value: v}})
		if parent, err = parent.Set(mk.ReferenceColumns[i], v); err != nil {
			return err
		}
	}
	if err := parent.Check(); err != nil {
		return err
	}

	many := mk.Association == schema.Many
	path, filters, _, err := a.positional(a.chain, many, conds)
	if err != nil {
		return err
	}
	op := "$set"
	if many {
		op = "$push"
	}
	filter := combine(conds)

	capture, propagate, err := a.rootCopies(filter)
	if err != nil {
		return err
	}
	a.add(capture...)
	a.add(ir.Step{
		Kind:        ir.StepRequireParent,
		Table:       mk.ParentTable,
		Collection:  a.root.Collection(),
		Filter:      filter,
		SourceTable: a.table.Name(),
		Identity:    parent.Value(),
	})
	a.add(fetches...)
	a.add(ir.Step{
		Kind:         ir.StepUpdate,
		Table:        a.table.Name(),
		Collection:   a.root.Collection(),
		Filter:       filter,
		Document:     bson.D{{Key: op, Value: bson.D{{Key: path, Value: row}}}},
		ArrayFilters: filters,
		Stitch:       len(fetches) > 0,
		RowPath:      []string{op, path},
	})
	a.add(propagate...)
	return nil
}

func (a *writeAssembly) update(s *relast.Update) error {
	d := a.table
	filter, conds, err := a.filter(s.Where)
	if err != nil {
		return err
	}
	identity, err := a.identity(s.Where)
	if err != nil {
		return err
	}

	base := ""
	var filters bson.A
	if len(a.chain.Hops) > 0 {
		base, filters, _, err = a.positional(a.chain, false, conds)
		if err != nil {
			return err
		}
	}

	values := make(map[string]any)
	assigned := make(map[string]bool)
	for _, as := range s.Set {
		switch {
		case d.IsMergeChild() && d.MergeKey.ColumnIndex(as.Column) >= 0:
			return docerr.ErrMergeKeyReassign.New(d.Name(), as.Column)
		case d.Table.IsPrimaryKey(as.Column):
			return docerr.ErrPrimaryKeyUpdate.New(d.Name(), as.Column)
		}
		v, err := a.literal(as.Value, a.columnType(d.Name(), as.Column))
		if err != nil {
			return err
		}
		values[as.Column] = v
		assigned[as.Column] = true
	}

	set := bson.D{}
	var fetches []ir.Step
	done := make(map[string]bool)
	for _, as := range s.Set {
		ref, isFK := d.ForeignKeyFor(as.Column)
		if !isFK {
			set = append(set, bson.E{Key: schema.JoinPath(base, as.Column), Value: values[as.Column]})
			continue
		}
		key := relast.ColumnKey(ref.Columns)
		if done[key] {
			continue
		}
		done[key] = true
		for _, c := range ref.Columns {
			if !assigned[c] {
				return docerr.ErrIdentityArity.New(ref.ChildTable, countAssigned(ref.Columns, assigned), len(ref.Columns))
			}
		}
		ptr, id, ok, err := a.pointer(ref, values)
		if err != nil {
			return err
		}
		pull, embedded := d.PullInFor(ref.ChildTable)
		embedded = embedded && !pull.Nested && relast.SameColumns(pull.Columns, ref.Columns)
		if !ok {
			set = append(set, bson.E{Key: schema.JoinPath(base, ref.RefName()), Value: nil})
			if embedded {
				set = append(set, bson.E{Key: schema.JoinPath(base, pull.Alias), Value: nil})
			}
			continue
		}
		if err := id.Check(); err != nil {
			return err
		}
		set = append(set, bson.E{Key: schema.JoinPath(base, ref.RefName()), Value: ptr})
		if embedded {
			step, err := a.fetch(pull, id, schema.JoinPath(base, pull.Alias))
			if err != nil {
				return err
			}
			fetches = append(fetches, step)
		}
	}

	capture, propagate, err := a.rootCopies(filter)
	if err != nil {
		return err
	}
	a.add(capture...)
	a.add(fetches...)
	step := ir.Step{
		Kind:         ir.StepUpdate,
		Table:        d.Name(),
		Collection:   a.root.Collection(),
		Filter:       filter,
		Document:     bson.D{{Key: "$set", Value: set}},
		Multi:        true,
		ArrayFilters: filters,
		Identity:     identity,
	}
	if len(fetches) > 0 {
		step.Stitch = true
		step.RowPath = []string{"$set"}
	}
	a.add(step)
	a.add(propagate...)
	return nil
}

func countAssigned(cols []string, assigned map[string]bool) int {
	n := 0
	for _, c := range cols {
		if assigned[c] {
			n++
		}
	}
	return n
}

func (a *writeAssembly) delete(s *relast.Delete) error {
	d := a.table
	filter, conds, err := a.filter(s.Where)
	if err != nil {
		return err
	}
	identity, err := a.identity(s.Where)
	if err != nil {
		return err
	}

	if !d.IsMergeChild() {
		targets, err := a.copyTargets(d)
		if err != nil {
			return err
		}
		if len(targets) > 0 {
			a.add(a.capture(filter))
			for _, t := range targets {
				a.add(t.step(ir.StepRequireNoCopies, d))
			}
		}
		a.add(ir.Step{
			Kind:       ir.StepDelete,
			Table:      d.Name(),
			Collection: d.Collection(),
			Filter:     filter,
			Multi:      true,
			Identity:   identity,
		})
		return nil
	}

	many := d.MergeKey.Association == schema.Many
	path, filters, leaf, err := a.positional(a.chain, many, conds)
	if err != nil {
		return err
	}
	var doc bson.D
	if many {
		elem := combine(leaf)
		if elem == nil {
			elem = bson.D{}
		}
		doc = bson.D{{Key: "$pull", Value: bson.D{{Key: path, Value: elem}}}}
	} else {
		doc = bson.D{{Key: "$unset", Value: bson.D{{Key: path, Value: ""}}}}
	}

	capture, propagate, err := a.rootCopies(filter)
	if err != nil {
		return err
	}
	a.add(capture...)
	a.add(ir.Step{
		Kind:         ir.StepUpdate,
		Table:        d.Name(),
		Collection:   a.root.Collection(),
		Filter:       filter,
		Document:     doc,
		Multi:        true,
		ArrayFilters: filters,
		Identity:     identity,
	})
	a.add(propagate...)
	return nil
}

func (a *writeAssembly) capture(filter bson.D) ir.Step {
	return ir.Step{
		Kind:       ir.StepCaptureIdentity,
		Table:      a.root.Name(),
		Collection: a.root.Collection(),
		Filter:     filter,
	}
}

// rootCopies returns the capture and propagate steps refreshing copies of
// the root documents matched by filter.
func (a *writeAssembly) rootCopies(filter bson.D) ([]ir.Step, []ir.Step, error) {
	targets, err := a.copyTargets(a.root)
	if err != nil || len(targets) == 0 {
		return nil, nil, err
	}
	propagate := make([]ir.Step, 0, len(targets))
	for _, t := range targets {
		propagate = append(propagate, t.step(ir.StepPropagate, a.root))
	}
	return []ir.Step{a.capture(filter)}, propagate, nil
}

// copyTarget is one place holding copies of a source table.
type copyTarget struct {
	table      string
	collection string
	// pointerPath filters target documents by the source identity.
	pointerPath string
	// setPath is the update path of the copy, with a $[e0] identifier when
	// the copy sits in an array element selected by arrayFilterPath.
	setPath         string
	arrayFilterPath string
	keyPaths        []string
	keyNames        []string
}

func (t copyTarget) step(kind ir.StepKind, src *schema.DocumentSchema) ir.Step {
	s := ir.Step{
		Kind:             kind,
		Table:            t.table,
		Collection:       t.collection,
		SourceTable:      src.Name(),
		SourceCollection: src.Collection(),
		PointerPath:      t.pointerPath,
		KeyPaths:         t.keyPaths,
		KeyNames:         t.keyNames,
	}
	if kind == ir.StepPropagate {
		s.Alias = t.setPath
		s.ArrayFilterPath = t.arrayFilterPath
		s.Multi = true
	}
	return s
}

// copyTargets lists every copy of src: direct copy-outs in declaration
// order, then copies nested one level inside another table's copy.
func (a *writeAssembly) copyTargets(src *schema.DocumentSchema) ([]copyTarget, error) {
	r := a.ctx.resolver
	var out []copyTarget
	for _, c := range src.CopyOutRefs {
		dt, err := r.Resolve(c.ParentTable)
		if err != nil {
			return nil, err
		}
		pull, ok := dt.PullInFor(src.Name())
		if !ok {
			return nil, docerr.ErrEmbeddableWithoutReference.New(src.Name(), dt.Name(), dt.Name())
		}
		t, err := a.locateCopy(dt, pull.Alias, schema.JoinPath(pull.RefName(), schema.PointerID), src, pull.ReferenceColumns)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	for _, tbl := range r.Catalog().Tables() {
		dx, err := r.Resolve(tbl.Name)
		if err != nil {
			return nil, err
		}
		for _, ref := range dx.PullInRefs {
			if !ref.Nested || ref.ChildTable != src.Name() {
				continue
			}
			inner, err := r.Resolve(ref.ParentTable)
			if err != nil {
				return nil, err
			}
			direct, ok := inner.PullInFor(src.Name())
			if !ok {
				continue
			}
			outer := strings.TrimSuffix(ref.Alias, "."+direct.Alias)
			ptr := schema.JoinPath(outer, direct.RefName(), schema.PointerID)
			t, err := a.locateCopy(dx, ref.Alias, ptr, src, direct.ReferenceColumns)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// locateCopy places a copy held by holder at alias, with its pointer at
// ptr, both relative to holder's own document.
func (a *writeAssembly) locateCopy(holder *schema.DocumentSchema, alias, ptr string, src *schema.DocumentSchema, refCols []string) (copyTarget, error) {
	r := a.ctx.resolver
	root, err := r.TargetDocument(holder)
	if err != nil {
		return copyTarget{}, err
	}
	ch, ok, err := r.Chain(root.Name(), holder.Name())
	if err != nil {
		return copyTarget{}, err
	}
	if !ok {
		return copyTarget{}, docerr.ErrUnresolvableColumn.New(holder.Name(), alias, root.Name())
	}

	t := copyTarget{
		table:      holder.Name(),
		collection: root.Collection(),
		keyNames:   append([]string(nil), refCols...),
	}
	for _, rc := range refCols {
		t.keyPaths = append(t.keyPaths, keyPath(src, rc))
	}

	prefix := ""
	if last, nested := ch.Last(); nested {
		prefix = last.Prefix
	}
	t.pointerPath = schema.JoinPath(prefix, ptr)

	// The deepest array above the copy selects elements by pointer; outer
	// arrays update every element.
	deepest := -1
	for i, h := range ch.Hops {
		if h.IsArray() {
			deepest = i
		}
	}
	path := ""
	for i, h := range ch.Hops {
		path = schema.JoinPath(path, h.Ref.Alias)
		switch {
		case i == deepest:
			path += ".$[e0]"
			rel := strings.TrimPrefix(t.pointerPath, h.Prefix+".")
			t.arrayFilterPath = "e0." + rel
		case h.IsArray():
			path += ".$[]"
		}
	}
	if deepest >= 0 && !a.ctx.opts.SupportsArrayFilters() {
		return copyTarget{}, docerr.ErrArrayFilterWrite.New(holder.Name(), a.ctx.opts.ServerVersion)
	}
	t.setPath = schema.JoinPath(path, alias)
	return t, nil
}

// positional builds the update path of the chain's table. Every array on
// the way is addressed with a $[eN] identifier bound to the conjuncts that
// only read that array's elements, or with $[] when none do. When openLeaf
// is set the final array is left unaddressed for $push or $pull, and the
// conjuncts on its elements are returned relative to the element.
func (a *writeAssembly) positional(ch schema.Chain, openLeaf bool, conds []bson.D) (string, bson.A, []bson.D, error) {
	var levels []string
	for _, h := range ch.Hops {
		if h.IsArray() {
			levels = append(levels, h.Prefix)
		}
	}
	lastHop, _ := ch.Last()
	leafLevel := -1
	if openLeaf && lastHop.IsArray() {
		leafLevel = len(levels) - 1
	}

	byLevel := make(map[int][]bson.D)
	var leaf []bson.D
	for _, c := range conds {
		i := deepestLevel(c, levels)
		switch {
		case i < 0:
			// Left in the document filter only when it never reads an
			// element; otherwise the write would reach every element.
			if len(levels) > 0 && readsUnder(c, levels[0]) {
				return "", nil, nil, docerr.ErrArrayElementFilter.New(ch.Table(), levels[0])
			}
		case i == leafLevel:
			leaf = append(leaf, renameKeys(c, levels[i]+".", ""))
		default:
			byLevel[i] = append(byLevel[i], renameKeys(c, levels[i]+".", identifier(i)+"."))
		}
	}

	var filters bson.A
	path := ""
	level := 0
	positional := false
	for _, h := range ch.Hops {
		path = schema.JoinPath(path, h.Ref.Alias)
		if !h.IsArray() {
			continue
		}
		if level != leafLevel {
			positional = true
			if cs := byLevel[level]; len(cs) > 0 {
				path += ".$[" + identifier(level) + "]"
				filters = append(filters, combine(cs))
			} else {
				path += ".$[]"
			}
		}
		level++
	}
	if positional && !a.ctx.opts.SupportsArrayFilters() {
		return "", nil, nil, docerr.ErrArrayFilterWrite.New(ch.Table(), a.ctx.opts.ServerVersion)
	}
	return path, filters, leaf, nil
}

func identifier(level int) string {
	return fmt.Sprintf("e%d", level)
}

// deepestLevel returns the deepest array prefix covering every field read
// by q, or -1.
func deepestLevel(q bson.D, levels []string) int {
	fields, ok := filterFields(q)
	if !ok || len(fields) == 0 {
		return -1
	}
	for i := len(levels) - 1; i >= 0; i-- {
		covered := true
		for _, f := range fields {
			if !strings.HasPrefix(f, levels[i]+".") {
				covered = false
				break
			}
		}
		if covered {
			return i
		}
	}
	return -1
}

// filterFields lists the field paths a filter reads. Filters with
// expression operators are not classified.
func filterFields(q bson.D) ([]string, bool) {
	var out []string
	for _, e := range q {
		switch e.Key {
		case "$and", "$or", "$nor":
			items, ok := e.Value.(bson.A)
			if !ok {
				return nil, false
			}
			for _, item := range items {
				d, ok := item.(bson.D)
				if !ok {
					return nil, false
				}
				fs, ok := filterFields(d)
				if !ok {
					return nil, false
				}
				out = append(out, fs...)
			}
		default:
			if strings.HasPrefix(e.Key, "$") {
				return nil, false
			}
			out = append(out, e.Key)
		}
	}
	return out, true
}

// readsUnder reports whether q reads prefix or a field below it, either as
// a filter key or as a "$field" reference inside an expression.
func readsUnder(q any, prefix string) bool {
	under := func(f string) bool {
		return f == prefix || strings.HasPrefix(f, prefix+".")
	}
	switch v := q.(type) {
	case bson.D:
		for _, e := range v {
			if !strings.HasPrefix(e.Key, "$") && under(e.Key) {
				return true
			}
			if readsUnder(e.Value, prefix) {
				return true
			}
		}
	case bson.A:
		for _, item := range v {
			if readsUnder(item, prefix) {
				return true
			}
		}
	case string:
		return strings.HasPrefix(v, "$") && !strings.HasPrefix(v, "$$") && under(v[1:])
	}
	return false
}

// renameKeys replaces the from prefix of every field key in q.
func renameKeys(q bson.D, from, to string) bson.D {
	out := make(bson.D, 0, len(q))
	for _, e := range q {
		switch e.Key {
		case "$and", "$or", "$nor":
			items := e.Value.(bson.A)
			renamed := make(bson.A, len(items))
			for i, item := range items {
				renamed[i] = renameKeys(item.(bson.D), from, to)
			}
			out = append(out, bson.E{Key: e.Key, Value: renamed})
		default:
			out = append(out, bson.E{Key: to + strings.TrimPrefix(e.Key, from), Value: e.Value})
		}
	}
	return out
}

// indexes collects the indexes of every table stored in the written
// collection. Indexes on nested arrays are not unique across documents.
func (a *writeAssembly) indexes() ([]ir.IndexSpec, error) {
	r := a.ctx.resolver
	var out []ir.IndexSpec
	for _, t := range r.Catalog().Tables() {
		if len(t.Indexes) == 0 {
			continue
		}
		d, err := r.Resolve(t.Name)
		if err != nil {
			return nil, err
		}
		target, err := r.TargetDocument(d)
		if err != nil {
			return nil, err
		}
		if target.Name() != a.root.Name() {
			continue
		}
		ch, err := a.ctx.chainFor(t.Name)
		if err != nil {
			return nil, err
		}
		underArray := a.ctx.chainUnderArray(ch)
		for _, idx := range t.Indexes {
			keys := bson.D{}
			for _, col := range idx.Columns {
				p, err := a.ctx.resolvePath(t.Name, col)
				if err != nil {
					return nil, err
				}
				keys = append(keys, bson.E{Key: p.query, Value: 1})
			}
			if len(keys) == 1 && keys[0].Key == "_id" {
				continue
			}
			out = append(out, ir.IndexSpec{
				Name:   idx.Name,
				Keys:   keys,
				Unique: idx.Unique && !underArray,
			})
		}
	}
	return out, nil
}
