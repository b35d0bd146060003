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

// QueryCompiler compiles SELECT statements against a catalog.
type QueryCompiler struct {
	catalog *relast.Catalog
	opts    Options
}

// NewQueryCompiler returns a compiler for cat.
func NewQueryCompiler(cat *relast.Catalog, opts Options) *QueryCompiler {
	return &QueryCompiler{catalog: cat, opts: opts.withDefaults()}
}

// Compile compiles any statement: *ir.ReadPlan for SELECT, *ir.WritePlan
// for INSERT, UPDATE and DELETE.
func Compile(cat *relast.Catalog, opts Options, stmt relast.Statement) (any, error) {
	if sel, ok := stmt.(*relast.Select); ok {
		return NewQueryCompiler(cat, opts).Compile(sel)
	}
	return NewWriteCompiler(cat, opts).Compile(stmt)
}

// Compile translates sel into a read plan. No partial plan is returned on
// error.
func (q *QueryCompiler) Compile(sel *relast.Select) (*ir.ReadPlan, error) {
	if err := validate(sel, q.catalog); err != nil {
		return nil, err
	}
	rw, err := rewrite(sel, q.catalog)
	if err != nil {
		return nil, err
	}

	a := &selectAssembly{
		ctx: newCompileCtx(q.catalog, q.opts),
		sel: rw,
	}
	a.x = &ExprCompiler{ctx: a.ctx}
	if err := a.assemble(); err != nil {
		return nil, err
	}
	if err := a.ctx.firstError(); err != nil {
		return nil, err
	}
	return &ir.ReadPlan{
		Table:      sel.From.Table,
		Collection: a.ctx.root.Collection(),
		Stages:     a.ctx.state.stages(),
		Columns:    a.ctx.state.columns,
	}, nil
}

type projected struct {
	alias string
	expr  relast.Expr
	value any
	// key is the bound column for plain column projections.
	key string
	sig string
}

type selectAssembly struct {
	ctx *CompileCtx
	x   *ExprCompiler
	sel *relast.Select

	aliases   map[string]bool
	projected []projected
}

func (a *selectAssembly) assemble() error {
	steps := []func() error{
		a.from,
		a.unwinds,
		a.where,
		a.groupBy,
		a.project,
		a.having,
		a.orderBy,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	a.ctx.state.skip = a.sel.Offset
	if a.sel.HasLimit() {
		a.ctx.state.limit = relast.Limit(*a.sel.Limit)
	}
	return nil
}

// from picks the root document and translates joins. The root is the
// target document of the first table, in FROM then JOIN order, whose
// document contains every table of the statement.
func (a *selectAssembly) from() error {
	r := a.ctx.resolver
	tables := a.sel.TableNames()

	var lastErr error
	for _, name := range tables {
		d, err := r.Resolve(name)
		if err != nil {
			return err
		}
		target, err := r.TargetDocument(d)
		if err != nil {
			return err
		}
		a.ctx.chains = make(map[string]schema.Chain)
		if lastErr = a.ctx.setRoot(target, tables); lastErr == nil {
			break
		}
		if !docerr.ErrUnsupportedJoinShape.Is(lastErr) {
			return lastErr
		}
	}
	if lastErr != nil {
		if len(tables) > 1 {
			return docerr.ErrUnsupportedJoinShape.New(tables[0], tables[1],
				"no single document contains every joined table")
		}
		return lastErr
	}

	jt := &JoinTranslator{ctx: a.ctx}
	scope := []string{a.sel.From.Table}
	for _, j := range a.sel.Joins {
		if err := jt.Translate(scope, j); err != nil {
			return err
		}
		scope = append(scope, j.Table.Table)
	}

	// A nested FROM table only has rows where its sub-document exists.
	ch, err := a.ctx.chainFor(a.sel.From.Table)
	if err != nil {
		return err
	}
	if hop, nested := ch.Last(); nested && !hop.IsArray() {
		prefix, err := a.ctx.prefixOf(a.sel.From.Table)
		if err != nil {
			return err
		}
		a.ctx.state.addMatch(existsFilter(prefix))
	}
	return jt.Verify()
}

// unwinds flattens every nested array on the way to an in-scope table,
// root first.
func (a *selectAssembly) unwinds() error {
	for _, t := range a.sel.TableNames() {
		ch, err := a.ctx.chainFor(t)
		if err != nil {
			return err
		}
		prefixes := a.ctx.hopPrefixes(ch)
		for i, h := range ch.Hops {
			if h.IsArray() {
				a.ctx.state.addUnwind(prefixes[i])
			}
		}
	}
	return nil
}

func (a *selectAssembly) where() error {
	for _, c := range relast.Conjuncts(a.sel.Where) {
		if a.ctx.isJoinCondition(c) {
			continue
		}
		q, err := a.x.Predicate(c)
		if err != nil {
			return err
		}
		a.ctx.state.addMatch(q)
	}
	return nil
}

func (a *selectAssembly) needsGroup() bool {
	if len(a.sel.GroupBy) > 0 || a.sel.Distinct || a.sel.Having != nil {
		return true
	}
	for _, dc := range a.sel.Columns {
		if relast.ContainsAggregate(dc.Expr) {
			return true
		}
	}
	for _, o := range a.sel.OrderBy {
		if relast.ContainsAggregate(o.Expr) {
			return true
		}
	}
	return false
}

func (a *selectAssembly) groupBy() error {
	a.ctx.state.aggregating = true
	if !a.needsGroup() {
		return nil
	}
	a.ctx.state.grouping = true

	keys := a.sel.GroupBy
	if len(keys) == 0 && a.sel.Distinct {
		for _, dc := range a.sel.Columns {
			if !relast.ContainsAggregate(dc.Expr) {
				keys = append(keys, dc.Expr)
			}
		}
	}

	for i, k := range keys {
		if relast.ContainsAggregate(k) {
			return docerr.ErrUnsupportedExpression.New(k, "GROUP BY")
		}
		f, err := a.x.Compile(k, ModeValue)
		if err != nil {
			return err
		}
		sig, err := valueSig(f.value)
		if err != nil {
			return err
		}
		name := a.groupKeyName(k, sig, i)
		a.ctx.state.addGroupKey(name, sig, f.value, f.binding)
	}
	a.ctx.grouped = true
	return nil
}

// groupKeyName prefers the alias of a projected column computing the same
// value, then the column name.
func (a *selectAssembly) groupKeyName(k relast.Expr, sig string, i int) string {
	name := ""
	for _, dc := range a.sel.Columns {
		if dc.Alias == "" || relast.ContainsAggregate(dc.Expr) {
			continue
		}
		f, err := a.x.preGroup(dc.Expr)
		if err != nil {
			continue
		}
		if s, err := valueSig(f.value); err == nil && s == sig {
			name = dc.Alias
			break
		}
	}
	if name == "" {
		if c, ok := k.(*relast.ColumnRef); ok {
			name = c.Name
		} else {
			name = fmt.Sprintf("key%d", i)
		}
	}
	name = fieldName(name)
	base, n := name, 1
	for a.ctx.state.hasGroupKey(name) {
		n++
		name = fmt.Sprintf("%s_%d", base, n)
	}
	return name
}

func (a *selectAssembly) project() error {
	a.aliases = make(map[string]bool)
	st := a.ctx.state
	st.postProject = bson.D{{Key: "_id", Value: 0}}

	for i, dc := range a.sel.Columns {
		alias := a.uniqueAlias(dc, i)
		var (
			value   any
			binding ir.ColumnBinding
			p       = projected{alias: alias, expr: dc.Expr}
		)
		binding.Name = alias
		binding.Field = alias

		switch e := dc.Expr.(type) {
		case *relast.ColumnRef:
			f, err := a.x.Compile(e, ModeValue)
			if err != nil {
				return err
			}
			f.binding.ProjectedName = alias
			f.binding.PartOfProject = true
			value = f.value
			binding.Type = f.binding.Type
			binding.Pointer = f.binding.Pointer
			binding.PointerKey = f.binding.PointerKey
			p.key = f.binding.Key()

		case *relast.Aggregate:
			var arg *fragment
			if e.Arg != nil {
				f, err := a.x.preGroup(e.Arg)
				if err != nil {
					return err
				}
				arg = &f
			}
			_, v, err := st.accumulator(a.ctx, e, arg, alias)
			if err != nil {
				return err
			}
			value = v
			binding.Type = aggregateType(e, arg)

		case *relast.Literal:
			if !a.ctx.opts.SupportsLiteral() {
				return docerr.ErrLiteralProjection.New(e.Value, a.ctx.opts.ServerVersion)
			}
			f, err := a.x.Compile(e, ModeValue)
			if err != nil {
				return err
			}
			value = bson.D{{Key: "$literal", Value: f.value}}
			binding.Type = e.Type

		case *relast.Comparison, *relast.And, *relast.Or, *relast.Not,
			*relast.In, *relast.IsNull, *relast.Like:
			f, err := a.x.Compile(e, ModeValue)
			if err != nil {
				return err
			}
			value = bson.D{{Key: "$cond", Value: bson.A{f.value, true, false}}}
			binding.Type = relast.TypeBool

		default:
			f, err := a.x.Compile(e, ModeValue)
			if err != nil {
				return err
			}
			value = f.value
			binding.Type = f.typ
		}

		p.value = value
		if sig, err := valueSig(value); err == nil {
			p.sig = sig
		}
		a.projected = append(a.projected, p)
		st.postProject = append(st.postProject, projectEntry(alias, value))
		st.columns = append(st.columns, binding)
	}
	return nil
}

func projectEntry(alias string, value any) bson.E {
	if s, ok := value.(string); ok && s == "$"+alias {
		return bson.E{Key: alias, Value: 1}
	}
	return bson.E{Key: alias, Value: value}
}

func (a *selectAssembly) uniqueAlias(dc relast.DerivedColumn, i int) string {
	alias := dc.Alias
	if alias == "" {
		switch e := dc.Expr.(type) {
		case *relast.ColumnRef:
			alias = e.Name
		case *relast.Aggregate:
			alias = defaultAggregateAlias(e)
		default:
			alias = fmt.Sprintf("expr%d", i+1)
		}
	}
	alias = fieldName(alias)
	base, n := alias, 1
	for a.aliases[alias] || alias == "_id" {
		n++
		alias = fmt.Sprintf("%s_%d", base, n)
	}
	a.aliases[alias] = true
	return alias
}

func (a *selectAssembly) having() error {
	for _, c := range relast.Conjuncts(a.sel.Having) {
		q, err := a.x.Predicate(c)
		if err != nil {
			return err
		}
		if len(q) > 0 {
			a.ctx.state.having = append(a.ctx.state.having, q)
		}
	}
	return nil
}

func (a *selectAssembly) orderBy() error {
	st := a.ctx.state
	for _, item := range a.sel.OrderBy {
		dir := 1
		if item.Desc {
			dir = -1
		}
		field, err := a.sortField(item.Expr)
		if err != nil {
			return err
		}
		st.sort = append(st.sort, bson.E{Key: field, Value: dir})
	}
	return nil
}

// sortField returns the projected field ordering by e, adding a hidden
// projection when e is not part of the output.
func (a *selectAssembly) sortField(e relast.Expr) (string, error) {
	for _, p := range a.projected {
		if p.expr == e {
			return p.alias, nil
		}
		if c, ok := e.(*relast.ColumnRef); ok && p.key != "" && p.key == c.String() {
			return p.alias, nil
		}
	}

	var value any
	if agg, ok := e.(*relast.Aggregate); ok {
		var arg *fragment
		if agg.Arg != nil {
			f, err := a.x.preGroup(agg.Arg)
			if err != nil {
				return "", err
			}
			arg = &f
		}
		_, v, err := a.ctx.state.accumulator(a.ctx, agg, arg, "")
		if err != nil {
			return "", err
		}
		value = v
	} else {
		f, err := a.x.Compile(e, ModeValue)
		if err != nil {
			return "", err
		}
		value = f.value
	}
	if sig, err := valueSig(value); err == nil {
		for _, p := range a.projected {
			if p.sig == sig {
				return p.alias, nil
			}
		}
	}

	name := a.ctx.nextName("__sort")
	a.ctx.state.postProject = append(a.ctx.state.postProject, bson.E{Key: name, Value: value})
	a.ctx.state.columns = append(a.ctx.state.columns, ir.ColumnBinding{Name: name, Field: name, Hidden: true})
	return name, nil
}

func valueSig(v any) (string, error) {
	return ir.RenderCompact(bson.D{{Key: "v", Value: v}})
}

// fieldName makes s usable as a top-level field name.
func fieldName(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	return strings.TrimLeft(s, "$")
}
