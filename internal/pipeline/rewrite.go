package pipeline

import (
	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
)

// rewrite returns a normalized copy of sel. Stars are expanded to the
// columns of the tables in scope, and a single COUNT(col) in the projection
// list becomes COUNT(*) with "col IS NOT NULL" added to WHERE. The input
// statement is not modified.
func rewrite(sel *relast.Select, cat *relast.Catalog) (*relast.Select, error) {
	out := *sel
	cols, err := expandStars(sel, cat)
	if err != nil {
		return nil, err
	}
	out.Columns = cols

	var counts []int
	for i, dc := range out.Columns {
		if a, ok := dc.Expr.(*relast.Aggregate); ok && a.Func == relast.AggCount && a.Arg != nil && !a.Distinct {
			counts = append(counts, i)
		}
	}
	switch {
	case len(counts) > 1:
		return nil, docerr.ErrMixedCountRewrite.New(len(counts))
	case len(counts) == 1:
		i := counts[0]
		a := out.Columns[i].Expr.(*relast.Aggregate)
		alias := out.Columns[i].Alias
		if alias == "" {
			alias = defaultAggregateAlias(a)
		}
		out.Columns[i] = relast.DerivedColumn{
			Expr:  &relast.Aggregate{Func: relast.AggCount},
			Alias: alias,
		}
		out.Where = relast.AndOf(sel.Where, &relast.IsNull{Operand: a.Arg, Negated: true})
	}
	return &out, nil
}

func expandStars(sel *relast.Select, cat *relast.Catalog) ([]relast.DerivedColumn, error) {
	out := make([]relast.DerivedColumn, 0, len(sel.Columns))
	for _, dc := range sel.Columns {
		star, ok := dc.Expr.(*relast.Star)
		if !ok {
			out = append(out, dc)
			continue
		}
		tables := sel.TableNames()
		if star.Table != "" {
			tables = []string{star.Table}
		}
		for _, name := range tables {
			t, ok := cat.Table(name)
			if !ok {
				return nil, docerr.ErrUnknownTable.New(name)
			}
			for _, c := range t.Columns {
				out = append(out, relast.DerivedColumn{Expr: relast.Col(t.Name, c.Name, c.Type)})
			}
		}
	}
	return out, nil
}

func defaultAggregateAlias(a *relast.Aggregate) string {
	switch a.Func {
	case relast.AggCount:
		return "count"
	case relast.AggSum:
		return "sum"
	case relast.AggAvg:
		return "avg"
	case relast.AggMin:
		return "min"
	default:
		return "max"
	}
}
