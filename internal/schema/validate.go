package schema

import (
	"sort"
	"strings"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
)

// ValidateCatalog checks every table mapping and returns all problems found.
// A catalog that validates cleanly resolves without configuration errors.
func ValidateCatalog(cat *relast.Catalog) []error {
	var errs []error
	for _, t := range cat.Tables() {
		errs = append(errs, validateTable(cat, t)...)
	}
	errs = append(errs, mergeCycles(cat)...)
	if len(errs) > 0 {
		return errs
	}

	r := NewResolver(cat)
	for _, t := range cat.Tables() {
		if _, err := r.Resolve(t.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateTable(cat *relast.Catalog, t *relast.Table) []error {
	var errs []error
	if t.MergeInto != "" && len(t.EmbeddableInto) > 0 {
		errs = append(errs, docerr.ErrMergeAndEmbeddable.New(t.Name))
	}
	if t.MergeInto != "" {
		if _, ok := cat.Table(t.MergeInto); !ok {
			errs = append(errs, docerr.ErrUnknownTable.New(t.MergeInto))
		} else if _, ok := t.ForeignKeyTo(t.MergeInto); !ok {
			errs = append(errs, docerr.ErrMergeKeyNotFound.New(t.Name, t.MergeInto))
		}
	}
	for _, target := range t.EmbeddableInto {
		tt, ok := cat.Table(target)
		if !ok {
			errs = append(errs, docerr.ErrUnknownTable.New(target))
			continue
		}
		if _, ok := tt.ForeignKeyTo(t.Name); !ok {
			errs = append(errs, docerr.ErrEmbeddableWithoutReference.New(t.Name, target, target))
		}
	}

	for _, fk := range t.ForeignKeys {
		for _, c := range fk.Columns {
			if _, ok := t.Column(c); !ok {
				errs = append(errs, docerr.ErrUnknownColumn.New(t.Name, c))
			}
		}
		ref, ok := cat.Table(fk.RefTable)
		if !ok {
			errs = append(errs, docerr.ErrUnknownTable.New(fk.RefTable))
			continue
		}
		refCols := fk.RefColumns
		if len(refCols) == 0 {
			refCols = ref.PrimaryKey
		}
		if len(refCols) != len(fk.Columns) {
			errs = append(errs, docerr.ErrForeignKeyArity.New(foreignKeyAlias(fk), t.Name, len(fk.Columns), len(refCols)))
		}
		for _, c := range refCols {
			if _, ok := ref.Column(c); !ok {
				errs = append(errs, docerr.ErrUnknownColumn.New(ref.Name, c))
			}
		}
	}
	for _, idx := range t.Indexes {
		for _, c := range idx.Columns {
			if _, ok := t.Column(c); !ok {
				errs = append(errs, docerr.ErrUnknownColumn.New(t.Name, c))
			}
		}
	}
	return errs
}

// mergeCycles reports every strongly connected component of the merge_into
// graph that forms a cycle.
func mergeCycles(cat *relast.Catalog) []error {
	graph := make(map[string][]string)
	for _, t := range cat.Tables() {
		graph[t.Name] = nil
		if t.MergeInto != "" {
			graph[t.Name] = append(graph[t.Name], t.MergeInto)
		}
	}

	var errs []error
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			sort.Strings(scc)
			errs = append(errs, docerr.ErrSchemaCycle.New(strings.Join(scc, " -> ")))
		}
	}
	return errs
}

func hasSelfLoop(node string, graph map[string][]string) bool {
	for _, n := range graph[node] {
		if n == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components. Nodes are visited in sorted
// order so the result is deterministic.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}
