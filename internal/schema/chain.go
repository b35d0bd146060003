package schema

// HopKind distinguishes the two ways a table can live inside another
// table's document.
type HopKind string

const (
	HopMerge HopKind = "merge"
	HopEmbed HopKind = "embed"
)

// Hop is one containment step of a Chain.
type Hop struct {
	Kind HopKind
	// Ref is the merge key of the nested table (HopMerge) or the pull-in
	// edge of the enclosing table (HopEmbed).
	Ref DocRef
	// Parent and Child are the enclosing and nested table names.
	Parent string
	Child  string
	// Prefix is the nested sub-document's field path from the root.
	Prefix string
}

// IsArray reports whether the hop nests an array of sub-documents.
func (h Hop) IsArray() bool {
	return h.Kind == HopMerge && h.Ref.Association == Many
}

// Chain is the containment path from a root document to a nested table.
type Chain struct {
	Root string
	Hops []Hop
}

// Table returns the table the chain ends at.
func (c Chain) Table() string {
	if len(c.Hops) == 0 {
		return c.Root
	}
	return c.Hops[len(c.Hops)-1].Child
}

// Last returns the final hop, if any.
func (c Chain) Last() (Hop, bool) {
	if len(c.Hops) == 0 {
		return Hop{}, false
	}
	return c.Hops[len(c.Hops)-1], true
}

// Parent returns the chain ending one hop earlier.
func (c Chain) Parent() Chain {
	if len(c.Hops) == 0 {
		return c
	}
	return Chain{Root: c.Root, Hops: c.Hops[:len(c.Hops)-1]}
}

// ArrayHops returns the hops that nest arrays, root first.
func (c Chain) ArrayHops() []Hop {
	var out []Hop
	for _, h := range c.Hops {
		if h.IsArray() {
			out = append(out, h)
		}
	}
	return out
}

// Chain finds the containment path from root down to table, following merge
// children and direct pull-ins breadth first. The boolean is false when
// table does not live inside root.
func (r *Resolver) Chain(root, table string) (Chain, bool, error) {
	if root == table {
		return Chain{Root: root}, true, nil
	}

	type item struct {
		table string
		hops  []Hop
	}
	queue := []item{{table: root}}
	seen := map[string]bool{root: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		next, err := r.containedIn(cur.table)
		if err != nil {
			return Chain{}, false, err
		}
		prefix := ""
		if n := len(cur.hops); n > 0 {
			prefix = cur.hops[n-1].Prefix
		}
		for _, h := range next {
			if seen[h.Child] {
				continue
			}
			seen[h.Child] = true
			h.Prefix = JoinPath(prefix, h.Ref.Alias)
			hops := append(append([]Hop(nil), cur.hops...), h)
			if h.Child == table {
				return Chain{Root: root, Hops: hops}, true, nil
			}
			queue = append(queue, item{table: h.Child, hops: hops})
		}
	}
	return Chain{}, false, nil
}

// containedIn lists the tables nested one level inside table's document:
// merge children in catalog order, then direct pull-ins.
func (r *Resolver) containedIn(table string) ([]Hop, error) {
	var hops []Hop
	for _, t := range r.catalog.Tables() {
		if t.MergeInto != table {
			continue
		}
		d, err := r.Resolve(t.Name)
		if err != nil {
			return nil, err
		}
		hops = append(hops, Hop{Kind: HopMerge, Ref: *d.MergeKey, Parent: table, Child: t.Name})
	}
	d, err := r.Resolve(table)
	if err != nil {
		return nil, err
	}
	for _, ref := range d.PullInRefs {
		if ref.Nested {
			continue
		}
		hops = append(hops, Hop{Kind: HopEmbed, Ref: ref, Parent: table, Child: ref.ChildTable})
	}
	return hops, nil
}
