package pipeline

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
)

// nullGuardPrefix names the pre-project alias that replaces an absent or
// empty nested array with a single empty element before $unwind.
const nullGuardPrefix = "__NN_"

// JoinTranslator maps relational joins onto documents that already hold
// both sides. It never emits cross-collection stages: a join is only
// accepted when one side physically contains the other.
type JoinTranslator struct {
	ctx *CompileCtx
	// pending are the ON equalities, verified once every join is known.
	pending []*relast.Comparison
}

// Translate records the contribution of one join. scope lists the tables
// joined so far, FROM first.
func (j *JoinTranslator) Translate(scope []string, join relast.Join) error {
	switch join.Type {
	case relast.JoinInner, relast.JoinLeftOuter, relast.JoinRightOuter:
	default:
		return docerr.ErrUnsupportedJoinType.New(join.Type)
	}

	right := join.Table.Table
	left, conds, err := joinEqualities(scope, right, join.On)
	if err != nil {
		return err
	}

	preserved, optional := left, right
	typ := join.Type
	if typ == relast.JoinRightOuter {
		preserved, optional = right, left
		typ = relast.JoinLeftOuter
	}

	r := j.ctx.resolver
	dp, err := r.Resolve(preserved)
	if err != nil {
		return err
	}
	do, err := r.Resolve(optional)
	if err != nil {
		return err
	}

	switch {
	case typ == relast.JoinInner && (r.Contains(dp, do) || r.Contains(do, dp)):
		inner := optional
		if r.Contains(do, dp) {
			inner = preserved
		}
		if err := j.requireExistence(inner); err != nil {
			return err
		}
	case typ == relast.JoinLeftOuter && r.Contains(dp, do):
		if err := j.guardArray(optional); err != nil {
			return err
		}
	case typ == relast.JoinLeftOuter && r.Contains(do, dp):
		// The preserved rows only exist inside the optional side's
		// documents, so unmatched rows cannot be produced.
		if !r.Merges(do, dp) {
			return docerr.ErrUnsupportedJoinShape.New(preserved, optional,
				"left side is only stored as an embedded copy inside the right side")
		}
		if err := j.requireExistence(preserved); err != nil {
			return err
		}
	default:
		return docerr.ErrUnsupportedJoinShape.New(left, right, "neither table contains the other")
	}

	for _, c := range conds {
		j.ctx.joinConds = append(j.ctx.joinConds, condKey(c))
	}
	j.pending = append(j.pending, conds...)
	return nil
}

// joinEqualities splits on into column equalities between right and exactly
// one table already in scope.
func joinEqualities(scope []string, right string, on relast.Expr) (string, []*relast.Comparison, error) {
	conjuncts := relast.Conjuncts(on)
	if len(conjuncts) == 0 {
		return "", nil, docerr.ErrUnsupportedJoinPredicate.New("missing ON condition")
	}
	left := ""
	conds := make([]*relast.Comparison, 0, len(conjuncts))
	for _, e := range conjuncts {
		c, ok := e.(*relast.Comparison)
		if !ok || c.Op != relast.OpEq {
			return "", nil, docerr.ErrUnsupportedJoinPredicate.New(exprString(e))
		}
		a, aok := c.Left.(*relast.ColumnRef)
		b, bok := c.Right.(*relast.ColumnRef)
		if !aok || !bok {
			return "", nil, docerr.ErrUnsupportedJoinPredicate.New(exprString(e))
		}
		if a.Table == right {
			a, b = b, a
		}
		if b.Table != right || a.Table == right || relast.IndexOf(scope, a.Table) < 0 {
			return "", nil, docerr.ErrUnsupportedJoinPredicate.New(exprString(e))
		}
		if left != "" && a.Table != left {
			return "", nil, docerr.ErrUnsupportedJoinPredicate.New(exprString(e))
		}
		left = a.Table
		conds = append(conds, c)
	}
	return left, conds, nil
}

// requireExistence filters out root documents where table's sub-document
// is absent.
func (j *JoinTranslator) requireExistence(table string) error {
	prefix, err := j.ctx.prefixOf(table)
	if err != nil {
		return err
	}
	if prefix != "" {
		j.ctx.state.addMatch(existsFilter(prefix))
	}
	return nil
}

// guardArray keeps root documents whose nested array for table is missing
// or empty by unwinding a single empty element in its place.
func (j *JoinTranslator) guardArray(table string) error {
	ch, err := j.ctx.chainFor(table)
	if err != nil {
		return err
	}
	hop, nested := ch.Last()
	if !nested || !hop.IsArray() {
		return nil
	}
	if len(ch.Parent().ArrayHops()) > 0 {
		return docerr.ErrUnsupportedJoinShape.New(hop.Parent, table,
			"outer join below another nested array")
	}
	if _, ok := j.ctx.overrides[table]; ok {
		return nil
	}
	path, err := j.ctx.prefixOf(table)
	if err != nil {
		return err
	}
	alias := nullGuardPrefix + table
	ref := "$" + path
	guard := bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$gt", Value: bson.A{
			bson.D{{Key: "$size", Value: bson.D{{Key: "$ifNull", Value: bson.A{ref, bson.A{}}}}}},
			0,
		}}},
		ref,
		bson.A{bson.D{}},
	}}}
	j.ctx.state.preProject = append(j.ctx.state.preProject, bson.E{Key: alias, Value: guard})
	j.ctx.overrides[table] = alias
	return nil
}

// Verify checks that every ON equality holds by construction, i.e. both
// columns resolve to the same stored field.
func (j *JoinTranslator) Verify() error {
	for _, c := range j.pending {
		a, err := j.ctx.binding(c.Left.(*relast.ColumnRef))
		if err != nil {
			return err
		}
		b, err := j.ctx.binding(c.Right.(*relast.ColumnRef))
		if err != nil {
			return err
		}
		if a.DocumentQueryFieldName != b.DocumentQueryFieldName {
			return docerr.ErrUnsupportedJoinShape.New(a.Table, b.Table,
				"join columns "+a.Key()+" and "+b.Key()+" are not the stored relationship")
		}
	}
	return nil
}

func condKey(c *relast.Comparison) [2]string {
	a := c.Left.(*relast.ColumnRef).String()
	b := c.Right.(*relast.ColumnRef).String()
	k := []string{a, b}
	sort.Strings(k)
	return [2]string{k[0], k[1]}
}

// isJoinCondition reports whether e restates a join equality.
func (c *CompileCtx) isJoinCondition(e relast.Expr) bool {
	cmp, ok := e.(*relast.Comparison)
	if !ok || cmp.Op != relast.OpEq {
		return false
	}
	if _, ok := cmp.Left.(*relast.ColumnRef); !ok {
		return false
	}
	if _, ok := cmp.Right.(*relast.ColumnRef); !ok {
		return false
	}
	k := condKey(cmp)
	for _, jc := range c.joinConds {
		if jc == k {
			return true
		}
	}
	return false
}

func exprString(e relast.Expr) string {
	switch n := e.(type) {
	case *relast.ColumnRef:
		return n.String()
	case *relast.Literal:
		return n.String()
	case *relast.Comparison:
		return exprString(n.Left) + " " + string(n.Op) + " " + exprString(n.Right)
	default:
		return fmt.Sprintf("%T", e)
	}
}
