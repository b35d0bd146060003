package engine

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/relast"
)

// DefaultCacheSize is the number of compiled plans kept per engine.
const DefaultCacheSize = 256

// planCache memoizes compiled plans. A nil *planCache caches nothing.
type planCache struct {
	reads  *lru.Cache[uint64, *ir.ReadPlan]
	writes *lru.Cache[uint64, *ir.WritePlan]
}

func newPlanCache(size int) (*planCache, error) {
	if size <= 0 {
		return nil, nil
	}
	reads, err := lru.New[uint64, *ir.ReadPlan](size)
	if err != nil {
		return nil, fmt.Errorf("read plan cache: %w", err)
	}
	writes, err := lru.New[uint64, *ir.WritePlan](size)
	if err != nil {
		return nil, fmt.Errorf("write plan cache: %w", err)
	}
	return &planCache{reads: reads, writes: writes}, nil
}

func (c *planCache) read(key uint64) (*ir.ReadPlan, bool) {
	if c == nil {
		return nil, false
	}
	return c.reads.Get(key)
}

func (c *planCache) addRead(key uint64, p *ir.ReadPlan) {
	if c != nil {
		c.reads.Add(key, p)
	}
}

func (c *planCache) write(key uint64) (*ir.WritePlan, bool) {
	if c == nil {
		return nil, false
	}
	return c.writes.Get(key)
}

func (c *planCache) addWrite(key uint64, p *ir.WritePlan) {
	if c != nil {
		c.writes.Add(key, p)
	}
}

func (c *planCache) len() int {
	if c == nil {
		return 0
	}
	return c.reads.Len() + c.writes.Len()
}

// statementKey is what gets hashed. hashstructure ignores type names and
// unexported fields, so Shape spells out node types and literal values in
// pre-order to keep AND apart from OR and 1 apart from "1".
type statementKey struct {
	Kind  string
	Shape string
	Stmt  relast.Statement
}

func cacheKey(stmt relast.Statement) (uint64, error) {
	key := statementKey{Kind: stmt.Kind(), Shape: shape(stmt), Stmt: stmt}
	h, err := hashstructure.Hash(key, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("hash statement: %w", err)
	}
	return h, nil
}

func shape(stmt relast.Statement) string {
	var b strings.Builder
	for _, e := range statementExprs(stmt) {
		b.WriteByte('(')
		relast.Walk(e, func(n relast.Expr) bool {
			fmt.Fprintf(&b, "%T ", n)
			if lit, ok := n.(*relast.Literal); ok {
				fmt.Fprintf(&b, "%T:%v ", lit.Value, lit.Value)
			}
			return true
		})
		b.WriteByte(')')
	}
	return b.String()
}

// statementExprs lists every expression of stmt in clause order. Absent
// clauses contribute a nil entry so positions stay aligned.
func statementExprs(stmt relast.Statement) []relast.Expr {
	var out []relast.Expr
	switch s := stmt.(type) {
	case *relast.Select:
		for _, c := range s.Columns {
			out = append(out, c.Expr)
		}
		for _, j := range s.Joins {
			out = append(out, j.On)
		}
		out = append(out, s.Where)
		out = append(out, s.GroupBy...)
		out = append(out, s.Having)
		for _, o := range s.OrderBy {
			out = append(out, o.Expr)
		}
	case *relast.Insert:
		out = append(out, s.Values...)
	case *relast.Update:
		for _, a := range s.Set {
			out = append(out, a.Value)
		}
		out = append(out, s.Where)
	case *relast.Delete:
		out = append(out, s.Where)
	}
	return out
}
