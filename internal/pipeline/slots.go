package pipeline

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/schema"
)

// BindIdentitySlots fills an identity for table's key columns from the
// top-level "column = literal" conjuncts of where. Columns without such a
// conjunct stay unbound. Two conjuncts giving one column different values
// are an ErrAmbiguousIdentity.
func BindIdentitySlots(where relast.Expr, table string, columns []string) (schema.IdentityKey, error) {
	key := schema.NewIdentityKey(table, columns...)
	for _, c := range relast.Conjuncts(where) {
		cmp, ok := c.(*relast.Comparison)
		if !ok || cmp.Op != relast.OpEq {
			continue
		}
		col, lit := slotOperands(cmp)
		if col == nil || lit == nil || col.Table != table || relast.IndexOf(columns, col.Name) < 0 {
			continue
		}
		if prev, bound := key.Get(col.Name); bound {
			if !sameValue(prev, lit.Value) {
				return schema.IdentityKey{}, docerr.ErrAmbiguousIdentity.New(table, col.Name)
			}
			continue
		}
		next, err := key.Set(col.Name, lit.Value)
		if err != nil {
			return schema.IdentityKey{}, err
		}
		key = next
	}
	return key, nil
}

func slotOperands(c *relast.Comparison) (*relast.ColumnRef, *relast.Literal) {
	if col, ok := c.Left.(*relast.ColumnRef); ok {
		lit, _ := c.Right.(*relast.Literal)
		return col, lit
	}
	if col, ok := c.Right.(*relast.ColumnRef); ok {
		lit, _ := c.Left.(*relast.Literal)
		return col, lit
	}
	return nil, nil
}

func sameValue(a, b any) bool {
	x, err := valueSig(a)
	if err != nil {
		return false
	}
	y, err := valueSig(b)
	return err == nil && x == y
}

// identityValue is the bound identity as stored in a step, or nil.
func identityValue(k schema.IdentityKey) any {
	if k.Bound() == 0 {
		return nil
	}
	v := k.Value()
	if d, ok := v.(bson.D); ok && len(d) == 0 {
		return nil
	}
	return v
}
