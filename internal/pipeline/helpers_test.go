package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/testutil"
)

var shop = testutil.ShopCatalog()

func col(table, name string) *relast.ColumnRef {
	t, ok := shop.Table(table)
	if !ok {
		return relast.Col(table, name, "")
	}
	c, _ := t.Column(name)
	return relast.Col(table, name, c.Type)
}

func lit(v any) *relast.Literal {
	return relast.Lit(v, "")
}

func compileSelect(t *testing.T, sel *relast.Select) *ir.ReadPlan {
	t.Helper()
	plan, err := NewQueryCompiler(shop, Options{}).Compile(sel)
	require.NoError(t, err)
	return plan
}

func stage(op string, v any) ir.Stage {
	return ir.Stage{{Key: op, Value: v}}
}

func exists(path string) bson.D {
	return bson.D{{Key: path, Value: bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: nil}}}}
}

// customerOrders is "customer JOIN order ON customer.id = order.customer_id".
func customerOrders(typ relast.JoinType) []relast.Join {
	return []relast.Join{{
		Type:  typ,
		Table: relast.TableRef{Table: "order"},
		On:    relast.Eq(col("customer", "id"), col("order", "customer_id")),
	}}
}

// newTestCtx returns a compile context rooted at root.
func newTestCtx(t *testing.T, cat *relast.Catalog, root string, tables ...string) (*CompileCtx, *ExprCompiler) {
	t.Helper()
	ctx := newCompileCtx(cat, Options{})
	d, err := ctx.resolver.Resolve(root)
	require.NoError(t, err)
	require.NoError(t, ctx.setRoot(d, append([]string{root}, tables...)))
	return ctx, &ExprCompiler{ctx: ctx}
}
