package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
)

func TestExprCompiler_Predicates(t *testing.T) {
	tests := []struct {
		name string
		expr relast.Expr
		want bson.D
	}{
		{
			name: "equality on primary key",
			expr: relast.Eq(col("customer", "id"), lit(5)),
			want: bson.D{{Key: "_id", Value: int64(5)}},
		},
		{
			name: "literal on the left flips the operator",
			expr: relast.Cmp(relast.OpLt, lit(5), col("order", "total")),
			want: bson.D{{Key: "order.total", Value: bson.D{{Key: "$gt", Value: float64(5)}}}},
		},
		{
			name: "pointer column filters on identity",
			expr: relast.Eq(col("order", "product_id"), lit(3)),
			want: bson.D{{Key: "order.product_id.$id", Value: int64(3)}},
		},
		{
			name: "merge key resolves to parent key",
			expr: relast.Cmp(relast.OpNe, col("order", "customer_id"), lit(1)),
			want: bson.D{{Key: "_id", Value: bson.D{{Key: "$ne", Value: int64(1)}}}},
		},
		{
			name: "or flattens nested or",
			expr: &relast.Or{Operands: []relast.Expr{
				relast.Eq(col("customer", "city"), lit("Oslo")),
				&relast.Or{Operands: []relast.Expr{
					relast.Eq(col("customer", "city"), lit("Bergen")),
					&relast.IsNull{Operand: col("customer", "city")},
				}},
			}},
			want: bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "city", Value: "Oslo"}},
				bson.D{{Key: "city", Value: "Bergen"}},
				bson.D{{Key: "city", Value: nil}},
			}}},
		},
		{
			name: "not uses nor",
			expr: &relast.Not{Operand: relast.Eq(col("customer", "tier"), lit("gold"))},
			want: bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "tier", Value: "gold"}}}}},
		},
		{
			name: "in list converts to column type",
			expr: &relast.In{Left: col("customer", "id"), List: []relast.Expr{lit("1"), lit(2)}},
			want: bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{int64(1), int64(2)}}}}},
		},
		{
			name: "not in",
			expr: &relast.In{Left: col("customer", "tier"), List: []relast.Expr{lit("gold")}, Negated: true},
			want: bson.D{{Key: "tier", Value: bson.D{{Key: "$nin", Value: bson.A{"gold"}}}}},
		},
		{
			name: "is not null",
			expr: &relast.IsNull{Operand: col("customer", "city"), Negated: true},
			want: bson.D{{Key: "city", Value: bson.D{{Key: "$ne", Value: nil}}}},
		},
		{
			name: "like",
			expr: &relast.Like{Left: col("customer", "name"), Pattern: lit("Ab%")},
			want: bson.D{{Key: "name", Value: bson.Regex{Pattern: "^Ab"}}},
		},
		{
			name: "not like",
			expr: &relast.Like{Left: col("customer", "name"), Pattern: lit("%x"), Negated: true},
			want: bson.D{{Key: "name", Value: bson.D{{Key: "$not", Value: bson.Regex{Pattern: "x$"}}}}},
		},
		{
			name: "column to column comparison uses $expr",
			expr: relast.Cmp(relast.OpGt, col("order", "total"), col("order", "id")),
			want: bson.D{{Key: "$expr", Value: bson.D{{Key: "$gt", Value: bson.A{"$order.total", "$order.id"}}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, x := newTestCtx(t, shop, "customer", "order")
			got, err := x.Predicate(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprCompiler_Values(t *testing.T) {
	_, x := newTestCtx(t, shop, "customer", "order")

	v, err := x.Value(relast.Cmp(relast.OpGe, col("order", "total"), lit(10)))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$gte", Value: bson.A{"$order.total", float64(10)}}}, v)

	v, err = x.Value(&relast.FuncCall{Name: "concat", Args: []relast.Expr{col("customer", "name"), lit("!")}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$concat", Value: bson.A{"$name", "!"}}}, v)

	v, err = x.Value(&relast.FuncCall{Name: "SUBSTRING", Args: []relast.Expr{col("customer", "name"), lit(int64(2)), lit(int64(3))}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$substrCP", Value: bson.A{"$name", int64(1), int64(3)}}}, v)

	v, err = x.Value(&relast.IsNull{Operand: col("customer", "city")})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$lte", Value: bson.A{"$city", nil}}}, v)
}

func TestExprCompiler_ElevatesFunctionOperands(t *testing.T) {
	ctx, x := newTestCtx(t, shop, "customer")
	got, err := x.Predicate(relast.Eq(&relast.FuncCall{Name: "lower", Args: []relast.Expr{col("customer", "name")}}, lit("bob")))
	require.NoError(t, err)

	assert.Equal(t, bson.D{{Key: "__fn1", Value: "bob"}}, got)
	assert.Equal(t, bson.D{{Key: "__fn1", Value: bson.D{{Key: "$toLower", Value: "$name"}}}}, ctx.state.preProject)
	assert.True(t, ctx.state.projectBeforeMatch)
}

func TestExprCompiler_NoElevationFallsBackToExpr(t *testing.T) {
	ctx, x := newTestCtx(t, shop, "customer")
	ctx.allowElevation = false
	got, err := x.Predicate(relast.Eq(&relast.FuncCall{Name: "upper", Args: []relast.Expr{col("customer", "name")}}, lit("BOB")))
	require.NoError(t, err)

	assert.Equal(t, bson.D{{Key: "$expr", Value: bson.D{{Key: "$eq", Value: bson.A{
		bson.D{{Key: "$toUpper", Value: "$name"}}, "BOB",
	}}}}}, got)
	assert.Empty(t, ctx.state.preProject)
}

func TestExprCompiler_Geo(t *testing.T) {
	geo := relast.MustCatalog(&relast.Table{
		Name: "place",
		Columns: []relast.Column{
			{Name: "id", Type: relast.TypeInt},
			{Name: "loc", Type: relast.TypeGeometry},
		},
		PrimaryKey: []string{"id"},
	})
	_, x := newTestCtx(t, geo, "place")
	got, err := x.Predicate(&relast.FuncCall{Name: "near", Args: []relast.Expr{
		relast.Col("place", "loc", relast.TypeGeometry), lit(10.5), lit(59.9), lit(1000),
	}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "loc", Value: bson.D{{Key: "$geoWithin", Value: bson.D{
		{Key: "$centerSphere", Value: bson.A{bson.A{10.5, 59.9}, 1000 / earthRadiusMeters}},
	}}}}}, got)

	for _, args := range [][]relast.Expr{
		{lit(10.5), lit(59.9)},
		{lit(10.5), lit(59.9), lit(1000), lit(10)},
		{lit(10.5), lit(59.9), lit("far")},
		{lit(10.5), lit(59.9), lit(-1)},
	} {
		_, err := x.Predicate(&relast.FuncCall{Name: "nearSphere", Args: append([]relast.Expr{
			relast.Col("place", "loc", relast.TypeGeometry),
		}, args...)})
		assert.True(t, docerr.ErrUnsupportedExpression.Is(err), "args %v", args)
	}
}

func TestExprCompiler_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr relast.Expr
		kind error
	}{
		{"array column in filter", relast.Eq(col("order", "tags"), lit("x")), docerr.ErrArrayColumnFilter.New("order", "tags")},
		{"unknown function", relast.Eq(&relast.FuncCall{Name: "soundex", Args: []relast.Expr{col("customer", "name")}}, lit("x")), docerr.ErrUnknownFunction.New("soundex")},
		{"aggregate in filter", relast.Cmp(relast.OpGt, &relast.Aggregate{Func: relast.AggCount}, lit(1)), docerr.ErrUnsupportedExpression.New("COUNT", "filter")},
		{"literal in list operand", &relast.In{Left: lit(1), List: []relast.Expr{lit(1)}}, docerr.ErrUnresolvedOperand.New("IN", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, x := newTestCtx(t, shop, "customer", "order")
			_, err := x.Predicate(tt.expr)
			require.Error(t, err)
			assert.Equal(t, docerr.KindOf(tt.kind), docerr.KindOf(err))
		})
	}
}

// The first error in post-order wins, independent of how many follow.
func TestExprCompiler_FirstErrorWins(t *testing.T) {
	ctx, x := newTestCtx(t, shop, "customer", "order")
	_, err := x.Predicate(relast.AndOf(
		relast.Eq(col("order", "tags"), lit("x")),
		relast.Eq(&relast.FuncCall{Name: "soundex"}, lit("y")),
	))
	require.Error(t, err)
	assert.True(t, docerr.ErrArrayColumnFilter.Is(err))
	assert.Len(t, ctx.errs, 2)
}
