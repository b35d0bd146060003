package stmtdoc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/testutil"
)

var shop = testutil.ShopCatalog()

func parse(t *testing.T, doc string) relast.Statement {
	t.Helper()
	stmt, err := Parse([]byte(doc), shop)
	require.NoError(t, err)
	return stmt
}

func TestParseSelect(t *testing.T) {
	stmt := parse(t, `
select:
  distinct: true
  columns:
    - expr: {col: customer.name}
    - expr: {sum: {col: order.total}}
      as: spent
    - expr: {count: "*"}
  from: customer
  joins:
    - type: left
      table: order
      on: {eq: [{col: customer.id}, {col: order.customer_id}]}
  where:
    and:
      - {gt: [{col: total}, {lit: 10}]}
      - {like: [{col: customer.name}, "A%"]}
      - {in: [{col: status}, {lit: open}, {lit: paid}]}
      - {not_null: {col: city}}
  group_by: [{col: customer.name}]
  having: {ge: [{count_distinct: {col: order.id}}, {lit: 2}]}
  order_by: [{expr: {col: customer.name}, desc: true}]
  limit: 10
  offset: 5
`)

	sel, ok := stmt.(*relast.Select)
	require.True(t, ok)
	assert.True(t, sel.Distinct)
	assert.Equal(t, relast.TableRef{Table: "customer"}, sel.From)
	require.Len(t, sel.Columns, 3)
	assert.Equal(t, relast.Col("customer", "name", relast.TypeString), sel.Columns[0].Expr)
	assert.Equal(t, relast.DerivedColumn{
		Expr:  &relast.Aggregate{Func: relast.AggSum, Arg: relast.Col("order", "total", relast.TypeFloat)},
		Alias: "spent",
	}, sel.Columns[1])
	assert.True(t, sel.Columns[2].Expr.(*relast.Aggregate).IsCountStar())

	require.Len(t, sel.Joins, 1)
	assert.Equal(t, relast.JoinLeftOuter, sel.Joins[0].Type)
	assert.Equal(t, relast.Eq(
		relast.Col("customer", "id", relast.TypeInt),
		relast.Col("order", "customer_id", relast.TypeInt),
	), sel.Joins[0].On)

	where := sel.Where.(*relast.And)
	require.Len(t, where.Operands, 4)
	assert.Equal(t, relast.Cmp(relast.OpGt,
		relast.Col("order", "total", relast.TypeFloat),
		relast.Lit(int64(10), ""),
	), where.Operands[0])
	assert.Equal(t, &relast.Like{
		Left:    relast.Col("customer", "name", relast.TypeString),
		Pattern: relast.Lit("A%", relast.TypeString),
	}, where.Operands[1])
	assert.Equal(t, &relast.In{
		Left: relast.Col("order", "status", relast.TypeString),
		List: []relast.Expr{relast.Lit("open", ""), relast.Lit("paid", "")},
	}, where.Operands[2])
	assert.Equal(t, &relast.IsNull{
		Operand: relast.Col("customer", "city", relast.TypeString),
		Negated: true,
	}, where.Operands[3])

	assert.Equal(t, &relast.Aggregate{
		Func:     relast.AggCount,
		Arg:      relast.Col("order", "id", relast.TypeInt),
		Distinct: true,
	}, sel.Having.(*relast.Comparison).Left)
	assert.Equal(t, []relast.OrderItem{{Expr: relast.Col("customer", "name", relast.TypeString), Desc: true}}, sel.OrderBy)
	assert.Equal(t, relast.Limit(10), sel.Limit)
	assert.Equal(t, int64(5), sel.Offset)
}

func TestParseWrites(t *testing.T) {
	t.Run("insert keeps column order", func(t *testing.T) {
		ins := parse(t, `
insert:
  table: order
  values: {id: 10, customer_id: 1, total: 9.5, status: open, placed_at: {lit: {value: "2024-01-02T03:04:05Z", type: timestamp}}}
`).(*relast.Insert)
		assert.Equal(t, "order", ins.Table)
		assert.Equal(t, []string{"id", "customer_id", "total", "status", "placed_at"}, ins.Columns)
		assert.Equal(t, []relast.Expr{
			relast.Lit(int64(10), relast.TypeInt),
			relast.Lit(int64(1), relast.TypeInt),
			relast.Lit(9.5, relast.TypeFloat),
			relast.Lit("open", relast.TypeString),
			relast.Lit("2024-01-02T03:04:05Z", relast.TypeTimestamp),
		}, ins.Values)
	})

	t.Run("update", func(t *testing.T) {
		upd := parse(t, `
update:
  table: customer
  set: {city: null, tier: gold}
  where: {eq: [{col: id}, {lit: 1}]}
`).(*relast.Update)
		assert.Equal(t, []relast.Assignment{
			{Column: "city", Value: relast.Lit(nil, relast.TypeString)},
			{Column: "tier", Value: relast.Lit("gold", relast.TypeString)},
		}, upd.Set)
		assert.Equal(t, relast.Eq(relast.Col("customer", "id", relast.TypeInt), relast.Lit(int64(1), "")), upd.Where)
	})

	t.Run("delete without where", func(t *testing.T) {
		del := parse(t, "delete: {table: product}").(*relast.Delete)
		assert.Equal(t, &relast.Delete{Table: "product"}, del)
	})
}

func TestParseFunctionCall(t *testing.T) {
	sel := parse(t, `
select:
  columns: [{expr: {fn: {name: upper, args: [{col: name}]}}}]
  from: product
`).(*relast.Select)
	assert.Equal(t, &relast.FuncCall{
		Name: "UPPER",
		Args: []relast.Expr{relast.Col("product", "name", relast.TypeString)},
	}, sel.Columns[0].Expr)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind error
	}{
		{name: "empty document", doc: "{}"},
		{name: "two statements", doc: "delete: {table: product}\ninsert: {table: product, values: {id: 1}}"},
		{name: "unknown field", doc: "delete: {table: product, limit: 1}"},
		{name: "unknown table", doc: "delete: {table: nope}", kind: docerr.ErrUnknownTable.New("")},
		{name: "unknown column", doc: "insert: {table: product, values: {sku: 1}}", kind: docerr.ErrUnknownColumn.New("", "")},
		{name: "unknown qualified column", doc: "delete: {table: product, where: {eq: [{col: product.sku}, {lit: 1}]}}", kind: docerr.ErrUnknownColumn.New("", "")},
		{name: "ambiguous bare column", doc: "select: {columns: [{expr: {col: id}}], from: customer, joins: [{table: order}]}"},
		{name: "unknown operator", doc: "delete: {table: product, where: {between: [{col: id}, {lit: 1}]}}"},
		{name: "wrong arity", doc: "delete: {table: product, where: {eq: [{col: id}]}}"},
		{name: "sum star", doc: "select: {columns: [{expr: {sum: '*'}}], from: product}"},
		{name: "unknown join type", doc: "select: {columns: [{expr: {col: id}}], from: customer, joins: [{type: sideways, table: order}]}"},
		{name: "missing from", doc: "select: {columns: [{expr: {col: id}}]}"},
		{name: "bad literal type", doc: "delete: {table: product, where: {eq: [{col: id}, {lit: {value: 1, type: money}}]}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), shop)
			require.Error(t, err)
			if tt.kind != nil {
				assert.Equal(t, docerr.KindOf(tt.kind), docerr.KindOf(err))
			}
		})
	}
}

func TestFromNode(t *testing.T) {
	var wrapper struct {
		Statement yaml.Node `yaml:"statement"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("statement:\n  delete: {table: product}\n"), &wrapper))
	stmt, err := FromNode(&wrapper.Statement, shop)
	require.NoError(t, err)
	assert.Equal(t, "DELETE", stmt.Kind())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stmt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delete: {table: product}\n"), 0o644))
	stmt, err := Load(path, shop)
	require.NoError(t, err)
	assert.Equal(t, "DELETE", stmt.Kind())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), shop)
	assert.Error(t, err)
}
