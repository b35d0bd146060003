package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/store"
	"github.com/roach88/docrel/internal/testutil"
)

var shop = testutil.ShopCatalog()

func col(table, name string) *relast.ColumnRef {
	t, _ := shop.Table(table)
	c, _ := t.Column(name)
	return relast.Col(table, name, c.Type)
}

func lit(v any) *relast.Literal {
	return relast.Lit(v, "")
}

func pointer(coll string, id any) bson.D {
	return bson.D{{Key: "$ref", Value: coll}, {Key: "$id", Value: id}}
}

func newTestEngine(t *testing.T, driver *testutil.FakeDriver, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithIDGenerator(testutil.NewSequentialIDs("id"))}, opts...)
	e, err := New(driver, shop, opts...)
	require.NoError(t, err)
	return e
}

func newTestJournal(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func desk() bson.D {
	return bson.D{{Key: "_id", Value: int64(3)}, {Key: "name", Value: "Desk"}, {Key: "price", Value: float64(10)}}
}

// customerWithOrder holds order 10 pointing at product 3.
func customerWithOrder() bson.D {
	return bson.D{
		{Key: "_id", Value: int64(1)},
		{Key: "name", Value: "Ann"},
		{Key: "order", Value: bson.A{bson.D{
			{Key: "id", Value: int64(10)},
			{Key: "product_id", Value: pointer("products", int64(3))},
			{Key: "product", Value: desk()},
			{Key: "line", Value: bson.A{bson.D{{Key: "line_no", Value: int64(1)}}}},
		}}},
	}
}

func updateProductPrice() *relast.Update {
	return &relast.Update{
		Table: "product",
		Set:   []relast.Assignment{{Column: "price", Value: lit(5)}},
		Where: relast.Eq(col("product", "id"), lit(3)),
	}
}

func TestEngine_QueryMaterializesRows(t *testing.T) {
	fake := testutil.NewFakeDriver().OnAggregate("products",
		bson.D{{Key: "id", Value: int64(5)}, {Key: "name", Value: "Desk"}, {Key: "price", Value: 12.5}},
		bson.D{{Key: "id", Value: int32(6)}, {Key: "name", Value: "Lamp"}},
	)
	e := newTestEngine(t, fake)

	rows, err := e.Query(context.Background(), &relast.Select{
		Columns: []relast.DerivedColumn{{Expr: &relast.Star{}}},
		From:    relast.TableRef{Table: "product"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "price"}, rows.Columns())

	got, err := rows.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{int64(5), "Desk", 12.5},
		{int64(6), "Lamp", nil},
	}, got)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "aggregate", calls[0].Op)
	assert.Equal(t, rows.Plan().Stages, calls[0].Stages)
}

func TestEngine_QueryDereferencesPointers(t *testing.T) {
	fake := testutil.NewFakeDriver().OnAggregate("customers",
		bson.D{{Key: "product_id", Value: pointer("products", int64(4))}},
		bson.D{{Key: "product_id", Value: nil}},
		bson.D{},
	)
	e := newTestEngine(t, fake)

	rows, err := e.Query(context.Background(), &relast.Select{
		Columns: []relast.DerivedColumn{{Expr: col("order", "product_id")}},
		From:    relast.TableRef{Table: "order"},
	})
	require.NoError(t, err)
	got, err := rows.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(4)}, {nil}, {nil}}, got)
}

func TestEngine_QueryCompileError(t *testing.T) {
	e := newTestEngine(t, testutil.NewFakeDriver())
	_, err := e.Query(context.Background(), &relast.Select{
		Columns: []relast.DerivedColumn{{Expr: col("product", "name")}},
		From:    relast.TableRef{Table: "product"},
		Joins: []relast.Join{{
			Type:  relast.JoinCross,
			Table: relast.TableRef{Table: "customer"},
		}},
	})
	require.Error(t, err)
	assert.True(t, docerr.IsUnsupported(err))
}

func TestEngine_ExecInsertProvisionsCollectionOnce(t *testing.T) {
	fake := testutil.NewFakeDriver()
	e := newTestEngine(t, fake)
	ctx := context.Background()

	res, err := e.Exec(ctx, &relast.Insert{
		Table:   "customer",
		Columns: []string{"id", "name"},
		Values:  []relast.Expr{lit(1), lit("Ann")},
	})
	require.NoError(t, err)
	assert.Equal(t, &Result{StatementID: "id-1", Inserted: 1}, res)
	assert.Equal(t, []string{"create_collection customers", "ensure_index customers", "insert customers"}, fake.Ops())
	assert.Equal(t, "by_name", fake.Calls()[1].Index.Name)

	fake.Reset()
	_, err = e.Exec(ctx, &relast.Insert{
		Table:   "customer",
		Columns: []string{"id", "name"},
		Values:  []relast.Expr{lit(2), lit("Bob")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"insert customers"}, fake.Ops())
	assert.Len(t, fake.Docs("customers"), 2)
}

func TestEngine_ExecInsertMergedStitchesCopy(t *testing.T) {
	fake := testutil.NewFakeDriver().
		Seed("customers", bson.D{{Key: "_id", Value: int64(1)}}).
		Seed("products", desk())
	e := newTestEngine(t, fake)

	stmt := &relast.Insert{
		Table:   "order",
		Columns: []string{"id", "customer_id", "product_id", "total", "status"},
		Values:  []relast.Expr{lit(10), lit(1), lit(3), lit(9.5), lit("open")},
	}
	res, err := e.Exec(context.Background(), stmt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)
	assert.Equal(t, []string{"find customers", "find products", "update customers"}, fake.Ops())

	upd := fake.Calls()[2]
	assert.Equal(t, bson.D{{Key: "$push", Value: bson.D{{Key: "order", Value: bson.D{
		{Key: "id", Value: int64(10)},
		{Key: "product_id", Value: pointer("products", int64(3))},
		{Key: "total", Value: 9.5},
		{Key: "status", Value: "open"},
		{Key: "product", Value: desk()},
	}}}}}, upd.Document)

	// The cached plan keeps its unstitched document.
	plan, err := e.CompileWrite(stmt)
	require.NoError(t, err)
	row := plan.Steps[len(plan.Steps)-1].Document[0].Value.(bson.D)[0].Value.(bson.D)
	assert.Len(t, row, 4)
}

func TestEngine_ExecMissingRelatedDocuments(t *testing.T) {
	stmt := &relast.Insert{
		Table:   "order",
		Columns: []string{"id", "customer_id", "product_id", "total", "status"},
		Values:  []relast.Expr{lit(10), lit(1), lit(3), lit(9.5), lit("open")},
	}

	t.Run("merge parent", func(t *testing.T) {
		fake := testutil.NewFakeDriver().Seed("products", desk())
		_, err := newTestEngine(t, fake).Exec(context.Background(), stmt)
		require.Error(t, err)
		assert.True(t, docerr.ErrMissingMergeParent.Is(err))
		assert.True(t, docerr.IsMissingRelated(err))
		assert.Equal(t, []string{"find customers"}, fake.Ops())
	})

	t.Run("embedded document", func(t *testing.T) {
		fake := testutil.NewFakeDriver().Seed("customers", bson.D{{Key: "_id", Value: int64(1)}})
		_, err := newTestEngine(t, fake).Exec(context.Background(), stmt)
		require.Error(t, err)
		assert.True(t, docerr.ErrMissingEmbeddedDocument.Is(err))
		assert.Equal(t, []string{"find customers", "find products"}, fake.Ops())
	})
}

func TestEngine_ExecUpdatePropagatesCopies(t *testing.T) {
	fake := testutil.NewFakeDriver().
		Seed("products", desk()).
		Seed("customers", customerWithOrder())
	journal := newTestJournal(t)
	e := newTestEngine(t, fake, WithJournal(journal))
	ctx := context.Background()

	res, err := e.Exec(ctx, updateProductPrice())
	require.NoError(t, err)
	assert.Equal(t, &Result{StatementID: "id-1", Matched: 1, Modified: 1, Propagated: 1}, res)
	assert.Equal(t, []string{
		"find products",
		"update products",
		"find products",
		"update customers",
	}, fake.Ops())

	prop := fake.Calls()[3]
	assert.Equal(t, bson.D{{Key: "order.product_id.$id", Value: int64(3)}}, prop.Filter)
	assert.Equal(t, bson.D{{Key: "$set", Value: bson.D{{Key: "order.$[e0].product", Value: desk()}}}}, prop.Document)
	assert.Equal(t, bson.A{bson.D{{Key: "e0.product_id.$id", Value: int64(3)}}}, prop.Options.ArrayFilters)
	assert.True(t, prop.Multi)

	entries, err := journal.StatementPropagations(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "id-2", entries[0].ID)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, store.StatusApplied, entries[0].Status)
	assert.Equal(t, "customers", entries[0].TargetCollection)
	assert.Equal(t, int64(3), entries[0].SourceID)
}

func TestEngine_PropagationFailureAndRepair(t *testing.T) {
	fake := testutil.NewFakeDriver().
		Seed("products", desk()).
		Seed("customers", customerWithOrder()).
		Fail("update", "customers", errors.New("connection reset"))
	journal := newTestJournal(t)
	e := newTestEngine(t, fake, WithJournal(journal))
	ctx := context.Background()

	res, err := e.Exec(ctx, updateProductPrice())
	require.Error(t, err)
	require.NotNil(t, res, "partial success still reports the result")
	assert.Equal(t, int64(1), res.Modified)
	assert.Equal(t, 0, res.Propagated)
	assert.Equal(t, 1, res.Failed)

	assert.True(t, IsPropagationError(err))
	assert.True(t, docerr.IsPropagationFailure(err))
	var pe *PropagationError
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Failures, 1)
	assert.Equal(t, "id-2", pe.Failures[0].EntryID)
	assert.Equal(t, "order", pe.Failures[0].TargetTable)

	stats, err := journal.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Stats{Failed: 1}, stats)

	fake.Recover("update", "customers")
	fake.Reset()
	rep, err := e.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, RepairReport{Attempted: 1, Applied: 1}, rep)
	assert.Equal(t, []string{"find products", "update customers"}, fake.Ops())

	stats, err = journal.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Stats{Applied: 1}, stats)

	entry, err := journal.Propagation(ctx, "id-2")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Attempts)
}

func TestEngine_RepairSkipsVanishedSource(t *testing.T) {
	fake := testutil.NewFakeDriver().
		Seed("products", desk()).
		Seed("customers", customerWithOrder()).
		Fail("update", "customers", errors.New("timeout"))
	journal := newTestJournal(t)
	e := newTestEngine(t, fake, WithJournal(journal))
	ctx := context.Background()

	_, err := e.Exec(ctx, updateProductPrice())
	require.Error(t, err)

	_, err = fake.Collection("products").Remove(ctx, bson.D{{Key: "_id", Value: int64(3)}}, false)
	require.NoError(t, err)

	rep, err := e.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, RepairReport{Attempted: 1, Skipped: 1}, rep)

	pending, err := journal.PendingPropagations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_RepairWithoutJournal(t *testing.T) {
	_, err := newTestEngine(t, testutil.NewFakeDriver()).Repair(context.Background())
	assert.ErrorIs(t, err, ErrNoJournal)
}

func TestEngine_JournalSequenceResumes(t *testing.T) {
	ctx := context.Background()
	journal := newTestJournal(t)
	require.NoError(t, journal.RecordPropagation(ctx, store.Propagation{
		ID:               "earlier",
		StatementID:      "before",
		Seq:              7,
		SourceTable:      "product",
		SourceCollection: "products",
		SourceID:         int64(9),
		TargetTable:      "order",
		TargetCollection: "customers",
		Filter:           bson.D{{Key: "order.product_id.$id", Value: int64(9)}},
		Update:           bson.D{{Key: "$set", Value: bson.D{{Key: "order.$[e0].product", Value: bson.D{}}}}},
	}))

	fake := testutil.NewFakeDriver().
		Seed("products", desk()).
		Seed("customers", customerWithOrder())
	e := newTestEngine(t, fake, WithJournal(journal))
	_, err := e.Exec(ctx, updateProductPrice())
	require.NoError(t, err)

	entries, err := journal.StatementPropagations(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(8), entries[0].Seq)
}

func TestEngine_ExecDelete(t *testing.T) {
	del := &relast.Delete{
		Table: "product",
		Where: relast.Eq(col("product", "id"), lit(3)),
	}

	t.Run("refuses to orphan copies", func(t *testing.T) {
		fake := testutil.NewFakeDriver().
			Seed("products", desk()).
			Seed("customers", customerWithOrder())
		_, err := newTestEngine(t, fake).Exec(context.Background(), del)
		require.Error(t, err)
		assert.True(t, docerr.ErrWouldOrphan.Is(err))
		assert.True(t, docerr.IsOrphanRisk(err))
		assert.Equal(t, []string{"find products", "find customers"}, fake.Ops())
		assert.Len(t, fake.Docs("products"), 1)
	})

	t.Run("deletes unreferenced rows", func(t *testing.T) {
		fake := testutil.NewFakeDriver().
			Seed("products", desk()).
			Seed("customers", bson.D{{Key: "_id", Value: int64(1)}})
		res, err := newTestEngine(t, fake).Exec(context.Background(), del)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Deleted)
		assert.Empty(t, fake.Docs("products"))
	})

	t.Run("merged row", func(t *testing.T) {
		fake := testutil.NewFakeDriver().Seed("customers", customerWithOrder())
		res, err := newTestEngine(t, fake).Exec(context.Background(), &relast.Delete{
			Table: "line",
			Where: relast.AndOf(
				relast.Eq(col("line", "order_id"), lit(10)),
				relast.Eq(col("line", "line_no"), lit(1)),
			),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Deleted)
		assert.Equal(t, []string{"update customers"}, fake.Ops())
	})
}

func TestEngine_ExecRejectsSelect(t *testing.T) {
	_, err := newTestEngine(t, testutil.NewFakeDriver()).Exec(context.Background(), &relast.Select{
		From: relast.TableRef{Table: "product"},
	})
	assert.Error(t, err)
}

func TestEngine_PlanCache(t *testing.T) {
	sel := func(cond relast.Expr) *relast.Select {
		return &relast.Select{
			Columns: []relast.DerivedColumn{{Expr: col("product", "name")}},
			From:    relast.TableRef{Table: "product"},
			Where:   cond,
		}
	}
	a := relast.Eq(col("product", "id"), lit(1))
	b := relast.Eq(col("product", "name"), lit("Desk"))

	e := newTestEngine(t, testutil.NewFakeDriver(), WithCacheSize(8))
	p1, err := e.CompileSelect(sel(&relast.And{Operands: []relast.Expr{a, b}}))
	require.NoError(t, err)
	p2, err := e.CompileSelect(sel(&relast.And{Operands: []relast.Expr{a, b}}))
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := e.CompileSelect(sel(&relast.Or{Operands: []relast.Expr{a, b}}))
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)

	p4, err := e.CompileSelect(sel(relast.Eq(col("product", "id"), lit("1"))))
	require.NoError(t, err)
	p5, err := e.CompileSelect(sel(relast.Eq(col("product", "id"), lit(1))))
	require.NoError(t, err)
	assert.NotSame(t, p4, p5)
	assert.Equal(t, 4, e.cache.len())

	uncached := newTestEngine(t, testutil.NewFakeDriver(), WithCacheSize(0))
	q1, err := uncached.CompileSelect(sel(a))
	require.NoError(t, err)
	q2, err := uncached.CompileSelect(sel(a))
	require.NoError(t, err)
	assert.NotSame(t, q1, q2)
	assert.Equal(t, q1, q2)
}

func TestEngine_Native(t *testing.T) {
	docs := []bson.D{{{Key: "_id", Value: int64(3)}}}
	fake := testutil.NewFakeDriver().OnAggregate("products", docs...)
	e := newTestEngine(t, fake)

	got, err := e.Native(context.Background(), `products; {"$match": {"_id": $1}}`, 3)
	require.NoError(t, err)
	assert.Equal(t, docs, got)
	assert.Equal(t, []string{"aggregate products"}, fake.Ops())
}
