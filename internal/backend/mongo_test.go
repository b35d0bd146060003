package backend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/ir"
)

// Integration test that requires a running MongoDB instance.
// Set DOCREL_MONGO_URI to point it elsewhere.
func TestMongo(t *testing.T) {
	uri := os.Getenv("DOCREL_MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := Connect(ctx, uri, "docrel_backend_test")
	if err != nil {
		t.Skipf("Skipping MongoDB integration test - server not available: %v", err)
	}
	defer m.Close(ctx)
	require.NoError(t, m.client.Database("docrel_backend_test").Drop(ctx))

	version, err := m.ServerVersion(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	ok, err := m.CollectionExists(ctx, "customers")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.CreateCollection(ctx, "customers"))
	ok, err = m.CollectionExists(ctx, "customers")
	require.NoError(t, err)
	assert.True(t, ok)

	c := m.Collection("customers")
	require.NoError(t, c.EnsureIndex(ctx, ir.IndexSpec{Name: "by_name", Keys: bson.D{{Key: "name", Value: 1}}}))
	require.NoError(t, c.Insert(ctx, bson.D{
		{Key: "_id", Value: int64(1)},
		{Key: "name", Value: "Ann"},
		{Key: "order", Value: bson.A{
			bson.D{{Key: "id", Value: int64(10)}, {Key: "status", Value: "open"}},
			bson.D{{Key: "id", Value: int64(11)}, {Key: "status", Value: "open"}},
		}},
	}))

	res, err := c.Update(ctx,
		bson.D{{Key: "order.id", Value: int64(10)}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "order.$[e0].status", Value: "shipped"}}}},
		UpdateOptions{Multi: true, ArrayFilters: bson.A{bson.D{{Key: "e0.id", Value: int64(10)}}}},
	)
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 1, Modified: 1}, res)

	cur, err := c.Aggregate(ctx, []bson.D{
		{{Key: "$unwind", Value: "$order"}},
		{{Key: "$match", Value: bson.D{{Key: "order.status", Value: "shipped"}}}},
		{{Key: "$project", Value: bson.D{{Key: "_id", Value: 0}, {Key: "id", Value: "$order.id"}}}},
	})
	require.NoError(t, err)
	docs, err := All(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, []bson.D{{{Key: "id", Value: int64(10)}}}, docs)

	n, err := c.Remove(ctx, bson.D{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
