// Package backend is the document store collaborator the engine runs plans
// against. Mongo implements it over the official driver; tests use an
// in-memory recording implementation.
package backend

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/ir"
)

// Driver opens collections of one database.
type Driver interface {
	Collection(name string) Collection
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string) error
}

// Collection is one document collection. Every method is a single
// round trip; there are no multi-collection transactions.
type Collection interface {
	Name() string
	Aggregate(ctx context.Context, stages []bson.D) (Cursor, error)
	// Find returns documents matching filter. A limit of 0 means no limit.
	Find(ctx context.Context, filter bson.D, limit int64) (Cursor, error)
	Insert(ctx context.Context, doc bson.D) error
	Update(ctx context.Context, filter, update bson.D, opts UpdateOptions) (UpdateResult, error)
	// Remove deletes the matching documents and returns how many went away.
	Remove(ctx context.Context, filter bson.D, multi bool) (int64, error)
	EnsureIndex(ctx context.Context, idx ir.IndexSpec) error
}

// UpdateOptions control an update round trip.
type UpdateOptions struct {
	Multi        bool
	ArrayFilters bson.A
}

// UpdateResult counts the documents an update touched.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Cursor iterates result documents.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// All drains c into documents and closes it.
func All(ctx context.Context, c Cursor) ([]bson.D, error) {
	defer c.Close(ctx)
	var out []bson.D
	for c.Next(ctx) {
		var d bson.D
		if err := c.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, c.Err()
}
