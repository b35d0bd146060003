package backend

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/roach88/docrel/internal/ir"
)

// Mongo is a Driver over one MongoDB database.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and pings the server.
func Connect(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", uri, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping %s: %w", uri, err)
	}
	return NewMongo(client, database), nil
}

// NewMongo wraps an existing client.
func NewMongo(client *mongo.Client, database string) *Mongo {
	return &Mongo{client: client, db: client.Database(database)}
}

// Client returns the underlying MongoDB client.
func (m *Mongo) Client() *mongo.Client {
	return m.client
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// ServerVersion asks the server for its version string, e.g. "7.0.2".
func (m *Mongo) ServerVersion(ctx context.Context) (string, error) {
	var info struct {
		Version string `bson:"version"`
	}
	if err := m.db.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info); err != nil {
		return "", fmt.Errorf("buildInfo: %w", err)
	}
	return info.Version, nil
}

func (m *Mongo) Collection(name string) Collection {
	return &mongoCollection{coll: m.db.Collection(name)}
}

func (m *Mongo) CollectionExists(ctx context.Context, name string) (bool, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, fmt.Errorf("list collections: %w", err)
	}
	return len(names) > 0, nil
}

func (m *Mongo) CreateCollection(ctx context.Context, name string) error {
	if err := m.db.CreateCollection(ctx, name); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string {
	return c.coll.Name()
}

func (c *mongoCollection) Aggregate(ctx context.Context, stages []bson.D) (Cursor, error) {
	pipeline := make(mongo.Pipeline, len(stages))
	copy(pipeline, stages)
	cur, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", c.Name(), err)
	}
	return cur, nil
}

func (c *mongoCollection) Find(ctx context.Context, filter bson.D, limit int64) (Cursor, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := c.coll.Find(ctx, nonNil(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.Name(), err)
	}
	return cur, nil
}

func (c *mongoCollection) Insert(ctx context.Context, doc bson.D) error {
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert %s: %w", c.Name(), err)
	}
	return nil
}

func (c *mongoCollection) Update(ctx context.Context, filter, update bson.D, opts UpdateOptions) (UpdateResult, error) {
	var (
		res *mongo.UpdateResult
		err error
	)
	if opts.Multi {
		o := options.UpdateMany()
		if len(opts.ArrayFilters) > 0 {
			o.SetArrayFilters([]any(opts.ArrayFilters))
		}
		res, err = c.coll.UpdateMany(ctx, nonNil(filter), update, o)
	} else {
		o := options.UpdateOne()
		if len(opts.ArrayFilters) > 0 {
			o.SetArrayFilters([]any(opts.ArrayFilters))
		}
		res, err = c.coll.UpdateOne(ctx, nonNil(filter), update, o)
	}
	if err != nil {
		return UpdateResult{}, fmt.Errorf("update %s: %w", c.Name(), err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (c *mongoCollection) Remove(ctx context.Context, filter bson.D, multi bool) (int64, error) {
	var (
		res *mongo.DeleteResult
		err error
	)
	if multi {
		res, err = c.coll.DeleteMany(ctx, nonNil(filter))
	} else {
		res, err = c.coll.DeleteOne(ctx, nonNil(filter))
	}
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", c.Name(), err)
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) EnsureIndex(ctx context.Context, idx ir.IndexSpec) error {
	opts := options.Index().SetUnique(idx.Unique)
	if idx.Name != "" {
		opts.SetName(idx.Name)
	}
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: idx.Keys, Options: opts})
	if err != nil {
		return fmt.Errorf("create index %s on %s: %w", idx.Name, c.Name(), err)
	}
	return nil
}

func nonNil(d bson.D) bson.D {
	if d == nil {
		return bson.D{}
	}
	return d
}
