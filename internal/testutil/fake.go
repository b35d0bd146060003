package testutil

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/backend"
	"github.com/roach88/docrel/internal/ir"
)

// Call is one recorded round trip.
type Call struct {
	Op         string
	Collection string
	Filter     bson.D
	Document   bson.D
	Stages     []bson.D
	Options    backend.UpdateOptions
	Multi      bool
	Index      ir.IndexSpec
}

// FakeDriver is an in-memory backend.Driver that records every call.
//
// Find and Remove evaluate equality filters (with dotted paths through
// arrays, $and, and {$exists: true}) against seeded documents. Update does
// not apply the update document; it reports every matching document as
// modified unless a result is scripted. Aggregate returns scripted results.
type FakeDriver struct {
	mu          sync.Mutex
	calls       []Call
	collections map[string]bool
	docs        map[string][]bson.D
	aggregates  map[string][]bson.D
	updates     map[string]backend.UpdateResult
	failures    map[string]error
}

// NewFakeDriver returns an empty fake.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		collections: make(map[string]bool),
		docs:        make(map[string][]bson.D),
		aggregates:  make(map[string][]bson.D),
		updates:     make(map[string]backend.UpdateResult),
		failures:    make(map[string]error),
	}
}

// Seed stores docs in collection and marks it as existing.
func (f *FakeDriver) Seed(collection string, docs ...bson.D) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] = true
	f.docs[collection] = append(f.docs[collection], docs...)
	return f
}

// OnAggregate scripts the result of every aggregate on collection.
func (f *FakeDriver) OnAggregate(collection string, docs ...bson.D) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregates[collection] = docs
	return f
}

// OnUpdate scripts the result of updates on collection.
func (f *FakeDriver) OnUpdate(collection string, res backend.UpdateResult) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[collection] = res
	return f
}

// Fail makes op ("find", "insert", "update", "remove", "aggregate",
// "ensure_index", "create_collection") on collection return err.
func (f *FakeDriver) Fail(op, collection string, err error) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op+":"+collection] = err
	return f
}

// Recover undoes Fail for op on collection.
func (f *FakeDriver) Recover(op, collection string) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, op+":"+collection)
	return f
}

// Reset forgets the recorded calls.
func (f *FakeDriver) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Calls returns the recorded calls in order.
func (f *FakeDriver) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Ops returns "op collection" for every recorded call.
func (f *FakeDriver) Ops() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.Op+" "+c.Collection)
	}
	return out
}

// Docs returns the documents currently stored in collection.
func (f *FakeDriver) Docs(collection string) []bson.D {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bson.D(nil), f.docs[collection]...)
}

func (f *FakeDriver) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.failures[c.Op+":"+c.Collection]
}

func (f *FakeDriver) Collection(name string) backend.Collection {
	return &fakeCollection{f: f, name: name}
}

func (f *FakeDriver) CollectionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[name], nil
}

func (f *FakeDriver) CreateCollection(_ context.Context, name string) error {
	if err := f.record(Call{Op: "create_collection", Collection: name}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = true
	return nil
}

type fakeCollection struct {
	f    *FakeDriver
	name string
}

func (c *fakeCollection) Name() string { return c.name }

func (c *fakeCollection) Aggregate(_ context.Context, stages []bson.D) (backend.Cursor, error) {
	if err := c.f.record(Call{Op: "aggregate", Collection: c.name, Stages: stages}); err != nil {
		return nil, err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return backend.NewSliceCursor(c.f.aggregates[c.name]), nil
}

func (c *fakeCollection) Find(_ context.Context, filter bson.D, limit int64) (backend.Cursor, error) {
	if err := c.f.record(Call{Op: "find", Collection: c.name, Filter: filter}); err != nil {
		return nil, err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	var out []bson.D
	for _, d := range c.f.docs[c.name] {
		if Matches(d, filter) {
			out = append(out, d)
			if limit > 0 && int64(len(out)) == limit {
				break
			}
		}
	}
	return backend.NewSliceCursor(out), nil
}

func (c *fakeCollection) Insert(_ context.Context, doc bson.D) error {
	if err := c.f.record(Call{Op: "insert", Collection: c.name, Document: doc}); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.collections[c.name] = true
	c.f.docs[c.name] = append(c.f.docs[c.name], doc)
	return nil
}

func (c *fakeCollection) Update(_ context.Context, filter, update bson.D, opts backend.UpdateOptions) (backend.UpdateResult, error) {
	if err := c.f.record(Call{Op: "update", Collection: c.name, Filter: filter, Document: update, Options: opts, Multi: opts.Multi}); err != nil {
		return backend.UpdateResult{}, err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if res, ok := c.f.updates[c.name]; ok {
		return res, nil
	}
	var n int64
	for _, d := range c.f.docs[c.name] {
		if Matches(d, filter) {
			n++
			if !opts.Multi {
				break
			}
		}
	}
	return backend.UpdateResult{Matched: n, Modified: n}, nil
}

func (c *fakeCollection) Remove(_ context.Context, filter bson.D, multi bool) (int64, error) {
	if err := c.f.record(Call{Op: "remove", Collection: c.name, Filter: filter, Multi: multi}); err != nil {
		return 0, err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	var kept []bson.D
	var n int64
	for _, d := range c.f.docs[c.name] {
		if Matches(d, filter) && (multi || n == 0) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	c.f.docs[c.name] = kept
	return n, nil
}

func (c *fakeCollection) EnsureIndex(_ context.Context, idx ir.IndexSpec) error {
	return c.f.record(Call{Op: "ensure_index", Collection: c.name, Index: idx})
}

// Matches evaluates the equality subset of a query filter against doc.
func Matches(doc bson.D, filter bson.D) bool {
	for _, e := range filter {
		switch e.Key {
		case "$and":
			items, _ := e.Value.(bson.A)
			for _, item := range items {
				sub, _ := item.(bson.D)
				if !Matches(doc, sub) {
					return false
				}
			}
		default:
			if strings.HasPrefix(e.Key, "$") {
				panic(fmt.Sprintf("testutil: unsupported filter operator %s", e.Key))
			}
			if !matchField(values(doc, strings.Split(e.Key, ".")), e.Value) {
				return false
			}
		}
	}
	return true
}

func matchField(vals []any, want any) bool {
	if ops, ok := want.(bson.D); ok && len(ops) > 0 && strings.HasPrefix(ops[0].Key, "$") {
		for _, op := range ops {
			switch op.Key {
			case "$exists":
				if (len(vals) > 0) != (op.Value == true) {
					return false
				}
			case "$ne":
				for _, v := range vals {
					if reflect.DeepEqual(v, op.Value) {
						return false
					}
				}
			default:
				panic(fmt.Sprintf("testutil: unsupported field operator %s", op.Key))
			}
		}
		return true
	}
	for _, v := range vals {
		if reflect.DeepEqual(v, want) {
			return true
		}
	}
	return false
}

// values collects every value at path, descending into arrays.
func values(cur any, path []string) []any {
	if len(path) == 0 {
		return []any{cur}
	}
	switch v := cur.(type) {
	case bson.D:
		for _, e := range v {
			if e.Key == path[0] {
				return values(e.Value, path[1:])
			}
		}
	case bson.A:
		var out []any
		for _, item := range v {
			out = append(out, values(item, path)...)
		}
		return out
	}
	return nil
}
