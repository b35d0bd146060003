package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/backend"
	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/store"
)

// execution is the state of one write statement.
type execution struct {
	e      *Engine
	plan   *ir.WritePlan
	result *Result

	// captured holds the documents matched by capture_identity, by
	// collection.
	captured map[string][]bson.D
	// fetched are the documents to stitch into the primary write.
	fetched []stitch

	failures []PropagationFailure
}

type stitch struct {
	alias string
	doc   bson.D
}

// run interprets the steps in order. Any error before the first propagate
// step aborts the statement; propagation failures are collected.
func (x *execution) run(ctx context.Context) error {
	for i, step := range x.plan.Steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}
		slog.Debug("running step",
			"statement_id", x.result.StatementID,
			"step", i,
			"kind", step.Kind,
			"collection", step.Collection)

		var err error
		switch step.Kind {
		case ir.StepEnsureCollection:
			err = x.e.ensureCollection(ctx, step)
		case ir.StepCaptureIdentity:
			err = x.capture(ctx, step)
		case ir.StepRequireNoCopies:
			err = x.requireNoCopies(ctx, step)
		case ir.StepRequireParent:
			err = x.requireParent(ctx, step)
		case ir.StepFetchEmbedded:
			err = x.fetch(ctx, step)
		case ir.StepInsert:
			err = x.insert(ctx, step)
		case ir.StepUpdate:
			err = x.update(ctx, step)
		case ir.StepDelete:
			err = x.delete(ctx, step)
		case ir.StepPropagate:
			err = x.propagate(ctx, step)
		default:
			err = fmt.Errorf("unknown step kind %q", step.Kind)
		}
		if err != nil {
			return err
		}
	}
	if len(x.failures) > 0 {
		return &PropagationError{StatementID: x.result.StatementID, Failures: x.failures}
	}
	return nil
}

func (x *execution) collection(name string) backend.Collection {
	return x.e.driver.Collection(name)
}

// findOne returns the first document matching filter, or nil.
func (x *execution) findOne(ctx context.Context, collection string, filter bson.D) (bson.D, error) {
	docs, err := x.find(ctx, collection, filter, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (x *execution) find(ctx context.Context, collection string, filter bson.D, limit int64) ([]bson.D, error) {
	cur, err := x.collection(collection).Find(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	docs, err := backend.All(ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	return docs, nil
}

func (x *execution) capture(ctx context.Context, step ir.Step) error {
	docs, err := x.find(ctx, step.Collection, step.Filter, 0)
	if err != nil {
		return err
	}
	x.captured[step.Collection] = docs
	slog.Debug("captured documents",
		"statement_id", x.result.StatementID,
		"collection", step.Collection,
		"count", len(docs))
	return nil
}

// copyIdentity is the pointer identity copies of doc are filed under.
func copyIdentity(doc bson.D, step ir.Step) any {
	if len(step.KeyPaths) == 1 {
		v, _ := ir.Lookup(doc, step.KeyPaths[0])
		return v
	}
	id := make(bson.D, 0, len(step.KeyPaths))
	for i, p := range step.KeyPaths {
		v, _ := ir.Lookup(doc, p)
		id = append(id, bson.E{Key: step.KeyNames[i], Value: v})
	}
	return id
}

func (x *execution) requireNoCopies(ctx context.Context, step ir.Step) error {
	for _, doc := range x.captured[step.SourceCollection] {
		id := copyIdentity(doc, step)
		holder, err := x.findOne(ctx, step.Collection, bson.D{{Key: step.PointerPath, Value: id}})
		if err != nil {
			return err
		}
		if holder != nil {
			return docerr.ErrWouldOrphan.New(step.Table, step.SourceTable, id)
		}
	}
	return nil
}

func (x *execution) requireParent(ctx context.Context, step ir.Step) error {
	parent, err := x.findOne(ctx, step.Collection, step.Filter)
	if err != nil {
		return err
	}
	if parent == nil {
		return docerr.ErrMissingMergeParent.New(step.Table, step.Identity, step.SourceTable)
	}
	return nil
}

func (x *execution) fetch(ctx context.Context, step ir.Step) error {
	doc, err := x.findOne(ctx, step.Collection, step.Filter)
	if err != nil {
		return err
	}
	if doc == nil {
		return docerr.ErrMissingEmbeddedDocument.New(step.Table, step.Identity, step.SourceTable)
	}
	x.fetched = append(x.fetched, stitch{alias: step.Alias, doc: doc})
	return nil
}

// document returns the step's write document with fetched copies stitched
// in at RowPath. The plan's own document is never modified.
func (x *execution) document(step ir.Step) bson.D {
	if !step.Stitch || len(x.fetched) == 0 {
		return step.Document
	}
	doc := ir.Clone(step.Document)
	row := descend(doc, step.RowPath)
	for _, f := range x.fetched {
		row = setKey(row, f.alias, f.doc)
	}
	return replaceAt(doc, step.RowPath, row)
}

// descend follows literal keys (which may contain dots) into doc.
func descend(doc bson.D, keys []string) bson.D {
	cur := doc
	for _, k := range keys {
		next, _ := lookupKey(cur, k).(bson.D)
		cur = next
	}
	return cur
}

func replaceAt(doc bson.D, keys []string, value bson.D) bson.D {
	if len(keys) == 0 {
		return value
	}
	child, _ := lookupKey(doc, keys[0]).(bson.D)
	return setKey(doc, keys[0], replaceAt(child, keys[1:], value))
}

func lookupKey(doc bson.D, key string) any {
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

func setKey(doc bson.D, key string, value any) bson.D {
	for i, e := range doc {
		if e.Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

func (x *execution) insert(ctx context.Context, step ir.Step) error {
	doc := x.document(step)
	if err := x.collection(step.Collection).Insert(ctx, doc); err != nil {
		return fmt.Errorf("insert into %s: %w", step.Collection, err)
	}
	x.result.Inserted++
	return nil
}

func (x *execution) update(ctx context.Context, step ir.Step) error {
	doc := x.document(step)
	res, err := x.collection(step.Collection).Update(ctx, step.Filter, doc, backend.UpdateOptions{
		Multi:        step.Multi,
		ArrayFilters: step.ArrayFilters,
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", step.Collection, err)
	}
	x.result.Matched += res.Matched
	x.result.Modified += res.Modified
	switch x.plan.Statement {
	case "INSERT":
		// A merged row lands inside its parent.
		x.result.Inserted += res.Modified
	case "DELETE":
		x.result.Deleted += res.Modified
	}
	return nil
}

func (x *execution) delete(ctx context.Context, step ir.Step) error {
	n, err := x.collection(step.Collection).Remove(ctx, step.Filter, step.Multi)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", step.Collection, err)
	}
	x.result.Deleted += n
	return nil
}

// propagate refreshes every copy of the captured documents. Each update is
// journaled before it is attempted; a failure is recorded and the
// remaining copies are still refreshed.
func (x *execution) propagate(ctx context.Context, step ir.Step) error {
	for _, captured := range x.captured[step.SourceCollection] {
		sourceID, _ := ir.Lookup(captured, "_id")
		fresh, err := x.findOne(ctx, step.SourceCollection, bson.D{{Key: "_id", Value: sourceID}})
		if err != nil {
			x.fail(ctx, step, "", sourceID, err)
			continue
		}
		if fresh == nil {
			continue
		}

		id := copyIdentity(captured, step)
		entry := store.Propagation{
			ID:               x.e.ids.Generate(),
			StatementID:      x.result.StatementID,
			Seq:              x.e.clock.Next(),
			SourceTable:      step.SourceTable,
			SourceCollection: step.SourceCollection,
			SourceID:         sourceID,
			TargetTable:      step.Table,
			TargetCollection: step.Collection,
			Filter:           bson.D{{Key: step.PointerPath, Value: id}},
			Update:           bson.D{{Key: "$set", Value: bson.D{{Key: step.Alias, Value: fresh}}}},
			Multi:            step.Multi,
		}
		if step.ArrayFilterPath != "" {
			entry.ArrayFilters = bson.A{bson.D{{Key: step.ArrayFilterPath, Value: id}}}
		}

		if x.e.journal != nil {
			if err := x.e.journal.RecordPropagation(ctx, entry); err != nil {
				x.fail(ctx, step, "", sourceID, fmt.Errorf("journal: %w", err))
				continue
			}
			slog.Debug("propagation journaled",
				"entry_id", entry.ID,
				"seq", entry.Seq,
				"target", step.Collection)
		}

		if err := applyPropagation(ctx, x.e.driver, entry); err != nil {
			x.fail(ctx, step, entry.ID, sourceID, err)
			continue
		}
		x.result.Propagated++
		if x.e.journal != nil {
			if err := x.e.journal.MarkApplied(ctx, entry.ID); err != nil {
				slog.Warn("journal update failed", "entry_id", entry.ID, "error", err)
			}
		}
	}
	return nil
}

func (x *execution) fail(ctx context.Context, step ir.Step, entryID string, sourceID any, cause error) {
	x.result.Failed++
	x.failures = append(x.failures, PropagationFailure{
		EntryID:          entryID,
		SourceTable:      step.SourceTable,
		SourceID:         sourceID,
		TargetTable:      step.Table,
		TargetCollection: step.Collection,
		Err:              cause,
	})
	slog.Warn("propagation failed",
		"statement_id", x.result.StatementID,
		"source_table", step.SourceTable,
		"source_id", sourceID,
		"target_collection", step.Collection,
		"error", cause)
	if x.e.journal != nil && entryID != "" {
		if err := x.e.journal.MarkFailed(ctx, entryID, cause); err != nil {
			slog.Warn("journal update failed", "entry_id", entryID, "error", err)
		}
	}
}

func applyPropagation(ctx context.Context, d backend.Driver, p store.Propagation) error {
	_, err := d.Collection(p.TargetCollection).Update(ctx, p.Filter, p.Update, backend.UpdateOptions{
		Multi:        p.Multi,
		ArrayFilters: p.ArrayFilters,
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", p.TargetCollection, err)
	}
	return nil
}
