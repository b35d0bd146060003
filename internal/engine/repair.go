package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/store"
)

// ErrNoJournal is returned by Repair on an engine without a journal.
var ErrNoJournal = errors.New("engine has no propagation journal")

// RepairReport summarizes a Repair run.
type RepairReport struct {
	Attempted int
	Applied   int
	Failed    int
	// Skipped entries had no source document left to copy.
	Skipped int
}

// Repair replays every unapplied journal entry in sequence order. Each copy
// is rebuilt from the source document as it is now, so a repaired copy is
// never older than the source. Entries that fail again stay failed.
func (e *Engine) Repair(ctx context.Context) (RepairReport, error) {
	var rep RepairReport
	if e.journal == nil {
		return rep, ErrNoJournal
	}
	pending, err := e.journal.PendingPropagations(ctx)
	if err != nil {
		return rep, fmt.Errorf("load pending propagations: %w", err)
	}
	slog.Info("repair starting", "pending", len(pending))

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("context cancelled: %w", err)
		}
		rep.Attempted++

		cur, err := e.driver.Collection(p.SourceCollection).Find(ctx, bson.D{{Key: "_id", Value: p.SourceID}}, 1)
		if err != nil {
			rep.Failed++
			e.markFailed(ctx, p, err)
			continue
		}
		var fresh bson.D
		if cur.Next(ctx) {
			err = cur.Decode(&fresh)
		} else {
			err = cur.Err()
		}
		_ = cur.Close(ctx)
		if err != nil {
			rep.Failed++
			e.markFailed(ctx, p, err)
			continue
		}
		if fresh == nil {
			// The source is gone; there is nothing left to copy.
			rep.Skipped++
			if err := e.journal.MarkApplied(ctx, p.ID); err != nil {
				return rep, err
			}
			continue
		}

		p.Update = refreshCopy(p.Update, fresh)
		if err := applyPropagation(ctx, e.driver, p); err != nil {
			rep.Failed++
			e.markFailed(ctx, p, err)
			continue
		}
		if err := e.journal.MarkApplied(ctx, p.ID); err != nil {
			return rep, err
		}
		rep.Applied++
		slog.Debug("propagation repaired", "entry_id", p.ID, "seq", p.Seq, "target", p.TargetCollection)
	}

	slog.Info("repair finished",
		"applied", rep.Applied,
		"failed", rep.Failed,
		"skipped", rep.Skipped)
	return rep, nil
}

func (e *Engine) markFailed(ctx context.Context, p store.Propagation, cause error) {
	slog.Warn("propagation still failing",
		"entry_id", p.ID,
		"target_collection", p.TargetCollection,
		"error", cause)
	if err := e.journal.MarkFailed(ctx, p.ID, cause); err != nil {
		slog.Warn("journal update failed", "entry_id", p.ID, "error", err)
	}
}

// refreshCopy replaces the copied document in a {$set: {alias: doc}}
// update.
func refreshCopy(update bson.D, fresh bson.D) bson.D {
	out := make(bson.D, 0, len(update))
	for _, op := range update {
		set, ok := op.Value.(bson.D)
		if op.Key != "$set" || !ok {
			out = append(out, op)
			continue
		}
		refreshed := make(bson.D, len(set))
		for i, f := range set {
			refreshed[i] = bson.E{Key: f.Key, Value: fresh}
		}
		out = append(out, bson.E{Key: op.Key, Value: refreshed})
	}
	return out
}
