package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Status is the outcome of a journaled propagation.
type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
)

// Propagation is one journaled copy-out refresh: an update against the
// target collection rewriting the copies of one source document.
type Propagation struct {
	ID          string
	StatementID string
	Seq         int64

	SourceTable      string
	SourceCollection string
	// SourceID is the identity of the changed source document.
	SourceID any

	TargetTable      string
	TargetCollection string
	Filter           bson.D
	Update           bson.D
	ArrayFilters     bson.A
	Multi            bool

	Status    Status
	Error     string
	Attempts  int
	CreatedAt string
}

// RecordPropagation inserts a pending entry.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) RecordPropagation(ctx context.Context, p Propagation) error {
	filter, err := marshalDoc(p.Filter)
	if err != nil {
		return fmt.Errorf("record propagation: %w", err)
	}
	update, err := marshalDoc(p.Update)
	if err != nil {
		return fmt.Errorf("record propagation: %w", err)
	}
	arrayFilters, err := marshalValue(p.ArrayFilters)
	if err != nil {
		return fmt.Errorf("record propagation: %w", err)
	}
	sourceID, err := marshalValue(p.SourceID)
	if err != nil {
		return fmt.Errorf("record propagation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO propagations
		(id, statement_id, seq, source_table, source_collection, source_id,
		 target_table, target_collection, filter, "update", array_filters, multi)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		p.ID,
		p.StatementID,
		p.Seq,
		p.SourceTable,
		p.SourceCollection,
		sourceID,
		p.TargetTable,
		p.TargetCollection,
		filter,
		update,
		arrayFilters,
		p.Multi,
	)
	if err != nil {
		return fmt.Errorf("record propagation: %w", err)
	}
	return nil
}

// MarkApplied records a successful attempt.
func (s *Store) MarkApplied(ctx context.Context, id string) error {
	return s.mark(ctx, id, StatusApplied, "")
}

// MarkFailed records a failed attempt and its error.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.mark(ctx, id, StatusFailed, msg)
}

func (s *Store) mark(ctx context.Context, id string, status Status, msg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE propagations
		SET status = ?, error = ?, attempts = attempts + 1
		WHERE id = ?
	`, string(status), msg, id)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	if n == 0 {
		return fmt.Errorf("mark %s: propagation %q not found", status, id)
	}
	return nil
}
