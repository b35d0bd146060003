package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a propagation id is unknown.
var ErrNotFound = errors.New("propagation not found")

const propagationColumns = `
	id, statement_id, seq, source_table, source_collection, source_id,
	target_table, target_collection, filter, "update", array_filters, multi,
	status, error, attempts, created_at`

// Propagation returns one entry by id.
func (s *Store) Propagation(ctx context.Context, id string) (Propagation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+propagationColumns+`
		FROM propagations WHERE id = ?`, id)
	p, err := scanPropagation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Propagation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, err
}

// PendingPropagations returns every entry that is not applied, oldest first.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) when nothing is pending.
func (s *Store) PendingPropagations(ctx context.Context) ([]Propagation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+propagationColumns+`
		FROM propagations
		WHERE status != 'applied'
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending propagations: %w", err)
	}
	defer rows.Close()

	out := []Propagation{}
	for rows.Next() {
		p, err := scanPropagation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate propagations: %w", err)
	}
	return out, nil
}

// StatementPropagations returns the entries recorded for one statement.
func (s *Store) StatementPropagations(ctx context.Context, statementID string) ([]Propagation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+propagationColumns+`
		FROM propagations
		WHERE statement_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, statementID)
	if err != nil {
		return nil, fmt.Errorf("query statement propagations: %w", err)
	}
	defer rows.Close()

	out := []Propagation{}
	for rows.Next() {
		p, err := scanPropagation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate propagations: %w", err)
	}
	return out, nil
}

// Stats counts entries per status.
type Stats struct {
	Pending int
	Applied int
	Failed  int
}

// Stats returns the journal's status counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM propagations GROUP BY status
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			st.Pending = n
		case StatusApplied:
			st.Applied = n
		case StatusFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate stats: %w", err)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPropagation(sc scanner) (Propagation, error) {
	var (
		p                                       Propagation
		sourceID, filter, update, arrayFilters string
		status                                  string
	)
	err := sc.Scan(
		&p.ID, &p.StatementID, &p.Seq, &p.SourceTable, &p.SourceCollection, &sourceID,
		&p.TargetTable, &p.TargetCollection, &filter, &update, &arrayFilters, &p.Multi,
		&status, &p.Error, &p.Attempts, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Propagation{}, err
		}
		return Propagation{}, fmt.Errorf("scan propagation: %w", err)
	}
	p.Status = Status(status)

	if p.SourceID, err = unmarshalValue(sourceID); err != nil {
		return Propagation{}, err
	}
	if p.Filter, err = unmarshalDoc(filter); err != nil {
		return Propagation{}, err
	}
	if p.Update, err = unmarshalDoc(update); err != nil {
		return Propagation{}, err
	}
	if p.ArrayFilters, err = unmarshalArray(arrayFilters); err != nil {
		return Propagation{}, err
	}
	return p, nil
}
