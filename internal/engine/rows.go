package engine

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/backend"
	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/scalar"
	"github.com/roach88/docrel/internal/schema"
)

// Rows iterates the materialized result of a query.
//
//	rows, err := eng.Query(ctx, sel)
//	defer rows.Close(ctx)
//	for rows.Next(ctx) {
//		vals := rows.Values()
//	}
//	err = rows.Err()
type Rows struct {
	cur     backend.Cursor
	plan    *ir.ReadPlan
	columns []ir.ColumnBinding
	conv    scalar.Converter

	values []any
	err    error
	closed bool
}

func newRows(cur backend.Cursor, plan *ir.ReadPlan, conv scalar.Converter) *Rows {
	return &Rows{cur: cur, plan: plan, columns: plan.Visible(), conv: conv}
}

// Columns returns the output column names. Hidden sort fields are not
// included.
func (r *Rows) Columns() []string {
	out := make([]string, len(r.columns))
	for i, c := range r.columns {
		out[i] = c.Name
	}
	return out
}

// Plan returns the plan the rows were produced by.
func (r *Rows) Plan() *ir.ReadPlan {
	return r.plan
}

// Next advances to the next row. It returns false at the end of the result
// or on error; check Err.
func (r *Rows) Next(ctx context.Context) bool {
	if r.closed || r.err != nil {
		return false
	}
	if !r.cur.Next(ctx) {
		r.err = r.cur.Err()
		return false
	}
	var doc bson.D
	if err := r.cur.Decode(&doc); err != nil {
		r.err = fmt.Errorf("decode result: %w", err)
		return false
	}
	vals, err := materialize(doc, r.columns, r.conv)
	if err != nil {
		r.err = err
		return false
	}
	r.values = vals
	return true
}

// Values returns the current row in Columns order.
func (r *Rows) Values() []any {
	return r.values
}

// Err returns the first error met while iterating.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the cursor. It is safe to call more than once.
func (r *Rows) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.cur.Close(ctx)
}

// All drains the rows and closes them.
func (r *Rows) All(ctx context.Context) ([][]any, error) {
	defer r.Close(ctx)
	out := [][]any{}
	for r.Next(ctx) {
		out = append(out, r.values)
	}
	return out, r.Err()
}

// materialize reads one row out of a result document. Absent fields are
// NULL.
func materialize(doc bson.D, cols []ir.ColumnBinding, conv scalar.Converter) ([]any, error) {
	out := make([]any, len(cols))
	for i, c := range cols {
		v, ok := ir.Lookup(doc, c.Field)
		if !ok || v == nil {
			continue
		}
		if c.Pointer {
			v, ok = dereference(v, c.PointerKey)
			if !ok {
				continue
			}
		}
		x, err := conv.FromBackend(v, c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		out[i] = x
	}
	return out, nil
}

// dereference returns the $id of a pointer, or one key of a composite $id.
func dereference(ptr any, key string) (any, bool) {
	d, ok := ptr.(bson.D)
	if !ok {
		return nil, false
	}
	path := schema.PointerID
	if key != "" {
		path += "." + key
	}
	v, ok := ir.Lookup(d, path)
	return v, ok && v != nil
}
