package schema

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
)

// IdentityKey collects values for a declared list of key columns.
type IdentityKey struct {
	Table   string
	Columns []string
	values  map[string]any
}

// NewIdentityKey returns an unbound key over columns.
func NewIdentityKey(table string, columns ...string) IdentityKey {
	return IdentityKey{
		Table:   table,
		Columns: append([]string(nil), columns...),
		values:  make(map[string]any, len(columns)),
	}
}

// Set binds col to v. The key is copied so that shared keys never change
// underneath another holder.
func (k IdentityKey) Set(col string, v any) (IdentityKey, error) {
	if relast.IndexOf(k.Columns, col) < 0 {
		return k, fmt.Errorf("column %s is not part of the %s key %v", col, k.Table, k.Columns)
	}
	out := IdentityKey{Table: k.Table, Columns: k.Columns, values: make(map[string]any, len(k.Columns))}
	for c, val := range k.values {
		out.values[c] = val
	}
	out.values[col] = v
	return out, nil
}

// Get returns the value bound to col.
func (k IdentityKey) Get(col string) (any, bool) {
	v, ok := k.values[col]
	return v, ok
}

// Bound returns the number of bound columns.
func (k IdentityKey) Bound() int {
	return len(k.values)
}

// Complete reports whether every declared column is bound.
func (k IdentityKey) Complete() bool {
	return len(k.Columns) > 0 && len(k.values) == len(k.Columns)
}

// Check fails when the bound column count differs from the declared count.
func (k IdentityKey) Check() error {
	if !k.Complete() {
		return docerr.ErrIdentityArity.New(k.Table, len(k.values), len(k.Columns))
	}
	return nil
}

// Value returns the scalar when exactly one column is bound, otherwise a
// composite document in declared column order.
func (k IdentityKey) Value() any {
	if len(k.values) == 1 {
		for _, v := range k.values {
			return v
		}
	}
	doc := make(bson.D, 0, len(k.values))
	for _, c := range k.Columns {
		if v, ok := k.values[c]; ok {
			doc = append(doc, bson.E{Key: c, Value: v})
		}
	}
	return doc
}
