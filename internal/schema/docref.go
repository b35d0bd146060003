package schema

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Association is the cardinality of a merge or embed edge.
type Association string

const (
	One  Association = "ONE"
	Many Association = "MANY"
)

// Pointer document field names.
const (
	PointerCollection = "$ref"
	PointerID         = "$id"
)

// DocRef is a directed edge between two logical tables.
//
// ParentTable is the table whose document physically holds the edge and
// ChildTable the one it points at or nests. Columns are the foreign-key
// columns of the declaring table (the child for merge edges, the parent for
// every other edge) and ReferenceColumns the columns they reference,
// position by position.
type DocRef struct {
	ParentTable      string
	ChildTable       string
	Columns          []string
	ReferenceColumns []string
	Association      Association
	Alias            string
	Nested           bool

	identity *IdentityKey
}

// RefName is the document field holding this edge's pointer.
func (r DocRef) RefName() string {
	if len(r.Columns) == 1 {
		return r.Columns[0]
	}
	return r.Alias
}

// IDPath is the filter path of the pointer's identity component for the
// column at position i.
func (r DocRef) IDPath(i int) string {
	p := r.RefName() + "." + PointerID
	if len(r.ReferenceColumns) > 1 {
		p += "." + r.ReferenceColumns[i]
	}
	return p
}

// ColumnIndex returns the position of col in Columns, or -1.
func (r DocRef) ColumnIndex(col string) int {
	for i, c := range r.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// WithAlias returns a copy of r under a different generated field name.
func (r DocRef) WithAlias(alias string) DocRef {
	r.Alias = alias
	return r
}

// Bind returns a copy of r carrying identity.
func (r DocRef) Bind(identity IdentityKey) DocRef {
	r.identity = &identity
	return r
}

// Identity returns the bound identity, if any.
func (r DocRef) Identity() (IdentityKey, bool) {
	if r.identity == nil {
		return IdentityKey{}, false
	}
	return *r.identity, true
}

// ResolvePointer materializes a cross-collection pointer into collection.
// The identity must be bound and complete.
func (r DocRef) ResolvePointer(collection string) (bson.D, error) {
	if r.identity == nil {
		return nil, fmt.Errorf("edge %s: identity not bound", r)
	}
	if err := r.identity.Check(); err != nil {
		return nil, err
	}
	return bson.D{
		{Key: PointerCollection, Value: collection},
		{Key: PointerID, Value: r.identity.Value()},
	}, nil
}

// String renders the edge for logs and errors.
func (r DocRef) String() string {
	return fmt.Sprintf("%s(%s)->%s(%s)[%s]", r.ParentTable, strings.Join(r.Columns, ","),
		r.ChildTable, strings.Join(r.ReferenceColumns, ","), r.Association)
}
