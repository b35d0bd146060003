package relast

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnType is the declared relational type of a column.
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeInt       ColumnType = "int"
	TypeFloat     ColumnType = "float"
	TypeDecimal   ColumnType = "decimal"
	TypeBool      ColumnType = "bool"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamp"
	TypeBinary    ColumnType = "binary"
	TypeBlob      ColumnType = "blob"
	TypeClob      ColumnType = "clob"
	TypeGeometry  ColumnType = "geometry"
	TypeArray     ColumnType = "array"
	TypeObject    ColumnType = "object"
)

var validColumnTypes = map[ColumnType]bool{
	TypeString: true, TypeInt: true, TypeFloat: true, TypeDecimal: true,
	TypeBool: true, TypeDate: true, TypeTimestamp: true, TypeBinary: true,
	TypeBlob: true, TypeClob: true, TypeGeometry: true, TypeArray: true,
	TypeObject: true,
}

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	return validColumnTypes[t]
}

// Column is one declared column of a logical table.
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable,omitempty"`
}

// ForeignKey is a declared reference from Columns of the owning table to
// RefColumns of RefTable. An empty RefColumns means the primary key of
// RefTable.
type ForeignKey struct {
	Name       string   `json:"name,omitempty"`
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns,omitempty"`
}

// Index is a unique or secondary index declaration.
type Index struct {
	Name    string   `json:"name,omitempty"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// Table is a logical table and its document mapping.
//
// MergeInto names the table this one is physically folded into.
// EmbeddableInto names every table that keeps a read-only copy of this
// table's rows. A table cannot declare both.
type Table struct {
	Name           string       `json:"name"`
	Collection     string       `json:"collection,omitempty"`
	Columns        []Column     `json:"columns"`
	PrimaryKey     []string     `json:"primary_key"`
	ForeignKeys    []ForeignKey `json:"foreign_keys,omitempty"`
	Indexes        []Index      `json:"indexes,omitempty"`
	MergeInto      string       `json:"merge_into,omitempty"`
	EmbeddableInto []string     `json:"embeddable_into,omitempty"`
}

// CollectionName returns the backing collection, defaulting to the table name.
func (t *Table) CollectionName() string {
	if t.Collection != "" {
		return t.Collection
	}
	return t.Name
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IsPrimaryKey reports whether col is part of the primary key.
func (t *Table) IsPrimaryKey(col string) bool {
	return indexOf(t.PrimaryKey, col) >= 0
}

// HasCompositePrimaryKey reports whether the primary key spans more than one column.
func (t *Table) HasCompositePrimaryKey() bool {
	return len(t.PrimaryKey) > 1
}

// ForeignKeysFor returns every foreign key that includes col.
func (t *Table) ForeignKeysFor(col string) []ForeignKey {
	var fks []ForeignKey
	for _, fk := range t.ForeignKeys {
		if indexOf(fk.Columns, col) >= 0 {
			fks = append(fks, fk)
		}
	}
	return fks
}

// ForeignKeyTo returns the first foreign key referencing table.
func (t *Table) ForeignKeyTo(table string) (ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.RefTable == table {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// IsEmbeddableInto reports whether this table keeps a copy inside table.
func (t *Table) IsEmbeddableInto(table string) bool {
	return indexOf(t.EmbeddableInto, table) >= 0
}

// Catalog is the set of logical tables visible to one compile.
// Tables keep the order in which they were added.
type Catalog struct {
	order  []string
	tables map[string]*Table
}

// NewCatalog creates a catalog from tables. Duplicate names are an error.
func NewCatalog(tables ...*Table) (*Catalog, error) {
	c := &Catalog{tables: make(map[string]*Table)}
	for _, t := range tables {
		if err := c.Add(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustCatalog is NewCatalog that panics on error. Intended for tests and fixtures.
func MustCatalog(tables ...*Table) *Catalog {
	c, err := NewCatalog(tables...)
	if err != nil {
		panic(err)
	}
	return c
}

// Add registers a table.
func (c *Catalog) Add(t *Table) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if _, ok := c.tables[t.Name]; ok {
		return fmt.Errorf("duplicate table %q", t.Name)
	}
	c.tables[t.Name] = t
	c.order = append(c.order, t.Name)
	return nil
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns all tables in insertion order.
func (c *Catalog) Tables() []*Table {
	out := make([]*Table, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tables[name])
	}
	return out
}

// Len returns the number of tables.
func (c *Catalog) Len() int {
	return len(c.order)
}

// ColumnKey is the canonical map key for a column list: sorted, comma joined.
func ColumnKey(cols []string) string {
	sorted := append([]string(nil), cols...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// SameColumns reports whether a and b contain the same column names,
// ignoring order.
func SameColumns(a, b []string) bool {
	return len(a) == len(b) && ColumnKey(a) == ColumnKey(b)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// IndexOf returns the position of s in list, or -1.
func IndexOf(list []string, s string) int {
	return indexOf(list, s)
}
