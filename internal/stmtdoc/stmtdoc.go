// Package stmtdoc reads relational statements written as YAML documents and
// binds them against a catalog.
//
// A document holds exactly one of select, insert, update or delete:
//
//	select:
//	  columns: [{expr: {col: customer.name}}, {expr: {sum: {col: order.total}}, as: spent}]
//	  from: customer
//	  joins: [{type: left, table: order, on: {eq: [{col: customer.id}, {col: order.customer_id}]}}]
//	  where: {gt: [{col: order.total}, {lit: 10}]}
//	  group_by: [{col: customer.name}]
//	  order_by: [{expr: {col: customer.name}, desc: true}]
//	  limit: 10
//
//	insert: {table: customer, values: {id: 1, name: Ann}}
//	update: {table: customer, set: {city: Oslo}, where: {eq: [{col: customer.id}, {lit: 1}]}}
//	delete: {table: customer, where: {eq: [{col: customer.id}, {lit: 1}]}}
//
// Column references are "table.column", or a bare column name when exactly
// one table in scope has it. Column types come from the catalog.
package stmtdoc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docrel/internal/relast"
)

// Document is the top level of a statement file.
type Document struct {
	Select *SelectDoc `yaml:"select,omitempty"`
	Insert *InsertDoc `yaml:"insert,omitempty"`
	Update *UpdateDoc `yaml:"update,omitempty"`
	Delete *DeleteDoc `yaml:"delete,omitempty"`
}

// SelectDoc is a SELECT.
type SelectDoc struct {
	Distinct bool        `yaml:"distinct,omitempty"`
	Columns  []ColumnDoc `yaml:"columns"`
	From     string      `yaml:"from"`
	Joins    []JoinDoc   `yaml:"joins,omitempty"`
	Where    yaml.Node   `yaml:"where,omitempty"`
	GroupBy  []yaml.Node `yaml:"group_by,omitempty"`
	Having   yaml.Node   `yaml:"having,omitempty"`
	OrderBy  []OrderDoc  `yaml:"order_by,omitempty"`
	Limit    *int64      `yaml:"limit,omitempty"`
	Offset   int64       `yaml:"offset,omitempty"`
}

// ColumnDoc is one projection entry.
type ColumnDoc struct {
	Expr yaml.Node `yaml:"expr"`
	As   string    `yaml:"as,omitempty"`
}

// JoinDoc is one JOIN clause. Type is inner, left, right, full or cross.
type JoinDoc struct {
	Type  string    `yaml:"type,omitempty"`
	Table string    `yaml:"table"`
	On    yaml.Node `yaml:"on,omitempty"`
}

// OrderDoc is one ORDER BY entry.
type OrderDoc struct {
	Expr yaml.Node `yaml:"expr"`
	Desc bool      `yaml:"desc,omitempty"`
}

// InsertDoc is an INSERT of one row. Values keep their document order.
type InsertDoc struct {
	Table  string    `yaml:"table"`
	Values yaml.Node `yaml:"values"`
}

// UpdateDoc is an UPDATE.
type UpdateDoc struct {
	Table string    `yaml:"table"`
	Set   yaml.Node `yaml:"set"`
	Where yaml.Node `yaml:"where,omitempty"`
}

// DeleteDoc is a DELETE.
type DeleteDoc struct {
	Table string    `yaml:"table"`
	Where yaml.Node `yaml:"where,omitempty"`
}

// Load reads a statement file and binds it against cat.
func Load(path string, cat *relast.Catalog) (relast.Statement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement file: %w", err)
	}
	stmt, err := Parse(data, cat)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stmt, nil
}

// Parse decodes a statement document and binds it against cat. Unknown
// fields are rejected.
func Parse(data []byte, cat *relast.Catalog) (relast.Statement, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return doc.Bind(cat)
}

// FromNode binds a statement document embedded in another YAML file.
func FromNode(n *yaml.Node, cat *relast.Catalog) (relast.Statement, error) {
	var doc Document
	if err := n.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode statement: %w", err)
	}
	return doc.Bind(cat)
}

// Bind resolves the document into a relational statement.
func (d *Document) Bind(cat *relast.Catalog) (relast.Statement, error) {
	set := 0
	for _, present := range []bool{d.Select != nil, d.Insert != nil, d.Update != nil, d.Delete != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("statement document must hold exactly one of select, insert, update, delete")
	}

	switch {
	case d.Select != nil:
		return d.Select.bind(cat)
	case d.Insert != nil:
		return d.Insert.bind(cat)
	case d.Update != nil:
		return d.Update.bind(cat)
	default:
		return d.Delete.bind(cat)
	}
}

func (s *SelectDoc) bind(cat *relast.Catalog) (*relast.Select, error) {
	if s.From == "" {
		return nil, errors.New("select: from is required")
	}
	scope := []string{s.From}
	for _, j := range s.Joins {
		scope = append(scope, j.Table)
	}
	b := &binder{catalog: cat, scope: scope}

	sel := &relast.Select{
		Distinct: s.Distinct,
		From:     relast.TableRef{Table: s.From},
		Limit:    s.Limit,
		Offset:   s.Offset,
	}
	for i, c := range s.Columns {
		e, err := b.required(&c.Expr, fmt.Sprintf("columns[%d]", i))
		if err != nil {
			return nil, err
		}
		sel.Columns = append(sel.Columns, relast.DerivedColumn{Expr: e, Alias: c.As})
	}
	for i, j := range s.Joins {
		typ, err := joinType(j.Type)
		if err != nil {
			return nil, fmt.Errorf("joins[%d]: %w", i, err)
		}
		on, err := b.optional(&j.On)
		if err != nil {
			return nil, fmt.Errorf("joins[%d].on: %w", i, err)
		}
		sel.Joins = append(sel.Joins, relast.Join{Type: typ, Table: relast.TableRef{Table: j.Table}, On: on})
	}

	var err error
	if sel.Where, err = b.optional(&s.Where); err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	for i := range s.GroupBy {
		e, err := b.required(&s.GroupBy[i], fmt.Sprintf("group_by[%d]", i))
		if err != nil {
			return nil, err
		}
		sel.GroupBy = append(sel.GroupBy, e)
	}
	if sel.Having, err = b.optional(&s.Having); err != nil {
		return nil, fmt.Errorf("having: %w", err)
	}
	for i, o := range s.OrderBy {
		e, err := b.required(&o.Expr, fmt.Sprintf("order_by[%d]", i))
		if err != nil {
			return nil, err
		}
		sel.OrderBy = append(sel.OrderBy, relast.OrderItem{Expr: e, Desc: o.Desc})
	}
	return sel, nil
}

func (s *InsertDoc) bind(cat *relast.Catalog) (*relast.Insert, error) {
	b := &binder{catalog: cat, scope: []string{s.Table}}
	if err := b.requireTable(s.Table); err != nil {
		return nil, err
	}
	ins := &relast.Insert{Table: s.Table}
	err := b.assignments(&s.Values, s.Table, func(col string, v relast.Expr) {
		ins.Columns = append(ins.Columns, col)
		ins.Values = append(ins.Values, v)
	})
	if err != nil {
		return nil, fmt.Errorf("insert values: %w", err)
	}
	return ins, nil
}

func (s *UpdateDoc) bind(cat *relast.Catalog) (*relast.Update, error) {
	b := &binder{catalog: cat, scope: []string{s.Table}}
	if err := b.requireTable(s.Table); err != nil {
		return nil, err
	}
	upd := &relast.Update{Table: s.Table}
	err := b.assignments(&s.Set, s.Table, func(col string, v relast.Expr) {
		upd.Set = append(upd.Set, relast.Assignment{Column: col, Value: v})
	})
	if err != nil {
		return nil, fmt.Errorf("update set: %w", err)
	}
	if upd.Where, err = b.optional(&s.Where); err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	return upd, nil
}

func (s *DeleteDoc) bind(cat *relast.Catalog) (*relast.Delete, error) {
	b := &binder{catalog: cat, scope: []string{s.Table}}
	if err := b.requireTable(s.Table); err != nil {
		return nil, err
	}
	where, err := b.optional(&s.Where)
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	return &relast.Delete{Table: s.Table, Where: where}, nil
}

func joinType(s string) (relast.JoinType, error) {
	switch strings.ToLower(s) {
	case "", "inner":
		return relast.JoinInner, nil
	case "left", "left_outer":
		return relast.JoinLeftOuter, nil
	case "right", "right_outer":
		return relast.JoinRightOuter, nil
	case "full", "full_outer":
		return relast.JoinFullOuter, nil
	case "cross":
		return relast.JoinCross, nil
	default:
		return "", fmt.Errorf("unknown join type %q", s)
	}
}
