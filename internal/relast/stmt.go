package relast

import (
	"math"
	"slices"
)

// UnboundedLimit is the row-limit sentinel meaning "no limit".
const UnboundedLimit int64 = math.MaxInt64

// Statement is a resolved SELECT, INSERT, UPDATE or DELETE.
//
// This is a sealed interface - only types in this package implement it.
type Statement interface {
	stmtNode()
	// Kind names the statement for logs and errors.
	Kind() string
}

// JoinType is the declared join kind.
type JoinType string

const (
	JoinInner      JoinType = "INNER"
	JoinLeftOuter  JoinType = "LEFT_OUTER"
	JoinRightOuter JoinType = "RIGHT_OUTER"
	JoinCross      JoinType = "CROSS"
	JoinFullOuter  JoinType = "FULL_OUTER"
)

// TableRef names a table in FROM or JOIN.
type TableRef struct {
	Table string
	Alias string
}

// Join is one JOIN clause.
type Join struct {
	Type  JoinType
	Table TableRef
	On    Expr
}

// DerivedColumn is one projection list entry.
type DerivedColumn struct {
	Expr  Expr
	Alias string
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Select is a SELECT statement. A nil Limit or UnboundedLimit means no limit.
type Select struct {
	Distinct bool
	Columns  []DerivedColumn
	From     TableRef
	Joins    []Join
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
	Limit    *int64
	Offset   int64
}

// Insert inserts one row. Columns and Values are positional.
type Insert struct {
	Table   string
	Columns []string
	Values  []Expr
}

// Assignment is one SET entry.
type Assignment struct {
	Column string
	Value  Expr
}

// Update is an UPDATE statement.
type Update struct {
	Table string
	Set   []Assignment
	Where Expr
}

// Delete is a DELETE statement.
type Delete struct {
	Table string
	Where Expr
}

func (*Select) stmtNode() {}
func (*Insert) stmtNode() {}
func (*Update) stmtNode() {}
func (*Delete) stmtNode() {}

func (*Select) Kind() string { return "SELECT" }
func (*Insert) Kind() string { return "INSERT" }
func (*Update) Kind() string { return "UPDATE" }
func (*Delete) Kind() string { return "DELETE" }

// HasLimit reports whether the statement carries a concrete row limit.
func (s *Select) HasLimit() bool {
	return s.Limit != nil && *s.Limit != UnboundedLimit && *s.Limit >= 0
}

// TableNames returns FROM then JOIN tables in declaration order.
func (s *Select) TableNames() []string {
	names := []string{s.From.Table}
	for _, j := range s.Joins {
		names = append(names, j.Table.Table)
	}
	return names
}

// TargetTable returns the table a statement reads or writes first.
func TargetTable(stmt Statement) string {
	switch s := stmt.(type) {
	case *Select:
		return s.From.Table
	case *Insert:
		return s.Table
	case *Update:
		return s.Table
	case *Delete:
		return s.Table
	default:
		return ""
	}
}

// Tables returns the distinct tables stmt names, target first, then joins
// in clause order.
func Tables(stmt Statement) []string {
	names := []string{TargetTable(stmt)}
	if sel, ok := stmt.(*Select); ok {
		for _, j := range sel.Joins {
			if !slices.Contains(names, j.Table.Table) {
				names = append(names, j.Table.Table)
			}
		}
	}
	return names
}

// Limit returns a pointer to n, for building Select literals.
func Limit(n int64) *int64 {
	return &n
}
