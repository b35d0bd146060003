package relast

import "fmt"

// Validation error codes (E200-E299)
const (
	ErrCodeUnknownTable    = "E201" // statement references an undeclared table
	ErrCodeUnknownColumn   = "E202" // column not declared on its table
	ErrCodeValueCount      = "E203" // INSERT column/value count mismatch
	ErrCodeLikePattern     = "E204" // LIKE pattern is not a string literal
	ErrCodeEmptyIn         = "E205" // IN with an empty list
	ErrCodeNegativeOffset  = "E206" // OFFSET below zero
	ErrCodeEmptyProjection = "E207" // SELECT without columns
	ErrCodeEmptySet        = "E208" // UPDATE without assignments
)

// ValidationError reports a structural problem with a statement.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a statement against the catalog.
// Returns all errors found (does not fail-fast).
func Validate(stmt Statement, cat *Catalog) []ValidationError {
	v := &validator{cat: cat}
	switch s := stmt.(type) {
	case *Select:
		v.validateSelect(s)
	case *Insert:
		v.requireTable("insert.table", s.Table)
		if len(s.Columns) != len(s.Values) {
			v.add("insert.values", ErrCodeValueCount,
				"%d columns but %d values", len(s.Columns), len(s.Values))
		}
		for _, col := range s.Columns {
			v.requireColumn("insert.columns", s.Table, col)
		}
		for _, e := range s.Values {
			v.validateExpr("insert.values", e)
		}
	case *Update:
		v.requireTable("update.table", s.Table)
		if len(s.Set) == 0 {
			v.add("update.set", ErrCodeEmptySet, "at least one assignment is required")
		}
		for _, a := range s.Set {
			v.requireColumn("update.set", s.Table, a.Column)
			v.validateExpr("update.set", a.Value)
		}
		v.validateExpr("update.where", s.Where)
	case *Delete:
		v.requireTable("delete.table", s.Table)
		v.validateExpr("delete.where", s.Where)
	}
	return v.errs
}

type validator struct {
	cat  *Catalog
	errs []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) requireTable(field, name string) bool {
	if _, ok := v.cat.Table(name); !ok {
		v.add(field, ErrCodeUnknownTable, "unknown table %q", name)
		return false
	}
	return true
}

func (v *validator) requireColumn(field, table, col string) {
	t, ok := v.cat.Table(table)
	if !ok {
		return
	}
	if _, ok := t.Column(col); !ok {
		v.add(field, ErrCodeUnknownColumn, "table %q has no column %q", table, col)
	}
}

func (v *validator) validateSelect(s *Select) {
	v.requireTable("select.from", s.From.Table)
	for i, j := range s.Joins {
		v.requireTable(fmt.Sprintf("select.joins[%d]", i), j.Table.Table)
		v.validateExpr(fmt.Sprintf("select.joins[%d].on", i), j.On)
	}
	if len(s.Columns) == 0 {
		v.add("select.columns", ErrCodeEmptyProjection, "at least one column is required")
	}
	for i, c := range s.Columns {
		v.validateExpr(fmt.Sprintf("select.columns[%d]", i), c.Expr)
	}
	v.validateExpr("select.where", s.Where)
	for i, g := range s.GroupBy {
		v.validateExpr(fmt.Sprintf("select.group_by[%d]", i), g)
	}
	v.validateExpr("select.having", s.Having)
	for i, o := range s.OrderBy {
		v.validateExpr(fmt.Sprintf("select.order_by[%d]", i), o.Expr)
	}
	if s.Offset < 0 {
		v.add("select.offset", ErrCodeNegativeOffset, "offset %d is negative", s.Offset)
	}
}

func (v *validator) validateExpr(field string, e Expr) {
	Walk(e, func(n Expr) bool {
		switch x := n.(type) {
		case *ColumnRef:
			if v.requireTable(field, x.Table) {
				v.requireColumn(field, x.Table, x.Name)
			}
		case *Star:
			if x.Table != "" {
				v.requireTable(field, x.Table)
			}
		case *Like:
			if lit, ok := x.Pattern.(*Literal); !ok {
				v.add(field, ErrCodeLikePattern, "LIKE pattern must be a literal")
			} else if _, ok := lit.Value.(string); !ok {
				v.add(field, ErrCodeLikePattern, "LIKE pattern must be a string, got %T", lit.Value)
			}
		case *In:
			if len(x.List) == 0 {
				v.add(field, ErrCodeEmptyIn, "IN list is empty")
			}
		}
		return true
	})
}
