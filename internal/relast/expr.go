package relast

import "fmt"

// Expr is a relational expression or predicate.
//
// This is a sealed interface - only types in this package implement it.
type Expr interface {
	exprNode()
}

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "<>"
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Flip returns the operator obtained by swapping both operands.
func (op CompareOp) Flip() CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	default:
		return op
	}
}

// AggFunc is an aggregate function name.
type AggFunc string

const (
	AggCount AggFunc = "COUNT"
	AggSum   AggFunc = "SUM"
	AggAvg   AggFunc = "AVG"
	AggMin   AggFunc = "MIN"
	AggMax   AggFunc = "MAX"
)

// ColumnRef is a column bound to its table.
type ColumnRef struct {
	Table string
	Name  string
	Type  ColumnType
}

// Literal is a constant in the relational type system.
type Literal struct {
	Value any
	Type  ColumnType
}

// Comparison is Left <Op> Right.
type Comparison struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

// And is the conjunction of Operands.
type And struct {
	Operands []Expr
}

// Or is the disjunction of Operands.
type Or struct {
	Operands []Expr
}

// Not negates Operand.
type Not struct {
	Operand Expr
}

// In is Left [NOT] IN (List...).
type In struct {
	Left    Expr
	List    []Expr
	Negated bool
}

// IsNull is Operand IS [NOT] NULL.
type IsNull struct {
	Operand Expr
	Negated bool
}

// Like is Left [NOT] LIKE Pattern. Pattern must be a string Literal.
type Like struct {
	Left    Expr
	Pattern Expr
	Negated bool
}

// FuncCall is a scalar function call.
type FuncCall struct {
	Name string
	Args []Expr
}

// Aggregate is an aggregate call. A nil Arg means COUNT(*).
type Aggregate struct {
	Func     AggFunc
	Arg      Expr
	Distinct bool
}

// Star is "*" or "table.*" in a projection list.
type Star struct {
	Table string
}

func (*ColumnRef) exprNode()  {}
func (*Literal) exprNode()    {}
func (*Comparison) exprNode() {}
func (*And) exprNode()        {}
func (*Or) exprNode()         {}
func (*Not) exprNode()        {}
func (*In) exprNode()         {}
func (*IsNull) exprNode()     {}
func (*Like) exprNode()       {}
func (*FuncCall) exprNode()   {}
func (*Aggregate) exprNode()  {}
func (*Star) exprNode()       {}

func (c *ColumnRef) String() string { return c.Table + "." + c.Name }

func (l *Literal) String() string { return fmt.Sprintf("%v", l.Value) }

// IsCountStar reports whether a is COUNT(*).
func (a *Aggregate) IsCountStar() bool {
	return a.Func == AggCount && a.Arg == nil
}

// Col builds a column reference.
func Col(table, name string, typ ColumnType) *ColumnRef {
	return &ColumnRef{Table: table, Name: name, Type: typ}
}

// Lit builds a literal.
func Lit(v any, typ ColumnType) *Literal {
	return &Literal{Value: v, Type: typ}
}

// Eq builds left = right.
func Eq(left, right Expr) *Comparison {
	return &Comparison{Op: OpEq, Left: left, Right: right}
}

// Cmp builds left <op> right.
func Cmp(op CompareOp, left, right Expr) *Comparison {
	return &Comparison{Op: op, Left: left, Right: right}
}

// AndOf builds a conjunction, dropping nil operands. It returns nil for no
// operands and the operand itself for one.
func AndOf(operands ...Expr) Expr {
	var ops []Expr
	for _, o := range operands {
		if o != nil {
			ops = append(ops, o)
		}
	}
	switch len(ops) {
	case 0:
		return nil
	case 1:
		return ops[0]
	default:
		return &And{Operands: ops}
	}
}

// Conjuncts flattens nested ANDs into a list. A nil expression has no conjuncts.
func Conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	and, ok := e.(*And)
	if !ok {
		return []Expr{e}
	}
	var out []Expr
	for _, op := range and.Operands {
		out = append(out, Conjuncts(op)...)
	}
	return out
}
