package relast

// Children returns the direct sub-expressions of e in evaluation order.
func Children(e Expr) []Expr {
	switch n := e.(type) {
	case *Comparison:
		return []Expr{n.Left, n.Right}
	case *And:
		return n.Operands
	case *Or:
		return n.Operands
	case *Not:
		return []Expr{n.Operand}
	case *In:
		return append([]Expr{n.Left}, n.List...)
	case *IsNull:
		return []Expr{n.Operand}
	case *Like:
		return []Expr{n.Left, n.Pattern}
	case *FuncCall:
		return n.Args
	case *Aggregate:
		if n.Arg == nil {
			return nil
		}
		return []Expr{n.Arg}
	default:
		return nil
	}
}

// Walk visits e and its descendants in pre-order. Returning false from fn
// skips the children of the current node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil {
		return
	}
	stack := []Expr{e}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil || !fn(n) {
			continue
		}
		kids := Children(n)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
}

// ColumnsOf returns every column reference under e in pre-order.
func ColumnsOf(e Expr) []*ColumnRef {
	var cols []*ColumnRef
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*ColumnRef); ok {
			cols = append(cols, c)
		}
		return true
	})
	return cols
}

// ContainsAggregate reports whether e has an aggregate anywhere below it.
func ContainsAggregate(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if _, ok := n.(*Aggregate); ok {
			found = true
		}
		return !found
	})
	return found
}
