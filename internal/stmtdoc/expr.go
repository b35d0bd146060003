package stmtdoc

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
)

var compareOps = map[string]relast.CompareOp{
	"eq": relast.OpEq,
	"ne": relast.OpNe,
	"lt": relast.OpLt,
	"le": relast.OpLe,
	"gt": relast.OpGt,
	"ge": relast.OpGe,
}

var aggregates = map[string]relast.AggFunc{
	"count": relast.AggCount,
	"sum":   relast.AggSum,
	"avg":   relast.AggAvg,
	"min":   relast.AggMin,
	"max":   relast.AggMax,
}

// binder resolves expression nodes against the tables in scope.
type binder struct {
	catalog *relast.Catalog
	scope   []string
}

func (b *binder) requireTable(name string) error {
	if _, ok := b.catalog.Table(name); !ok {
		return docerr.ErrUnknownTable.New(name)
	}
	return nil
}

func absent(n *yaml.Node) bool {
	return n == nil || n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func (b *binder) optional(n *yaml.Node) (relast.Expr, error) {
	if absent(n) {
		return nil, nil
	}
	return b.expr(n)
}

func (b *binder) required(n *yaml.Node, field string) (relast.Expr, error) {
	if absent(n) {
		return nil, fmt.Errorf("%s: expression is required", field)
	}
	e, err := b.expr(n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return e, nil
}

// assignments walks a {column: value} mapping in document order. Plain
// scalars are literals; mappings are expressions.
func (b *binder) assignments(n *yaml.Node, table string, fn func(string, relast.Expr)) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of column to value", n.Line)
	}
	t, _ := b.catalog.Table(table)
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		c, ok := t.Column(name)
		if !ok {
			return docerr.ErrUnknownColumn.New(table, name)
		}
		v := n.Content[i+1]
		var e relast.Expr
		if v.Kind == yaml.MappingNode {
			var err error
			if e, err = b.expr(v); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		} else {
			val, err := scalar(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			e = relast.Lit(val, c.Type)
		}
		fn(name, e)
	}
	return nil
}

// expr binds a single-key mapping such as {col: t.c} or {eq: [a, b]}.
func (b *binder) expr(n *yaml.Node) (relast.Expr, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, fmt.Errorf("line %d: expression must be a mapping with one key", n.Line)
	}
	op, arg := n.Content[0].Value, n.Content[1]

	if cmp, ok := compareOps[op]; ok {
		ops, err := b.list(arg, 2, 2)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &relast.Comparison{Op: cmp, Left: ops[0], Right: ops[1]}, nil
	}
	if fn, ok := aggregates[op]; ok {
		if arg.Kind == yaml.ScalarNode && arg.Value == "*" {
			if fn != relast.AggCount {
				return nil, fmt.Errorf("line %d: %s(*) is not allowed", arg.Line, op)
			}
			return &relast.Aggregate{Func: fn}, nil
		}
		inner, err := b.expr(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &relast.Aggregate{Func: fn, Arg: inner}, nil
	}

	switch op {
	case "col":
		return b.column(arg)
	case "lit":
		return literal(arg)
	case "star":
		table := ""
		if !absent(arg) {
			table = arg.Value
		}
		return &relast.Star{Table: table}, nil
	case "and", "or":
		ops, err := b.list(arg, 1, -1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if op == "and" {
			return &relast.And{Operands: ops}, nil
		}
		return &relast.Or{Operands: ops}, nil
	case "not":
		inner, err := b.expr(arg)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &relast.Not{Operand: inner}, nil
	case "in", "not_in":
		ops, err := b.list(arg, 2, -1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &relast.In{Left: ops[0], List: ops[1:], Negated: op == "not_in"}, nil
	case "is_null", "not_null":
		inner, err := b.expr(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &relast.IsNull{Operand: inner, Negated: op == "not_null"}, nil
	case "like", "not_like":
		if arg.Kind != yaml.SequenceNode || len(arg.Content) != 2 {
			return nil, fmt.Errorf("line %d: %s takes [expr, pattern]", arg.Line, op)
		}
		left, err := b.expr(arg.Content[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		var pattern relast.Expr
		if p := arg.Content[1]; p.Kind == yaml.ScalarNode {
			pattern = relast.Lit(p.Value, relast.TypeString)
		} else if pattern, err = b.expr(p); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &relast.Like{Left: left, Pattern: pattern, Negated: op == "not_like"}, nil
	case "fn":
		var call struct {
			Name string      `yaml:"name"`
			Args []yaml.Node `yaml:"args"`
		}
		if err := arg.Decode(&call); err != nil {
			return nil, fmt.Errorf("fn: %w", err)
		}
		if call.Name == "" {
			return nil, fmt.Errorf("line %d: fn requires a name", arg.Line)
		}
		f := &relast.FuncCall{Name: strings.ToUpper(call.Name)}
		for i := range call.Args {
			a, err := b.expr(&call.Args[i])
			if err != nil {
				return nil, fmt.Errorf("fn %s: %w", call.Name, err)
			}
			f.Args = append(f.Args, a)
		}
		return f, nil
	case "count_distinct":
		inner, err := b.expr(arg)
		if err != nil {
			return nil, fmt.Errorf("count_distinct: %w", err)
		}
		return &relast.Aggregate{Func: relast.AggCount, Arg: inner, Distinct: true}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown expression %q", n.Line, op)
	}
}

func (b *binder) list(n *yaml.Node, min, max int) ([]relast.Expr, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list of expressions", n.Line)
	}
	if len(n.Content) < min || (max >= 0 && len(n.Content) > max) {
		return nil, fmt.Errorf("line %d: wrong number of operands: %d", n.Line, len(n.Content))
	}
	out := make([]relast.Expr, 0, len(n.Content))
	for _, item := range n.Content {
		e, err := b.expr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// column binds "table.column" or a bare column name unique in scope.
func (b *binder) column(n *yaml.Node) (relast.Expr, error) {
	if n.Kind != yaml.ScalarNode || n.Value == "" {
		return nil, fmt.Errorf("line %d: col takes a column name", n.Line)
	}
	table, name, qualified := strings.Cut(n.Value, ".")
	if qualified {
		t, ok := b.catalog.Table(table)
		if !ok {
			return nil, docerr.ErrUnknownTable.New(table)
		}
		c, ok := t.Column(name)
		if !ok {
			return nil, docerr.ErrUnknownColumn.New(table, name)
		}
		return relast.Col(table, name, c.Type), nil
	}

	name = table
	var found *relast.ColumnRef
	for _, tn := range b.scope {
		t, ok := b.catalog.Table(tn)
		if !ok {
			continue
		}
		c, ok := t.Column(name)
		if !ok {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("line %d: column %s is ambiguous between %s and %s", n.Line, name, found.Table, tn)
		}
		found = relast.Col(tn, name, c.Type)
	}
	if found == nil {
		return nil, docerr.ErrUnknownColumn.New(strings.Join(b.scope, ","), name)
	}
	return found, nil
}

// literal binds {lit: v} or {lit: {value: v, type: t}}.
func literal(n *yaml.Node) (relast.Expr, error) {
	if n.Kind == yaml.MappingNode {
		var typed struct {
			Value yaml.Node         `yaml:"value"`
			Type  relast.ColumnType `yaml:"type"`
		}
		if err := n.Decode(&typed); err != nil {
			return nil, fmt.Errorf("lit: %w", err)
		}
		if !typed.Type.Valid() {
			return nil, fmt.Errorf("line %d: unknown literal type %q", n.Line, typed.Type)
		}
		v, err := scalar(&typed.Value)
		if err != nil {
			return nil, err
		}
		return relast.Lit(v, typed.Type), nil
	}
	v, err := scalar(n)
	if err != nil {
		return nil, err
	}
	return relast.Lit(v, ""), nil
}

// scalar decodes a literal value: int64, float64, bool, string, nil, or a
// list of those.
func scalar(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := scalar(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
	case 0:
		return nil, nil
	default:
		return nil, fmt.Errorf("line %d: literal must be a scalar or a list", n.Line)
	}

	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!int":
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	case "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	case "!!bool":
		var v bool
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return n.Value, nil
	}
}
