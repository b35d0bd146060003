package pipeline

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/relast"
)

// Mode selects the form an expression is compiled into.
type Mode int

const (
	// ModeValue produces an aggregation expression ("$field", {$add: [...]}).
	ModeValue Mode = iota
	// ModePredicate produces a query document ({field: {$gt: 5}}).
	ModePredicate
)

var comparisonOperators = map[relast.CompareOp]string{
	relast.OpEq: "$eq",
	relast.OpNe: "$ne",
	relast.OpLt: "$lt",
	relast.OpLe: "$lte",
	relast.OpGt: "$gt",
	relast.OpGe: "$gte",
}

// fragment is the compiled form of one expression node.
type fragment struct {
	// query is the predicate form; nil for nodes compiled in value mode.
	query bson.D
	// value is the aggregation expression form.
	value any
	// path is a field path usable as a query key, set for columns and
	// elevated or grouped expressions.
	path    string
	binding *ColumnPathBinding
	typ     relast.ColumnType

	literal bool
	raw     any
	fn      bool
	// array is set when the value reads an unwound array path.
	array bool
}

type frame struct {
	node    relast.Expr
	mode    Mode
	visited bool
}

// ExprCompiler translates relational expressions with an explicit-stack
// post-order walk. Errors are collected in the context and the first one
// in post-order is returned once the walk completes.
type ExprCompiler struct {
	ctx *CompileCtx
}

// Compile translates e in mode m.
func (x *ExprCompiler) Compile(e relast.Expr, m Mode) (fragment, error) {
	errsBefore := len(x.ctx.errs)
	stack := []frame{{node: e, mode: m}}
	var results []fragment

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		kids := x.children(f.node)
		if !f.visited {
			if out, ok := x.groupedExpr(f.node); ok {
				results = append(results, out)
				continue
			}
			f.visited = true
			stack = append(stack, f)
			cm := childMode(f.node, f.mode)
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, frame{node: kids[i], mode: cm})
			}
			continue
		}

		args := make([]fragment, len(kids))
		copy(args, results[len(results)-len(kids):])
		results = results[:len(results)-len(kids)]

		out, err := x.node(f.node, f.mode, args)
		if err != nil {
			x.ctx.addError(err)
			out = fragment{}
		}
		results = append(results, out)
	}

	if len(x.ctx.errs) > errsBefore {
		return fragment{}, x.ctx.errs[errsBefore]
	}
	return results[0], nil
}

// Predicate compiles e as a filter document.
func (x *ExprCompiler) Predicate(e relast.Expr) (bson.D, error) {
	f, err := x.Compile(e, ModePredicate)
	if err != nil {
		return nil, err
	}
	return f.query, nil
}

// Value compiles e as an aggregation expression.
func (x *ExprCompiler) Value(e relast.Expr) (any, error) {
	f, err := x.Compile(e, ModeValue)
	if err != nil {
		return nil, err
	}
	return f.value, nil
}

// children returns the nodes walked before n. Aggregate arguments are
// compiled separately against the pre-group document.
func (x *ExprCompiler) children(n relast.Expr) []relast.Expr {
	if _, ok := n.(*relast.Aggregate); ok {
		return nil
	}
	return relast.Children(n)
}

// groupedExpr resolves a computed expression that is itself a GROUP BY key.
func (x *ExprCompiler) groupedExpr(n relast.Expr) (fragment, bool) {
	if !x.ctx.grouped {
		return fragment{}, false
	}
	if _, ok := n.(*relast.FuncCall); !ok {
		return fragment{}, false
	}
	sig, ok := x.preGroupSig(n)
	if !ok {
		return fragment{}, false
	}
	name, ok := x.ctx.state.groupKeyForSig(sig)
	if !ok {
		return fragment{}, false
	}
	return fragment{path: "_id." + name, value: "$_id." + name}, true
}

// preGroup compiles e against the document before $group. Errors are
// reported to the caller without being recorded twice.
func (x *ExprCompiler) preGroup(e relast.Expr) (fragment, error) {
	grouped, errs := x.ctx.grouped, len(x.ctx.errs)
	x.ctx.grouped = false
	defer func() {
		x.ctx.grouped = grouped
		x.ctx.errs = x.ctx.errs[:errs]
	}()
	return x.Compile(e, ModeValue)
}

// preGroupSig renders the pre-group value of e for structural comparison.
func (x *ExprCompiler) preGroupSig(e relast.Expr) (string, bool) {
	f, err := x.preGroup(e)
	if err != nil {
		return "", false
	}
	sig, err := ir.RenderCompact(bson.D{{Key: "v", Value: f.value}})
	if err != nil {
		return "", false
	}
	return sig, true
}

// childMode propagates predicate mode through boolean connectives only.
func childMode(n relast.Expr, m Mode) Mode {
	switch n.(type) {
	case *relast.And, *relast.Or, *relast.Not:
		return m
	default:
		return ModeValue
	}
}

func (x *ExprCompiler) node(n relast.Expr, m Mode, args []fragment) (fragment, error) {
	switch e := n.(type) {
	case *relast.ColumnRef:
		return x.column(e, m)
	case *relast.Literal:
		return x.literal(e)
	case *relast.Comparison:
		return x.comparison(e, m, args[0], args[1])
	case *relast.And:
		return connective("$and", m, args), nil
	case *relast.Or:
		return connective("$or", m, args), nil
	case *relast.Not:
		if m == ModePredicate {
			return fragment{query: bson.D{{Key: "$nor", Value: bson.A{args[0].query}}}, typ: relast.TypeBool}, nil
		}
		return fragment{value: bson.D{{Key: "$not", Value: bson.A{args[0].value}}}, typ: relast.TypeBool}, nil
	case *relast.In:
		return x.in(e, m, args[0], args[1:])
	case *relast.IsNull:
		return x.isNull(e, m, args[0])
	case *relast.Like:
		return x.like(e, m, args[0], args[1])
	case *relast.FuncCall:
		return x.function(e, m, args)
	case *relast.Aggregate:
		return x.aggregate(e, m)
	default:
		return fragment{}, docerr.ErrUnsupportedExpression.New(n, modeName(m))
	}
}

func modeName(m Mode) string {
	if m == ModePredicate {
		return "filter"
	}
	return "value"
}

func (x *ExprCompiler) column(ref *relast.ColumnRef, m Mode) (fragment, error) {
	b, err := x.ctx.binding(ref)
	if err != nil {
		return fragment{}, err
	}
	f := fragment{binding: b, typ: b.Type, array: b.UnderArray}
	if x.ctx.grouped {
		key, ok := x.ctx.state.groupKeyFor(b)
		if !ok {
			return fragment{}, docerr.ErrNotGrouped.New(b.Key())
		}
		f.path = "_id." + key
		f.value = "$_id." + key
	} else {
		f.path = b.DocumentQueryFieldName
		f.value = "$" + b.TargetDocumentFieldName
	}
	if m == ModePredicate {
		if err := checkFilterable(b); err != nil {
			return fragment{}, err
		}
		f.query = bson.D{{Key: f.path, Value: true}}
	}
	return f, nil
}

func checkFilterable(b *ColumnPathBinding) error {
	if b != nil && b.Type == relast.TypeArray {
		return docerr.ErrArrayColumnFilter.New(b.Table, b.Name)
	}
	return nil
}

func (x *ExprCompiler) literal(l *relast.Literal) (fragment, error) {
	v := l.Value
	if l.Type != "" {
		conv, err := x.ctx.convert(l.Value, l.Type)
		if err != nil {
			return fragment{}, err
		}
		v = conv
	}
	return fragment{literal: true, raw: l.Value, value: v, typ: l.Type}, nil
}

// operandValue converts a literal operand to the type of the column it is
// compared with.
func (x *ExprCompiler) operandValue(lit fragment, other fragment) (any, error) {
	if !lit.literal || lit.typ != "" || other.typ == "" || lit.raw == nil {
		return lit.value, nil
	}
	return x.ctx.convert(lit.raw, other.typ)
}

// queryPath returns a path usable as a query key for f, elevating function
// values into the pre-project stage when that is safe.
func (x *ExprCompiler) queryPath(f fragment) (string, bool, error) {
	if f.binding != nil {
		if err := checkFilterable(f.binding); err != nil {
			return "", false, err
		}
		return f.path, true, nil
	}
	if f.path != "" {
		return f.path, true, nil
	}
	if f.fn && !f.array && x.ctx.allowElevation && !x.ctx.grouped {
		return x.ctx.elevate(f.value), true, nil
	}
	return "", false, nil
}

func (x *ExprCompiler) comparison(c *relast.Comparison, m Mode, l, r fragment) (fragment, error) {
	op, ok := comparisonOperators[c.Op]
	if !ok {
		return fragment{}, docerr.ErrUnsupportedExpression.New(c.Op, "comparison")
	}
	lv, err := x.operandValue(l, r)
	if err != nil {
		return fragment{}, err
	}
	rv, err := x.operandValue(r, l)
	if err != nil {
		return fragment{}, err
	}
	value := bson.D{{Key: op, Value: bson.A{lv, rv}}}
	out := fragment{value: value, typ: relast.TypeBool, array: l.array || r.array}
	if m != ModePredicate {
		return out, nil
	}

	switch {
	case !l.literal && r.literal:
		if path, ok, err := x.queryPath(l); err != nil {
			return fragment{}, err
		} else if ok {
			out.query = compareQuery(path, op, rv)
			return out, nil
		}
	case l.literal && !r.literal:
		if path, ok, err := x.queryPath(r); err != nil {
			return fragment{}, err
		} else if ok {
			out.query = compareQuery(path, comparisonOperators[c.Op.Flip()], lv)
			return out, nil
		}
	}
	if err := checkFilterable(l.binding); err != nil {
		return fragment{}, err
	}
	if err := checkFilterable(r.binding); err != nil {
		return fragment{}, err
	}
	out.query = exprQuery(value)
	return out, nil
}

func compareQuery(path, op string, v any) bson.D {
	if op == "$eq" {
		return bson.D{{Key: path, Value: v}}
	}
	return bson.D{{Key: path, Value: bson.D{{Key: op, Value: v}}}}
}

func exprQuery(value any) bson.D {
	return bson.D{{Key: "$expr", Value: value}}
}

// connective combines children under $and or $or, inlining nested lists of
// the same operator.
func connective(op string, m Mode, args []fragment) fragment {
	if m == ModePredicate {
		items := bson.A{}
		for _, a := range args {
			items = appendFlattened(items, op, a.query)
		}
		return fragment{query: bson.D{{Key: op, Value: items}}, typ: relast.TypeBool}
	}
	vals := make(bson.A, len(args))
	array := false
	for i, a := range args {
		vals[i] = a.value
		array = array || a.array
	}
	return fragment{value: bson.D{{Key: op, Value: vals}}, typ: relast.TypeBool, array: array}
}

func appendFlattened(items bson.A, op string, q bson.D) bson.A {
	if len(q) == 1 && q[0].Key == op {
		if inner, ok := q[0].Value.(bson.A); ok {
			return append(items, inner...)
		}
	}
	return append(items, q)
}

func (x *ExprCompiler) in(e *relast.In, m Mode, left fragment, list []fragment) (fragment, error) {
	if left.literal || (left.binding == nil && !left.fn && left.path == "") {
		return fragment{}, docerr.ErrUnresolvedOperand.New("IN", e.Left)
	}
	vals := make(bson.A, 0, len(list))
	for i, item := range list {
		if !item.literal {
			return fragment{}, docerr.ErrUnsupportedExpression.New(e.List[i], "IN list")
		}
		v, err := x.operandValue(item, left)
		if err != nil {
			return fragment{}, err
		}
		vals = append(vals, v)
	}

	op := "$in"
	if e.Negated {
		op = "$nin"
	}
	value := any(bson.D{{Key: "$in", Value: bson.A{left.value, vals}}})
	if e.Negated {
		value = bson.D{{Key: "$not", Value: bson.A{value}}}
	}
	out := fragment{value: value, typ: relast.TypeBool, array: left.array}
	if m != ModePredicate {
		return out, nil
	}
	path, ok, err := x.queryPath(left)
	if err != nil {
		return fragment{}, err
	}
	if ok {
		out.query = bson.D{{Key: path, Value: bson.D{{Key: op, Value: vals}}}}
	} else {
		out.query = exprQuery(value)
	}
	return out, nil
}

func (x *ExprCompiler) isNull(e *relast.IsNull, m Mode, operand fragment) (fragment, error) {
	if operand.literal || (operand.binding == nil && !operand.fn && operand.path == "") {
		return fragment{}, docerr.ErrUnresolvedOperand.New("IS NULL", e.Operand)
	}
	// Missing fields compare below null in expressions, so $lte/$gt cover
	// both absent and explicit null values.
	op := "$lte"
	if e.Negated {
		op = "$gt"
	}
	out := fragment{
		value: bson.D{{Key: op, Value: bson.A{operand.value, nil}}},
		typ:   relast.TypeBool,
		array: operand.array,
	}
	if m != ModePredicate {
		return out, nil
	}
	path, ok, err := x.queryPath(operand)
	if err != nil {
		return fragment{}, err
	}
	switch {
	case !ok:
		out.query = exprQuery(out.value)
	case e.Negated:
		out.query = bson.D{{Key: path, Value: bson.D{{Key: "$ne", Value: nil}}}}
	default:
		out.query = bson.D{{Key: path, Value: nil}}
	}
	return out, nil
}

func (x *ExprCompiler) like(e *relast.Like, m Mode, left, pattern fragment) (fragment, error) {
	if left.literal || (left.binding == nil && !left.fn && left.path == "") {
		return fragment{}, docerr.ErrUnresolvedOperand.New("LIKE", e.Left)
	}
	p, ok := pattern.raw.(string)
	if !pattern.literal || !ok {
		return fragment{}, docerr.ErrUnsupportedExpression.New(e.Pattern, "LIKE pattern")
	}
	re := LikeToRegex(p)

	value := any(bson.D{{Key: "$regexMatch", Value: bson.D{
		{Key: "input", Value: left.value},
		{Key: "regex", Value: re},
	}}})
	if e.Negated {
		value = bson.D{{Key: "$not", Value: bson.A{value}}}
	}
	out := fragment{value: value, typ: relast.TypeBool, array: left.array}
	if m != ModePredicate {
		return out, nil
	}
	path, ok, err := x.queryPath(left)
	if err != nil {
		return fragment{}, err
	}
	rx := bson.Regex{Pattern: re}
	switch {
	case !ok:
		out.query = exprQuery(value)
	case e.Negated:
		out.query = bson.D{{Key: path, Value: bson.D{{Key: "$not", Value: rx}}}}
	default:
		out.query = bson.D{{Key: path, Value: rx}}
	}
	return out, nil
}

func (x *ExprCompiler) function(e *relast.FuncCall, m Mode, args []fragment) (fragment, error) {
	if isGeoFunction(e.Name) {
		if m != ModePredicate {
			return fragment{}, docerr.ErrUnsupportedExpression.New(e.Name, "value")
		}
		q, err := geoQuery(e.Name, args)
		if err != nil {
			return fragment{}, err
		}
		return fragment{query: q, typ: relast.TypeBool}, nil
	}

	value, err := functionValue(e.Name, args)
	if err != nil {
		return fragment{}, err
	}
	out := fragment{value: value, fn: true}
	for _, a := range args {
		out.array = out.array || a.array
	}
	if m == ModePredicate {
		out.query = exprQuery(value)
	}
	return out, nil
}

func (x *ExprCompiler) aggregate(a *relast.Aggregate, m Mode) (fragment, error) {
	if !x.ctx.state.aggregating {
		return fragment{}, docerr.ErrUnsupportedExpression.New(a.Func, "filter")
	}
	var arg *fragment
	if a.Arg != nil {
		f, err := x.preGroup(a.Arg)
		if err != nil {
			return fragment{}, err
		}
		arg = &f
	}
	field, value, err := x.ctx.state.accumulator(x.ctx, a, arg, "")
	if err != nil {
		return fragment{}, err
	}
	out := fragment{value: value, typ: aggregateType(a, arg)}
	if s, ok := value.(string); ok && strings.HasPrefix(s, "$") {
		out.path = field
	}
	if m == ModePredicate {
		out.query = exprQuery(value)
	}
	return out, nil
}

func aggregateType(a *relast.Aggregate, arg *fragment) relast.ColumnType {
	switch a.Func {
	case relast.AggCount:
		return relast.TypeInt
	case relast.AggAvg:
		return relast.TypeFloat
	default:
		if arg != nil {
			return arg.typ
		}
		return ""
	}
}
