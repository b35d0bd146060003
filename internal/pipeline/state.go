package pipeline

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/relast"
)

type groupKey struct {
	name string
	// sig is the compact rendering of the pre-group value, used to match
	// grouped expressions that are not plain columns.
	sig     string
	value   any
	binding *ColumnPathBinding
}

// assemblyState accumulates the stage fragments of one SELECT compile.
// Stages are emitted by stages() in a fixed order regardless of the order
// in which fragments were added.
type assemblyState struct {
	preProject bson.D
	// projectBeforeMatch is set once a filter reads an elevated field.
	projectBeforeMatch bool
	unwinds    []string
	match      []bson.D

	// aggregating is set while compiling clauses that may contain aggregates.
	aggregating bool
	grouping    bool
	groupKeys   []groupKey
	accum       bson.D
	accByKey    map[string]string

	having      []bson.D
	postProject bson.D
	sort        bson.D
	skip        int64
	limit       *int64

	columns []ir.ColumnBinding
}

func newAssemblyState() *assemblyState {
	return &assemblyState{accByKey: make(map[string]string)}
}

func (s *assemblyState) addUnwind(path string) {
	for _, u := range s.unwinds {
		if u == path {
			return
		}
	}
	s.unwinds = append(s.unwinds, path)
}

func (s *assemblyState) addMatch(q bson.D) {
	if len(q) == 0 {
		return
	}
	for _, m := range s.match {
		if sameDoc(m, q) {
			return
		}
	}
	s.match = append(s.match, q)
}

func (s *assemblyState) addGroupKey(name, sig string, value any, b *ColumnPathBinding) {
	s.grouping = true
	s.groupKeys = append(s.groupKeys, groupKey{name: name, sig: sig, value: value, binding: b})
	if b != nil {
		b.PartOfGroupBy = true
	}
}

func (s *assemblyState) groupKeyFor(b *ColumnPathBinding) (string, bool) {
	for _, k := range s.groupKeys {
		if k.binding != nil && k.binding.Key() == b.Key() {
			return k.name, true
		}
	}
	return "", false
}

func (s *assemblyState) groupKeyForSig(sig string) (string, bool) {
	for _, k := range s.groupKeys {
		if k.sig == sig {
			return k.name, true
		}
	}
	return "", false
}

func (s *assemblyState) hasGroupKey(name string) bool {
	for _, k := range s.groupKeys {
		if k.name == name {
			return true
		}
	}
	return false
}

// accumulator registers the $group entry for a and returns the field it
// is stored in and the post-group value that reads it. Structurally equal
// aggregates share one accumulator unless an explicit field name is given.
func (s *assemblyState) accumulator(c *CompileCtx, a *relast.Aggregate, arg *fragment, field string) (string, any, error) {
	s.grouping = true

	var argValue any
	if arg != nil {
		argValue = arg.value
	}
	sig, err := ir.RenderCompact(bson.D{{Key: "a", Value: argValue}})
	if err != nil {
		return "", nil, err
	}
	key := string(a.Func) + "|" + boolString(a.Distinct) + "|" + sig

	if field == "" {
		if existing, ok := s.accByKey[key]; ok {
			return existing, accumulatorValue(a, existing), nil
		}
		field = c.nextName("__agg")
	}
	s.accByKey[key] = field

	var acc bson.D
	switch {
	case a.IsCountStar():
		acc = bson.D{{Key: "$sum", Value: 1}}
	case a.Distinct && a.Func != relast.AggMin && a.Func != relast.AggMax:
		acc = bson.D{{Key: "$addToSet", Value: argValue}}
	case a.Func == relast.AggCount:
		acc = bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$gt", Value: bson.A{argValue, nil}}}, 1, 0,
		}}}}}
	default:
		acc = bson.D{{Key: accumulatorOperator(a.Func), Value: argValue}}
	}
	s.accum = append(s.accum, bson.E{Key: field, Value: acc})
	return field, accumulatorValue(a, field), nil
}

func accumulatorOperator(f relast.AggFunc) string {
	switch f {
	case relast.AggAvg:
		return "$avg"
	case relast.AggMin:
		return "$min"
	case relast.AggMax:
		return "$max"
	default:
		return "$sum"
	}
}

// accumulatorValue reads a registered accumulator after $group. DISTINCT
// accumulators hold a set that is reduced here.
func accumulatorValue(a *relast.Aggregate, field string) any {
	ref := "$" + field
	if !a.Distinct || a.IsCountStar() || a.Func == relast.AggMin || a.Func == relast.AggMax {
		return ref
	}
	set := bson.D{{Key: "$setDifference", Value: bson.A{ref, bson.A{nil}}}}
	switch a.Func {
	case relast.AggCount:
		return bson.D{{Key: "$size", Value: set}}
	case relast.AggAvg:
		return bson.D{{Key: "$avg", Value: set}}
	default:
		return bson.D{{Key: "$sum", Value: set}}
	}
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *assemblyState) groupID() any {
	if len(s.groupKeys) == 0 {
		return nil
	}
	id := make(bson.D, 0, len(s.groupKeys))
	for _, k := range s.groupKeys {
		id = append(id, bson.E{Key: k.name, Value: k.value})
	}
	return id
}

// stages emits the pipeline:
// $addFields, $unwind*, $match, $group, $match, $project, $sort, $skip, $limit.
func (s *assemblyState) stages() []ir.Stage {
	var out []ir.Stage
	if len(s.preProject) > 0 {
		out = append(out, ir.Stage{{Key: "$addFields", Value: s.preProject}})
	}
	for _, u := range s.unwinds {
		out = append(out, ir.Stage{{Key: "$unwind", Value: "$" + u}})
	}
	if m := combine(s.match); m != nil {
		out = append(out, ir.Stage{{Key: "$match", Value: m}})
	}
	if s.grouping {
		g := bson.D{{Key: "_id", Value: s.groupID()}}
		g = append(g, s.accum...)
		out = append(out, ir.Stage{{Key: "$group", Value: g}})
	}
	if h := combine(s.having); h != nil {
		out = append(out, ir.Stage{{Key: "$match", Value: h}})
	}
	if len(s.postProject) > 0 {
		out = append(out, ir.Stage{{Key: "$project", Value: s.postProject}})
	}
	if len(s.sort) > 0 {
		out = append(out, ir.Stage{{Key: "$sort", Value: s.sort}})
	}
	if s.skip > 0 {
		out = append(out, ir.Stage{{Key: "$skip", Value: s.skip}})
	}
	if s.limit != nil {
		out = append(out, ir.Stage{{Key: "$limit", Value: *s.limit}})
	}
	return out
}

// combine merges filter conjuncts into one document, flattening nested
// $and lists.
func combine(qs []bson.D) bson.D {
	switch len(qs) {
	case 0:
		return nil
	case 1:
		return qs[0]
	}
	items := bson.A{}
	for _, q := range qs {
		items = appendFlattened(items, "$and", q)
	}
	return bson.D{{Key: "$and", Value: items}}
}

func sameDoc(a, b bson.D) bool {
	x, err := ir.RenderCompact(a)
	if err != nil {
		return false
	}
	y, err := ir.RenderCompact(b)
	return err == nil && x == y
}
