package pipeline

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/schema"
)

// CompileCtx is the state of one compile. It is created by Compile and
// dropped when Compile returns.
type CompileCtx struct {
	opts     Options
	resolver *schema.Resolver

	// root is the physical document every path is resolved against.
	root   *schema.DocumentSchema
	chains map[string]schema.Chain
	// overrides replace the prefix of a nested table, e.g. with a
	// null-guarded alias added in the pre-project stage.
	overrides map[string]string

	bindings map[*relast.ColumnRef]*ColumnPathBinding
	state    *assemblyState

	// joinConds are the ON equalities already satisfied by colocation.
	joinConds [][2]string
	// allowElevation is false for write filters, which have no pipeline.
	allowElevation bool
	// grouped switches column references to group-key lookups.
	grouped bool

	counter int
	errs    []error
}

func newCompileCtx(cat *relast.Catalog, opts Options) *CompileCtx {
	return &CompileCtx{
		opts:           opts.withDefaults(),
		resolver:       schema.NewResolver(cat),
		chains:         make(map[string]schema.Chain),
		overrides:      make(map[string]string),
		bindings:       make(map[*relast.ColumnRef]*ColumnPathBinding),
		state:          newAssemblyState(),
		allowElevation: true,
	}
}

// setRoot fixes the physical root and verifies every table lives inside it.
func (c *CompileCtx) setRoot(root *schema.DocumentSchema, tables []string) error {
	c.root = root
	for _, t := range tables {
		if _, err := c.chainFor(t); err != nil {
			return err
		}
	}
	return nil
}

// chainFor returns the containment chain from the root to table.
func (c *CompileCtx) chainFor(table string) (schema.Chain, error) {
	if ch, ok := c.chains[table]; ok {
		return ch, nil
	}
	ch, ok, err := c.resolver.Chain(c.root.Name(), table)
	if err != nil {
		return schema.Chain{}, err
	}
	if !ok {
		return schema.Chain{}, docerr.ErrUnsupportedJoinShape.New(c.root.Name(), table,
			"table is not contained in the queried document")
	}
	c.chains[table] = ch
	return ch, nil
}

// hopPrefixes returns the effective prefix of every hop of ch, applying
// alias overrides.
func (c *CompileCtx) hopPrefixes(ch schema.Chain) []string {
	out := make([]string, len(ch.Hops))
	cur := ""
	for i, h := range ch.Hops {
		cur = schema.JoinPath(cur, h.Ref.Alias)
		if ov, ok := c.overrides[h.Child]; ok {
			cur = ov
		}
		out[i] = cur
	}
	return out
}

// prefixOf returns the field path of table's sub-document, "" at the root.
func (c *CompileCtx) prefixOf(table string) (string, error) {
	ch, err := c.chainFor(table)
	if err != nil {
		return "", err
	}
	ps := c.hopPrefixes(ch)
	if len(ps) == 0 {
		return "", nil
	}
	return ps[len(ps)-1], nil
}

func (c *CompileCtx) chainUnderArray(ch schema.Chain) bool {
	return len(ch.ArrayHops()) > 0
}

// nextName returns a compile-scoped generated field name.
func (c *CompileCtx) nextName(prefix string) string {
	c.counter++
	return fmt.Sprintf("%s%d", prefix, c.counter)
}

// elevate materializes value as a field of the pre-project stage so that
// a later $match can filter on it.
func (c *CompileCtx) elevate(value any) string {
	name := c.nextName("__fn")
	c.state.preProject = append(c.state.preProject, bson.E{Key: name, Value: value})
	c.state.projectBeforeMatch = true
	return name
}

// convert turns a literal into a backend scalar.
func (c *CompileCtx) convert(v any, t relast.ColumnType) (any, error) {
	return c.opts.Converter.ToBackend(v, t)
}

func (c *CompileCtx) addError(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

// firstError returns the first collected error.
func (c *CompileCtx) firstError() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs[0]
}

// existsFilter matches documents where path holds a value.
func existsFilter(path string) bson.D {
	return bson.D{{Key: path, Value: bson.D{
		{Key: "$exists", Value: true},
		{Key: "$ne", Value: nil},
	}}}
}

// validate returns the first structural problem of stmt.
func validate(stmt relast.Statement, cat *relast.Catalog) error {
	if errs := relast.Validate(stmt, cat); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
