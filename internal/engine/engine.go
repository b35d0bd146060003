package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/backend"
	"github.com/roach88/docrel/internal/ir"
	"github.com/roach88/docrel/internal/pipeline"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/scalar"
	"github.com/roach88/docrel/internal/store"
)

// Engine compiles statements against one catalog and runs them on one
// driver.
//
// Thread-safety: Query and Exec may be called concurrently. Statements are
// not isolated from each other; the backend sees their single-collection
// operations interleaved.
type Engine struct {
	driver  backend.Driver
	catalog *relast.Catalog
	opts    pipeline.Options
	journal *store.Store
	clock   *Clock
	ids     IDGenerator

	cacheSize int
	cache     *planCache

	// The clock catches up with the journal before the first write.
	resumeOnce sync.Once
	resumeErr  error

	mu      sync.Mutex
	ensured map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConverter sets the scalar converter used for literals and results.
func WithConverter(c scalar.Converter) Option {
	return func(e *Engine) {
		e.opts.Converter = c
	}
}

// WithServerVersion sets the backend version the compilers target.
func WithServerVersion(v string) Option {
	return func(e *Engine) {
		e.opts.ServerVersion = v
	}
}

// WithJournal records every propagation step in s.
func WithJournal(s *store.Store) Option {
	return func(e *Engine) {
		e.journal = s
	}
}

// WithCacheSize sets the plan cache size. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// WithIDGenerator sets the generator for statement and journal ids.
// Default: UUIDv7Generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(e *Engine) {
		e.ids = gen
	}
}

// WithClock sets the journal sequence clock. The engine still moves it past
// the journal's last entry before the first write.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New returns an engine running statements over cat on driver.
func New(driver backend.Driver, cat *relast.Catalog, opts ...Option) (*Engine, error) {
	e := &Engine{
		driver:    driver,
		catalog:   cat,
		opts:      pipeline.Options{Converter: scalar.Default()},
		clock:     NewClock(),
		ids:       UUIDv7Generator{},
		cacheSize: DefaultCacheSize,
		ensured:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.opts.Converter == nil {
		e.opts.Converter = scalar.Default()
	}
	cache, err := newPlanCache(e.cacheSize)
	if err != nil {
		return nil, err
	}
	e.cache = cache
	return e, nil
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *relast.Catalog {
	return e.catalog
}

// CompileSelect returns the read plan for sel, from the cache when possible.
func (e *Engine) CompileSelect(sel *relast.Select) (*ir.ReadPlan, error) {
	key, err := cacheKey(sel)
	if err != nil {
		return nil, err
	}
	if p, ok := e.cache.read(key); ok {
		slog.Debug("plan cache hit", "kind", sel.Kind(), "table", p.Table)
		return p, nil
	}
	p, err := pipeline.NewQueryCompiler(e.catalog, e.opts).Compile(sel)
	if err != nil {
		return nil, err
	}
	e.cache.addRead(key, p)
	return p, nil
}

// CompileWrite returns the write plan for stmt, from the cache when
// possible.
func (e *Engine) CompileWrite(stmt relast.Statement) (*ir.WritePlan, error) {
	key, err := cacheKey(stmt)
	if err != nil {
		return nil, err
	}
	if p, ok := e.cache.write(key); ok {
		slog.Debug("plan cache hit", "kind", stmt.Kind(), "table", p.Table)
		return p, nil
	}
	p, err := pipeline.NewWriteCompiler(e.catalog, e.opts).Compile(stmt)
	if err != nil {
		return nil, err
	}
	e.cache.addWrite(key, p)
	return p, nil
}

// Compile returns the plan of any statement: *ir.ReadPlan for SELECT,
// *ir.WritePlan otherwise.
func (e *Engine) Compile(stmt relast.Statement) (any, error) {
	if sel, ok := stmt.(*relast.Select); ok {
		return e.CompileSelect(sel)
	}
	return e.CompileWrite(stmt)
}

// Query runs a SELECT. The caller must Close the returned rows.
func (e *Engine) Query(ctx context.Context, sel *relast.Select) (*Rows, error) {
	plan, err := e.CompileSelect(sel)
	if err != nil {
		return nil, err
	}
	slog.Debug("running query",
		"tables", relast.Tables(sel),
		"collection", plan.Collection,
		"stages", len(plan.Stages))
	cur, err := e.driver.Collection(plan.Collection).Aggregate(ctx, plan.Stages)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", plan.Collection, err)
	}
	return newRows(cur, plan, e.opts.Converter), nil
}

// Result summarizes one executed write statement.
type Result struct {
	StatementID string
	Inserted    int64
	Matched     int64
	Modified    int64
	Deleted     int64
	// Propagated counts copy-out updates that applied; Failed those that
	// did not.
	Propagated int
	Failed     int
}

// Exec runs an INSERT, UPDATE or DELETE. When only propagation fails the
// Result is returned along with a *PropagationError.
func (e *Engine) Exec(ctx context.Context, stmt relast.Statement) (*Result, error) {
	if _, ok := stmt.(*relast.Select); ok {
		return nil, fmt.Errorf("exec: SELECT must go through Query")
	}
	plan, err := e.CompileWrite(stmt)
	if err != nil {
		return nil, err
	}
	if err := e.resumeClock(ctx); err != nil {
		return nil, err
	}

	x := &execution{
		e:        e,
		plan:     plan,
		result:   &Result{StatementID: e.ids.Generate()},
		captured: make(map[string][]bson.D),
	}
	slog.Info("executing statement",
		"statement_id", x.result.StatementID,
		"kind", plan.Statement,
		"table", plan.Table,
		"steps", len(plan.Steps))

	if err := x.run(ctx); err != nil {
		if IsPropagationError(err) {
			slog.Warn("statement partially applied",
				"statement_id", x.result.StatementID,
				"propagated", x.result.Propagated,
				"failed", x.result.Failed)
			return x.result, err
		}
		slog.Error("statement failed",
			"statement_id", x.result.StatementID,
			"kind", plan.Statement,
			"table", plan.Table,
			"error", err)
		return nil, err
	}
	slog.Info("statement applied",
		"statement_id", x.result.StatementID,
		"inserted", x.result.Inserted,
		"modified", x.result.Modified,
		"deleted", x.result.Deleted,
		"propagated", x.result.Propagated)
	return x.result, nil
}

// Native runs a backend-native query ("collection; stage; stage...") with
// $1..$n replaced by args, and returns the raw result documents.
func (e *Engine) Native(ctx context.Context, text string, args ...any) ([]bson.D, error) {
	q, err := backend.ParseNative(text, args...)
	if err != nil {
		return nil, err
	}
	slog.Debug("running native query", "collection", q.Collection, "stages", len(q.Stages))
	return q.Run(ctx, e.driver)
}

// resumeClock moves the clock past the journal's last entry, once.
func (e *Engine) resumeClock(ctx context.Context) error {
	if e.journal == nil {
		return nil
	}
	e.resumeOnce.Do(func() {
		seq, err := e.journal.LastSeq(ctx)
		if err != nil {
			e.resumeErr = fmt.Errorf("resume journal sequence: %w", err)
			return
		}
		e.clock.Observe(seq)
	})
	return e.resumeErr
}

// ensureCollection creates a collection and its indexes the first time
// this engine writes to it.
func (e *Engine) ensureCollection(ctx context.Context, step ir.Step) error {
	e.mu.Lock()
	done := e.ensured[step.Collection]
	e.mu.Unlock()
	if done {
		return nil
	}

	exists, err := e.driver.CollectionExists(ctx, step.Collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", step.Collection, err)
	}
	if !exists {
		if err := e.driver.CreateCollection(ctx, step.Collection); err != nil {
			return fmt.Errorf("create collection %s: %w", step.Collection, err)
		}
		slog.Info("collection created", "collection", step.Collection)
	}
	coll := e.driver.Collection(step.Collection)
	for _, idx := range step.Indexes {
		if err := coll.EnsureIndex(ctx, idx); err != nil {
			return fmt.Errorf("ensure index %s on %s: %w", idx.Name, step.Collection, err)
		}
	}

	e.mu.Lock()
	e.ensured[step.Collection] = true
	e.mu.Unlock()
	return nil
}
