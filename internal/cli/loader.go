package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/docrel/internal/backend"
	"github.com/roach88/docrel/internal/config"
	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/engine"
	"github.com/roach88/docrel/internal/relast"
	"github.com/roach88/docrel/internal/schema"
	"github.com/roach88/docrel/internal/stmtdoc"
	"github.com/roach88/docrel/internal/store"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeNotFound     = "E002" // Path not found
	ErrCodeSchemaLoad   = "E003" // CUE table mappings failed to load
	ErrCodeConfig       = "E004" // Config file invalid
	ErrCodeStatement    = "E005" // Statement document invalid
	ErrCodeWriteFailed  = "E006" // File write error
	ErrCodeBackend      = "E007" // Backend unreachable or failed
	ErrCodeJournal      = "E008" // Propagation journal unavailable
	ErrCodeScenarioLoad = "E009" // Scenario file invalid

	// Statement outcome errors, one per failure category.
	ErrCodeConfiguration  = "E101" // Invalid table mapping
	ErrCodeUnsupported    = "E102" // Statement shape cannot be compiled
	ErrCodeMissingRelated = "E103" // Write needs a document that does not exist
	ErrCodeOrphanRisk     = "E104" // Delete refused, copies would dangle
	ErrCodePropagation    = "E105" // Primary write applied, copies not refreshed
)

// ErrorCode maps err to its CLI error code. Errors outside the failure
// taxonomy map to fallback.
func ErrorCode(err error, fallback string) string {
	switch docerr.CategoryOf(err) {
	case docerr.CategoryConfiguration:
		return ErrCodeConfiguration
	case docerr.CategoryUnsupported:
		return ErrCodeUnsupported
	case docerr.CategoryMissingRelated:
		return ErrCodeMissingRelated
	case docerr.CategoryOrphanRisk:
		return ErrCodeOrphanRisk
	case docerr.CategoryPropagationFailure:
		return ErrCodePropagation
	}
	var loadErr *schema.LoadError
	if errors.As(err, &loadErr) {
		return ErrCodeSchemaLoad
	}
	return fallback
}

// codedError carries the CLI error code and exit code of a failed step.
type codedError struct {
	code string
	exit int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func coded(exit int, code string, err error) error {
	return &codedError{code: code, exit: exit, err: err}
}

// fail reports err through the formatter and returns the matching
// ExitError. Errors that carry no code are command errors.
func fail(f *OutputFormatter, err error) error {
	code, exit := ErrorCode(err, ErrCodeGeneric), ExitCommandError
	var ce *codedError
	if errors.As(err, &ce) {
		code, exit = ce.code, ce.exit
	} else {
		err = coded(exit, code, err)
	}
	_ = f.Fail(code, err)
	return WrapExitError(exit, code, err)
}

// Reported reports whether the failing command already printed err.
// Command errors raised before a command runs (flags, config) are not.
func Reported(err error) bool {
	var ce *codedError
	if errors.As(err, &ce) {
		return true
	}
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Code == ExitFailure
}

// driverConn is an open backend plus the means to close it.
type driverConn struct {
	driver        backend.Driver
	serverVersion string
	close         func(context.Context) error
}

// openDriver connects to the configured backend. Tests replace it.
var openDriver = func(ctx context.Context, mc config.MongoConfig) (*driverConn, error) {
	m, err := backend.Connect(ctx, mc.URI, mc.Database)
	if err != nil {
		return nil, err
	}
	version := mc.ServerVersion
	if version == "" {
		if version, err = m.ServerVersion(ctx); err != nil {
			_ = m.Close(ctx)
			return nil, fmt.Errorf("failed to read server version: %w", err)
		}
	}
	return &driverConn{driver: m, serverVersion: version, close: m.Close}, nil
}

// settings returns the loaded config, loading it when a subcommand runs
// without the root command.
func (o *RootOptions) settings() (*config.Config, error) {
	if o.Config != nil {
		return o.Config, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.SchemaDir != "" {
		cfg.Schema.Dir = o.SchemaDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o.Config = cfg
	return cfg, nil
}

// session bundles what a statement command needs.
type session struct {
	cfg     *config.Config
	catalog *relast.Catalog
	engine  *engine.Engine
	journal *store.Store
	conn    *driverConn
}

// Close releases the journal and the backend connection.
func (s *session) Close(ctx context.Context) {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			slog.Warn("failed to close journal", "error", err)
		}
	}
	if s.conn != nil && s.conn.close != nil {
		if err := s.conn.close(ctx); err != nil {
			slog.Warn("failed to close backend connection", "error", err)
		}
	}
}

// loadCatalog reads the CUE table mappings in dir.
func loadCatalog(dir string) (*relast.Catalog, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, coded(ExitCommandError, ErrCodeNotFound, fmt.Errorf("schema directory not found: %s", dir))
	}
	cat, err := schema.LoadCatalog(dir)
	if err != nil {
		return nil, coded(ExitCommandError, ErrCodeSchemaLoad, err)
	}
	return cat, nil
}

// loadStatement loads the catalog and binds the statement file against it.
func loadStatement(opts *RootOptions, path string) (*config.Config, *relast.Catalog, relast.Statement, error) {
	cfg, err := opts.settings()
	if err != nil {
		return nil, nil, nil, coded(ExitCommandError, ErrCodeConfig, err)
	}
	cat, err := loadCatalog(cfg.Schema.Dir)
	if err != nil {
		return nil, nil, nil, err
	}
	stmt, err := stmtdoc.Load(path, cat)
	if err != nil {
		return nil, nil, nil, coded(ExitCommandError, ErrorCode(err, ErrCodeStatement), err)
	}
	return cfg, cat, stmt, nil
}

// openSession connects the backend, opens the journal and builds the
// engine over cat.
func openSession(ctx context.Context, cfg *config.Config, cat *relast.Catalog) (*session, error) {
	s := &session{cfg: cfg, catalog: cat}

	conn, err := openDriver(ctx, cfg.Mongo)
	if err != nil {
		return nil, coded(ExitCommandError, ErrCodeBackend, err)
	}
	s.conn = conn

	engineOpts := []engine.Option{
		engine.WithServerVersion(conn.serverVersion),
		engine.WithCacheSize(cfg.Cache.Size),
	}
	if cfg.Journal.Path != "" {
		st, err := store.Open(cfg.Journal.Path)
		if err != nil {
			s.Close(ctx)
			return nil, coded(ExitCommandError, ErrCodeJournal, err)
		}
		s.journal = st
		engineOpts = append(engineOpts, engine.WithJournal(st))
	}

	eng, err := engine.New(conn.driver, cat, engineOpts...)
	if err != nil {
		s.Close(ctx)
		return nil, coded(ExitCommandError, ErrorCode(err, ErrCodeGeneric), err)
	}
	s.engine = eng
	slog.Debug("session opened",
		"database", cfg.Mongo.Database,
		"server_version", conn.serverVersion,
		"journal", cfg.Journal.Path,
		"tables", cat.Len())
	return s, nil
}
