package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/docrel/internal/relast"
)

// LoadError reports a malformed table mapping, with its CUE position when
// one is known.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadCatalog loads every *.cue file in dir as one CUE instance and decodes
// its top-level tables struct.
//
//	tables: {
//		customer: {
//			collection: "customers"
//			columns: [{name: "id", type: "int"}, {name: "name", type: "string"}]
//			primary_key: ["id"]
//		}
//	}
func LoadCatalog(dir string) (*relast.Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}
	v := ctx.BuildInstance(instances[0])
	return catalogFromValue(v)
}

// LoadCatalogString compiles src as a single CUE file named name.
func LoadCatalogString(name, src string) (*relast.Catalog, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(name))
	return catalogFromValue(v)
}

func catalogFromValue(v cue.Value) (*relast.Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &LoadError{Field: "tables", Message: "tables struct is required", Pos: v.Pos()}
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	cat, _ := relast.NewCatalog()
	for iter.Next() {
		t, err := decodeTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		if err := cat.Add(t); err != nil {
			return nil, &LoadError{Field: "tables." + t.Name, Message: err.Error(), Pos: iter.Value().Pos()}
		}
	}
	if cat.Len() == 0 {
		return nil, &LoadError{Field: "tables", Message: "no tables declared", Pos: tablesVal.Pos()}
	}
	return cat, nil
}

func decodeTable(name string, v cue.Value) (*relast.Table, error) {
	var t relast.Table
	if err := v.Decode(&t); err != nil {
		return nil, formatCUEError(err)
	}
	t.Name = name
	field := "tables." + name

	if len(t.Columns) == 0 {
		return nil, &LoadError{Field: field + ".columns", Message: "at least one column is required", Pos: v.Pos()}
	}
	for _, c := range t.Columns {
		if !c.Type.Valid() {
			return nil, &LoadError{
				Field:   field + ".columns." + c.Name,
				Message: fmt.Sprintf("invalid column type %q", c.Type),
				Pos:     v.Pos(),
			}
		}
	}
	if len(t.PrimaryKey) == 0 {
		return nil, &LoadError{Field: field + ".primary_key", Message: "primary key is required", Pos: v.Pos()}
	}
	for _, pk := range t.PrimaryKey {
		if _, ok := t.Column(pk); !ok {
			return nil, &LoadError{
				Field:   field + ".primary_key",
				Message: fmt.Sprintf("primary key column %s is not declared", pk),
				Pos:     v.Pos(),
			}
		}
	}
	return &t, nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
