package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docrel/internal/docerr"
)

// Scenario defines a compile scenario: one statement compiled against one
// schema.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario pins down.
	Description string `yaml:"description"`

	// Schema is the directory of CUE table mappings. Relative paths are
	// resolved against the scenario file's directory.
	Schema string `yaml:"schema"`

	// ServerVersion is the backend version the compiler targets.
	ServerVersion string `yaml:"server_version,omitempty"`

	// Statement is a statement document (select, insert, update or delete).
	Statement yaml.Node `yaml:"statement"`

	// ExpectError is the failure category the compile must report, e.g.
	// UNSUPPORTED_QUERY_SHAPE. Empty means the statement must compile.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions check properties of the compiled plan.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir is the directory the scenario was loaded from.
	dir string
}

// Assertion checks one property of a compiled plan.
type Assertion struct {
	// Type specifies the assertion type:
	// - "collection": the plan runs against Collection
	// - "stage_contains": the pipeline has a stage with operator Stage
	// - "stage_count": operator Stage appears exactly Count times
	// - "stage_order": operators Stages appear in this order
	// - "step_order": write step kinds Steps appear in this order
	Type string `yaml:"type"`

	// Collection is the expected root collection (used by collection).
	Collection string `yaml:"collection,omitempty"`

	// Stage is a stage operator such as $unwind (used by stage_contains
	// and stage_count).
	Stage string `yaml:"stage,omitempty"`

	// Count is the expected number of occurrences (used by stage_count).
	Count int `yaml:"count,omitempty"`

	// Stages is the expected operator order (used by stage_order).
	Stages []string `yaml:"stages,omitempty"`

	// Steps is the expected step kind order (used by step_order).
	Steps []string `yaml:"steps,omitempty"`
}

// Assertion type constants.
const (
	AssertCollection    = "collection"
	AssertStageContains = "stage_contains"
	AssertStageCount    = "stage_count"
	AssertStageOrder    = "stage_order"
	AssertStepOrder     = "step_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	scenario.dir = filepath.Dir(path)
	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(scenario.dir, scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	out := make([]*Scenario, 0, len(files))
	for _, f := range files {
		s, err := LoadScenario(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// GoldenDir is where the scenario's golden file lives.
func (s *Scenario) GoldenDir() string {
	return filepath.Join(s.dir, "golden")
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
		return fmt.Errorf("schema directory not found: %s", s.Schema)
	}

	if s.Statement.Kind == 0 {
		return fmt.Errorf("statement is required")
	}

	switch docerr.Category(s.ExpectError) {
	case docerr.CategoryNone, docerr.CategoryConfiguration, docerr.CategoryUnsupported:
	default:
		return fmt.Errorf("expect_error: %q is not a compile-time failure category", s.ExpectError)
	}
	if s.ExpectError != "" && len(s.Assertions) > 0 {
		return fmt.Errorf("assertions cannot be combined with expect_error")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCollection:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for collection", index)
		}
	case AssertStageContains:
		if a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for stage_contains", index)
		}
	case AssertStageCount:
		if a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for stage_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for stage_count", index)
		}
	case AssertStageOrder:
		if len(a.Stages) == 0 {
			return fmt.Errorf("assertions[%d]: stages list is required for stage_order", index)
		}
	case AssertStepOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for step_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
