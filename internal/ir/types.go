package ir

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/relast"
)

// Stage is one aggregation pipeline stage document.
type Stage = bson.D

// ColumnBinding tells the row materializer where an output column lives in
// each result document and how to convert it back.
type ColumnBinding struct {
	Name  string            `json:"name"`
	Field string            `json:"field"`
	Type  relast.ColumnType `json:"type"`
	// Pointer marks fields holding a cross-collection pointer; the row value
	// is its $id component, or $id.PointerKey for composite pointers.
	Pointer    bool   `json:"pointer,omitempty"`
	PointerKey string `json:"pointer_key,omitempty"`
	// Hidden fields exist only to drive sorting and are not returned.
	Hidden bool `json:"hidden,omitempty"`
}

// ReadPlan is a compiled SELECT.
type ReadPlan struct {
	Table      string          `json:"table"`
	Collection string          `json:"collection"`
	Stages     []Stage         `json:"stages"`
	Columns    []ColumnBinding `json:"columns"`
}

// Visible returns the non-hidden column bindings in output order.
func (p *ReadPlan) Visible() []ColumnBinding {
	out := make([]ColumnBinding, 0, len(p.Columns))
	for _, c := range p.Columns {
		if !c.Hidden {
			out = append(out, c)
		}
	}
	return out
}

// StepKind names a write plan step.
type StepKind string

const (
	// StepEnsureCollection creates the collection and its indexes if needed.
	StepEnsureCollection StepKind = "ensure_collection"
	// StepFetchEmbedded loads a document to be stitched into the row being
	// written. A missing document fails the statement.
	StepFetchEmbedded StepKind = "fetch_embedded"
	// StepRequireParent fails the statement unless the merge parent exists.
	StepRequireParent StepKind = "require_parent"
	// StepCaptureIdentity records the documents matched by Filter before the
	// primary write, for orphan checks and propagation.
	StepCaptureIdentity StepKind = "capture_identity"
	// StepRequireNoCopies refuses the statement when any captured document
	// still has a copy in the step's collection.
	StepRequireNoCopies StepKind = "require_no_copies"
	StepInsert          StepKind = "insert"
	StepUpdate          StepKind = "update"
	StepDelete          StepKind = "delete"
	// StepPropagate re-reads every captured document and rewrites its copies.
	StepPropagate StepKind = "propagate"
)

// IndexSpec is one index to provision.
type IndexSpec struct {
	Name   string `json:"name,omitempty"`
	Keys   bson.D `json:"keys"`
	Unique bool   `json:"unique,omitempty"`
}

// Step is one single-collection operation of a write plan.
type Step struct {
	Kind       StepKind `json:"kind"`
	Table      string   `json:"table"`
	Collection string   `json:"collection"`
	Filter     bson.D   `json:"filter,omitempty"`
	Document   bson.D   `json:"document,omitempty"`
	Multi      bool     `json:"multi,omitempty"`
	// ArrayFilters bind the $[name] identifiers used in Document.
	ArrayFilters bson.A `json:"array_filters,omitempty"`

	// Indexes are provisioned by StepEnsureCollection.
	Indexes []IndexSpec `json:"indexes,omitempty"`

	// Alias is where a fetched document is stitched (StepFetchEmbedded) or
	// where a copy lives in the target document (StepPropagate).
	Alias string `json:"alias,omitempty"`
	// Stitch marks the write step that receives fetched documents. RowPath
	// locates the row document inside Document ("" keys mean the root).
	Stitch  bool     `json:"stitch,omitempty"`
	RowPath []string `json:"row_path,omitempty"`

	// SourceTable is the table whose data this step protects or copies.
	SourceTable      string `json:"source_table,omitempty"`
	SourceCollection string `json:"source_collection,omitempty"`
	// PointerPath is the filter path of the pointer identity that targets
	// hold for SourceTable; ArrayFilterPath is the same path relative to an
	// array element when the copy sits inside a merged array.
	PointerPath     string `json:"pointer_path,omitempty"`
	ArrayFilterPath string `json:"array_filter_path,omitempty"`
	// KeyPaths locate the referenced key columns in a captured document and
	// KeyNames name them inside a composite pointer identity.
	KeyPaths []string `json:"key_paths,omitempty"`
	KeyNames []string `json:"key_names,omitempty"`

	// Identity is the bound identity a lookup step is checking, for errors.
	Identity any `json:"identity,omitempty"`
}

// WritePlan is a compiled INSERT, UPDATE or DELETE.
type WritePlan struct {
	Statement  string `json:"statement"`
	Table      string `json:"table"`
	Collection string `json:"collection"`
	Steps      []Step `json:"steps"`
}

// StepsOf returns the steps of kind k in plan order.
func (p *WritePlan) StepsOf(k StepKind) []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}
