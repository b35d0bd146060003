// Package engine runs compiled plans against a backend driver.
//
// Reads compile a SELECT into a ReadPlan, run its stages as one aggregate
// on the plan's collection and materialize rows through the plan's column
// bindings: each binding names the result field, whether it holds a
// pointer (in which case the row value is the pointer's $id, or one key of
// a composite $id) and the relational type to convert back to.
//
// Writes compile INSERT, UPDATE and DELETE into WritePlans and interpret
// the steps strictly in plan order:
//
//	ensure_collection  create the collection and its indexes once
//	capture_identity   remember the documents a statement will touch
//	require_no_copies  refuse deletes that would orphan embedded copies
//	require_parent     fail when a merge parent is missing
//	fetch_embedded     load documents to stitch into the written row
//	insert/update/delete
//	propagate          refresh copies of every captured document
//
// Nothing spans collections atomically. A failed step before the primary
// write aborts the statement with nothing written; a failed propagate step
// after it yields a *PropagationError together with the Result, and is
// recorded in the journal when one is configured so Repair can replay it.
//
// Compiled plans are cached in an LRU keyed by a structural hash of the
// statement. Plans are never mutated; stitched documents are cloned.
package engine
