// Package pipeline compiles resolved relational statements into document
// database operations.
//
// QueryCompiler turns a SELECT into an aggregation pipeline with a fixed
// stage order:
//
//	[$addFields] -> $unwind* -> $match -> $group -> $match -> $project -> $sort -> $skip -> $limit
//
// WriteCompiler turns INSERT, UPDATE and DELETE into an ordered list of
// single-collection steps, including the existence checks, orphan checks and
// copy-out propagation that keep denormalized copies in step.
//
// Every compile owns a CompileCtx: its schema memo, column bindings, alias
// counter and error list are discarded when the compile returns. Compilers
// perform no I/O and are safe to use from multiple goroutines as long as
// each call builds its own context, which Compile always does.
package pipeline
