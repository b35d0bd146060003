// Package harness runs compile scenarios: YAML files that pair a CUE schema
// with one statement document and pin the compiled plan, or the expected
// failure, to a golden file.
//
// # Scenario Format
//
//	name: customer_orders
//	description: "Inner join of a merged array needs no lookup"
//	schema: ../schema/shop          # CUE table mappings, relative to the file
//	server_version: "4.4"           # optional, defaults to the compiler's
//	statement:
//	  select:
//	    columns: [{expr: {col: customer.name}}, {expr: {col: order.total}}]
//	    from: customer
//	    joins: [{table: order, on: {eq: [{col: customer.id}, {col: order.customer_id}]}}]
//	assertions:
//	  - type: stage_order
//	    stages: [$unwind, $match, $project]
//	  - type: collection
//	    collection: customers
//
// A scenario that must not compile names the failure category instead:
//
//	expect_error: UNSUPPORTED_QUERY_SHAPE
//
// # Golden Files
//
// The plan is rendered with ir.RenderJSON and compared against
// golden/<name>.golden next to the scenario file. Expected failures render
// as a single "error CATEGORY: message" line. Regenerate with
//
//	go test ./internal/harness -update
//
// or "docrel test --update <dir>".
package harness
