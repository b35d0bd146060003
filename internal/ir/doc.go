// Package ir holds the compiler's produced interface: read plans (an ordered
// aggregation pipeline plus output column bindings) and write plans (an
// ordered list of single-collection steps).
//
// Plans are plain data. Stage and mutation documents are bson.D so their key
// order is exactly the order the compiler built them in, which keeps the
// rendered output deterministic.
package ir
