// Package store is the SQLite journal of copy-out propagations.
//
// Every propagation step the engine runs is recorded before it is applied
// and marked applied or failed afterwards. Failed and never-finished entries
// can be replayed later in their original order.
//
// # Ordering
//
//   - Entries carry seq INTEGER from the engine's logical clock.
//   - Reads order by seq ASC, id ASC COLLATE BINARY.
//
// Connections run in WAL mode with synchronous=NORMAL and a five second
// busy timeout. PRAGMA user_version tracks schema migrations.
//
// Filter, update and array filter documents are stored as canonical
// Extended JSON so that BSON types survive a round trip.
package store
