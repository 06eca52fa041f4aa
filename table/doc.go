// Package table implements shared tables: associative containers that any
// number of script threads can read and mutate concurrently.
//
// This package contains:
//   - StoredValue, the owned representation of a value inside a table
//   - the per-table context (ordered entries, metatable, reader-writer lock)
//   - SharedTable, a copyable view exposing raw access, metatable-aware
//     index/new-index, operator dispatch, iteration, length and dump
//   - Space, which ties tables, functions and channels to one collector
//
// Locking rules: an operation holds at most one table lock at a time, and
// never while calling a metamethod handler. Handlers may therefore touch
// any table, including the one being operated on.
//
// A table is released once no container references it, no hold is
// outstanding and no view obtained from a lookup is reachable. Views from
// lookups are counted as live instances of their table; the count drops
// when the Go runtime finds a view unreachable. Storing a function, channel
// or table the collector has already released fails with StaleHandle.
package table
