// Package statequery is a small filter language over persisted plugin
// save-state snapshots.
//
// A filter is a conjunction of column comparisons:
//
//	rdn=app.plughost.gain,removed=false
//
// Parse turns that text into a Predicate tree, Validate checks field names
// and value types, and the store compiles the tree to a parameterized SQL
// WHERE fragment. Values are never interpolated into SQL.
//
// Predicate is a sealed interface using the marker method pattern: only
// types in this package implement it, so compilers can switch on the
// concrete node exhaustively.
package statequery
