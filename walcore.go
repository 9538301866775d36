// Package walcore provides the domain types shared by the WAL and heap
// decoders.
//
// The package follows PostgreSQL's on-disk vocabulary: log sequence
// numbers, transaction identifiers, resource managers, and the triple
// that names a relation's file. Decoding lives in the walcore/wal and
// walcore/heap packages; replay lives in walcore/redo.
package walcore
