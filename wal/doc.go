// Package wal decodes write-ahead log segments.
//
// The decoder walks a segment 8 KiB page at a time: a page header
// (short, or long on the first page of a segment), then a payload of
// records. Records that run past the end of a page are reassembled
// from the continuation bytes announced by the next page's header.
//
// [Open] returns a [Reader] over a segment file; the record and page
// decoders are also exported for callers holding raw bytes. A clean
// end of input is reported as [io.EOF]; decoding failures are the
// typed errors in this package, while bad segment names, file-system
// errors and decompression errors are returned as plain errors.
package wal
