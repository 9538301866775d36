package wal

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions carrying no extra context.
var (
	// ErrInvalidPageHeader is returned when a page's magic doesn't
	// match or its info field has undefined bits set.
	ErrInvalidPageHeader = errors.New("wal: invalid page header")

	// ErrIncorrectPageType is returned when a page's long/short form
	// disagrees with its position in the segment.
	ErrIncorrectPageType = errors.New("wal: incorrect page type")

	// ErrEmptyRecord is returned when a record's total length is zero.
	// It marks the end of a page's payload; the iterator treats it as
	// a clean page boundary.
	ErrEmptyRecord = errors.New("wal: empty record")

	// ErrOutOfOrderBlock is returned when a block reference inherits
	// the relation of a previous reference that doesn't exist.
	ErrOutOfOrderBlock = errors.New("wal: out of order block reference")

	// ErrMissingBlockDataLen is returned when a block reference claims
	// data but carries a zero length.
	ErrMissingBlockDataLen = errors.New("wal: block data flagged but length is zero")
)

// IncompleteError reports that the input ended before a structure did.
type IncompleteError struct {
	// Needed is how many more bytes would let the decode proceed.
	Needed int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("wal: incomplete input: %d more bytes needed", e.Needed)
}

// ResourceManagerError reports an id outside the known rmgr table.
type ResourceManagerError struct {
	ID uint8
}

func (e *ResourceManagerError) Error() string {
	return fmt.Sprintf("wal: invalid resource manager id: 0x%02x", e.ID)
}

// ForkNumberError reports a fork code outside the four defined forks.
type ForkNumberError struct {
	Code uint8
}

func (e *ForkNumberError) Error() string {
	return fmt.Sprintf("wal: invalid fork number: 0x%02x", e.Code)
}

// BlockIDError reports a repeated or out-of-order block reference id.
// Prev is -1 when the offending id was the first in the record.
type BlockIDError struct {
	Prev int
	Cur  uint8
}

func (e *BlockIDError) Error() string {
	if e.Prev < 0 {
		return fmt.Sprintf("wal: invalid block id: 0x%02x", e.Cur)
	}
	return fmt.Sprintf("wal: invalid block id: 0x%02x after 0x%02x", e.Cur, e.Prev)
}

// BlockDataLenError reports a data length on a reference that claims
// to have none.
type BlockDataLenError struct {
	Len uint16
}

func (e *BlockDataLenError) Error() string {
	return fmt.Sprintf("wal: unexpected block data length: %d", e.Len)
}

// BlockImageHoleError reports inconsistent full-page-image hole
// geometry.
type BlockImageHoleError struct {
	Offset   uint16
	Length   uint16
	ImageLen uint16
}

func (e *BlockImageHoleError) Error() string {
	return fmt.Sprintf("wal: invalid block image hole: offset %d, length %d, image %d",
		e.Offset, e.Length, e.ImageLen)
}

// IDError reports a reference id byte in the illegal range.
type IDError struct {
	ID uint8
}

func (e *IDError) Error() string {
	return fmt.Sprintf("wal: incorrect reference id: 0x%02x", e.ID)
}

// DataLenError reports a mismatch between bytes consumed and the
// length a header declared.
type DataLenError struct {
	Consumed int
	Expected int
}

func (e *DataLenError) Error() string {
	return fmt.Sprintf("wal: data length mismatch: consumed %d, expected %d", e.Consumed, e.Expected)
}

// LeftoverError reports unconsumed bytes at the end of a record's
// post-header range.
type LeftoverError struct {
	Bytes []byte
}

func (e *LeftoverError) Error() string {
	return fmt.Sprintf("wal: %d leftover bytes after record body", len(e.Bytes))
}

// PaddingValueError reports a non-zero byte inside padding.
type PaddingValueError struct {
	Bytes []byte
}

func (e *PaddingValueError) Error() string {
	return fmt.Sprintf("wal: non-zero padding: % x", e.Bytes)
}

// PaddingLengthError reports padding longer than the 8-byte record
// alignment allows.
type PaddingLengthError struct {
	N int
}

func (e *PaddingLengthError) Error() string {
	return fmt.Sprintf("wal: incorrect padding length: %d", e.N)
}

// RecordError reports a structurally invalid record.
type RecordError struct {
	Detail string
}

func (e *RecordError) Error() string {
	return "wal: invalid record: " + e.Detail
}
