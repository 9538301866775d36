// Package heap decodes heap data pages: the page header, the
// line-pointer array, and tuple headers with their NULL bitmaps.
//
// Column values are not decoded, and the data bytes past a tuple's
// header are not exposed.
package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/quay/walcore"
)

// PageSize is the fixed size of a heap page.
const PageSize = 8192

// On-disk sizes.
const (
	headerSize = 24
	lineSize   = 4
	tupleSize  = 23
)

// Page header flag bits.
const (
	PageHasFreeLines = 0x0001
	PageFull         = 0x0002
	PageAllVisible   = 0x0004
)

// LineFlags is the two-bit state of a line pointer.
type LineFlags uint8

const (
	LineUnused LineFlags = iota
	LineNormal
	LineRedirect
	LineDead
)

func (f LineFlags) String() string {
	switch f {
	case LineUnused:
		return "Unused"
	case LineNormal:
		return "Normal"
	case LineRedirect:
		return "Redirect"
	case LineDead:
		return "Dead"
	}
	return fmt.Sprintf("invalid(%d)", uint8(f))
}

// LinePointer is one 4-byte item descriptor. On the wire it's three
// bitfields packed little-endian: 15 bits of offset, 2 of state, 15 of
// length.
type LinePointer struct {
	Off   uint16
	Flags LineFlags
	Len   uint16
}

// DecodeLinePointer unpacks a single line pointer.
func DecodeLinePointer(b []byte) (LinePointer, error) {
	if len(b) < lineSize {
		return LinePointer{}, fmt.Errorf("heap: short line pointer: %d bytes", len(b))
	}
	w := binary.LittleEndian.Uint32(b)
	return LinePointer{
		Off:   uint16(w & 0x7FFF),
		Flags: LineFlags(w >> 15 & 0x3),
		Len:   uint16(w >> 17 & 0x7FFF),
	}, nil
}

// PageHeader is the 24-byte header opening every heap page.
type PageHeader struct {
	LSN      walcore.LSN
	Checksum uint16
	Flags    uint16
	Lower    uint16
	Upper    uint16
	Special  uint16
	Version  uint8
	// PageSize is stored as its high byte only; the low byte of the
	// on-disk u16 is the version field.
	PageSize uint16
	PruneXID walcore.TransactionID
}

// Page is a decoded heap page. The backing bytes are retained for
// tuple access.
type Page struct {
	Header PageHeader
	Lines  []LinePointer

	buf []byte
}

// DecodePage decodes a full 8 KiB heap page.
func DecodePage(b []byte) (*Page, error) {
	if len(b) != PageSize {
		return nil, fmt.Errorf("heap: page must be %d bytes, got %d", PageSize, len(b))
	}
	h := PageHeader{
		LSN:      walcore.LSN(binary.LittleEndian.Uint64(b[0:])),
		Checksum: binary.LittleEndian.Uint16(b[8:]),
		Flags:    binary.LittleEndian.Uint16(b[10:]),
		Lower:    binary.LittleEndian.Uint16(b[12:]),
		Upper:    binary.LittleEndian.Uint16(b[14:]),
		Special:  binary.LittleEndian.Uint16(b[16:]),
		Version:  b[18],
		PageSize: uint16(b[19]) << 8,
		PruneXID: walcore.TransactionID(binary.LittleEndian.Uint32(b[20:])),
	}
	switch {
	case int(h.Lower) > int(h.Upper):
		return nil, fmt.Errorf("heap: pd_lower %d above pd_upper %d", h.Lower, h.Upper)
	case int(h.Upper) > int(h.Special):
		return nil, fmt.Errorf("heap: pd_upper %d above pd_special %d", h.Upper, h.Special)
	case int(h.Special) > PageSize:
		return nil, fmt.Errorf("heap: pd_special %d beyond page end", h.Special)
	}

	p := Page{Header: h, buf: b}
	for i, n := 0, maxOffsetNumber(h.Lower); i < n; i++ {
		lp, err := DecodeLinePointer(b[headerSize+i*lineSize:])
		if err != nil {
			return nil, err
		}
		p.Lines = append(p.Lines, lp)
	}
	return &p, nil
}

// maxOffsetNumber derives the line-pointer count from pd_lower.
func maxOffsetNumber(lower uint16) int {
	if int(lower) <= headerSize {
		return 0
	}
	return (int(lower) - headerSize) / lineSize
}

// LinePointer returns the i'th line pointer, 0-based.
func (p *Page) LinePointer(i int) (LinePointer, error) {
	if i < 0 || i >= len(p.Lines) {
		return LinePointer{}, fmt.Errorf("heap: line pointer %d out of range (%d on page)", i, len(p.Lines))
	}
	return p.Lines[i], nil
}

// Tuple decodes the tuple header addressed by the i'th line pointer,
// which must be in the Normal state.
func (p *Page) Tuple(i int) (*TupleHeader, error) {
	lp, err := p.LinePointer(i)
	if err != nil {
		return nil, err
	}
	if lp.Flags != LineNormal {
		return nil, fmt.Errorf("heap: line pointer %d is %v, not Normal", i, lp.Flags)
	}
	switch {
	case int(lp.Off) < int(p.Header.Upper):
		return nil, fmt.Errorf("heap: tuple %d at %d inside free space", i, lp.Off)
	case int(lp.Off)+int(lp.Len) > int(p.Header.Special):
		return nil, fmt.Errorf("heap: tuple %d overruns special space", i)
	}
	return DecodeTupleHeader(p.buf[lp.Off : int(lp.Off)+int(lp.Len)])
}

// TupleHeader is the fixed part of a heap tuple plus its NULL bitmap.
type TupleHeader struct {
	Xmin walcore.TransactionID
	Xmax walcore.TransactionID
	// CID is the inserting/deleting command id, or the old-style
	// vacuum xid; the infomask says which.
	CID       walcore.CommandID
	CTID      walcore.ItemPointer
	Infomask2 uint16
	Infomask  uint16
	Hoff      uint8
	// Bits is the NULL bitmap: ceil(natts/8) bytes. It is read whenever
	// natts > 0, whatever the infomask says, and is empty only when
	// natts is zero.
	Bits []byte
}

// Natts is the attribute count, the low 11 bits of infomask2.
func (t *TupleHeader) Natts() int { return int(t.Infomask2 & 0x07FF) }

// IsNull reports whether attribute i (0-based) is NULL. A set bit
// means the attribute is present.
func (t *TupleHeader) IsNull(i int) bool {
	if len(t.Bits) == 0 {
		return false
	}
	if i < 0 || i >= t.Natts() {
		return false
	}
	return t.Bits[i>>3]&(1<<(i&7)) == 0
}

// DecodeTupleHeader decodes the 23 fixed bytes of a tuple header and
// the NULL bitmap sized by the attribute count.
func DecodeTupleHeader(b []byte) (*TupleHeader, error) {
	if len(b) < tupleSize {
		return nil, fmt.Errorf("heap: short tuple header: %d bytes", len(b))
	}
	t := TupleHeader{
		Xmin: walcore.TransactionID(binary.LittleEndian.Uint32(b[0:])),
		Xmax: walcore.TransactionID(binary.LittleEndian.Uint32(b[4:])),
		CID:  walcore.CommandID(binary.LittleEndian.Uint32(b[8:])),
		CTID: walcore.ItemPointer{
			BlockNo: walcore.BlockNumber(binary.LittleEndian.Uint32(b[12:])),
			Off:     walcore.OffsetNumber(binary.LittleEndian.Uint16(b[16:])),
		},
		Infomask2: binary.LittleEndian.Uint16(b[18:]),
		Infomask:  binary.LittleEndian.Uint16(b[20:]),
		Hoff:      b[22],
	}
	bm := (t.Natts() + 7) / 8
	if tupleSize+bm > len(b) {
		return nil, fmt.Errorf("heap: tuple truncated inside NULL bitmap: %d attributes, %d bytes", t.Natts(), len(b))
	}
	t.Bits = append([]byte(nil), b[tupleSize:tupleSize+bm]...)
	return &t, nil
}
