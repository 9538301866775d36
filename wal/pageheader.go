package wal

import (
	"context"

	"github.com/quay/zlog"

	"github.com/quay/walcore"
)

// PageSize is the fixed size of a WAL page.
const PageSize = 8192

// Sizes of the two page header forms.
const (
	ShortHeaderSize = 20
	LongHeaderSize  = 40
)

// Page info bits. Anything outside pageAllFlags is undefined and
// rejected.
const (
	PageFirstIsContrecord          = 0x0001
	PageLongHeader                 = 0x0002
	PageBkpRemovable               = 0x0004
	PageFirstIsOverwriteContrecord = 0x0008

	pageAllFlags = 0x000F
)

const pageMagic = 0xd10d

// PageHeader is the header opening every WAL page. The SysID, SegSize
// and BlockSize fields are populated only on long headers, found on
// the first page of each segment.
type PageHeader struct {
	Magic    uint16
	Info     uint16
	Timeline uint32
	PageAddr walcore.LSN
	// RemLen counts bytes of the previous record continuing into this
	// page's payload; zero means the payload starts on a record
	// boundary.
	RemLen uint32

	SysID     uint64
	SegSize   uint32
	BlockSize uint32
}

// IsLong reports whether the header carries the long extension.
func (h *PageHeader) IsLong() bool { return h.Info&PageLongHeader != 0 }

// HeaderSize reports the on-disk size of this header form.
func (h *PageHeader) HeaderSize() int {
	if h.IsLong() {
		return LongHeaderSize
	}
	return ShortHeaderSize
}

// DecodePageHeader decodes a short or long page header from the front
// of b and returns the unconsumed remainder.
func DecodePageHeader(ctx context.Context, b []byte) (PageHeader, []byte, error) {
	c := newCursor(b)
	h, err := decodePageHeader(ctx, c)
	if err != nil {
		return h, b, err
	}
	return h, b[c.pos():], nil
}

func decodePageHeader(ctx context.Context, c *cursor) (h PageHeader, err error) {
	if err := c.need(ShortHeaderSize); err != nil {
		return h, err
	}
	// Reads from a sufficiently sized cursor can't fail.
	h.Magic, _ = c.uint16()
	if h.Magic != pageMagic {
		return h, ErrInvalidPageHeader
	}
	h.Info, _ = c.uint16()
	if h.Info&^uint16(pageAllFlags) != 0 {
		return h, ErrInvalidPageHeader
	}
	h.Timeline, _ = c.uint32()
	addr, _ := c.uint64()
	h.PageAddr = walcore.LSN(addr)
	h.RemLen, _ = c.uint32()
	if !h.IsLong() {
		zlog.Debug(ctx).
			Str("pageaddr", h.PageAddr.String()).
			Uint32("rem_len", h.RemLen).
			Msg("short page header")
		return h, nil
	}

	if err := c.need(LongHeaderSize - ShortHeaderSize); err != nil {
		return h, err
	}
	// Alignment between the short fields and the long extension.
	if err := c.padding(4); err != nil {
		return h, err
	}
	h.SysID, _ = c.uint64()
	h.SegSize, _ = c.uint32()
	h.BlockSize, _ = c.uint32()
	zlog.Debug(ctx).
		Str("pageaddr", h.PageAddr.String()).
		Uint32("seg_size", h.SegSize).
		Uint32("blcksz", h.BlockSize).
		Msg("long page header")
	return h, nil
}
