package wal

import (
	"context"
	"fmt"
	"strings"

	"github.com/quay/zlog"

	"github.com/quay/walcore"
)

// RecordHeaderSize is the fixed size of a record header.
const RecordHeaderSize = 24

// Low-nibble bits of the record info byte. The high nibble is private
// to the resource manager.
const (
	RecordSpecialRelUpdate = 0x01
	RecordCheckConsistency = 0x02

	recordRmgrInfoMask = 0xF0
)

// RecordHeader is the fixed 24-byte header opening every record.
type RecordHeader struct {
	TotLen uint32
	XID    walcore.TransactionID
	Prev   walcore.LSN
	Info   uint8
	Rmgr   walcore.RmgrID
	CRC    uint32
}

// RmgrInfo is the resource manager's private high nibble of Info.
func (h *RecordHeader) RmgrInfo() uint8 { return h.Info & recordRmgrInfoMask }

// SpecialRelUpdate reports the special-relation-update bit.
func (h *RecordHeader) SpecialRelUpdate() bool { return h.Info&RecordSpecialRelUpdate != 0 }

// CheckConsistency reports the consistency-check bit.
func (h *RecordHeader) CheckConsistency() bool { return h.Info&RecordCheckConsistency != 0 }

func (h *RecordHeader) String() string {
	return fmt.Sprintf("rmgr: %s, len: %d, tx: %d, prev: %s",
		h.Rmgr, h.TotLen, uint32(h.XID), h.Prev)
}

// Record is one fully decoded WAL record.
type Record struct {
	Header RecordHeader
	// LSN is the record's own start position. It is set by the
	// segment reader and zero when the record was decoded from a bare
	// byte slice.
	LSN walcore.LSN
	// Blocks holds the data block references in id order, followed by
	// the main-data portion (ID 0xFE/0xFF) when the record has one.
	Blocks []Block
	// TopXID and Origin carry the optional record extensions.
	TopXID *walcore.TransactionID
	Origin *uint16
	// Op is the structurally decoded operation for the Heap and Heap2
	// resource managers, nil otherwise.
	Op Operation
}

// MainData returns the record's main-data payload, or nil.
func (r *Record) MainData() []byte {
	for i := range r.Blocks {
		if r.Blocks[i].IsMainData() {
			return r.Blocks[i].Data
		}
	}
	return nil
}

// BlockRef returns the data block reference with the given id, or nil.
func (r *Record) BlockRef(id uint8) *Block {
	for i := range r.Blocks {
		if r.Blocks[i].ID == id && r.Blocks[i].Page != nil {
			return &r.Blocks[i]
		}
	}
	return nil
}

func (r *Record) String() string {
	var b strings.Builder
	b.WriteString(r.Header.String())
	if r.LSN.Valid() {
		fmt.Fprintf(&b, ", lsn: %s", r.LSN)
	}
	if r.Op != nil {
		fmt.Fprintf(&b, ", desc: %s", r.Op)
	}
	b.WriteByte('\n')
	for i := range r.Blocks {
		blk := &r.Blocks[i]
		fmt.Fprintf(&b, "\tblk_id: 0x%02X", blk.ID)
		if blk.Page != nil {
			fmt.Fprintf(&b, ", %s, flags: 0x%02X", blk.Page, blk.Flags)
		}
		if blk.Image != nil {
			fmt.Fprintf(&b, ", image: %d bytes (hole %d+%d)",
				blk.Image.Length, blk.Image.HoleOffset, blk.Image.HoleLength)
		}
		fmt.Fprintf(&b, ", data_len: %d\n", blk.DataLen)
	}
	return b.String()
}

// DecodeRecord decodes one record from the front of b, consuming its
// inter-record alignment padding when present, and returns the
// unconsumed remainder.
//
// A zero total length returns [ErrEmptyRecord]: the caller has hit the
// end of a page's payload.
func DecodeRecord(ctx context.Context, b []byte) (*Record, []byte, error) {
	c := newCursor(b)
	rec, err := decodeRecord(ctx, c)
	if err != nil {
		return nil, b, err
	}
	return rec, b[c.pos():], nil
}

func decodeRecord(ctx context.Context, c *cursor) (*Record, error) {
	hdr, err := decodeRecordHeader(c)
	if err != nil {
		return nil, err
	}
	rec := Record{Header: hdr}

	body, err := c.take(int(hdr.TotLen) - RecordHeaderSize)
	if err != nil {
		return nil, err
	}
	bc := newCursor(body)
	rec.Blocks, rec.TopXID, rec.Origin, err = decodeBlocks(ctx, bc)
	if err != nil {
		return nil, err
	}

	switch hdr.Rmgr {
	case walcore.RmgrHeap:
		rec.Op, err = decodeHeapOp(hdr.RmgrInfo(), rec.MainData())
	case walcore.RmgrHeap2:
		rec.Op, err = decodeHeap2Op(hdr.RmgrInfo(), rec.MainData())
	}
	if err != nil {
		return nil, err
	}

	// Records start on 8-byte boundaries; consume the alignment
	// padding separating this record from the next, when the input
	// still holds it.
	if err := c.align8(); err != nil {
		return nil, err
	}
	zlog.Debug(ctx).
		Stringer("rmgr", hdr.Rmgr).
		Uint32("tot_len", hdr.TotLen).
		Int("blocks", len(rec.Blocks)).
		Msg("record")
	return &rec, nil
}

func decodeRecordHeader(c *cursor) (hdr RecordHeader, err error) {
	if err := c.need(RecordHeaderSize); err != nil {
		return hdr, err
	}
	hdr.TotLen, _ = c.uint32()
	if hdr.TotLen == 0 {
		return hdr, ErrEmptyRecord
	}
	if hdr.TotLen < RecordHeaderSize {
		return hdr, &RecordError{Detail: fmt.Sprintf("total length %d below header size", hdr.TotLen)}
	}
	xid, _ := c.uint32()
	hdr.XID = walcore.TransactionID(xid)
	prev, _ := c.uint64()
	hdr.Prev = walcore.LSN(prev)
	hdr.Info, _ = c.uint8()
	rmid, _ := c.uint8()
	hdr.Rmgr = walcore.RmgrID(rmid)
	if !hdr.Rmgr.Valid() {
		return hdr, &ResourceManagerError{ID: rmid}
	}
	if err := c.padding(2); err != nil {
		return hdr, err
	}
	hdr.CRC, _ = c.uint32()
	return hdr, nil
}
