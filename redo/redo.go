// Package redo replays decoded WAL records against an in-memory map
// of page images.
//
// Only the Heap and Heap2 resource managers are modeled; records from
// other managers are framing-complete but ignored here. Replay is
// atomic per record: either every page mutation the record implies is
// applied, or the map is left untouched.
package redo

import (
	"context"
	"encoding/binary"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/quay/walcore"
	"github.com/quay/walcore/wal"
)

var imageCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "walcore",
	Subsystem: "redo",
	Name:      "images_restored_total",
	Help:      "Full-page images materialized into the page map.",
})

// Page is an 8 KiB page image owned by the map.
type Page struct {
	ID   walcore.PageID
	Data [wal.PageSize]byte
}

// PageMap holds the current image of every page touched by applied
// records.
type PageMap struct {
	pages map[walcore.PageID]*Page
}

// New returns an empty page map.
func New() *PageMap {
	return &PageMap{pages: make(map[walcore.PageID]*Page)}
}

// Page returns the current image for the given identity.
func (m *PageMap) Page(id walcore.PageID) (*Page, bool) {
	p, ok := m.pages[id]
	return p, ok
}

// Len reports the number of pages tracked.
func (m *PageMap) Len() int { return len(m.pages) }

// Apply replays one record against the map.
func (m *PageMap) Apply(ctx context.Context, rec *wal.Record) error {
	switch rec.Header.Rmgr {
	case walcore.RmgrHeap, walcore.RmgrHeap2:
	default:
		return nil
	}

	// Stage every mutation; commit only when the whole record
	// applied.
	stage := make(map[walcore.PageID]*Page)
	for i := range rec.Blocks {
		blk := &rec.Blocks[i]
		if blk.Image == nil || blk.Page == nil {
			continue
		}
		if blk.Image.Compressed() {
			return &wal.RecordError{Detail: "compression not implemented"}
		}
		if !blk.Image.Apply() {
			continue
		}
		pg, err := restoreImage(*blk.Page, blk.Image)
		if err != nil {
			return err
		}
		stage[pg.ID] = pg
		imageCounter.Inc()
	}

	switch op := rec.Op.(type) {
	case *wal.OpInsert:
		if err := m.applyInsert(ctx, rec, op, stage); err != nil {
			return err
		}
	case *wal.OpDelete, *wal.OpUpdate, *wal.OpPrune, *wal.OpOpaque, nil:
		// Beyond full-page images, in-place redo for these operations
		// isn't modeled.
	}

	for id, pg := range stage {
		m.pages[id] = pg
	}
	zlog.Debug(ctx).
		Stringer("rmgr", rec.Header.Rmgr).
		Int("pages", len(stage)).
		Msg("applied record")
	return nil
}

// restoreImage materializes a full 8 KiB page from a wire image,
// splicing the elided hole back in as zeros.
func restoreImage(id walcore.PageID, im *wal.Image) (*Page, error) {
	if int(im.Length)+int(im.HoleLength) != wal.PageSize {
		return nil, &wal.RecordError{Detail: "image and hole do not cover the page"}
	}
	if int(im.HoleOffset) > len(im.Data) {
		return nil, &wal.RecordError{Detail: "image hole offset beyond image data"}
	}
	pg := Page{ID: id}
	n := copy(pg.Data[:im.HoleOffset], im.Data)
	copy(pg.Data[int(im.HoleOffset)+int(im.HoleLength):], im.Data[n:])
	return &pg, nil
}

// applyInsert places the inserted tuple on the target page: the tuple
// bytes go below pd_upper and a Normal line pointer is written at the
// insert offset.
func (m *PageMap) applyInsert(ctx context.Context, rec *wal.Record, op *wal.OpInsert, stage map[walcore.PageID]*Page) error {
	blk := rec.BlockRef(0)
	if blk == nil {
		return &wal.RecordError{Detail: "insert without block reference 0"}
	}
	if len(blk.Data) == 0 {
		// Tuple data elided; the full-page image already reflects the
		// insert.
		return nil
	}

	pg, ok := stage[*blk.Page]
	if !ok {
		cur, found := m.pages[*blk.Page]
		if !found {
			if !blk.WillInit() {
				return &wal.RecordError{Detail: "insert into unknown page"}
			}
			pg = initPage(*blk.Page)
		} else {
			// Work on a copy so a failure can't leave the live page
			// half-written.
			cp := *cur
			pg = &cp
		}
		stage[*blk.Page] = pg
	}

	const (
		headerSize = 24
		lineSize   = 4
	)
	lower := binary.LittleEndian.Uint16(pg.Data[12:])
	upper := binary.LittleEndian.Uint16(pg.Data[14:])
	special := binary.LittleEndian.Uint16(pg.Data[16:])

	tup := blk.Data
	if int(upper) < int(lower)+lineSize || int(upper)-len(tup) < int(lower) {
		return &wal.RecordError{Detail: "no room for inserted tuple"}
	}
	newUpper := int(upper) - len(tup)
	copy(pg.Data[newUpper:upper], tup)

	lpOff := headerSize + (int(op.Off)-1)*lineSize
	if lpOff < headerSize || lpOff+lineSize > int(special) {
		return &wal.RecordError{Detail: "insert offset outside line pointer area"}
	}
	word := uint32(newUpper)&0x7FFF | 1<<15 | (uint32(len(tup))&0x7FFF)<<17
	binary.LittleEndian.PutUint32(pg.Data[lpOff:], word)

	if end := lpOff + lineSize; end > int(lower) {
		lower = uint16(end)
	}
	binary.LittleEndian.PutUint16(pg.Data[12:], lower)
	binary.LittleEndian.PutUint16(pg.Data[14:], uint16(newUpper))

	zlog.Debug(ctx).
		Stringer("page", blk.Page).
		Uint16("off", uint16(op.Off)).
		Int("len", len(tup)).
		Msg("inserted tuple")
	return nil
}

// initPage builds an empty page for WILL_INIT inserts.
func initPage(id walcore.PageID) *Page {
	pg := Page{ID: id}
	binary.LittleEndian.PutUint16(pg.Data[12:], 24)           // pd_lower
	binary.LittleEndian.PutUint16(pg.Data[14:], wal.PageSize) // pd_upper
	binary.LittleEndian.PutUint16(pg.Data[16:], wal.PageSize) // pd_special
	pg.Data[18] = 4                                           // layout version
	pg.Data[19] = wal.PageSize >> 8
	return &pg
}
