package redo

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/quay/zlog"

	"github.com/quay/walcore"
	"github.com/quay/walcore/heap"
	"github.com/quay/walcore/wal"
)

var testPageID = walcore.PageID{
	Locator: walcore.RelFileLocator{SpcNode: 1663, DBNode: 12976, RelNode: 16406},
	Fork:    walcore.ForkMain,
	BlockNo: 0,
}

// mkImagePage builds image bytes for an empty heap page with the hole
// (the free space between pd_lower and pd_upper) elided.
func mkImagePage(holeOffset, holeLength uint16) []byte {
	img := make([]byte, wal.PageSize-int(holeLength))
	binary.LittleEndian.PutUint16(img[12:], holeOffset)   // pd_lower
	binary.LittleEndian.PutUint16(img[14:], holeOffset+holeLength) // pd_upper
	binary.LittleEndian.PutUint16(img[16:], wal.PageSize) // pd_special
	img[18] = 4
	img[19] = wal.PageSize >> 8
	// Recognizable bytes on both sides of the hole.
	for i := 24; i < int(holeOffset); i++ {
		img[i] = 0xAA
	}
	for i := int(holeOffset); i < len(img); i++ {
		img[i] = 0xBB
	}
	return img
}

func fpiRecord(id walcore.PageID, info uint8, img *wal.Image) *wal.Record {
	return &wal.Record{
		Header: wal.RecordHeader{TotLen: 100, Rmgr: walcore.RmgrHeap, Info: info},
		Blocks: []wal.Block{{
			ID:    0,
			Page:  &id,
			Flags: wal.BlockHasImage,
			Image: img,
		}},
	}
}

func TestApplyImageWithHole(t *testing.T) {
	ctx := zlog.Test(t.Context(), t)
	const holeOffset, holeLength = 64, 8000
	img := &wal.Image{
		Length:     wal.PageSize - holeLength,
		HoleOffset: holeOffset,
		HoleLength: holeLength,
		Info:       wal.ImageHasHole | wal.ImageApply,
		Data:       mkImagePage(holeOffset, holeLength),
	}
	m := New()
	rec := fpiRecord(testPageID, wal.HeapInplace, img)
	rec.Op = &wal.OpOpaque{Kind: wal.HeapInplace}
	if err := m.Apply(ctx, rec); err != nil {
		t.Fatal(err)
	}
	pg, ok := m.Page(testPageID)
	if !ok {
		t.Fatal("page not materialized")
	}
	for i := holeOffset; i < holeOffset+holeLength; i++ {
		if pg.Data[i] != 0 {
			t.Fatalf("hole byte %d not zero: 0x%02x", i, pg.Data[i])
		}
	}
	if pg.Data[24] != 0xAA || pg.Data[wal.PageSize-1] != 0xBB {
		t.Error("image bytes misplaced around hole")
	}
	// The restored page must decode as a heap page.
	if _, err := heap.DecodePage(pg.Data[:]); err != nil {
		t.Errorf("restored page: %v", err)
	}
}

func TestApplyCompressedImage(t *testing.T) {
	ctx := zlog.Test(t.Context(), t)
	img := &wal.Image{
		Length: 100,
		Info:   wal.ImageCompressed | wal.ImageApply,
		Data:   make([]byte, 100),
	}
	m := New()
	err := m.Apply(ctx, fpiRecord(testPageID, wal.HeapInplace, img))
	var re *wal.RecordError
	if !errors.As(err, &re) {
		t.Fatalf("got: %v, want RecordError", err)
	}
	if re.Detail != "compression not implemented" {
		t.Errorf("detail: got %q", re.Detail)
	}
	if m.Len() != 0 {
		t.Error("map mutated by rejected record")
	}
}

func TestApplyIgnoresOtherManagers(t *testing.T) {
	ctx := zlog.Test(t.Context(), t)
	m := New()
	rec := fpiRecord(testPageID, 0, &wal.Image{
		Length: wal.PageSize,
		Info:   wal.ImageApply,
		Data:   make([]byte, wal.PageSize),
	})
	rec.Header.Rmgr = walcore.RmgrBtree
	if err := m.Apply(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Error("non-heap record mutated the map")
	}
}

func TestApplyInsert(t *testing.T) {
	ctx := zlog.Test(t.Context(), t)
	m := New()

	// Seed the page with a full image, no hole.
	seed := make([]byte, wal.PageSize)
	binary.LittleEndian.PutUint16(seed[12:], 24)
	binary.LittleEndian.PutUint16(seed[14:], wal.PageSize)
	binary.LittleEndian.PutUint16(seed[16:], wal.PageSize)
	seed[18] = 4
	seed[19] = wal.PageSize >> 8
	err := m.Apply(ctx, fpiRecord(testPageID, wal.HeapInplace, &wal.Image{
		Length: wal.PageSize,
		Info:   wal.ImageApply,
		Data:   seed,
	}))
	if err != nil {
		t.Fatal(err)
	}

	tuple := make([]byte, 28)
	mkTupleHeader(tuple, 2)
	rec := &wal.Record{
		Header: wal.RecordHeader{TotLen: 60, Rmgr: walcore.RmgrHeap},
		Blocks: []wal.Block{{
			ID:      0,
			Page:    &testPageID,
			Flags:   wal.BlockHasData,
			HasData: true,
			DataLen: uint32(len(tuple)),
			Data:    tuple,
		}},
		Op: &wal.OpInsert{Off: 1, Flags: wal.InsertContainsNewTuple},
	}
	if err := m.Apply(ctx, rec); err != nil {
		t.Fatal(err)
	}

	pg, ok := m.Page(testPageID)
	if !ok {
		t.Fatal("page missing")
	}
	hp, err := heap.DecodePage(pg.Data[:])
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(hp.Lines), 1; got != want {
		t.Fatalf("line pointers: got %d, want %d", got, want)
	}
	lp := hp.Lines[0]
	if lp.Flags != heap.LineNormal || lp.Len != 28 {
		t.Errorf("line pointer: got %+v", lp)
	}
	if got, want := int(lp.Off), wal.PageSize-28; got != want {
		t.Errorf("tuple offset: got %d, want %d", got, want)
	}
	tup, err := hp.Tuple(0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := tup.Xmin, walcore.TransactionID(748); got != want {
		t.Errorf("xmin: got %d, want %d", got, want)
	}
}

func TestApplyInsertUnknownPage(t *testing.T) {
	ctx := zlog.Test(t.Context(), t)
	m := New()
	rec := &wal.Record{
		Header: wal.RecordHeader{TotLen: 60, Rmgr: walcore.RmgrHeap},
		Blocks: []wal.Block{{
			ID:      0,
			Page:    &testPageID,
			Flags:   wal.BlockHasData,
			HasData: true,
			DataLen: 4,
			Data:    []byte{1, 2, 3, 4},
		}},
		Op: &wal.OpInsert{Off: 1},
	}
	var re *wal.RecordError
	if err := m.Apply(ctx, rec); !errors.As(err, &re) {
		t.Fatalf("got: %v, want RecordError", err)
	}
	if m.Len() != 0 {
		t.Error("map mutated by rejected record")
	}
}

func TestApplyInsertWillInit(t *testing.T) {
	ctx := zlog.Test(t.Context(), t)
	m := New()
	tuple := make([]byte, 28)
	mkTupleHeader(tuple, 1)
	rec := &wal.Record{
		Header: wal.RecordHeader{TotLen: 60, Rmgr: walcore.RmgrHeap, Info: 0x80},
		Blocks: []wal.Block{{
			ID:      0,
			Page:    &testPageID,
			Flags:   wal.BlockHasData | wal.BlockWillInit,
			HasData: true,
			DataLen: uint32(len(tuple)),
			Data:    tuple,
		}},
		Op: &wal.OpInsert{Off: 1},
	}
	if err := m.Apply(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 {
		t.Fatalf("pages: got %d, want 1", m.Len())
	}
}

func mkTupleHeader(b []byte, natts uint16) {
	binary.LittleEndian.PutUint32(b[0:], 748)
	binary.LittleEndian.PutUint16(b[18:], natts)
	b[22] = 24
}
