package heap

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/quay/walcore"
)

func TestDecodeLinePointer(t *testing.T) {
	lp, err := DecodeLinePointer([]byte{0x80, 0x9f, 0x38, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	want := LinePointer{Off: 8064, Flags: LineNormal, Len: 28}
	if !cmp.Equal(lp, want) {
		t.Error(cmp.Diff(lp, want))
	}

	if _, err := DecodeLinePointer([]byte{0x80}); err == nil {
		t.Error("expected error on short input")
	}
}

var pageHeaderFixture = []byte{
	0x0e, 0x00, 0x00, 0x00, 0x68, 0x7f, 0xd3, 0x8a,
	0xf4, 0x9f,
	0x00, 0x00,
	0x28, 0x00,
	0x80, 0x1f,
	0x00, 0x20,
	0x04,
	0x20,
	0x00, 0x00, 0x00, 0x00,
}

// mkPage builds a page from a 24-byte header fixture, laying out one
// 28-byte tuple per line pointer from the page end downward.
func mkPage(t *testing.T, hdr []byte, tuples int) []byte {
	t.Helper()
	pg := make([]byte, PageSize)
	copy(pg, hdr)
	binary.LittleEndian.PutUint16(pg[12:], uint16(headerSize+tuples*lineSize)) // pd_lower
	upper := PageSize - tuples*28
	binary.LittleEndian.PutUint16(pg[14:], uint16(upper))   // pd_upper
	binary.LittleEndian.PutUint16(pg[16:], uint16(PageSize)) // pd_special
	for i := 0; i < tuples; i++ {
		off := PageSize - (i+1)*28
		word := uint32(off)&0x7FFF | 1<<15 | uint32(28)<<17
		binary.LittleEndian.PutUint32(pg[headerSize+i*lineSize:], word)
	}
	return pg
}

func TestDecodePageHeader(t *testing.T) {
	pg := make([]byte, PageSize)
	copy(pg, pageHeaderFixture)
	p, err := DecodePage(pg)
	if err != nil {
		t.Fatal(err)
	}
	want := PageHeader{
		LSN:      walcore.LSN(0x8AD37F680000000E),
		Checksum: 0x9FF4,
		Flags:    0,
		Lower:    0x28,
		Upper:    0x1F80,
		Special:  0x2000,
		Version:  4,
		PageSize: 8192,
		PruneXID: 0,
	}
	if got := p.Header; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	// pd_lower 0x28 leaves room for (0x28-24)/4 line pointers.
	if len(p.Lines) != 4 {
		t.Fatalf("line pointers: got %d, want 4", len(p.Lines))
	}
}

func TestDecodePageTwoTuples(t *testing.T) {
	pg, err := DecodePage(mkPage(t, pageHeaderFixture, 2))
	if err != nil {
		t.Fatal(err)
	}
	wantLines := []LinePointer{
		{Off: 8164, Flags: LineNormal, Len: 28},
		{Off: 8136, Flags: LineNormal, Len: 28},
	}
	if !cmp.Equal(pg.Lines, wantLines) {
		t.Error(cmp.Diff(pg.Lines, wantLines))
	}
	if _, err := pg.LinePointer(2); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestDecodePageBadGeometry(t *testing.T) {
	pg := make([]byte, PageSize)
	copy(pg, pageHeaderFixture)
	binary.LittleEndian.PutUint16(pg[12:], 0x2000) // pd_lower
	binary.LittleEndian.PutUint16(pg[14:], 0x1000) // pd_upper
	if _, err := DecodePage(pg); err == nil {
		t.Error("expected error on pd_lower > pd_upper")
	}

	if _, err := DecodePage(make([]byte, 100)); err == nil {
		t.Error("expected error on short page")
	}
}

// mkTuple writes a tuple header with the given attribute count and
// NULL bitmap into b.
func mkTuple(b []byte, natts uint16, bits []byte) {
	binary.LittleEndian.PutUint32(b[0:], 748)  // xmin
	binary.LittleEndian.PutUint32(b[4:], 0)    // xmax
	binary.LittleEndian.PutUint32(b[8:], 1)    // cid
	binary.LittleEndian.PutUint32(b[12:], 3)   // ctid block
	binary.LittleEndian.PutUint16(b[16:], 2)   // ctid offset
	binary.LittleEndian.PutUint16(b[18:], natts)
	binary.LittleEndian.PutUint16(b[20:], 0x0001) // HASNULL
	b[22] = byte(tupleSize + len(bits))
	copy(b[tupleSize:], bits)
}

func TestTupleHeader(t *testing.T) {
	pg := mkPage(t, pageHeaderFixture, 1)
	mkTuple(pg[PageSize-28:], 3, []byte{0b101})
	p, err := DecodePage(pg)
	if err != nil {
		t.Fatal(err)
	}
	tup, err := p.Tuple(0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := tup.Xmin, walcore.TransactionID(748); got != want {
		t.Errorf("xmin: got %d, want %d", got, want)
	}
	if got, want := tup.CTID, (walcore.ItemPointer{BlockNo: 3, Off: 2}); got != want {
		t.Errorf("ctid: got %v, want %v", got, want)
	}
	if got, want := tup.Natts(), 3; got != want {
		t.Errorf("natts: got %d, want %d", got, want)
	}
	// Bitmap 0b101: attributes 0 and 2 present, 1 NULL.
	for i, null := range []bool{false, true, false} {
		if got := tup.IsNull(i); got != null {
			t.Errorf("attribute %d: IsNull got %v, want %v", i, got, null)
		}
	}
}

func TestTupleNotNormal(t *testing.T) {
	pg := mkPage(t, pageHeaderFixture, 1)
	// Rewrite line pointer 0 as a redirect.
	word := uint32(5)&0x7FFF | 2<<15
	binary.LittleEndian.PutUint32(pg[headerSize:], word)
	p, err := DecodePage(pg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Tuple(0); err == nil {
		t.Error("expected error on redirect line pointer")
	}
}
