package wal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/quay/zlog"

	"github.com/quay/walcore"
)

// DefaultSegmentSize is the usual size of a WAL segment file.
const DefaultSegmentSize = 16 * 1024 * 1024

const segmentNameLen = 24

// SegmentName is the identity a segment file's name encodes: timeline,
// log id, and segment id, each eight uppercase hex digits.
type SegmentName struct {
	Timeline uint32
	Log      uint32
	Seg      uint32
}

// ParseSegmentName parses a 24-character segment file name.
func ParseSegmentName(name string) (SegmentName, error) {
	var n SegmentName
	if len(name) != segmentNameLen {
		return n, fmt.Errorf("wal: bad segment name %q: want %d hex characters", name, segmentNameLen)
	}
	for i, dst := range []*uint32{&n.Timeline, &n.Log, &n.Seg} {
		v, err := strconv.ParseUint(name[i*8:(i+1)*8], 16, 32)
		if err != nil {
			return n, fmt.Errorf("wal: bad segment name %q: %w", name, err)
		}
		*dst = uint32(v)
	}
	return n, nil
}

func (n SegmentName) String() string {
	return fmt.Sprintf("%08X%08X%08X", n.Timeline, n.Log, n.Seg)
}

// StartLSN returns the start LSN derived from the name, computed as
// Log*segSize + Seg. It is not checked against the page addresses
// stored in the segment's page headers.
func (n SegmentName) StartLSN(segSize uint64) walcore.LSN {
	return walcore.LSN(uint64(n.Log)*segSize + uint64(n.Seg))
}

// Magic bytes for compressed segment archives.
var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Reader is an iterator over the records of one or more WAL segment
// files. It is not safe for concurrent use.
type Reader struct {
	name    SegmentName
	segSize uint64

	f   *os.File
	src io.Reader

	buf      []byte
	page     *cursor
	pageAddr walcore.LSN
	pageNo   int64

	// A record spanning page boundaries accumulates here until the
	// continuation bytes complete it.
	carry      []byte
	carryTot   int
	carryStart walcore.LSN

	done *Record
}

// Open opens a WAL segment file and readies a Reader over its records.
//
// The file name (less an optional ".gz" or ".zst" suffix; such archives
// are decompressed transparently) must be a segment name. The starting
// LSN is derived from the name and the segment size.
func Open(path string) (*Reader, error) {
	r := Reader{buf: make([]byte, PageSize)}
	if err := r.open(path); err != nil {
		return nil, err
	}
	return &r, nil
}

// Continue switches the reader to the next segment file, keeping any
// record fragment carried over the segment boundary.
func (r *Reader) Continue(path string) error {
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	return r.open(path)
}

func (r *Reader) open(path string) error {
	base := filepath.Base(path)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ".zst")
	name, err := ParseSegmentName(base)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return err
	}

	var src io.Reader = br
	segSize := uint64(DefaultSegmentSize)
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		g, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return err
		}
		src = g
	case bytes.HasPrefix(magic, zstdMagic):
		z, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return err
		}
		src = z.IOReadCloser()
	default:
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		if sz := fi.Size(); sz > 0 && sz%PageSize == 0 {
			segSize = uint64(sz)
		}
	}

	r.name, r.segSize = name, segSize
	r.f, r.src = f, src
	r.page = nil
	r.pageNo = 0
	r.done = nil
	return nil
}

// Name reports the parsed identity of the current segment.
func (r *Reader) Name() SegmentName { return r.name }

// StartLSN reports the current segment's start LSN as computed by
// [SegmentName.StartLSN].
func (r *Reader) StartLSN() walcore.LSN { return r.name.StartLSN(r.segSize) }

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Next returns the next record in the log.
//
// A clean end of the segment is reported as [io.EOF]. A record
// fragment pending at EOF is kept; the caller may hand the follow-on
// segment to [Reader.Continue] and keep iterating.
func (r *Reader) Next(ctx context.Context) (*Record, error) {
	for {
		if r.done != nil {
			rec := r.done
			r.done = nil
			recordCounter.WithLabelValues(rec.Header.Rmgr.String()).Inc()
			return rec, nil
		}
		if r.page == nil {
			if err := r.readPage(ctx); err != nil {
				return nil, err
			}
			continue
		}

		c := r.page
		if c.len() == 0 {
			r.page = nil
			continue
		}
		if c.len() < 4 {
			// Too short to even hold a length; stash it as the start
			// of a spanning record unless it's page-tail slack.
			start := r.pageAddr + walcore.LSN(c.pos())
			rest, _ := c.take(c.len())
			r.page = nil
			if !allZero(rest) {
				r.startCarry(rest, 0)
				r.carryStart = start
			}
			continue
		}
		totLen := int(binary.LittleEndian.Uint32(c.buf[c.off:]))
		if totLen != 0 && totLen > c.len() {
			// The record runs past the page end; save the head
			// fragment and pick up the tail on the next page.
			start := r.pageAddr + walcore.LSN(c.pos())
			rest, _ := c.take(c.len())
			r.page = nil
			r.startCarry(rest, totLen)
			r.carryStart = start
			continue
		}

		start := r.pageAddr + walcore.LSN(c.pos())
		rec, err := decodeRecord(ctx, c)
		switch {
		case err == nil:
			rec.LSN = start
			recordCounter.WithLabelValues(rec.Header.Rmgr.String()).Inc()
			return rec, nil
		case errors.Is(err, ErrEmptyRecord):
			// End of this page's payload.
			r.page = nil
			continue
		default:
			return nil, err
		}
	}
}

func (r *Reader) startCarry(head []byte, totLen int) {
	r.carry = append([]byte(nil), head...)
	r.carryTot = totLen
}

func (r *Reader) readPage(ctx context.Context) error {
	switch _, err := io.ReadFull(r.src, r.buf); {
	case errors.Is(err, nil):
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// Spanning fragments survive EOF so a follow-on segment can
		// complete them via Continue.
		return io.EOF
	default:
		return err
	}
	pageCounter.Inc()

	c := newCursor(r.buf)
	h, err := decodePageHeader(ctx, c)
	if err != nil {
		return err
	}
	// Only a segment's first page carries the long form.
	if long := r.pageNo == 0; long != h.IsLong() {
		return ErrIncorrectPageType
	}
	r.pageNo++
	r.pageAddr = h.PageAddr

	switch {
	case h.RemLen > 0:
		tail := int(h.RemLen)
		if tail > c.len() {
			tail = c.len()
		}
		tb, err := c.take(tail)
		if err != nil {
			return err
		}
		if r.carry == nil {
			// Continuation of a record we never saw the head of;
			// skip it.
			zlog.Debug(ctx).
				Uint32("rem_len", h.RemLen).
				Msg("skipping unmatched continuation")
			if err := c.align8(); err != nil {
				return err
			}
			break
		}
		r.carry = append(r.carry, tb...)
		if r.carryTot == 0 && len(r.carry) >= 4 {
			r.carryTot = int(binary.LittleEndian.Uint32(r.carry))
			if r.carryTot == 0 {
				return &RecordError{Detail: "zero length on continued record"}
			}
		}
		if r.carryTot != 0 && len(r.carry) > r.carryTot {
			return &DataLenError{Consumed: len(r.carry), Expected: r.carryTot}
		}
		if r.carryTot != 0 && len(r.carry) == r.carryTot {
			rec, err := decodeRecord(ctx, newCursor(r.carry))
			if err != nil {
				return err
			}
			rec.LSN = r.carryStart
			r.carry, r.carryTot = nil, 0
			// The spanning record's alignment padding sits after the
			// tail in this page.
			if err := c.align8(); err != nil {
				return err
			}
			r.done = rec
		}
	case r.carry != nil:
		// The log stopped mid-record; treat it as the end.
		zlog.Warn(ctx).
			Int("carried", len(r.carry)).
			Msg("dangling record fragment at page boundary")
		return io.EOF
	}

	r.page = c
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
