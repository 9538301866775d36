package wal

import (
	"context"

	"github.com/quay/zlog"

	"github.com/quay/walcore"
)

// Reference id bytes. Ids below maxBlockID are data block references;
// the rest of the space is reserved except for the four ids here.
const (
	maxBlockID = 32

	BlockIDTopXID    = 0xFC
	BlockIDOrigin    = 0xFD
	BlockIDDataLong  = 0xFE
	BlockIDDataShort = 0xFF
)

// High-nibble flags of a data block reference's fork_flags byte.
const (
	BlockHasImage = 0x10
	BlockHasData  = 0x20
	BlockWillInit = 0x40
	BlockSameRel  = 0x80

	blockForkMask = 0x0F
	blockFlagMask = 0xF0
)

// Full-page-image info bits.
const (
	ImageHasHole    = 0x01
	ImageCompressed = 0x02
	ImageApply      = 0x04
)

// Image is a full-page image embedded in a block reference.
type Image struct {
	// Length counts the image bytes present on the wire; a hole, if
	// any, is elided and restored on replay.
	Length     uint16
	HoleOffset uint16
	HoleLength uint16
	Info       uint8
	// Data is an owned copy of the wire bytes.
	Data []byte
}

// Apply reports whether the image must be restored during replay.
func (im *Image) Apply() bool { return im.Info&ImageApply != 0 }

// Compressed reports whether the image bytes are compressed.
func (im *Image) Compressed() bool { return im.Info&ImageCompressed != 0 }

// Block is one reference within a record: either a data block
// reference (ID < 32) naming a page, or the record's main-data
// portion (ID 0xFE or 0xFF) with Page nil.
type Block struct {
	ID    uint8
	Page  *walcore.PageID
	Flags uint8
	Image *Image

	HasData bool
	DataLen uint32
	// Data is an owned copy of the block's payload.
	Data []byte
}

// HasImage reports whether the reference carried a full-page image.
func (b *Block) HasImage() bool { return b.Flags&BlockHasImage != 0 }

// WillInit reports whether redo reinitializes the page.
func (b *Block) WillInit() bool { return b.Flags&BlockWillInit != 0 }

// IsMainData reports whether this is the record's main-data portion.
func (b *Block) IsMainData() bool { return b.ID >= BlockIDDataLong }

// DecodeBlocks decodes a record's post-header byte range: the ordered
// block references, then each reference's image and data payloads,
// then the main data. The whole of b must be consumed.
func DecodeBlocks(ctx context.Context, b []byte) ([]Block, error) {
	c := newCursor(b)
	blocks, _, _, err := decodeBlocks(ctx, c)
	return blocks, err
}

func decodeBlocks(ctx context.Context, c *cursor) (blocks []Block, topXID *walcore.TransactionID, origin *uint16, err error) {
	// Header pass. Data block references come first, in strictly
	// increasing id order; the main-data header, if present, is last.
	// Headers end once the bytes left are exactly the payloads the
	// references have declared.
	prev := -1
	payload := 0
Headers:
	for c.len() > payload {
		id, err := c.uint8()
		if err != nil {
			return nil, nil, nil, err
		}
		switch {
		case id < maxBlockID:
			blk, err := decodeBlockHeader(ctx, c, id, prev, blocks)
			if err != nil {
				return nil, nil, nil, err
			}
			prev = int(id)
			if blk.Image != nil {
				payload += int(blk.Image.Length)
			}
			payload += int(blk.DataLen)
			blocks = append(blocks, blk)
		case id == BlockIDTopXID:
			x, err := c.uint32()
			if err != nil {
				return nil, nil, nil, err
			}
			xid := walcore.TransactionID(x)
			topXID = &xid
		case id == BlockIDOrigin:
			o, err := c.uint16()
			if err != nil {
				return nil, nil, nil, err
			}
			origin = &o
		case id == BlockIDDataShort:
			n, err := c.uint8()
			if err != nil {
				return nil, nil, nil, err
			}
			blocks = append(blocks, Block{ID: id, HasData: true, DataLen: uint32(n)})
			break Headers
		case id == BlockIDDataLong:
			n, err := c.uint32()
			if err != nil {
				return nil, nil, nil, err
			}
			blocks = append(blocks, Block{ID: id, HasData: true, DataLen: n})
			break Headers
		default:
			return nil, nil, nil, &IDError{ID: id}
		}
	}

	// Payload pass, in reference order: image bytes, then data bytes,
	// then the main data (the final pseudo-reference, when present).
	for i := range blocks {
		blk := &blocks[i]
		if blk.Image != nil {
			img, err := c.take(int(blk.Image.Length))
			if err != nil {
				return nil, nil, nil, err
			}
			blk.Image.Data = append([]byte(nil), img...)
		}
		if blk.DataLen > 0 {
			d, err := c.take(int(blk.DataLen))
			if err != nil {
				return nil, nil, nil, err
			}
			blk.Data = append([]byte(nil), d...)
		}
	}

	if n := c.len(); n != 0 {
		rest, _ := c.take(n)
		return nil, nil, nil, &LeftoverError{Bytes: append([]byte(nil), rest...)}
	}
	return blocks, topXID, origin, nil
}

// decodeBlockHeader decodes a data block reference's header; the id
// byte has already been consumed.
func decodeBlockHeader(ctx context.Context, c *cursor, id uint8, prev int, prior []Block) (Block, error) {
	var blk Block
	if prev >= 0 && int(id) <= prev {
		return blk, &BlockIDError{Prev: prev, Cur: id}
	}
	blk.ID = id

	forkFlags, err := c.uint8()
	if err != nil {
		return blk, err
	}
	fork := walcore.ForkNumber(forkFlags & blockForkMask)
	if !fork.Valid() {
		return blk, &ForkNumberError{Code: forkFlags & blockForkMask}
	}
	blk.Flags = forkFlags & blockFlagMask

	dataLen, err := c.uint16()
	if err != nil {
		return blk, err
	}
	blk.HasData = forkFlags&BlockHasData != 0
	switch {
	case blk.HasData && dataLen == 0:
		return blk, ErrMissingBlockDataLen
	case !blk.HasData && dataLen > 0:
		return blk, &BlockDataLenError{Len: dataLen}
	}
	blk.DataLen = uint32(dataLen)

	if forkFlags&BlockHasImage != 0 {
		img, err := decodeImageHeader(c)
		if err != nil {
			return blk, err
		}
		blk.Image = img
	}

	var loc walcore.RelFileLocator
	if forkFlags&BlockSameRel != 0 {
		// Inherit the relation of the previous data block reference.
		if len(prior) == 0 || prior[len(prior)-1].Page == nil {
			return blk, ErrOutOfOrderBlock
		}
		loc = prior[len(prior)-1].Page.Locator
	} else {
		if loc.SpcNode, err = c.uint32(); err != nil {
			return blk, err
		}
		if loc.DBNode, err = c.uint32(); err != nil {
			return blk, err
		}
		if loc.RelNode, err = c.uint32(); err != nil {
			return blk, err
		}
	}

	blockNo, err := c.uint32()
	if err != nil {
		return blk, err
	}
	blk.Page = &walcore.PageID{
		Locator: loc,
		Fork:    fork,
		BlockNo: walcore.BlockNumber(blockNo),
	}
	zlog.Debug(ctx).
		Uint8("id", id).
		Stringer("page", blk.Page).
		Uint8("flags", blk.Flags).
		Uint32("data_len", blk.DataLen).
		Msg("block reference")
	return blk, nil
}

func decodeImageHeader(c *cursor) (*Image, error) {
	var im Image
	var err error
	if im.Length, err = c.uint16(); err != nil {
		return nil, err
	}
	if im.HoleOffset, err = c.uint16(); err != nil {
		return nil, err
	}
	if im.Info, err = c.uint8(); err != nil {
		return nil, err
	}
	switch {
	case im.Compressed() && im.Info&ImageHasHole != 0:
		if im.HoleLength, err = c.uint16(); err != nil {
			return nil, err
		}
	case im.Compressed():
		im.HoleLength = 0
	default:
		if im.Length > PageSize {
			return nil, &RecordError{Detail: "image length exceeds page size"}
		}
		im.HoleLength = PageSize - im.Length
	}
	if im.Info&ImageHasHole != 0 &&
		(im.HoleOffset == 0 || im.HoleLength == 0 || im.Length == PageSize) {
		return nil, &BlockImageHoleError{
			Offset:   im.HoleOffset,
			Length:   im.HoleLength,
			ImageLen: im.Length,
		}
	}
	return &im, nil
}
