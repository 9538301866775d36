package wal

import (
	"fmt"

	"github.com/quay/walcore"
)

// Operation is a structurally decoded record body. Only the Heap and
// Heap2 resource managers are modeled; other records keep their raw
// main data.
type Operation interface {
	fmt.Stringer
	heapOp()
}

// Heap opcodes, from the rmgr-private info nibble.
const (
	HeapInsert    = 0x00
	HeapDelete    = 0x10
	HeapUpdate    = 0x20
	HeapTruncate  = 0x30
	HeapHotUpdate = 0x40
	HeapConfirm   = 0x50
	HeapLock      = 0x60
	HeapInplace   = 0x70

	heapOpMask = 0x70
)

// Heap2 opcodes.
const (
	Heap2Rewrite = 0x00
	Heap2Prune   = 0x10
)

// Insert flag bits.
const (
	InsertAllVisCleared    = 0x01
	InsertLastInMulti      = 0x02
	InsertIsSpeculative    = 0x04
	InsertContainsNewTuple = 0x08
	InsertOnToast          = 0x10
	InsertAllFrozenSet     = 0x20
)

// Delete flag bits.
const (
	DeleteAllVisCleared    = 0x01
	DeleteContainsOldTuple = 0x02
	DeleteContainsOldKey   = 0x04
	DeleteIsSuper          = 0x08
	DeleteIsPartitionMove  = 0x10
)

// Update flag bits.
const (
	UpdateOldAllVisCleared = 0x01
	UpdateNewAllVisCleared = 0x02
	UpdateContainsOldTuple = 0x04
	UpdateContainsNewTuple = 0x08
	UpdatePrefixFromOld    = 0x10
	UpdateSuffixFromOld    = 0x20
)

// Infobits describes the xmax state carried on deletes and updates.
type Infobits struct {
	XmaxIsMulti      bool
	XmaxLockOnly     bool
	XmaxExclLock     bool
	XmaxKeyshareLock bool
	KeysUpdated      bool
}

func decodeInfobits(c *cursor) (Infobits, error) {
	b, err := c.uint8()
	if err != nil {
		return Infobits{}, err
	}
	return Infobits{
		XmaxIsMulti:      b&0x01 != 0,
		XmaxLockOnly:     b&0x02 != 0,
		XmaxExclLock:     b&0x04 != 0,
		XmaxKeyshareLock: b&0x08 != 0,
		KeysUpdated:      b&0x10 != 0,
	}, nil
}

// OpInsert is a heap insert.
type OpInsert struct {
	Off   walcore.OffsetNumber
	Flags uint8
}

func (*OpInsert) heapOp() {}

func (o *OpInsert) String() string {
	return fmt.Sprintf("INSERT off %d flags 0x%02X", o.Off, o.Flags)
}

// ContainsNewTuple reports whether the new tuple rides in block 0's
// data.
func (o *OpInsert) ContainsNewTuple() bool { return o.Flags&InsertContainsNewTuple != 0 }

// OpDelete is a heap delete.
type OpDelete struct {
	Xmax     walcore.TransactionID
	Off      walcore.OffsetNumber
	Infobits Infobits
	Flags    uint8
}

func (*OpDelete) heapOp() {}

func (o *OpDelete) String() string {
	return fmt.Sprintf("DELETE off %d xmax %d", o.Off, uint32(o.Xmax))
}

// OpUpdate is a heap update; Hot reports the HOT variant, which shares
// the wire layout.
type OpUpdate struct {
	Hot         bool
	OldXmax     walcore.TransactionID
	OldOff      walcore.OffsetNumber
	OldInfobits Infobits
	Flags       uint8
	NewXmax     walcore.TransactionID
	NewOff      walcore.OffsetNumber
}

func (*OpUpdate) heapOp() {}

func (o *OpUpdate) String() string {
	kind := "UPDATE"
	if o.Hot {
		kind = "HOT_UPDATE"
	}
	return fmt.Sprintf("%s old off %d new off %d", kind, o.OldOff, o.NewOff)
}

// OpPrune is a heap2 page prune.
type OpPrune struct {
	LatestRemovedXID walcore.TransactionID
	NRedirected      uint16
	NDead            uint16
}

func (*OpPrune) heapOp() {}

func (o *OpPrune) String() string {
	return fmt.Sprintf("PRUNE latest removed xid %d", uint32(o.LatestRemovedXID))
}

// OpOpaque is a heap-family operation whose body isn't modeled; the
// raw main data is retained.
type OpOpaque struct {
	Kind uint8
	Data []byte
}

func (*OpOpaque) heapOp() {}

func (o *OpOpaque) String() string {
	return fmt.Sprintf("opcode 0x%02X (%d bytes)", o.Kind, len(o.Data))
}

func decodeHeapOp(rmgrInfo uint8, main []byte) (Operation, error) {
	op := rmgrInfo & heapOpMask
	c := newCursor(main)
	switch op {
	case HeapInsert:
		var ins OpInsert
		off, err := c.uint16()
		if err != nil {
			return nil, opLenError(main, 3)
		}
		ins.Off = walcore.OffsetNumber(off)
		if ins.Flags, err = c.uint8(); err != nil {
			return nil, opLenError(main, 3)
		}
		return &ins, nil
	case HeapDelete:
		var del OpDelete
		xmax, err := c.uint32()
		if err != nil {
			return nil, opLenError(main, 8)
		}
		del.Xmax = walcore.TransactionID(xmax)
		off, err := c.uint16()
		if err != nil {
			return nil, opLenError(main, 8)
		}
		del.Off = walcore.OffsetNumber(off)
		if del.Infobits, err = decodeInfobits(c); err != nil {
			return nil, opLenError(main, 8)
		}
		if del.Flags, err = c.uint8(); err != nil {
			return nil, opLenError(main, 8)
		}
		return &del, nil
	case HeapUpdate, HeapHotUpdate:
		upd, err := decodeUpdate(c, op == HeapHotUpdate)
		if err != nil {
			return nil, opLenError(main, 14)
		}
		return upd, nil
	default:
		// Truncate and the confirm/lock/inplace opcodes are framed
		// but not modeled.
		return &OpOpaque{Kind: op, Data: main}, nil
	}
}

func decodeUpdate(c *cursor, hot bool) (*OpUpdate, error) {
	upd := OpUpdate{Hot: hot}
	oldXmax, err := c.uint32()
	if err != nil {
		return nil, err
	}
	upd.OldXmax = walcore.TransactionID(oldXmax)
	oldOff, err := c.uint16()
	if err != nil {
		return nil, err
	}
	upd.OldOff = walcore.OffsetNumber(oldOff)
	if upd.OldInfobits, err = decodeInfobits(c); err != nil {
		return nil, err
	}
	if upd.Flags, err = c.uint8(); err != nil {
		return nil, err
	}
	newXmax, err := c.uint32()
	if err != nil {
		return nil, err
	}
	upd.NewXmax = walcore.TransactionID(newXmax)
	newOff, err := c.uint16()
	if err != nil {
		return nil, err
	}
	upd.NewOff = walcore.OffsetNumber(newOff)
	return &upd, nil
}

func decodeHeap2Op(rmgrInfo uint8, main []byte) (Operation, error) {
	op := rmgrInfo & heapOpMask
	if op != Heap2Prune {
		return &OpOpaque{Kind: op, Data: main}, nil
	}
	c := newCursor(main)
	var pr OpPrune
	xid, err := c.uint32()
	if err != nil {
		return nil, opLenError(main, 8)
	}
	pr.LatestRemovedXID = walcore.TransactionID(xid)
	if pr.NRedirected, err = c.uint16(); err != nil {
		return nil, opLenError(main, 8)
	}
	if pr.NDead, err = c.uint16(); err != nil {
		return nil, opLenError(main, 8)
	}
	return &pr, nil
}

func opLenError(main []byte, want int) error {
	return &DataLenError{Consumed: len(main), Expected: want}
}
