package walcore

import "fmt"

// TransactionID is an xact id. Zero means "none".
type TransactionID uint32

// CommandID is a command id within a transaction.
type CommandID uint32

// BlockNumber indexes a page within one fork of a relation.
type BlockNumber uint32

// OffsetNumber is a 1-based item position within a page.
type OffsetNumber uint16

// ForkNumber selects one of the parallel files making up a relation.
type ForkNumber uint8

const (
	ForkMain ForkNumber = iota
	ForkFSM
	ForkVisibilityMap
	ForkInit

	numFork
)

var forkName = [numFork]string{
	ForkMain:          "Main",
	ForkFSM:           "Fsm",
	ForkVisibilityMap: "VisibilityMap",
	ForkInit:          "Init",
}

// Valid reports whether the fork code is one of the four defined forks.
func (f ForkNumber) Valid() bool { return f < numFork }

func (f ForkNumber) String() string {
	if !f.Valid() {
		return fmt.Sprintf("invalid(0x%02x)", uint8(f))
	}
	return forkName[f]
}

// RelFileLocator names a relation's file: tablespace, database,
// relation.
type RelFileLocator struct {
	SpcNode uint32
	DBNode  uint32
	RelNode uint32
}

func (l RelFileLocator) String() string {
	return fmt.Sprintf("%d/%d/%d", l.SpcNode, l.DBNode, l.RelNode)
}

// PageID is the identity of one 8 KiB page: the relation file, the
// fork, and the block number. It's the key of the redo page map.
type PageID struct {
	Locator RelFileLocator
	Fork    ForkNumber
	BlockNo BlockNumber
}

func (id PageID) String() string {
	return fmt.Sprintf("rel %s fork %s blk %d", id.Locator, id.Fork, id.BlockNo)
}

// ItemPointer is a tuple address: block number plus 1-based offset.
type ItemPointer struct {
	BlockNo BlockNumber
	Off     OffsetNumber
}

func (p ItemPointer) String() string {
	return fmt.Sprintf("(%d,%d)", p.BlockNo, p.Off)
}
