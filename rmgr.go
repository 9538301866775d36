package walcore

import "fmt"

// RmgrID names the resource manager that produced a WAL record.
//
// The numeric encoding is fixed by the wire format.
type RmgrID uint8

const (
	RmgrXlog RmgrID = iota
	RmgrTransaction
	RmgrStorage
	RmgrClog
	RmgrDatabase
	RmgrTablespace
	RmgrMultiXact
	RmgrRelMap
	RmgrStandby
	RmgrHeap2
	RmgrHeap
	RmgrBtree
	RmgrHash
	RmgrGin
	RmgrGist
	RmgrSequence
	RmgrSpgist
	RmgrBrin
	RmgrCommitTs
	RmgrReplicationOrigin
	RmgrGeneric
	RmgrLogicalMsg

	numRmgr
)

var rmgrName = [numRmgr]string{
	RmgrXlog:              "Xlog",
	RmgrTransaction:       "Transaction",
	RmgrStorage:           "Storage",
	RmgrClog:              "Clog",
	RmgrDatabase:          "Database",
	RmgrTablespace:        "Tablespace",
	RmgrMultiXact:         "MultiXact",
	RmgrRelMap:            "RelMap",
	RmgrStandby:           "Standby",
	RmgrHeap2:             "Heap2",
	RmgrHeap:              "Heap",
	RmgrBtree:             "Btree",
	RmgrHash:              "Hash",
	RmgrGin:               "Gin",
	RmgrGist:              "Gist",
	RmgrSequence:          "Sequence",
	RmgrSpgist:            "Spgist",
	RmgrBrin:              "Brin",
	RmgrCommitTs:          "CommitTs",
	RmgrReplicationOrigin: "ReplicationOrigin",
	RmgrGeneric:           "Generic",
	RmgrLogicalMsg:        "LogicalMsg",
}

// Valid reports whether the id is in the known table.
func (r RmgrID) Valid() bool { return r < numRmgr }

func (r RmgrID) String() string {
	if !r.Valid() {
		return fmt.Sprintf("invalid(0x%02x)", uint8(r))
	}
	return rmgrName[r]
}

// MarshalText implements [encoding.TextMarshaler].
func (r RmgrID) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid resource manager: 0x%02x", uint8(r))
	}
	return []byte(rmgrName[r]), nil
}
