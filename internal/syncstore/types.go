package syncstore

import "fmt"

// TransferState is this host's (or the peer's, when stored as remote_state)
// intent for an entire transfer.
type TransferState int

// Transfer state encoding, per the wire/storage contract: these integers are
// persisted as-is and must never be renumbered.
const (
	TransferNew TransferState = iota
	TransferActive
	TransferCanceled
)

func (s TransferState) String() string {
	switch s {
	case TransferNew:
		return "new"
	case TransferActive:
		return "active"
	case TransferCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("TransferState(%d)", int(s))
	}
}

// ParseTransferState validates a raw integer read back from storage.
func ParseTransferState(v int) (TransferState, error) {
	switch TransferState(v) {
	case TransferNew, TransferActive, TransferCanceled:
		return TransferState(v), nil
	default:
		return 0, fmt.Errorf("%w: transfer state %d out of range", errOutOfRange, v)
	}
}

// FileState is this host's (or the peer's) intent for a single file within
// a transfer.
type FileState int

// File state encoding, persisted as-is.
const (
	FileAlive FileState = iota
	FileRejected
)

func (s FileState) String() string {
	switch s {
	case FileAlive:
		return "alive"
	case FileRejected:
		return "rejected"
	default:
		return fmt.Sprintf("FileState(%d)", int(s))
	}
}

// ParseFileState validates a raw integer read back from storage.
func ParseFileState(v int) (FileState, error) {
	switch FileState(v) {
	case FileAlive, FileRejected:
		return FileState(v), nil
	default:
		return 0, fmt.Errorf("%w: file state %d out of range", errOutOfRange, v)
	}
}

// Direction distinguishes a transfer this host initiated from one it is
// receiving.
type Direction int

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}

	return "incoming"
}

// PathEntry is a single file declared as part of a transfer's file list,
// as persisted in incoming_paths/outgoing_paths.
type PathEntry struct {
	PathID      uint64
	SubPath     []string
	Size        uint64
	ChecksumHex string // default algorithm is QuickXorHash; empty means unverified
}

// TransferRow is the durable record of a transfer's definition: its peer,
// direction, and declared file list.
type TransferRow struct {
	TransferID string
	PeerIP     string
	Direction  Direction
	Paths      []PathEntry
}

// TransferSync is the (local_state, remote_state, direction) triple for a
// known transfer.
type TransferSync struct {
	LocalState  TransferState
	RemoteState TransferState
	Direction   Direction
}

// InFlightEntry pairs a file id with the destination base directory the
// receiver has committed to for it.
type InFlightEntry struct {
	PathID  uint64
	BaseDir string
}
