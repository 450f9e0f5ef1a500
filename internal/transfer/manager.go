// Package transfer holds the in-memory registry of live transfers: one map
// for incoming transfers, one for outgoing, each guarded by its own lock so
// the two directions never contend with each other.
package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dropwired/dropwired/internal/dirmap"
	"github.com/dropwired/dropwired/internal/syncerr"
	"github.com/dropwired/dropwired/internal/syncstore"
)

// Signal is the sealed interface for values sent on a transfer's signaling
// channel from the embedder to the owning session: Download, Cancel, or
// Reject. It lives here, not in the session package, because Go's
// unexported-method sealing trick only works within the declaring package.
type Signal interface {
	isTransferSignal()
}

// Download instructs the session to fetch a file from the peer into
// BaseDir, spawning a file-download task.
type Download struct {
	PathID  uint64
	BaseDir string
}

// Cancel tells the session to abandon an in-progress download for a file.
type Cancel struct {
	PathID uint64
}

// Reject tells the session to mark a file locally rejected and announce
// that to the peer.
type Reject struct {
	PathID uint64
}

func (Download) isTransferSignal() {}
func (Cancel) isTransferSignal()   {}
func (Reject) isTransferSignal()   {}

// File is a single declared file within a transfer, as known to the
// in-memory registry.
type File struct {
	PathID      uint64
	SubPath     []string
	Size        uint64
	ChecksumHex string // default algorithm is QuickXorHash; empty means unverified
}

// Transfer is the in-memory record of one transfer's identity and declared
// file list.
type Transfer struct {
	ID        uuid.UUID
	PeerIP    string
	Direction syncstore.Direction
	Files     []File
}

type entry struct {
	transfer *Transfer
	channel  chan Signal
	dirCache *dirmap.Cache // incoming only
}

// Manager is the live registry of transfers, backed by the sync store for
// durability. All mutating operations serialize behind the map's own lock;
// reads clone out the value they need and release the lock immediately.
type Manager struct {
	store *syncstore.Store

	incomingMu sync.Mutex
	incoming   map[uuid.UUID]*entry

	outgoingMu sync.Mutex
	outgoing   map[uuid.UUID]*entry
}

// NewManager returns an empty registry backed by store.
func NewManager(store *syncstore.Store) *Manager {
	return &Manager{
		store:    store,
		incoming: make(map[uuid.UUID]*entry),
		outgoing: make(map[uuid.UUID]*entry),
	}
}

func (m *Manager) mapFor(direction syncstore.Direction) (*sync.Mutex, map[uuid.UUID]*entry) {
	if direction == syncstore.DirectionOutgoing {
		return &m.outgoingMu, m.outgoing
	}

	return &m.incomingMu, m.incoming
}

// ActiveIDs returns the transfer IDs currently tracked in memory, across
// both directions. Used by the janitor to avoid purging rows that are
// mid-flight but haven't reached a terminal state yet.
func (m *Manager) ActiveIDs() map[string]struct{} {
	ids := make(map[string]struct{})

	for _, dir := range []syncstore.Direction{syncstore.DirectionIncoming, syncstore.DirectionOutgoing} {
		mu, tbl := m.mapFor(dir)
		mu.Lock()
		for id := range tbl {
			ids[id.String()] = struct{}{}
		}
		mu.Unlock()
	}

	return ids
}

// Insert registers transfer with its signaling channel, persisting the sync
// row first. If the sync-store insert fails, no in-memory entry is created.
// Fails with ErrAlreadyRegistered if the transfer UUID is already tracked in
// its direction's map.
func (m *Manager) Insert(ctx context.Context, t *Transfer, channel chan Signal) error {
	mu, tmap := m.mapFor(t.Direction)

	mu.Lock()
	defer mu.Unlock()

	if _, exists := tmap[t.ID]; exists {
		return fmt.Errorf("%w: transfer %s", syncerr.ErrAlreadyRegistered, t.ID)
	}

	row := syncstore.TransferRow{
		TransferID: t.ID.String(),
		PeerIP:     t.PeerIP,
		Direction:  t.Direction,
		Paths:      toPathEntries(t.Files),
	}

	if err := m.store.SaveTransferDefinition(ctx, row); err != nil {
		return err
	}

	if err := m.store.InsertTransfer(ctx, t.ID.String(), t.Direction); err != nil {
		return err
	}

	e := &entry{transfer: t, channel: channel}
	if t.Direction == syncstore.DirectionIncoming {
		e.dirCache = dirmap.NewCache()
	}

	tmap[t.ID] = e

	return nil
}

// Resume attaches a fresh in-memory entry for a transfer whose sync row
// already exists (a reconnecting peer), without re-writing the sync store.
// Fails with ErrAlreadyRegistered if a live entry is already tracked.
func (m *Manager) Resume(t *Transfer, channel chan Signal) error {
	mu, tmap := m.mapFor(t.Direction)

	mu.Lock()
	defer mu.Unlock()

	if _, exists := tmap[t.ID]; exists {
		return fmt.Errorf("%w: transfer %s", syncerr.ErrAlreadyRegistered, t.ID)
	}

	e := &entry{transfer: t, channel: channel}
	if t.Direction == syncstore.DirectionIncoming {
		e.dirCache = dirmap.NewCache()
	}

	tmap[t.ID] = e

	return nil
}

// Get returns a copy of the tracked Transfer for id, or false if unknown.
func (m *Manager) Get(id uuid.UUID, direction syncstore.Direction) (Transfer, bool) {
	mu, tmap := m.mapFor(direction)

	mu.Lock()
	defer mu.Unlock()

	e, ok := tmap[id]
	if !ok {
		return Transfer{}, false
	}

	return *e.transfer, true
}

// GetChannel returns the signaling channel registered for id, or false if
// unknown.
func (m *Manager) GetChannel(id uuid.UUID, direction syncstore.Direction) (chan Signal, bool) {
	mu, tmap := m.mapFor(direction)

	mu.Lock()
	defer mu.Unlock()

	e, ok := tmap[id]
	if !ok {
		return nil, false
	}

	return e.channel, true
}

// Cancel removes the in-memory entry for id. It does not clear the sync
// store; that happens on successful graceful shutdown of the owning
// session.
func (m *Manager) Cancel(id uuid.UUID, direction syncstore.Direction) {
	mu, tmap := m.mapFor(direction)

	mu.Lock()
	defer mu.Unlock()

	delete(tmap, id)
}

// ApplyDirMapping proxies to the directory-remap cache of an incoming
// transfer, returning the destination path chosen for pathID's sub-path.
// Fails if id is unknown or not an incoming transfer.
func (m *Manager) ApplyDirMapping(id uuid.UUID, destDir string, pathID uint64) (string, error) {
	m.incomingMu.Lock()
	e, ok := m.incoming[id]
	m.incomingMu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", syncerr.ErrBadTransfer, id)
	}

	var subPath []string

	for _, f := range e.transfer.Files {
		if f.PathID == pathID {
			subPath = f.SubPath
			break
		}
	}

	if subPath == nil {
		return "", fmt.Errorf("%w: file %d not declared in transfer %s", syncerr.ErrBadPath, pathID, id)
	}

	return e.dirCache.ComposeFinalPath(destDir, subPath)
}

// DirCache returns the directory-remap cache backing an incoming transfer,
// so a download task can resolve final placement paths without duplicating
// the manager's own lookup.
func (m *Manager) DirCache(id uuid.UUID) (*dirmap.Cache, bool) {
	m.incomingMu.Lock()
	e, ok := m.incoming[id]
	m.incomingMu.Unlock()

	if !ok {
		return nil, false
	}

	return e.dirCache, true
}

// RebuildDirMap repopulates an incoming transfer's directory-remap cache
// from previously finished placements, used after a process restart so
// resumed downloads reuse the same chosen directory suffixes.
func (m *Manager) RebuildDirMap(id uuid.UUID, finished []syncstore.FinishedFile) error {
	m.incomingMu.Lock()
	e, ok := m.incoming[id]
	m.incomingMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", syncerr.ErrBadTransfer, id)
	}

	byID := make(map[uint64][]string, len(e.transfer.Files))
	for _, f := range e.transfer.Files {
		byID[f.PathID] = f.SubPath
	}

	for _, ff := range finished {
		subPath, ok := byID[ff.PathID]
		if !ok {
			continue
		}

		if err := e.dirCache.RegisterPreexistingFinalPath(subPath, ff.FinalPath); err != nil {
			return err
		}
	}

	return nil
}

func toPathEntries(files []File) []syncstore.PathEntry {
	out := make([]syncstore.PathEntry, len(files))
	for i, f := range files {
		out[i] = syncstore.PathEntry{PathID: f.PathID, SubPath: f.SubPath, Size: f.Size, ChecksumHex: f.ChecksumHex}
	}

	return out
}
