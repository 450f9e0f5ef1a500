// Package session implements the per-connection receiver state machine:
// accept, authenticate, rate-limit, resolve the initial request against the
// sync store, then run the steady-state select loop until shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dropwired/dropwired/internal/download"
	"github.com/dropwired/dropwired/internal/events"
	"github.com/dropwired/dropwired/internal/protocol"
	"github.com/dropwired/dropwired/internal/syncerr"
	"github.com/dropwired/dropwired/internal/syncstore"
	"github.com/dropwired/dropwired/internal/transfer"
)

// apiChanBuffer approximates the spec's unbounded signaling queue with a
// generous bounded channel: Go has no unbounded channel primitive in the
// standard library or anywhere in the dependency set, and a bounded buffer
// sized well above realistic burst sizes is the practical substitute (see
// DESIGN.md).
const apiChanBuffer = 4096

// Config carries the per-session tunables resolved from the process
// configuration.
type Config struct {
	PingInterval   time.Duration
	ReceiveTimeout time.Duration
	DestDir        string // incoming: root directory finished downloads are placed under
	TempDir        string // incoming: root directory partial downloads are staged under
	SourceDir      string // outgoing: root directory declared files are read from
}

// activeDownload tracks one incoming file's in-progress download task.
type activeDownload struct {
	cancel context.CancelFunc
	chunks chan []byte
}

// activeSend tracks one outgoing file's in-progress upload goroutine.
type activeSend struct {
	cancel context.CancelFunc
}

// Session is one accepted connection's state machine.
type Session struct {
	conn    protocol.Conn
	version protocol.Version
	peerIP  string
	manager *transfer.Manager
	store   *syncstore.Store
	sink    events.Sink
	cfg     Config
	logger  *slog.Logger

	downloads map[uint64]*activeDownload // incoming direction only
	sends     map[uint64]*activeSend     // outgoing direction only

	doneCh chan uint64 // path ids whose task goroutine has finished
}

// New returns a Session for an accepted connection.
func New(conn protocol.Conn, version protocol.Version, peerIP string, manager *transfer.Manager, store *syncstore.Store, sink events.Sink, cfg Config, logger *slog.Logger) *Session {
	return &Session{
		conn:      conn,
		version:   version,
		peerIP:    peerIP,
		manager:   manager,
		store:     store,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		downloads: make(map[uint64]*activeDownload),
		sends:     make(map[uint64]*activeSend),
		doneCh:    make(chan uint64, 16),
	}
}

// Run executes the session lifecycle to completion. stopCh firing
// short-circuits to an immediate return without finalization.
func (s *Session) Run(ctx context.Context, stopCh <-chan struct{}) error {
	if s.version != protocol.V1 {
		err := fmt.Errorf("%w: %s", syncerr.ErrUnsupportedVersion, s.version)
		_ = s.conn.Close(err.Error())

		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	t, apiCh, err := s.handleInitialRequest(ctx)
	if err != nil {
		return err
	}

	if t == nil {
		// Resumed a session whose transfer was already locally Canceled:
		// accepted, nothing scheduled, channel dropped so the peer observes
		// end-of-stream.
		return s.conn.Close("transfer canceled")
	}

	err = s.steadyState(ctx, t, apiCh)

	s.manager.Cancel(t.ID, t.Direction)

	if err != nil {
		if errors.Is(err, syncerr.ErrCanceled) {
			return nil
		}

		return err
	}

	if err := s.store.ClearTransfer(ctx, t.ID.String()); err != nil {
		s.logger.Warn("clearing transfer on graceful shutdown", "transfer_id", t.ID, "err", err)
	}

	return nil
}

func (s *Session) handleInitialRequest(ctx context.Context) (*transfer.Transfer, chan transfer.Signal, error) {
	frameType, data, err := s.conn.ReadMessage(ctx)
	if err != nil {
		return nil, nil, err
	}

	if frameType != protocol.FrameText {
		return nil, nil, fmt.Errorf("%w: initial request must be a text frame", syncerr.ErrInvalidArgument)
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, nil, err
	}

	if env.Type != msgTransferProposal {
		return nil, nil, fmt.Errorf("%w: expected %s, got %s", syncerr.ErrInvalidArgument, msgTransferProposal, env.Type)
	}

	proposal, err := decodeProposal(env.Payload, s.peerIP)
	if err != nil {
		return nil, nil, err
	}

	existing, err := s.store.TransferState(ctx, proposal.ID.String())
	if err != nil {
		return nil, nil, err
	}

	if existing == nil {
		return s.initNewTransfer(ctx, proposal)
	}

	return s.initResume(ctx, proposal, existing)
}

func (s *Session) initNewTransfer(ctx context.Context, t *transfer.Transfer) (*transfer.Transfer, chan transfer.Signal, error) {
	ch := make(chan transfer.Signal, apiChanBuffer)

	if err := s.manager.Insert(ctx, t, ch); err != nil {
		return nil, nil, err
	}

	s.sink.Send(events.RequestReceived{TransferID: t.ID, PeerIP: t.PeerIP})

	return t, ch, nil
}

func (s *Session) initResume(ctx context.Context, proposed *transfer.Transfer, existing *syncstore.TransferSync) (*transfer.Transfer, chan transfer.Signal, error) {
	persisted, err := s.store.GetTransferDefinition(ctx, proposed.ID.String())
	if err != nil {
		return nil, nil, err
	}

	if !transferMatches(proposed, persisted) {
		return nil, nil, fmt.Errorf("%w: resume proposal does not match persisted transfer %s", syncerr.ErrBadTransfer, proposed.ID)
	}

	if existing.LocalState == syncstore.TransferNew && existing.RemoteState == syncstore.TransferNew {
		if _, err := s.store.ActivateIfNew(ctx, proposed.ID.String()); err != nil {
			return nil, nil, err
		}
	}

	if existing.LocalState == syncstore.TransferCanceled {
		return nil, nil, nil
	}

	ch := make(chan transfer.Signal, apiChanBuffer)
	if err := s.manager.Resume(proposed, ch); err != nil {
		return nil, nil, err
	}

	if proposed.Direction == syncstore.DirectionIncoming {
		finished, err := s.store.FinishedIncomingFiles(ctx, proposed.ID.String())
		if err != nil {
			return nil, nil, err
		}

		if err := s.manager.RebuildDirMap(proposed.ID, finished); err != nil {
			return nil, nil, err
		}

		if err := s.reissueResumeWork(ctx, proposed, ch); err != nil {
			return nil, nil, err
		}
	}

	return proposed, ch, nil
}

// reissueResumeWork re-queues Reject for every file this host has locally
// rejected but not confirmed, and Download for every file still recorded
// as in-flight, onto the session's own signaling channel so the steady
// state loop picks them up through the same path as embedder-issued
// requests.
func (s *Session) reissueResumeWork(ctx context.Context, t *transfer.Transfer, ch chan transfer.Signal) error {
	toReject, err := s.store.FilesToReject(ctx, t.ID.String(), t.Direction)
	if err != nil {
		return err
	}

	for _, pathID := range toReject {
		ch <- transfer.Reject{PathID: pathID}
	}

	inFlight, err := s.store.FilesInFlight(ctx, t.ID.String())
	if err != nil {
		return err
	}

	for _, f := range inFlight {
		ch <- transfer.Download{PathID: f.PathID, BaseDir: f.BaseDir}
	}

	return nil
}

func decodeProposal(payload []byte, peerIP string) (*transfer.Transfer, error) {
	var wp wireTransferProposal
	if err := decodeJSON(payload, &wp); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(wp.TransferID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed transfer id %q", syncerr.ErrInvalidArgument, wp.TransferID)
	}

	files := make([]transfer.File, len(wp.Files))
	for i, f := range wp.Files {
		files[i] = transfer.File{PathID: f.PathID, SubPath: f.SubPath, Size: f.Size, ChecksumHex: f.ChecksumHex}
	}

	return &transfer.Transfer{
		ID:        id,
		PeerIP:    peerIP,
		Direction: syncstore.Direction(wp.Direction),
		Files:     files,
	}, nil
}

func transferMatches(proposed *transfer.Transfer, persisted *syncstore.TransferRow) bool {
	if proposed.PeerIP != persisted.PeerIP {
		return false
	}

	if len(proposed.Files) != len(persisted.Paths) {
		return false
	}

	a := make([]transfer.File, len(proposed.Files))
	copy(a, proposed.Files)
	sort.Slice(a, func(i, j int) bool { return a[i].PathID < a[j].PathID })

	b := make([]syncstore.PathEntry, len(persisted.Paths))
	copy(b, persisted.Paths)
	sort.Slice(b, func(i, j int) bool { return b[i].PathID < b[j].PathID })

	for i := range a {
		if a[i].PathID != b[i].PathID || a[i].Size != b[i].Size || !equalSubPath(a[i].SubPath, b[i].SubPath) {
			return false
		}

		if a[i].ChecksumHex != "" && b[i].ChecksumHex != "" && a[i].ChecksumHex != b[i].ChecksumHex {
			return false
		}
	}

	return true
}

func equalSubPath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func downloadTaskFile(t *transfer.Transfer, pathID uint64) (download.File, bool) {
	for _, f := range t.Files {
		if f.PathID == pathID {
			return download.File{PathID: f.PathID, SubPath: f.SubPath, Size: f.Size, ChecksumHex: f.ChecksumHex}, true
		}
	}

	return download.File{}, false
}
