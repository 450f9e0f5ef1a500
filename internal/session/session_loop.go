package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dropwired/dropwired/internal/download"
	"github.com/dropwired/dropwired/internal/protocol"
	"github.com/dropwired/dropwired/internal/syncerr"
	"github.com/dropwired/dropwired/internal/syncstore"
	"github.com/dropwired/dropwired/internal/transfer"
)

// sendChunkSize bounds how much of a source file is read into one binary
// frame while serving an outgoing download.
const sendChunkSize = 64 * 1024

// chunkHeaderLen is the width of the big-endian path id prefix on every
// binary frame, letting one connection interleave chunks from several
// concurrent file downloads.
const chunkHeaderLen = 8

type readResult struct {
	frameType protocol.FrameType
	data      []byte
	err       error
}

// steadyState runs the select loop described as step 5 of the session
// lifecycle: signals from the embedder take priority over inbound peer
// traffic, which takes priority over the idle ping.
func (s *Session) steadyState(ctx context.Context, t *transfer.Transfer, apiCh chan transfer.Signal) error {
	readCh := make(chan readResult)
	go s.readLoop(ctx, readCh)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	defer s.stopAllTasks()

	for {
		// Go's select has no native priority, so the embedder-to-session
		// order the lifecycle calls for (API > inbound > outbound/ping) is
		// approximated with a cascade of non-blocking checks before falling
		// back to a blocking select across everything.
		select {
		case <-ctx.Done():
			return syncerr.ErrCanceled
		default:
		}

		select {
		case sig, ok := <-apiCh:
			if !ok {
				return nil
			}

			if err := s.handleSignal(ctx, t, sig); err != nil {
				return err
			}

			continue
		default:
		}

		select {
		case pathID := <-s.doneCh:
			delete(s.downloads, pathID)
			delete(s.sends, pathID)

			continue
		default:
		}

		select {
		case res, ok := <-readCh:
			if !ok {
				return nil
			}

			if res.err != nil {
				if errors.Is(res.err, syncerr.ErrCanceled) {
					return syncerr.ErrCanceled
				}

				return res.err
			}

			if err := s.handleInbound(ctx, t, res.frameType, res.data); err != nil {
				return err
			}

			continue
		default:
		}

		select {
		case <-ctx.Done():
			return syncerr.ErrCanceled
		case sig, ok := <-apiCh:
			if !ok {
				return nil
			}

			if err := s.handleSignal(ctx, t, sig); err != nil {
				return err
			}
		case pathID := <-s.doneCh:
			delete(s.downloads, pathID)
			delete(s.sends, pathID)
		case res, ok := <-readCh:
			if !ok {
				return nil
			}

			if res.err != nil {
				if errors.Is(res.err, syncerr.ErrCanceled) {
					return syncerr.ErrCanceled
				}

				return res.err
			}

			if err := s.handleInbound(ctx, t, res.frameType, res.data); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.sendPing(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, out chan<- readResult) {
	defer close(out)

	for {
		frameType, data, err := s.conn.ReadMessage(ctx)
		select {
		case out <- readResult{frameType: frameType, data: data, err: err}:
		case <-ctx.Done():
			return
		}

		if err != nil {
			return
		}
	}
}

func (s *Session) stopAllTasks() {
	for _, d := range s.downloads {
		d.cancel()
	}

	for _, snd := range s.sends {
		snd.cancel()
	}
}

func (s *Session) handleSignal(ctx context.Context, t *transfer.Transfer, sig transfer.Signal) error {
	switch v := sig.(type) {
	case transfer.Download:
		return s.startDownload(ctx, t, v)
	case transfer.Cancel:
		return s.cancelFile(ctx, t, v.PathID)
	case transfer.Reject:
		return s.rejectFile(ctx, t, v.PathID)
	default:
		return fmt.Errorf("%w: unhandled signal %T", syncerr.ErrInvalidArgument, sig)
	}
}

func (s *Session) startDownload(ctx context.Context, t *transfer.Transfer, d transfer.Download) error {
	if t.Direction != syncstore.DirectionIncoming {
		return fmt.Errorf("%w: download signal on an outgoing transfer", syncerr.ErrInvalidArgument)
	}

	file, ok := downloadTaskFile(t, d.PathID)
	if !ok {
		return fmt.Errorf("%w: file %d not declared in transfer %s", syncerr.ErrBadPath, d.PathID, t.ID)
	}

	if _, exists := s.downloads[d.PathID]; exists {
		return nil
	}

	if err := s.store.StartIncomingFile(ctx, t.ID.String(), d.PathID, d.BaseDir); err != nil {
		return err
	}

	tmpPath := filepath.Join(d.BaseDir, fmt.Sprintf("%d.partial", d.PathID))

	offset := uint64(0)
	if fi, err := os.Stat(tmpPath); err == nil {
		offset = uint64(fi.Size()) //nolint:gosec // file sizes fit uint64 for any real transfer
	}

	req := wireDownloadRequest{PathID: d.PathID, Offset: offset}

	payload, err := encodeEnvelope(msgDownloadRequest, req)
	if err != nil {
		return err
	}

	if err := s.conn.WriteMessage(ctx, protocol.FrameText, payload); err != nil {
		return err
	}

	dirCache, ok := s.manager.DirCache(t.ID)
	if !ok {
		return fmt.Errorf("%w: no directory-remap cache for transfer %s", syncerr.ErrBadTransfer, t.ID)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	chunks := make(chan []byte, 4)

	s.downloads[d.PathID] = &activeDownload{cancel: cancel, chunks: chunks}

	task := &download.Task{
		TransferID: t.ID,
		File:       file,
		BaseDir:    d.BaseDir,
		DestDir:    s.cfg.DestDir,
		DirCache:   dirCache,
		Sink:       s.sink,
	}

	go func() {
		finalPath, runErr := task.Run(taskCtx, offset, tmpPath, chunks)

		transferID := t.ID.String()
		if runErr == nil {
			_ = s.store.RegisterFinishedIncomingFile(context.Background(), transferID, d.PathID, finalPath)
		} else {
			_ = s.store.StopIncomingFile(context.Background(), transferID, d.PathID)
		}

		select {
		case s.doneCh <- d.PathID:
		default:
		}
	}()

	return nil
}

func (s *Session) cancelFile(ctx context.Context, t *transfer.Transfer, pathID uint64) error {
	if d, ok := s.downloads[pathID]; ok {
		d.cancel()
		delete(s.downloads, pathID)

		return s.store.StopIncomingFile(ctx, t.ID.String(), pathID)
	}

	if snd, ok := s.sends[pathID]; ok {
		snd.cancel()
		delete(s.sends, pathID)
	}

	return nil
}

func (s *Session) rejectFile(ctx context.Context, t *transfer.Transfer, pathID uint64) error {
	if _, err := s.store.SetFileLocalState(ctx, t.ID.String(), t.Direction, pathID, syncstore.FileRejected); err != nil {
		return err
	}

	payload, err := encodeEnvelope(msgRejectRequest, wireRejectRequest{PathID: pathID})
	if err != nil {
		return err
	}

	return s.conn.WriteMessage(ctx, protocol.FrameText, payload)
}

func (s *Session) handleInbound(ctx context.Context, t *transfer.Transfer, frameType protocol.FrameType, data []byte) error {
	if frameType == protocol.FrameBinary {
		return s.handleChunk(ctx, data)
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		return err
	}

	switch env.Type {
	case msgDownloadRequest:
		var req wireDownloadRequest
		if err := decodeJSON(env.Payload, &req); err != nil {
			return err
		}

		return s.serveDownload(ctx, t, req)
	case msgRejectRequest:
		var req wireRejectRequest
		if err := decodeJSON(env.Payload, &req); err != nil {
			return err
		}

		_, err := s.store.SetFileRemoteState(ctx, t.ID.String(), t.Direction, req.PathID, syncstore.FileRejected)

		return err
	case msgPing:
		return nil
	default:
		return fmt.Errorf("%w: unknown control message %q", syncerr.ErrInvalidArgument, env.Type)
	}
}

func (s *Session) handleChunk(ctx context.Context, data []byte) error {
	if len(data) < chunkHeaderLen {
		return fmt.Errorf("%w: chunk frame shorter than header", syncerr.ErrUnexpectedData)
	}

	pathID := binary.BigEndian.Uint64(data[:chunkHeaderLen])

	d, ok := s.downloads[pathID]
	if !ok {
		// The file was canceled or already completed locally; the peer may
		// still have chunks in flight. Drop them silently.
		return nil
	}

	chunk := make([]byte, len(data)-chunkHeaderLen)
	copy(chunk, data[chunkHeaderLen:])

	// A blocking send applies backpressure when the task's writer falls
	// behind; ctx.Done() guards against a task that has already exited
	// (finished, failed, or was canceled) leaving nothing to drain it.
	select {
	case d.chunks <- chunk:
		return nil
	case <-ctx.Done():
		return syncerr.ErrCanceled
	}
}

// serveDownload streams one declared file's bytes from the configured
// source root, framed as chunkHeaderLen-prefixed binary messages, on behalf
// of an outgoing transfer.
func (s *Session) serveDownload(ctx context.Context, t *transfer.Transfer, req wireDownloadRequest) error {
	if t.Direction != syncstore.DirectionOutgoing {
		return fmt.Errorf("%w: download request on an incoming transfer", syncerr.ErrInvalidArgument)
	}

	file, ok := downloadTaskFile(t, req.PathID)
	if !ok {
		return fmt.Errorf("%w: file %d not declared in transfer %s", syncerr.ErrBadPath, req.PathID, t.ID)
	}

	if _, exists := s.sends[req.PathID]; exists {
		return nil
	}

	sendCtx, cancel := context.WithCancel(ctx)
	s.sends[req.PathID] = &activeSend{cancel: cancel}

	go func() {
		err := s.sendFile(sendCtx, file, req.PathID, req.Offset)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("serving outgoing file", "transfer_id", t.ID, "path_id", req.PathID, "err", err)
		}

		select {
		case s.doneCh <- req.PathID:
		default:
		}
	}()

	return nil
}

func (s *Session) sendFile(ctx context.Context, file download.File, pathID, offset uint64) error {
	path := filepath.Join(append([]string{s.cfg.SourceDir}, file.SubPath...)...)

	f, err := os.Open(path) //nolint:gosec // source root is operator-configured, not user input
	if err != nil {
		return fmt.Errorf("%w: opening source file: %v", syncerr.ErrStorage, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil { //nolint:gosec // offsets are bounded by file size
		return fmt.Errorf("%w: seeking source file: %v", syncerr.ErrStorage, err)
	}

	buf := make([]byte, sendChunkSize)
	header := make([]byte, chunkHeaderLen)
	binary.BigEndian.PutUint64(header, pathID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			frame := append(append([]byte(nil), header...), buf[:n]...)
			if err := s.conn.WriteMessage(ctx, protocol.FrameBinary, frame); err != nil {
				return err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}

			return fmt.Errorf("%w: reading source file: %v", syncerr.ErrStorage, readErr)
		}
	}
}

func (s *Session) sendPing(ctx context.Context) error {
	payload, err := encodeEnvelope(msgPing, struct{}{})
	if err != nil {
		return err
	}

	return s.conn.WriteMessage(ctx, protocol.FrameText, payload)
}
