// Package download implements the per-file download task state machine:
// Init (negotiated by the caller) -> Streaming -> Placed / Failed /
// Canceled.
package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dropwired/dropwired/internal/dirmap"
	"github.com/dropwired/dropwired/internal/events"
	"github.com/dropwired/dropwired/internal/quarantine"
	"github.com/dropwired/dropwired/internal/syncerr"
	"github.com/dropwired/dropwired/pkg/quickxorhash"
)

// reportProgressThreshold is how many received bytes accumulate before a
// FileDownloadProgress event is emitted.
const reportProgressThreshold = 64 * 1024

// File describes the declared file a Task is downloading.
type File struct {
	PathID      uint64
	SubPath     []string
	Size        uint64
	ChecksumHex string // expected quickxorhash digest, lowercase hex; empty skips validation
}

// Task streams one file's bytes to a temp file, validates its checksum, and
// places it at its final destination.
type Task struct {
	TransferID uuid.UUID
	File       File
	BaseDir    string
	DestDir    string
	DirCache   *dirmap.Cache
	Sink       events.Sink
}

// MaxSuffixAttempts bounds the AlreadyExists retry loop when placing the
// finished file, mirroring the directory-remap cache's own bound.
const MaxSuffixAttempts = 1000

// Run streams chunks from ch into the temp file at tmpPath starting at
// offset, validates the result, and places it at its final destination,
// returning the path it was actually placed at (which may carry a
// collision-suffix leaf name from DirCache). ch closing before
// bytesReceived reaches File.Size means Canceled, which is silent: no event
// is emitted and ErrCanceled itself is returned so the caller can
// distinguish it from a real failure.
func (t *Task) Run(ctx context.Context, offset uint64, tmpPath string, ch <-chan []byte) (string, error) {
	if err := t.stream(ctx, offset, tmpPath, ch); err != nil {
		if err2 := os.Remove(tmpPath); err2 != nil && !os.IsNotExist(err2) {
			// Best-effort cleanup; the original streaming error is what matters.
			_ = err2
		}

		if errors.Is(err, syncerr.ErrCanceled) {
			return "", err
		}

		t.Sink.Send(events.FileDownloadFailed{TransferID: t.TransferID, PathID: t.File.PathID, Reason: err.Error()})

		return "", err
	}

	finalPath, err := t.finalize(tmpPath)
	if err != nil {
		t.Sink.Send(events.FileDownloadFailed{TransferID: t.TransferID, PathID: t.File.PathID, Reason: err.Error()})
		return "", err
	}

	t.Sink.Send(events.FileDownloadSuccess{TransferID: t.TransferID, PathID: t.File.PathID, FinalPath: finalPath})

	return finalPath, nil
}

func (t *Task) stream(ctx context.Context, offset uint64, tmpPath string, ch <-chan []byte) error {
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // destination is the caller-chosen temp dir, not user input
	if err != nil {
		return fmt.Errorf("%w: opening temp file: %v", syncerr.ErrStorage, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil { //nolint:gosec // offsets are bounded by file size, which fits int64 for any real transfer
		return fmt.Errorf("%w: seeking temp file: %v", syncerr.ErrStorage, err)
	}

	t.Sink.Send(events.FileDownloadStarted{TransferID: t.TransferID, PathID: t.File.PathID, Offset: offset})

	bytesReceived := offset
	sinceReport := uint64(0)

	for {
		select {
		case <-ctx.Done():
			return syncerr.ErrCanceled
		case chunk, ok := <-ch:
			if !ok {
				return syncerr.ErrCanceled
			}

			if bytesReceived+uint64(len(chunk)) > t.File.Size {
				return syncerr.ErrMismatchedSize
			}

			if _, err := f.Write(chunk); err != nil {
				return fmt.Errorf("%w: writing temp file: %v", syncerr.ErrStorage, err)
			}

			bytesReceived += uint64(len(chunk))
			sinceReport += uint64(len(chunk))

			if sinceReport >= reportProgressThreshold {
				t.Sink.Send(events.FileDownloadProgress{TransferID: t.TransferID, PathID: t.File.PathID, BytesReceived: bytesReceived})
				sinceReport = 0
			}

			if bytesReceived == t.File.Size {
				if sinceReport > 0 {
					t.Sink.Send(events.FileDownloadProgress{TransferID: t.TransferID, PathID: t.File.PathID, BytesReceived: bytesReceived})
				}

				return t.validateChecksum(tmpPath)
			}
		}
	}
}

func (t *Task) validateChecksum(tmpPath string) error {
	if t.File.ChecksumHex == "" {
		return nil
	}

	f, err := os.Open(tmpPath) //nolint:gosec // temp path is caller-chosen, not user input
	if err != nil {
		return fmt.Errorf("%w: reopening temp file for checksum: %v", syncerr.ErrStorage, err)
	}
	defer f.Close()

	h := quickxorhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("%w: hashing temp file: %v", syncerr.ErrStorage, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != t.File.ChecksumHex {
		return syncerr.ErrUnexpectedData
	}

	return nil
}

func (t *Task) finalize(tmpPath string) (string, error) {
	dest, err := t.DirCache.ComposeFinalPath(t.DestDir, t.File.SubPath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // destination tree is operator-configured, not user input
		return "", fmt.Errorf("%w: creating destination directories: %v", syncerr.ErrStorage, err)
	}

	finalDest, err := claimDestination(dest)
	if err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalDest); err != nil {
		_ = os.Remove(finalDest)
		return "", fmt.Errorf("%w: placing final file: %v", syncerr.ErrStorage, err)
	}

	if err := quarantine.Apply(finalDest); err != nil {
		// Best-effort: quarantine failures are logged, never fatal to the
		// placement.
		slog.Warn("applying quarantine attribute failed", "path", finalDest, "err", err)
	}

	return finalDest, nil
}

// claimDestination atomically creates an empty file at path, or at
// path(1), path(2), ... if path is already taken, returning the name it
// claimed. The caller then renames the temp file onto that claimed name.
func claimDestination(path string) (string, error) {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]

	for i := 0; i < MaxSuffixAttempts; i++ {
		candidate := path
		if i > 0 {
			candidate = fmt.Sprintf("%s(%d)%s", base, i, ext)
		}

		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // destination tree is operator-configured
		if err == nil {
			f.Close()
			return candidate, nil
		}

		if !os.IsExist(err) {
			return "", fmt.Errorf("%w: claiming destination file: %v", syncerr.ErrStorage, err)
		}
	}

	return "", fmt.Errorf("%w: no available destination name for %q after %d attempts", syncerr.ErrStorage, path, MaxSuffixAttempts)
}
