package download

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropwired/dropwired/internal/dirmap"
	"github.com/dropwired/dropwired/internal/events"
	"github.com/dropwired/dropwired/pkg/quickxorhash"
)

func checksumOf(t *testing.T, data []byte) string {
	t.Helper()

	h := quickxorhash.New()
	_, err := h.Write(data)
	require.NoError(t, err)

	return hex.EncodeToString(h.Sum(nil))
}

func TestTaskRunPlacesFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	sink := make(events.ChanSink, 16)

	data := []byte("hello dropwired")

	task := &Task{
		TransferID: uuid.New(),
		File:       File{PathID: 1, SubPath: []string{"a.txt"}, Size: uint64(len(data)), ChecksumHex: checksumOf(t, data)},
		BaseDir:    dir,
		DestDir:    dir,
		DirCache:   dirmap.NewCache(),
		Sink:       sink,
	}

	ch := make(chan []byte, 1)
	ch <- data
	close(ch)

	tmpPath := filepath.Join(dir, "a.txt.part")

	finalPath, err := task.Run(context.Background(), 0, tmpPath, ch)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.txt"), finalPath)

	placed, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, placed)

	_, err = os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(err), "temp file must be gone after a successful rename")
}

func TestTaskRunMismatchedSize(t *testing.T) {
	dir := t.TempDir()
	sink := make(events.ChanSink, 16)

	task := &Task{
		TransferID: uuid.New(),
		File:       File{PathID: 1, SubPath: []string{"a.txt"}, Size: 4},
		BaseDir:    dir,
		DestDir:    dir,
		DirCache:   dirmap.NewCache(),
		Sink:       sink,
	}

	ch := make(chan []byte, 1)
	ch <- []byte("too much data")
	close(ch)

	_, err := task.Run(context.Background(), 0, filepath.Join(dir, "a.txt.part"), ch)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "a.txt.part"))
	assert.True(t, os.IsNotExist(statErr), "temp file is removed on a streaming error")
}

func TestTaskRunChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	sink := make(events.ChanSink, 16)

	data := []byte("payload")

	task := &Task{
		TransferID: uuid.New(),
		File:       File{PathID: 1, SubPath: []string{"a.txt"}, Size: uint64(len(data)), ChecksumHex: "0000000000000000000000000000000000000000"},
		BaseDir:    dir,
		DestDir:    dir,
		DirCache:   dirmap.NewCache(),
		Sink:       sink,
	}

	ch := make(chan []byte, 1)
	ch <- data
	close(ch)

	_, err := task.Run(context.Background(), 0, filepath.Join(dir, "a.txt.part"), ch)
	require.Error(t, err)
}

func TestTaskRunCanceledOnChannelClose(t *testing.T) {
	dir := t.TempDir()
	sink := make(events.ChanSink, 16)

	task := &Task{
		TransferID: uuid.New(),
		File:       File{PathID: 1, SubPath: []string{"a.txt"}, Size: 100},
		BaseDir:    dir,
		DestDir:    dir,
		DirCache:   dirmap.NewCache(),
		Sink:       sink,
	}

	ch := make(chan []byte)
	close(ch)

	_, err := task.Run(context.Background(), 0, filepath.Join(dir, "a.txt.part"), ch)
	require.Error(t, err)

	select {
	case ev := <-sink:
		if _, ok := ev.(events.FileDownloadFailed); ok {
			t.Fatalf("cancellation must not emit a failure event, got %#v", ev)
		}
	default:
	}
}

func TestTaskRunClaimsSuffixOnExistingDestination(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("existing"), 0o644))

	sink := make(events.ChanSink, 16)
	data := []byte("new data")

	task := &Task{
		TransferID: uuid.New(),
		File:       File{PathID: 1, SubPath: []string{"a.txt"}, Size: uint64(len(data)), ChecksumHex: checksumOf(t, data)},
		BaseDir:    dir,
		DestDir:    dir,
		DirCache:   dirmap.NewCache(),
		Sink:       sink,
	}

	ch := make(chan []byte, 1)
	ch <- data
	close(ch)

	finalPath, err := task.Run(context.Background(), 0, filepath.Join(dir, "a.txt.part"), ch)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a(1).txt"), finalPath)

	placed, err := os.ReadFile(filepath.Join(dir, "a(1).txt"))
	require.NoError(t, err)
	assert.Equal(t, data, placed)
}
