package syncstore

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(context.Background(), ":memory:", slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func seedTransfer(t *testing.T, s *Store, transferID string, direction Direction) {
	t.Helper()

	ctx := context.Background()

	row := TransferRow{
		TransferID: transferID,
		PeerIP:     "192.0.2.1",
		Direction:  direction,
		Paths: []PathEntry{
			{PathID: 1, SubPath: []string{"a.txt"}, Size: 10, ChecksumHex: "aa00"},
			{PathID: 2, SubPath: []string{"sub", "b.txt"}, Size: 20},
		},
	}

	require.NoError(t, s.SaveTransferDefinition(ctx, row))
	require.NoError(t, s.InsertTransfer(ctx, transferID, direction))
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t)

	var name string

	err := store.db.QueryRowContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'transfers'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "transfers", name)
}

func TestInsertTransferAndState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	sync, err := store.TransferState(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, sync)
	assert.Equal(t, TransferNew, sync.LocalState)
	assert.Equal(t, TransferNew, sync.RemoteState)
	assert.Equal(t, DirectionIncoming, sync.Direction)
}

func TestTransferStateUnknown(t *testing.T) {
	store := newTestStore(t)

	sync, err := store.TransferState(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, sync)
}

func TestInsertTransferDuplicateRejected(t *testing.T) {
	store := newTestStore(t)

	seedTransfer(t, store, "t1", DirectionIncoming)

	err := store.InsertTransfer(context.Background(), "t1", DirectionIncoming)
	require.Error(t, err)
}

func TestActivateIfNew(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	activated, err := store.ActivateIfNew(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, activated)

	sync, err := store.TransferState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TransferActive, sync.LocalState)
	assert.Equal(t, TransferActive, sync.RemoteState)

	activated, err = store.ActivateIfNew(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, activated, "second activation on an already-active transfer is a no-op")
}

func TestSetTransferLocalStateOnlyAcceptsCanceled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	_, err := store.SetTransferLocalState(ctx, "t1", TransferActive)
	require.Error(t, err)

	ok, err := store.SetTransferLocalState(ctx, "t1", TransferCanceled)
	require.NoError(t, err)
	assert.True(t, ok)

	sync, err := store.TransferState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TransferCanceled, sync.LocalState)
}

func TestSetTransferRemoteStateUnknownTransfer(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.SetTransferRemoteState(context.Background(), "missing", TransferCanceled)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearTransfer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)
	require.NoError(t, store.StartIncomingFile(ctx, "t1", 1, "/tmp/incoming/t1"))

	require.NoError(t, store.ClearTransfer(ctx, "t1"))

	sync, err := store.TransferState(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, sync)

	entries, err := store.FilesInFlight(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPurgeOrphaned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "keep", DirectionIncoming)
	seedTransfer(t, store, "drop", DirectionIncoming)

	n, err := store.PurgeOrphaned(ctx, map[string]struct{}{"keep": {}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sync, err := store.TransferState(ctx, "keep")
	require.NoError(t, err)
	assert.NotNil(t, sync)

	sync, err = store.TransferState(ctx, "drop")
	require.NoError(t, err)
	assert.Nil(t, sync)
}

func TestFileStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	local, remote, err := store.FileState(ctx, "t1", DirectionIncoming, 1)
	require.NoError(t, err)
	assert.Equal(t, FileAlive, local)
	assert.Equal(t, FileAlive, remote)

	ok, err := store.SetFileLocalState(ctx, "t1", DirectionIncoming, 1, FileRejected)
	require.NoError(t, err)
	assert.True(t, ok)

	local, _, err = store.FileState(ctx, "t1", DirectionIncoming, 1)
	require.NoError(t, err)
	assert.Equal(t, FileRejected, local)
}

func TestSetFileLocalStateRejectedNeverReturnsToAlive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	ok, err := store.SetFileLocalState(ctx, "t1", DirectionIncoming, 1, FileRejected)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetFileLocalState(ctx, "t1", DirectionIncoming, 1, FileAlive)
	require.NoError(t, err)
	assert.False(t, ok, "Rejected -> Alive must be refused")

	local, _, err := store.FileState(ctx, "t1", DirectionIncoming, 1)
	require.NoError(t, err)
	assert.Equal(t, FileRejected, local)
}

func TestFileStateUndeclaredPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	_, _, err := store.FileState(ctx, "t1", DirectionIncoming, 99)
	require.Error(t, err)
}

func TestFilesToReject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionOutgoing)

	ok, err := store.SetFileLocalState(ctx, "t1", DirectionOutgoing, 2, FileRejected)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := store.FilesToReject(ctx, "t1", DirectionOutgoing)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, uint64(2), ids[0])
}

func TestInFlightLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	require.NoError(t, store.StartIncomingFile(ctx, "t1", 1, "/data/incoming/t1"))

	entries, err := store.FilesInFlight(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].PathID)
	assert.Equal(t, "/data/incoming/t1", entries[0].BaseDir)

	require.NoError(t, store.StopIncomingFile(ctx, "t1", 1))

	entries, err = store.FilesInFlight(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStartIncomingFileNoOpWhenRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	_, err := store.SetFileLocalState(ctx, "t1", DirectionIncoming, 1, FileRejected)
	require.NoError(t, err)

	require.NoError(t, store.StartIncomingFile(ctx, "t1", 1, "/data/incoming/t1"))

	entries, err := store.FilesInFlight(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, entries, "starting a rejected file must be a no-op")
}

func TestRegisterFinishedIncomingFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)
	require.NoError(t, store.StartIncomingFile(ctx, "t1", 1, "/data/incoming/t1"))

	require.NoError(t, store.RegisterFinishedIncomingFile(ctx, "t1", 1, "/data/dest/a.txt"))

	entries, err := store.FilesInFlight(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, entries, "registering a finished file clears its in-flight marker")

	finished, err := store.FinishedIncomingFiles(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, uint64(1), finished[0].PathID)
	assert.Equal(t, "/data/dest/a.txt", finished[0].FinalPath)

	all, err := store.AllFinishedIncomingFiles(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetTransferDefinitionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, store, "t1", DirectionIncoming)

	def, err := store.GetTransferDefinition(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", def.PeerIP)
	require.Len(t, def.Paths, 2)
	assert.Equal(t, []string{"a.txt"}, def.Paths[0].SubPath)
	assert.Equal(t, "aa00", def.Paths[0].ChecksumHex)
	assert.Equal(t, []string{"sub", "b.txt"}, def.Paths[1].SubPath)
	assert.Equal(t, "", def.Paths[1].ChecksumHex)
}

func TestGetTransferDefinitionUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTransferDefinition(context.Background(), "missing")
	require.Error(t, err)
}

func TestParseTransferStateOutOfRange(t *testing.T) {
	_, err := ParseTransferState(99)
	require.Error(t, err)
}

func TestParseFileStateOutOfRange(t *testing.T) {
	_, err := ParseFileState(99)
	require.Error(t, err)
}
