package transfer

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropwired/dropwired/internal/syncstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	store, err := syncstore.NewStore(context.Background(), ":memory:", slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return NewManager(store)
}

func sampleTransfer(direction syncstore.Direction) *Transfer {
	return &Transfer{
		ID:        uuid.New(),
		PeerIP:    "198.51.100.4",
		Direction: direction,
		Files: []File{
			{PathID: 1, SubPath: []string{"a.txt"}, Size: 100},
			{PathID: 2, SubPath: []string{"photos", "b.jpg"}, Size: 200},
		},
	}
}

func TestInsertAndGet(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionIncoming)

	require.NoError(t, m.Insert(context.Background(), tr, make(chan Signal, 1)))

	got, ok := m.Get(tr.ID, syncstore.DirectionIncoming)
	require.True(t, ok)
	assert.Equal(t, tr.PeerIP, got.PeerIP)
	assert.Len(t, got.Files, 2)
}

func TestInsertDuplicateRejected(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionIncoming)

	require.NoError(t, m.Insert(context.Background(), tr, make(chan Signal, 1)))

	err := m.Insert(context.Background(), tr, make(chan Signal, 1))
	require.Error(t, err)
}

func TestGetUnknownTransfer(t *testing.T) {
	m := newTestManager(t)

	_, ok := m.Get(uuid.New(), syncstore.DirectionIncoming)
	assert.False(t, ok)
}

func TestGetChannel(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionOutgoing)
	ch := make(chan Signal, 1)

	require.NoError(t, m.Insert(context.Background(), tr, ch))

	got, ok := m.GetChannel(tr.ID, syncstore.DirectionOutgoing)
	require.True(t, ok)
	assert.Equal(t, ch, got)
}

func TestCancelRemovesEntry(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionIncoming)

	require.NoError(t, m.Insert(context.Background(), tr, make(chan Signal, 1)))
	m.Cancel(tr.ID, syncstore.DirectionIncoming)

	_, ok := m.Get(tr.ID, syncstore.DirectionIncoming)
	assert.False(t, ok)
}

func TestApplyDirMapping(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionIncoming)

	require.NoError(t, m.Insert(context.Background(), tr, make(chan Signal, 1)))

	dest := t.TempDir()

	path, err := m.ApplyDirMapping(tr.ID, dest, 2)
	require.NoError(t, err)
	assert.Contains(t, path, "photos")
	assert.Contains(t, path, "b.jpg")
}

func TestApplyDirMappingUnknownTransfer(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ApplyDirMapping(uuid.New(), t.TempDir(), 1)
	require.Error(t, err)
}

func TestApplyDirMappingUndeclaredFile(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionIncoming)

	require.NoError(t, m.Insert(context.Background(), tr, make(chan Signal, 1)))

	_, err := m.ApplyDirMapping(tr.ID, t.TempDir(), 999)
	require.Error(t, err)
}

func TestResumeAttachesWithoutDuplicateStoreWrite(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionIncoming)

	require.NoError(t, m.Insert(context.Background(), tr, make(chan Signal, 1)))
	m.Cancel(tr.ID, syncstore.DirectionIncoming)

	require.NoError(t, m.Resume(tr, make(chan Signal, 1)))

	got, ok := m.Get(tr.ID, syncstore.DirectionIncoming)
	require.True(t, ok)
	assert.Equal(t, tr.PeerIP, got.PeerIP)
}

func TestResumeAlreadyRegisteredRejected(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionIncoming)

	require.NoError(t, m.Insert(context.Background(), tr, make(chan Signal, 1)))

	err := m.Resume(tr, make(chan Signal, 1))
	require.Error(t, err)
}

func TestRebuildDirMapReusesChosenName(t *testing.T) {
	m := newTestManager(t)
	tr := sampleTransfer(syncstore.DirectionIncoming)

	require.NoError(t, m.Insert(context.Background(), tr, make(chan Signal, 1)))

	dest := t.TempDir()

	err := m.RebuildDirMap(tr.ID, []syncstore.FinishedFile{
		{PathID: 2, FinalPath: dest + "/photos(3)/b.jpg"},
	})
	require.NoError(t, err)

	path, err := m.ApplyDirMapping(tr.ID, dest, 2)
	require.NoError(t, err)
	assert.Contains(t, path, "photos(3)")
}
