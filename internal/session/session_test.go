package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropwired/dropwired/internal/syncstore"
	"github.com/dropwired/dropwired/internal/transfer"
)

func TestEqualSubPath(t *testing.T) {
	t.Run("equal", func(t *testing.T) {
		assert.True(t, equalSubPath([]string{"a", "b"}, []string{"a", "b"}))
	})

	t.Run("different length", func(t *testing.T) {
		assert.False(t, equalSubPath([]string{"a"}, []string{"a", "b"}))
	})

	t.Run("different component", func(t *testing.T) {
		assert.False(t, equalSubPath([]string{"a", "b"}, []string{"a", "c"}))
	})

	t.Run("both empty", func(t *testing.T) {
		assert.True(t, equalSubPath(nil, nil))
	})
}

func TestTransferMatches(t *testing.T) {
	base := func() *transfer.Transfer {
		return &transfer.Transfer{
			PeerIP: "10.0.0.1",
			Files: []transfer.File{
				{PathID: 2, SubPath: []string{"b.txt"}, Size: 20},
				{PathID: 1, SubPath: []string{"a.txt"}, Size: 10},
			},
		}
	}

	persisted := &syncstore.TransferRow{
		PeerIP: "10.0.0.1",
		Paths: []syncstore.PathEntry{
			{PathID: 1, SubPath: []string{"a.txt"}, Size: 10},
			{PathID: 2, SubPath: []string{"b.txt"}, Size: 20},
		},
	}

	t.Run("matches regardless of order", func(t *testing.T) {
		assert.True(t, transferMatches(base(), persisted))
	})

	t.Run("peer mismatch", func(t *testing.T) {
		p := base()
		p.PeerIP = "10.0.0.2"
		assert.False(t, transferMatches(p, persisted))
	})

	t.Run("file count mismatch", func(t *testing.T) {
		p := base()
		p.Files = p.Files[:1]
		assert.False(t, transferMatches(p, persisted))
	})

	t.Run("size mismatch", func(t *testing.T) {
		p := base()
		p.Files[0].Size = 999
		assert.False(t, transferMatches(p, persisted))
	})

	t.Run("sub-path mismatch", func(t *testing.T) {
		p := base()
		p.Files[0].SubPath = []string{"renamed.txt"}
		assert.False(t, transferMatches(p, persisted))
	})

	t.Run("checksum mismatch when both declared", func(t *testing.T) {
		p := base()
		for i := range p.Files {
			p.Files[i].ChecksumHex = "aaaa"
		}

		q := *persisted
		q.Paths = append([]syncstore.PathEntry(nil), persisted.Paths...)
		q.Paths[0].ChecksumHex = "bbbb"

		assert.False(t, transferMatches(p, &q))
	})

	t.Run("checksum ignored when either side unset", func(t *testing.T) {
		p := base()
		p.Files[0].ChecksumHex = "aaaa"
		assert.True(t, transferMatches(p, persisted))
	})
}

func TestDecodeProposal(t *testing.T) {
	id := "c0ffee00-0000-4000-8000-000000000000"

	payload, err := json.Marshal(wireTransferProposal{
		TransferID: id,
		Direction:  int(syncstore.DirectionIncoming),
		Files: []wireFileEntry{
			{PathID: 1, SubPath: []string{"a.txt"}, Size: 5},
		},
	})
	require.NoError(t, err)

	tr, err := decodeProposal(payload, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, id, tr.ID.String())
	assert.Equal(t, "10.0.0.1", tr.PeerIP)
	assert.Equal(t, syncstore.DirectionIncoming, tr.Direction)
	require.Len(t, tr.Files, 1)
	assert.Equal(t, uint64(1), tr.Files[0].PathID)
	assert.Equal(t, uint64(5), tr.Files[0].Size)
}

func TestDecodeProposal_MalformedUUID(t *testing.T) {
	payload, err := json.Marshal(wireTransferProposal{TransferID: "not-a-uuid"})
	require.NoError(t, err)

	_, err = decodeProposal(payload, "10.0.0.1")
	assert.Error(t, err)
}

func TestDecodeProposal_MalformedJSON(t *testing.T) {
	_, err := decodeProposal([]byte("{not json"), "10.0.0.1")
	assert.Error(t, err)
}

func TestDownloadTaskFile(t *testing.T) {
	tr := &transfer.Transfer{
		Files: []transfer.File{
			{PathID: 7, SubPath: []string{"x.bin"}, Size: 100},
		},
	}

	t.Run("found", func(t *testing.T) {
		f, ok := downloadTaskFile(tr, 7)
		require.True(t, ok)
		assert.Equal(t, uint64(100), f.Size)
	})

	t.Run("not found", func(t *testing.T) {
		_, ok := downloadTaskFile(tr, 8)
		assert.False(t, ok)
	})
}
