package session

import (
	"encoding/json"
	"fmt"

	"github.com/dropwired/dropwired/internal/syncerr"
)

// wireEnvelope is the JSON control-frame shape. Binary chunk frames are not
// enveloped: they carry an 8-byte big-endian path id header (chunkHeaderLen)
// followed by raw file bytes.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	msgTransferProposal = "transfer_proposal"
	msgDownloadRequest  = "download_request"
	msgRejectRequest    = "reject_request"
	msgPing             = "ping"
)

type wireFileEntry struct {
	PathID      uint64   `json:"path_id"`
	SubPath     []string `json:"sub_path"`
	Size        uint64   `json:"size"`
	ChecksumHex string   `json:"checksum_hex,omitempty"`
}

type wireTransferProposal struct {
	TransferID string          `json:"transfer_id"`
	Direction  int             `json:"direction"`
	Files      []wireFileEntry `json:"files"`
}

type wireDownloadRequest struct {
	PathID uint64 `json:"path_id"`
	Offset uint64 `json:"offset"`
}

type wireRejectRequest struct {
	PathID uint64 `json:"path_id"`
}

func encodeEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dropwired: encoding %s payload: %w", msgType, err)
	}

	return json.Marshal(wireEnvelope{Type: msgType, Payload: raw})
}

func decodeEnvelope(data []byte) (wireEnvelope, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return wireEnvelope{}, fmt.Errorf("%w: malformed control frame: %v", syncerr.ErrInvalidArgument, err)
	}

	return env, nil
}

func decodeJSON(payload json.RawMessage, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", syncerr.ErrInvalidArgument, err)
	}

	return nil
}
