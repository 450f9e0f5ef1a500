// Package protocol defines the wire-transport boundary: a framed,
// bidirectional byte-stream abstraction over an HTTP connection upgraded to
// a WebSocket, version-routed at /drop/<version>.
package protocol

import (
	"context"
	"fmt"

	"github.com/dropwired/dropwired/internal/syncerr"
)

// Version identifies a protocol revision negotiated from the request path.
type Version int

const (
	V1 Version = iota + 1
	V2
	_ // V3 was never issued; keep the gap so V4/V5 match the spec's numbering
	V4
	V5
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	case V4:
		return "v4"
	case V5:
		return "v5"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// RequiresAuth reports whether a version requires the V4+ nonce/bearer
// handshake before any request is processed.
func (v Version) RequiresAuth() bool {
	return v == V4 || v == V5
}

// ParseVersion maps a path segment ("v1", "v2", "v4", "v5") to a Version.
func ParseVersion(segment string) (Version, error) {
	switch segment {
	case "v1":
		return V1, nil
	case "v2":
		return V2, nil
	case "v4":
		return V4, nil
	case "v5":
		return V5, nil
	default:
		return 0, fmt.Errorf("%w: unsupported protocol version %q", syncerr.ErrInvalidArgument, segment)
	}
}

// FrameType distinguishes text control frames from binary chunk frames on
// the wire.
type FrameType int

const (
	FrameText FrameType = iota
	FrameBinary
)

// Conn is the minimal framed-connection surface a session needs. Concrete
// implementations adapt a transport library; tests can supply an in-memory
// fake.
type Conn interface {
	ReadMessage(ctx context.Context) (FrameType, []byte, error)
	WriteMessage(ctx context.Context, t FrameType, data []byte) error
	Close(reason string) error
	PeerAddr() string
}
