package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/dropwired/dropwired/internal/syncerr"
)

// wsConn adapts a coder/websocket connection to the Conn interface.
type wsConn struct {
	ws       *websocket.Conn
	peerAddr string
}

// NewWebsocketConn wraps an already-upgraded coder/websocket connection.
func NewWebsocketConn(ws *websocket.Conn, peerAddr string) Conn {
	return &wsConn{ws: ws, peerAddr: peerAddr}
}

func (c *wsConn) ReadMessage(ctx context.Context) (FrameType, []byte, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) && (closeErr.Code == websocket.StatusNormalClosure || closeErr.Code == websocket.StatusGoingAway) {
			return 0, nil, syncerr.ErrCanceled
		}

		return 0, nil, fmt.Errorf("dropwired: websocket read: %w", err)
	}

	if typ == websocket.MessageText {
		return FrameText, data, nil
	}

	return FrameBinary, data, nil
}

func (c *wsConn) WriteMessage(ctx context.Context, t FrameType, data []byte) error {
	wireType := websocket.MessageBinary
	if t == FrameText {
		wireType = websocket.MessageText
	}

	if err := c.ws.Write(ctx, wireType, data); err != nil {
		return fmt.Errorf("dropwired: websocket write: %w", err)
	}

	return nil
}

func (c *wsConn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

func (c *wsConn) PeerAddr() string {
	return c.peerAddr
}
