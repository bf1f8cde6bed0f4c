package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world/terrain"
)

// Conn is a handshaken streaming session.
type Conn struct {
	ws      *websocket.Conn
	Welcome protocol.WelcomeMsg
	seq     uint64
}

// Dial connects, sends HELLO and waits for WELCOME.
func Dial(ctx context.Context, url, name string, maxQueue int) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: maxQueue},
	}
	if err := ws.WriteJSON(hello); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	_, msg, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
	case protocol.TypeError:
		ws.Close()
		return nil, decodeError(msg)
	default:
		ws.Close()
		return nil, fmt.Errorf("expected WELCOME, got %s", base.Type)
	}
	c := &Conn{ws: ws}
	if err := json.Unmarshal(msg, &c.Welcome); err != nil {
		ws.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}
	return c, nil
}

// SendMove reports the client's authoritative position. A position outside
// the boundary announced in WELCOME is not sent; the server would answer it
// with E_OUT_OF_BOUNDS and keep the previous one.
func (c *Conn) SendMove(loc terrain.Loc) error {
	if !terrain.InBoundary(loc, c.Welcome.StreamParams.WorldBoundaryR) {
		return fmt.Errorf("%w: %v", ErrOutOfBounds, [2]int{loc.Q, loc.R})
	}
	c.seq++
	return c.ws.WriteJSON(protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		Seq:             c.seq,
		Pos:             [2]int{loc.Q, loc.R},
	})
}

// ReadChunk blocks until the next CHUNK_DATA. Unknown message types are
// skipped; ERROR is returned as an error.
func (c *Conn) ReadChunk() (protocol.ChunkDataMsg, error) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.ChunkDataMsg{}, err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeChunkData:
			var cd protocol.ChunkDataMsg
			if err := json.Unmarshal(msg, &cd); err != nil {
				return cd, fmt.Errorf("decode CHUNK_DATA: %w", err)
			}
			return cd, nil
		case protocol.TypeError:
			return protocol.ChunkDataMsg{}, decodeError(msg)
		}
	}
}

func (c *Conn) Close() error { return c.ws.Close() }

func decodeError(msg []byte) error {
	var e protocol.ErrorMsg
	if err := json.Unmarshal(msg, &e); err != nil {
		return fmt.Errorf("decode ERROR: %w", err)
	}
	return fmt.Errorf("server error %s: %s", e.Code, e.Message)
}
