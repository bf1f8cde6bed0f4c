package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world"
	"tilestream.ai/internal/sim/world/terrain"
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		clientID, out := s.handshake(conn)
		if clientID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeMove {
				continue
			}
			var mv protocol.MoveMsg
			if err := json.Unmarshal(msg, &mv); err != nil {
				continue
			}
			if mv.ProtocolVersion != protocol.Version {
				continue
			}
			select {
			case s.world.Inbox() <- world.MoveEnvelope{
				ClientID: clientID,
				Seq:      mv.Seq,
				Pos:      terrain.Loc{Q: mv.Pos[0], R: mv.Pos[1]},
			}:
			case <-ctx.Done():
			}
		}

		// Cleanup.
		s.world.Leave() <- clientID
		if s.log != nil {
			s.log.Printf("session closed client_id=%s", clientID)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (clientID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return "", nil
	}
	hello.ClientName = strings.TrimSpace(hello.ClientName)
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := s.world.Config().MaxClientQueue
	if q := hello.Capabilities.MaxQueue; q > 0 && q < maxQ {
		maxQ = q
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{Name: hello.ClientName, Out: out, Resp: respCh}
	resp := <-respCh

	// WELCOME goes out before the writer goroutine starts, so it precedes
	// every CHUNK_DATA queued by the join tick.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.ClientID
		return "", nil
	}
	if s.log != nil {
		s.log.Printf("session open client_id=%s name=%s queue=%d", resp.Welcome.ClientID, hello.ClientName, maxQ)
	}
	return resp.Welcome.ClientID, out
}

func reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
