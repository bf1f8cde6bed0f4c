package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilestream.ai/internal/client"
	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world"
	"tilestream.ai/internal/sim/world/terrain"
	"tilestream.ai/internal/transport/ws"
)

func startServer(t *testing.T) (string, *world.World) {
	t.Helper()
	w, err := world.New(world.WorldConfig{
		ID:              "WS_TEST",
		TickRateHz:      50,
		Seed:            11,
		BoundaryR:       1000,
		ChunkSize:       8,
		FOVChunkRadius:  1,
		EvictionBuffer:  1,
		MaxCachedChunks: 128,
		ResolveWorkers:  2,
		MaxClientQueue:  64,
	})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(ws.NewServer(w, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), w
}

func readChunks(t *testing.T, c *client.Conn, m *client.Mirror, n int) []terrain.ChunkID {
	t.Helper()
	var ids []terrain.ChunkID
	for len(ids) < n {
		msg, err := c.ReadChunk()
		if err != nil {
			t.Fatalf("read chunk %d/%d: %v", len(ids), n, err)
		}
		id, err := m.Apply(msg)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestHandshakeAndStreaming(t *testing.T) {
	url, w := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, url, "tester", 32)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if c.Welcome.StreamParams != w.StreamParams() {
		t.Fatalf("stream params mismatch: %+v", c.Welcome.StreamParams)
	}
	m, err := client.NewMirror(c.Welcome.StreamParams)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}

	readChunks(t, c, m, 9)
	if m.Len() != 9 {
		t.Fatalf("loaded=%d", m.Len())
	}

	pos := terrain.Loc{Q: 8, R: 0}
	if err := c.SendMove(pos); err != nil {
		t.Fatalf("move: %v", err)
	}
	for _, id := range readChunks(t, c, m, 3) {
		if id.Q != 2 {
			t.Fatalf("unexpected chunk %v", id)
		}
	}
	if err := m.SetPosition(pos); err != nil {
		t.Fatalf("set position: %v", err)
	}
	if evicted := m.Tick(); len(evicted) != 0 {
		t.Fatalf("nothing should leave retention yet, evicted %v", evicted)
	}

	if err := c.SendMove(terrain.Loc{Q: 1001}); !errors.Is(err, client.ErrOutOfBounds) {
		t.Fatalf("out of bounds move: %v", err)
	}
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	url, _ := startServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", ClientName: "old"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(msg, &e); err != nil || e.Code != protocol.ErrProtoVersion {
		t.Fatalf("expected version error, got %s", msg)
	}
}

func TestHandshakeRejectsNonHello(t *testing.T) {
	url, _ := startServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(msg, &e); err != nil || e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("expected bad request, got %s", msg)
	}
}

func TestDisconnectLeavesWorld(t *testing.T) {
	url, w := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, url, "leaver", 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for w.Metrics().Clients != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never joined")
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = c.Close()
	for w.Metrics().Clients != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
