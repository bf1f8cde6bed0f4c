package world

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world/feature/discovery"
	"tilestream.ai/internal/sim/world/io/chunkcodec"
	"tilestream.ai/internal/sim/world/terrain"
)

func (w *World) joinClient(req JoinRequest) *clientState {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "client"
	}
	id := uuid.NewString()
	c := &clientState{
		ID:    id,
		Name:  name,
		Out:   req.Out,
		Pos:   terrain.Loc{},
		State: discovery.NewPlayerState(id),
	}
	w.clients[id] = c
	w.joinTotal++

	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       uuid.NewString(),
			ClientID:        id,
			Spawn:           [2]int{c.Pos.Q, c.Pos.R},
			StreamParams:    w.StreamParams(),
		}}
	}
	return c
}

func (w *World) handleLeave(id string) {
	delete(w.clients, id)
	w.leaveTotal++
}

// StreamParams are the constants a client needs to mirror eviction exactly.
func (w *World) StreamParams() protocol.StreamParams {
	return protocol.StreamParams{
		TickRateHz:     w.cfg.TickRateHz,
		Seed:           w.cfg.Seed,
		ChunkSize:      w.cfg.ChunkSize,
		FOVChunkRadius: w.cfg.FOVChunkRadius,
		EvictionBuffer: w.cfg.EvictionBuffer,
		WorldBoundaryR: w.cfg.BoundaryR,
	}
}

// sendChunk is the discovery engine's sender. It may run on resolve workers,
// which only read the clients map while a step is in progress.
func (w *World) sendChunk(clientID string, ch *terrain.Chunk) {
	c := w.clients[clientID]
	if c == nil || c.Out == nil {
		return
	}
	b, err := w.payloads.get(ch)
	if err != nil {
		return
	}
	w.trySend(c.Out, b)
}

func (w *World) sendError(c *clientState, code, message string) {
	if c.Out == nil {
		return
	}
	b, err := json.Marshal(protocol.NewError(code, message))
	if err != nil {
		return
	}
	w.trySend(c.Out, b)
}

// trySend never blocks the tick. A full queue drops the new payload; the
// chunk stays marked as seen, the same as a lost packet.
func (w *World) trySend(ch chan []byte, b []byte) {
	select {
	case ch <- b:
	default:
		w.sendDrops.Add(1)
	}
}

// payloadMemo encodes each chunk at most once per tick, however many clients
// discover it.
type payloadMemo struct {
	mu   sync.Mutex
	tick uint64
	byCh map[*terrain.Chunk][]byte
}

func (m *payloadMemo) reset(tick uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = tick
	m.byCh = map[*terrain.Chunk][]byte{}
}

func (m *payloadMemo) get(ch *terrain.Chunk) ([]byte, error) {
	m.mu.Lock()
	if b, ok := m.byCh[ch]; ok {
		m.mu.Unlock()
		return b, nil
	}
	tick := m.tick
	m.mu.Unlock()

	b, err := json.Marshal(chunkcodec.ChunkData(ch, tick))
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.byCh == nil {
		m.byCh = map[*terrain.Chunk][]byte{}
	}
	m.byCh[ch] = b
	m.mu.Unlock()
	return b, nil
}
