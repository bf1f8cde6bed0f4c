package client

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world"
	"tilestream.ai/internal/sim/world/feature/discovery"
	"tilestream.ai/internal/sim/world/io/chunkcodec"
	"tilestream.ai/internal/sim/world/terrain"
	"tilestream.ai/internal/sim/world/terrain/cache"
	"tilestream.ai/internal/sim/world/terrain/gen"
	"tilestream.ai/internal/sim/world/terrain/store"
)

var testParams = protocol.StreamParams{TickRateHz: 20, Seed: 3, ChunkSize: 8, FOVChunkRadius: 1, EvictionBuffer: 1, WorldBoundaryR: 1000}

func newEngine(t *testing.T, sp protocol.StreamParams, m *Mirror) *discovery.Engine {
	t.Helper()
	grid := terrain.Grid{ChunkSize: sp.ChunkSize}
	g := gen.New(grid, sp.Seed, nil).WithClock(func() time.Time { return time.Unix(0, 0) })
	send := func(_ string, ch *terrain.Chunk) {
		if _, err := m.Apply(chunkcodec.ChunkData(ch, 0)); err != nil {
			t.Fatalf("apply %v: %v", ch.ID, err)
		}
	}
	return discovery.NewEngine(discovery.Config{Grid: grid, Mirror: m.Params()},
		cache.New(16), g, store.NewTerrainStore(), send)
}

func TestNewMirrorValidatesParams(t *testing.T) {
	bad := testParams
	bad.EvictionBuffer = 0
	if _, err := NewMirror(bad); err == nil {
		t.Fatalf("eviction_buffer 0 should be rejected")
	}
	bad = testParams
	bad.ChunkSize = 0
	if _, err := NewMirror(bad); err == nil {
		t.Fatalf("chunk_size 0 should be rejected")
	}
	bad = testParams
	bad.WorldBoundaryR = 0
	if _, err := NewMirror(bad); err == nil {
		t.Fatalf("world_boundary_r 0 should be rejected")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	m, err := NewMirror(testParams)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	g := gen.New(m.Grid(), 1, nil)
	ch := g.Generate(terrain.ChunkID{Q: -1, R: 0}, store.NewTerrainStore())
	msg := chunkcodec.ChunkData(ch, 1)
	for i := 0; i < 2; i++ {
		if _, err := m.Apply(msg); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if m.Len() != 1 || m.TileCount() != 64 {
		t.Fatalf("len=%d tiles=%d", m.Len(), m.TileCount())
	}
	loc := terrain.Loc{Q: -3, R: 5}
	got, ok := m.TileAt(loc)
	if !ok || got != g.TileAt(loc) {
		t.Fatalf("tile at %+v = %+v ok=%v", loc, got, ok)
	}
	if _, ok := m.TileAt(terrain.Loc{Q: 1, R: 1}); ok {
		t.Fatalf("tile of an unloaded chunk should be missing")
	}
}

func TestApplyKeepsFirstCopy(t *testing.T) {
	m, _ := NewMirror(testParams)
	st := store.NewTerrainStore()
	id := terrain.ChunkID{Q: 1, R: -1}
	first := gen.New(m.Grid(), 1, nil).Generate(id, st)
	other := gen.New(m.Grid(), 2, nil).Generate(id, st)
	if first.Digest() == other.Digest() {
		t.Fatalf("seeds 1 and 2 produced the same chunk")
	}
	for _, ch := range []*terrain.Chunk{first, other} {
		if _, err := m.Apply(chunkcodec.ChunkData(ch, 0)); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	for _, c := range first.Cells {
		if got, _ := m.TileAt(c.Loc); got != c.Tile {
			t.Fatalf("tile at %+v = %+v, want first copy %+v", c.Loc, got, c.Tile)
		}
	}
}

func TestSetPositionRefusesOutOfBounds(t *testing.T) {
	sp := testParams
	sp.WorldBoundaryR = 15
	m, _ := NewMirror(sp)
	if err := m.SetPosition(terrain.Loc{Q: 15, R: -15}); err != nil {
		t.Fatalf("corner: %v", err)
	}
	if err := m.SetPosition(terrain.Loc{Q: 16}); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("err=%v want ErrOutOfBounds", err)
	}
	if m.pos != (terrain.Loc{Q: 15, R: -15}) {
		t.Fatalf("refused position replaced %+v", m.pos)
	}
}

// Walks a real world up to the boundary and past it. The server refuses the
// out-of-bounds move and keeps the old position; the mirror must as well.
func TestBoundaryWalkMatchesServer(t *testing.T) {
	w, err := world.New(world.WorldConfig{
		ID:              "EDGE",
		TickRateHz:      20,
		Seed:            3,
		BoundaryR:       15,
		ChunkSize:       8,
		FOVChunkRadius:  1,
		EvictionBuffer:  1,
		MaxCachedChunks: 64,
		ResolveWorkers:  1,
		MaxClientQueue:  256,
	})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	out := make(chan []byte, 256)
	resp := make(chan world.JoinResponse, 1)
	w.StepOnce([]world.JoinRequest{{Name: "edge", Out: out, Resp: resp}}, nil, nil)
	welcome := (<-resp).Welcome
	if welcome.StreamParams.WorldBoundaryR != 15 {
		t.Fatalf("stream params=%+v", welcome.StreamParams)
	}
	m, err := NewMirror(welcome.StreamParams)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}

	var rejected int
	drain := func() {
		for {
			select {
			case b := <-out:
				base, err := protocol.DecodeBase(b)
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				switch base.Type {
				case protocol.TypeChunkData:
					var msg protocol.ChunkDataMsg
					if err := json.Unmarshal(b, &msg); err != nil {
						t.Fatalf("chunk: %v", err)
					}
					if _, err := m.Apply(msg); err != nil {
						t.Fatalf("apply: %v", err)
					}
				case protocol.TypeError:
					var e protocol.ErrorMsg
					if err := json.Unmarshal(b, &e); err != nil || e.Code != protocol.ErrOutOfBounds {
						t.Fatalf("error message %s", b)
					}
					rejected++
				}
			default:
				return
			}
		}
	}
	drain()
	if err := m.SetPosition(terrain.Loc{Q: welcome.Spawn[0], R: welcome.Spawn[1]}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	m.Tick()

	var seq uint64
	for _, loc := range []terrain.Loc{{Q: -9}, {Q: 15}, {Q: 16}, {Q: 15}, {Q: 0}} {
		seq++
		w.StepOnce(nil, nil, []world.MoveEnvelope{{ClientID: welcome.ClientID, Seq: seq, Pos: loc}})
		drain()
		if err := m.SetPosition(loc); err != nil && !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("set position %+v: %v", loc, err)
		}
		m.Tick()

		seen := w.Metrics().Sessions[0].Seen
		if seen != m.Len() {
			t.Fatalf("after %+v: server seen %d, client loaded %v", loc, seen, m.Loaded().Sorted())
		}
	}
	if rejected != 1 {
		t.Fatalf("rejected=%d want 1", rejected)
	}
	for id := range terrain.VisibleChunks(terrain.ChunkID{}, 1) {
		if !m.Has(id) {
			t.Fatalf("visible chunk %v missing at origin; loaded %v", id, m.Loaded().Sorted())
		}
	}
}

func TestTickEvictsOutsideRetention(t *testing.T) {
	m, _ := NewMirror(testParams)
	if got := m.Tick(); got != nil {
		t.Fatalf("tick before any position should be a no-op")
	}
	g := gen.New(m.Grid(), 1, nil)
	st := store.NewTerrainStore()
	for _, id := range []terrain.ChunkID{{Q: 0}, {Q: 2}, {Q: 3}, {Q: -2, R: 2}} {
		if _, err := m.Apply(chunkcodec.ChunkData(g.Generate(id, st), 0)); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if err := m.SetPosition(terrain.Loc{Q: 1, R: 1}); err != nil {
		t.Fatalf("set position: %v", err)
	}
	evicted := m.Tick()
	if len(evicted) != 1 || evicted[0] != (terrain.ChunkID{Q: 3}) {
		t.Fatalf("evicted=%v want [3,0]", evicted)
	}
	if m.Has(terrain.ChunkID{Q: 3}) || !m.Has(terrain.ChunkID{Q: -2, R: 2}) {
		t.Fatalf("unexpected loaded set %v", m.Loaded().Sorted())
	}
}

// The client's loaded set and the server's seen set must stay equal on any walk.
func TestEvictionMirrorsServerOnRandomWalk(t *testing.T) {
	for _, sp := range []protocol.StreamParams{
		testParams,
		{TickRateHz: 20, Seed: 9, ChunkSize: 4, FOVChunkRadius: 2, EvictionBuffer: 2, WorldBoundaryR: 1000},
		{TickRateHz: 20, Seed: 9, ChunkSize: 3, FOVChunkRadius: 0, EvictionBuffer: 1, WorldBoundaryR: 1000},
	} {
		m, err := NewMirror(sp)
		if err != nil {
			t.Fatalf("mirror: %v", err)
		}
		eng := newEngine(t, sp, m)
		st := discovery.NewPlayerState("walker")
		rng := rand.New(rand.NewSource(sp.Seed))
		loc := terrain.Loc{}
		for step := 0; step < 400; step++ {
			if step%50 == 0 {
				// Teleport to exercise large jumps.
				loc = terrain.Loc{Q: rng.Intn(200) - 100, R: rng.Intn(200) - 100}
			} else {
				loc.Q += rng.Intn(5) - 2
				loc.R += rng.Intn(5) - 2
			}
			eng.Update(st, loc)
			if err := m.SetPosition(loc); err != nil {
				t.Fatalf("set position: %v", err)
			}
			m.Tick()

			if len(st.Seen) != m.Len() {
				t.Fatalf("params %+v step %d: server seen %d, client loaded %d", sp, step, len(st.Seen), m.Len())
			}
			for id := range st.Seen {
				if !m.Has(id) {
					t.Fatalf("params %+v step %d: server thinks %v is loaded", sp, step, id)
				}
			}
			center := m.Grid().LocToChunk(loc)
			for id := range terrain.VisibleChunks(center, sp.FOVChunkRadius) {
				if !m.Has(id) {
					t.Fatalf("params %+v step %d: visible chunk %v missing", sp, step, id)
				}
			}
		}
	}
}
