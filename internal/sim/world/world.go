package world

import (
	"sync/atomic"

	"tilestream.ai/internal/sim/world/feature/discovery"
	"tilestream.ai/internal/sim/world/terrain"
	"tilestream.ai/internal/sim/world/terrain/cache"
	"tilestream.ai/internal/sim/world/terrain/gen"
	"tilestream.ai/internal/sim/world/terrain/store"
)

// World owns the shared terrain state and the per-client discovery state.
// All mutation of clients happens on the loop goroutine.
type World struct {
	cfg  WorldConfig
	grid terrain.Grid

	store  *store.TerrainStore
	cache  *cache.WorldCache
	gen    *gen.Generator
	engine *discovery.Engine

	clients map[string]*clientState

	join  chan JoinRequest
	leave chan string
	inbox chan MoveEnvelope
	stop  chan struct{}

	tick    atomic.Uint64
	metrics atomic.Value // WorldMetrics

	tickLogger TickLogger

	payloads   payloadMemo
	sendDrops  atomic.Uint64
	totals     discovery.StepStats
	joinTotal  uint64
	leaveTotal uint64
}

type clientState struct {
	ID      string
	Name    string
	Out     chan []byte
	Pos     terrain.Loc
	LastSeq uint64
	State   *discovery.PlayerState
}

func New(cfg WorldConfig) (*World, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxClientQueue <= 0 {
		cfg.MaxClientQueue = 256
	}
	grid := terrain.Grid{ChunkSize: cfg.ChunkSize}
	w := &World{
		cfg:     cfg,
		grid:    grid,
		store:   store.NewTerrainStore(),
		cache:   cache.New(cfg.MaxCachedChunks),
		gen:     gen.New(grid, cfg.Seed, nil),
		clients: map[string]*clientState{},
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		inbox:   make(chan MoveEnvelope, 1024),
		stop:    make(chan struct{}),
	}
	w.engine = discovery.NewEngine(discovery.Config{
		Grid:             grid,
		Mirror:           cfg.mirrorParams(),
		DedupeGeneration: cfg.DedupeGeneration,
		Workers:          cfg.ResolveWorkers,
	}, w.cache, w.gen, w.store, w.sendChunk)
	w.publishMetrics(0, discovery.StepStats{})
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }

func (w *World) Join() chan<- JoinRequest   { return w.join }
func (w *World) Leave() chan<- string       { return w.leave }
func (w *World) Inbox() chan<- MoveEnvelope { return w.inbox }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig { return w.cfg }
func (w *World) Grid() terrain.Grid  { return w.grid }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// IsSolid answers physics queries against authoritative terrain. It is safe to
// call from any goroutine.
func (w *World) IsSolid(loc terrain.Loc) bool { return w.store.IsSolid(loc) }

// SetTile records a gameplay edit. Generation never overwrites it, but chunks
// already cached or sent keep their old copy.
func (w *World) SetTile(loc terrain.Loc, t terrain.Tile) { w.store.Set(loc, t) }

// EvictChunk drops one chunk from the discovery cache.
func (w *World) EvictChunk(id terrain.ChunkID) bool { return w.cache.Remove(id) }

func (w *World) inBounds(loc terrain.Loc) bool {
	return terrain.InBoundary(loc, w.cfg.BoundaryR)
}

