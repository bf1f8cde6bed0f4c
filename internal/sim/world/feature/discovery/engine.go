package discovery

import (
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"tilestream.ai/internal/sim/world/logic/mathx"
	"tilestream.ai/internal/sim/world/terrain"
	"tilestream.ai/internal/sim/world/terrain/gen"
	"tilestream.ai/internal/sim/world/terrain/mirror"
)

// ChunkCache is the shared generated-chunk cache.
type ChunkCache interface {
	Get(id terrain.ChunkID) (*terrain.Chunk, bool)
	// Peek is a lookup that does not count toward hit/miss statistics.
	Peek(id terrain.ChunkID) (*terrain.Chunk, bool)
	InsertAfterMiss(id terrain.ChunkID, ch *terrain.Chunk) *terrain.Chunk
}

type ChunkGenerator interface {
	Generate(id terrain.ChunkID, st gen.TileStore) *terrain.Chunk
}

// Sender hands a chunk payload to a client's transport. It must not block and
// it is never told whether delivery succeeded.
type Sender func(clientID string, ch *terrain.Chunk)

type Config struct {
	Grid   terrain.Grid
	Mirror mirror.Params
	// DedupeGeneration coalesces concurrent misses on the same chunk into one
	// generation. Off by default: duplicate generation is wasted work only.
	DedupeGeneration bool
	// Workers > 1 resolves different clients' updates in parallel within a step.
	Workers int
}

type Engine struct {
	cfg   Config
	cache ChunkCache
	gen   ChunkGenerator
	store gen.TileStore
	send  Sender

	flight singleflight.Group
}

func NewEngine(cfg Config, c ChunkCache, g ChunkGenerator, st gen.TileStore, send Sender) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if send == nil {
		send = func(string, *terrain.Chunk) {}
	}
	return &Engine{cfg: cfg, cache: c, gen: g, store: st, send: send}
}

func (e *Engine) Config() Config { return e.cfg }

// Outcome describes one processed position update.
type Outcome struct {
	Crossed bool
	Chunk   terrain.ChunkID
	Sent    []terrain.ChunkID
	Hits    int
	Misses  int
	Pruned  []terrain.ChunkID
}

// Update runs boundary detection and, on a crossing, discovery for one client.
// Updates inside the last chunk do no work at all.
func (e *Engine) Update(st *PlayerState, loc terrain.Loc) Outcome {
	now := e.cfg.Grid.LocToChunk(loc)
	if last, ok := st.LastChunk(); ok && last == now {
		return Outcome{Chunk: now}
	}

	st.Phase = PhaseDiscovering
	out := Outcome{Crossed: true, Chunk: now}

	for _, id := range unseen(terrain.VisibleChunks(now, e.cfg.Mirror.FOVChunkRadius), st.Seen, now) {
		ch, hit := e.resolve(id)
		if hit {
			out.Hits++
		} else {
			out.Misses++
		}
		st.Seen.Add(id)
		e.send(st.ClientID, ch)
		out.Sent = append(out.Sent, id)
	}

	out.Pruned = mirror.Prune(st.Seen, now, e.cfg.Mirror)

	st.setLast(now)
	st.Phase = PhaseIdle
	return out
}

func (e *Engine) resolve(id terrain.ChunkID) (*terrain.Chunk, bool) {
	if ch, ok := e.cache.Get(id); ok {
		return ch, true
	}
	if !e.cfg.DedupeGeneration {
		return e.cache.InsertAfterMiss(id, e.gen.Generate(id, e.store)), false
	}
	// A flight that finished between the miss above and this call has
	// already inserted the chunk.
	v, _, _ := e.flight.Do(id.String(), func() (any, error) {
		if ch, ok := e.cache.Peek(id); ok {
			return ch, nil
		}
		return e.cache.InsertAfterMiss(id, e.gen.Generate(id, e.store)), nil
	})
	return v.(*terrain.Chunk), false
}

// unseen lists visible \ seen, nearest to center first.
func unseen(visible, seen terrain.ChunkSet, center terrain.ChunkID) []terrain.ChunkID {
	out := make([]terrain.ChunkID, 0, len(visible))
	for id := range visible {
		if !seen.Has(id) {
			out = append(out, id)
		}
	}
	dist := func(id terrain.ChunkID) int {
		return mathx.Chebyshev(int(center.Q), int(center.R), int(id.Q), int(id.R))
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := dist(out[i]), dist(out[j])
		if di != dj {
			return di < dj
		}
		return out[i].Less(out[j])
	})
	return out
}

// PositionUpdate is one authoritative movement result for a client.
type PositionUpdate struct {
	ClientID string
	Loc      terrain.Loc
}

type StepStats struct {
	Updates   int `json:"updates"`
	Stale     int `json:"stale"`
	Crossings int `json:"crossings"`
	Sent      int `json:"chunks_sent"`
	Hits      int `json:"cache_hits"`
	Misses    int `json:"cache_misses"`
	Pruned    int `json:"pruned"`
}

func (s *StepStats) add(o Outcome) {
	s.Updates++
	if !o.Crossed {
		return
	}
	s.Crossings++
	s.Sent += len(o.Sent)
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Pruned += len(o.Pruned)
}

func (s *StepStats) Merge(o StepStats) {
	s.Updates += o.Updates
	s.Stale += o.Stale
	s.Crossings += o.Crossings
	s.Sent += o.Sent
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Pruned += o.Pruned
}

// Step applies one tick of position updates. lookup returns nil for clients
// that left before the tick ran; their updates are skipped. Updates for one
// client are applied in order by a single goroutine.
func (e *Engine) Step(lookup func(clientID string) *PlayerState, updates []PositionUpdate) StepStats {
	var order []string
	byClient := map[string][]terrain.Loc{}
	var total StepStats
	for _, u := range updates {
		if lookup(u.ClientID) == nil {
			total.Stale++
			continue
		}
		if _, ok := byClient[u.ClientID]; !ok {
			order = append(order, u.ClientID)
		}
		byClient[u.ClientID] = append(byClient[u.ClientID], u.Loc)
	}

	run := func(id string) StepStats {
		var s StepStats
		st := lookup(id)
		for _, loc := range byClient[id] {
			s.add(e.Update(st, loc))
		}
		return s
	}

	if e.cfg.Workers <= 1 || len(order) <= 1 {
		for _, id := range order {
			total.Merge(run(id))
		}
		return total
	}

	results := make([]StepStats, len(order))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, id := range order {
		i, id := i, id
		g.Go(func() error {
			results[i] = run(id)
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		total.Merge(r)
	}
	return total
}
