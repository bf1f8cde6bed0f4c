package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"tilestream.ai/internal/sim/world/terrain"
)

// DefaultMaxChunks bounds memory at roughly a gigabyte of generated tiles.
const DefaultMaxChunks = 100_000

// WorldCache is the process-wide generated-chunk cache shared by every client.
// Get and InsertAfterMiss are individually atomic. Eviction drops the chunk
// silently; tile truth survives in the authoritative store.
type WorldCache struct {
	max     int
	entries *lru.Cache[terrain.ChunkID, *terrain.Chunk]

	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	evictions atomic.Uint64
}

type Stats struct {
	Size      int    `json:"size"`
	Max       int    `json:"max"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Inserts   uint64 `json:"inserts"`
	Evictions uint64 `json:"evictions"`
}

func New(maxChunks int) *WorldCache {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	entries, err := lru.New[terrain.ChunkID, *terrain.Chunk](maxChunks)
	if err != nil {
		// Only returned for a non-positive size, which is ruled out above.
		panic(err)
	}
	return &WorldCache{max: maxChunks, entries: entries}
}

// Get returns the cached chunk and marks it most recently used.
// A miss has no side effect on the cache contents.
func (c *WorldCache) Get(id terrain.ChunkID) (*terrain.Chunk, bool) {
	ch, ok := c.entries.Get(id)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return ch, ok
}

// InsertAfterMiss stores ch as most recently used, evicting exactly one least
// recently used entry when the cache is full. If id is already present (two
// concurrent misses on the same key) the later insert wins and nothing is evicted.
func (c *WorldCache) InsertAfterMiss(id terrain.ChunkID, ch *terrain.Chunk) *terrain.Chunk {
	if c.entries.Add(id, ch) {
		c.evictions.Add(1)
	}
	c.inserts.Add(1)
	return ch
}

// Remove force-evicts id. It reports whether the entry was present.
func (c *WorldCache) Remove(id terrain.ChunkID) bool {
	return c.entries.Remove(id)
}

// Peek returns the cached chunk without touching recency or hit/miss counters.
func (c *WorldCache) Peek(id terrain.ChunkID) (*terrain.Chunk, bool) {
	return c.entries.Peek(id)
}

// Contains reports membership without touching recency.
func (c *WorldCache) Contains(id terrain.ChunkID) bool {
	return c.entries.Contains(id)
}

func (c *WorldCache) Len() int { return c.entries.Len() }

func (c *WorldCache) Max() int { return c.max }

// Keys lists cached ids from least to most recently used.
func (c *WorldCache) Keys() []terrain.ChunkID { return c.entries.Keys() }

func (c *WorldCache) Stats() Stats {
	return Stats{
		Size:      c.entries.Len(),
		Max:       c.max,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Inserts:   c.inserts.Load(),
		Evictions: c.evictions.Load(),
	}
}
