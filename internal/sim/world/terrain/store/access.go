package store

import "tilestream.ai/internal/sim/world/terrain"

// Get returns the authoritative tile at loc, if any has been recorded.
func (s *TerrainStore) Get(loc terrain.Loc) (terrain.Tile, bool) {
	s.mu.RLock()
	t, ok := s.tiles[loc]
	s.mu.RUnlock()
	return t, ok
}

// InsertIfAbsent records t at loc unless a tile is already present.
// It reports whether an insert happened. Existing tiles are never overwritten.
func (s *TerrainStore) InsertIfAbsent(loc terrain.Loc, t terrain.Tile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tiles[loc]; ok {
		return false
	}
	s.tiles[loc] = t
	return true
}

// Set is the modification path for gameplay edits. Later generation of the
// containing chunk reads the edited tile back instead of regenerating it.
func (s *TerrainStore) Set(loc terrain.Loc, t terrain.Tile) {
	s.mu.Lock()
	s.tiles[loc] = t
	s.mu.Unlock()
}

func (s *TerrainStore) Len() int {
	s.mu.RLock()
	n := len(s.tiles)
	s.mu.RUnlock()
	return n
}

// IsSolid answers collision queries. Unknown tiles are not solid.
func (s *TerrainStore) IsSolid(loc terrain.Loc) bool {
	t, ok := s.Get(loc)
	return ok && t.Kind.Solid()
}
