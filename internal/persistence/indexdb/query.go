package indexdb

import (
	"context"
	"fmt"
)

type TickRow struct {
	RunID       string `json:"run_id"`
	Tick        uint64 `json:"tick"`
	Updates     int    `json:"updates"`
	Stale       int    `json:"stale"`
	Crossings   int    `json:"crossings"`
	ChunksSent  int    `json:"chunks_sent"`
	CacheHits   int    `json:"cache_hits"`
	CacheMisses int    `json:"cache_misses"`
	Pruned      int    `json:"pruned"`
	Rejected    int    `json:"rejected"`
	CacheSize   int    `json:"cache_size"`
	StoreTiles  int    `json:"store_tiles"`
}

type SessionRow struct {
	RunID    string `json:"run_id"`
	Tick     uint64 `json:"tick"`
	ClientID string `json:"client_id"`
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
}

// RecentTicks returns up to limit indexed ticks, newest run first and newest
// tick first within a run.
func (s *SQLiteIndex) RecentTicks(ctx context.Context, limit int) ([]TickRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT r.run_id,t.tick,t.updates,t.stale,t.crossings,t.chunks_sent,t.cache_hits,t.cache_misses,t.pruned,t.rejected,t.cache_size,t.store_tiles
		FROM ticks t JOIN runs r ON r.seq=t.run ORDER BY t.run DESC, t.tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var r TickRow
		var tick int64
		if err := rows.Scan(&r.RunID, &tick, &r.Updates, &r.Stale, &r.Crossings, &r.ChunksSent, &r.CacheHits, &r.CacheMisses,
			&r.Pruned, &r.Rejected, &r.CacheSize, &r.StoreTiles); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions lists join/leave rows for one client in run then tick order.
func (s *SQLiteIndex) Sessions(ctx context.Context, clientID string) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.run_id,s.tick,s.client_id,s.kind,s.name
		FROM sessions s JOIN runs r ON r.seq=s.run WHERE s.client_id=? ORDER BY s.run, s.tick, s.kind`, clientID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var tick int64
		if err := rows.Scan(&r.RunID, &tick, &r.ClientID, &r.Kind, &r.Name); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}
