package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd reads the discovery index directly, without a running server.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	clientID := fs.String("client", "", "client_id filter (sessions)")
	_ = fs.Parse(args)

	q := "ticks"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "discovery.sqlite")
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "ticks":
		rows, err := db.Query(`SELECT r.run_id,t.tick,t.crossings,t.chunks_sent,t.cache_hits,t.cache_misses,t.pruned,t.rejected,t.cache_size,t.store_tiles
			FROM ticks t JOIN runs r ON r.seq=t.run ORDER BY t.run DESC, t.tick DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID       string `json:"run_id"`
				Tick        int64  `json:"tick"`
				Crossings   int    `json:"crossings"`
				ChunksSent  int    `json:"chunks_sent"`
				CacheHits   int    `json:"cache_hits"`
				CacheMisses int    `json:"cache_misses"`
				Pruned      int    `json:"pruned"`
				Rejected    int    `json:"rejected"`
				CacheSize   int    `json:"cache_size"`
				StoreTiles  int    `json:"store_tiles"`
			}
			if err := rows.Scan(&r.RunID, &r.Tick, &r.Crossings, &r.ChunksSent, &r.CacheHits, &r.CacheMisses, &r.Pruned, &r.Rejected, &r.CacheSize, &r.StoreTiles); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}
	case "sessions":
		const sel = `SELECT r.run_id,s.tick,s.client_id,s.kind,s.name FROM sessions s JOIN runs r ON r.seq=s.run`
		query := sel + ` ORDER BY s.run DESC, s.tick DESC LIMIT ?`
		qargs := []any{*limit}
		if c := strings.TrimSpace(*clientID); c != "" {
			query = sel + ` WHERE s.client_id=? ORDER BY s.run DESC, s.tick DESC LIMIT ?`
			qargs = []any{c, *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID    string `json:"run_id"`
				Tick     int64  `json:"tick"`
				ClientID string `json:"client_id"`
				Kind     string `json:"kind"`
				Name     string `json:"name,omitempty"`
			}
			if err := rows.Scan(&r.RunID, &r.Tick, &r.ClientID, &r.Kind, &r.Name); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}
	case "config":
		var digest, raw, updated string
		err := db.QueryRow(`SELECT digest,json,updated_at FROM config WHERE name='streaming'`).Scan(&digest, &raw, &updated)
		if err != nil {
			fail("query", err)
		}
		printJSON(map[string]any{"digest": digest, "updated_at": updated, "streaming": json.RawMessage(raw)})
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(ticks|sessions|config)")
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
