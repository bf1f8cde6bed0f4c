package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"tilestream.ai/internal/sim/tuning"
	"tilestream.ai/internal/sim/world"
	"tilestream.ai/internal/sim/world/io/chunkcodec"
	"tilestream.ai/internal/sim/world/terrain"
	"tilestream.ai/internal/sim/world/terrain/gen"
	"tilestream.ai/internal/sim/world/terrain/store"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "evict":
			evictCmd(os.Args[2:])
			return
		case "log":
			logCmd(os.Args[2:])
			return
		case "digest":
			digestCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

type logSummary struct {
	Files       int     `json:"files"`
	Entries     int     `json:"entries"`
	FirstTick   uint64  `json:"first_tick"`
	LastTick    uint64  `json:"last_tick"`
	Joins       int     `json:"joins"`
	Leaves      int     `json:"leaves"`
	Crossings   int     `json:"crossings"`
	ChunksSent  int     `json:"chunks_sent"`
	CacheHits   int     `json:"cache_hits"`
	CacheMisses int     `json:"cache_misses"`
	Pruned      int     `json:"pruned"`
	Stale       int     `json:"stale"`
	Rejected    int     `json:"rejected_moves"`
	HitRatio    float64 `json:"hit_ratio"`
}

// logCmd summarizes the compressed discovery log of one world.
func logCmd(args []string) {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	sinceTick := fs.Uint64("since_tick", 0, "ignore entries before this tick")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	dir := filepath.Join(*dataDir, "worlds", *worldID, "discovery")
	files, err := filepath.Glob(filepath.Join(dir, "discovery-*.jsonl.zst"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "glob:", err)
		os.Exit(1)
	}
	sort.Strings(files)

	var sum logSummary
	for _, path := range files {
		if err := summarizeFile(path, *sinceTick, &sum); err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		sum.Files++
	}
	if total := sum.CacheHits + sum.CacheMisses; total > 0 {
		sum.HitRatio = float64(sum.CacheHits) / float64(total)
	}
	printJSON(sum)
}

func summarizeFile(path string, sinceTick uint64, sum *logSummary) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if e.Tick < sinceTick {
			continue
		}
		if sum.Entries == 0 || e.Tick < sum.FirstTick {
			sum.FirstTick = e.Tick
		}
		if e.Tick > sum.LastTick {
			sum.LastTick = e.Tick
		}
		sum.Entries++
		sum.Joins += len(e.Joins)
		sum.Leaves += len(e.Leaves)
		sum.Crossings += e.Discovery.Crossings
		sum.ChunksSent += e.Discovery.Sent
		sum.CacheHits += e.Discovery.Hits
		sum.CacheMisses += e.Discovery.Misses
		sum.Pruned += e.Discovery.Pruned
		sum.Stale += e.Discovery.Stale
		sum.Rejected += e.Rejected
	}
	return sc.Err()
}

// digestCmd prints chunk digests generated offline from a streaming config.
// Two builds that print the same digests generate identical terrain.
func digestCmd(args []string) {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	configPath := fs.String("config", "./configs/streaming.yaml", "streaming config path")
	seed := fs.Int64("seed", 0, "override the configured seed (0 keeps it)")
	q := fs.Int("q", 0, "center chunk q")
	r := fs.Int("r", 0, "center chunk r")
	radius := fs.Int("radius", 1, "chunk radius around the center")
	_ = fs.Parse(args)

	tune, err := tuning.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	grid := terrain.Grid{ChunkSize: tune.ChunkSize}
	g := gen.New(grid, tune.Seed, nil)
	st := store.NewTerrainStore()

	center := terrain.ChunkID{Q: int16(*q), R: int16(*r)}
	for _, id := range terrain.VisibleChunks(center, *radius).Sorted() {
		ch := g.Generate(id, st)
		printJSON(map[string]any{
			"chunk":  [2]int{int(id.Q), int(id.R)},
			"digest": chunkcodec.DigestHex(ch),
		})
	}
}
