package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tilestream.ai/internal/client"
	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/tuning"
	"tilestream.ai/internal/sim/world/terrain"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "bot", "client name")
		configPath = flag.String("config", "", "local streaming.yaml to compare against the server's params (optional)")
		maxQueue   = flag.Int("max_queue", 0, "requested outbound queue size (0 = server default)")
		steps      = flag.Int("steps", 0, "stop after this many moves (0 = run until interrupted)")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "random walk seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, *url, *name, *maxQueue)
	dialCancel()
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	sp := conn.Welcome.StreamParams
	logger.Printf("WELCOME client_id=%s spawn=%v tick_rate=%d seed=%d chunk_size=%d fov_chunk_radius=%d eviction_buffer=%d world_boundary_r=%d",
		conn.Welcome.ClientID, conn.Welcome.Spawn, sp.TickRateHz, sp.Seed, sp.ChunkSize, sp.FOVChunkRadius, sp.EvictionBuffer, sp.WorldBoundaryR)
	if *configPath != "" {
		warnOnParamDrift(logger, *configPath, sp)
	}

	m, err := client.NewMirror(sp)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}

	chunks := make(chan protocol.ChunkDataMsg, 256)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.ReadChunk()
			if err != nil {
				readErr <- err
				return
			}
			chunks <- msg
		}
	}()

	rng := rand.New(rand.NewSource(*seed))
	pos := terrain.Loc{Q: conn.Welcome.Spawn[0], R: conn.Welcome.Spawn[1]}
	if err := m.SetPosition(pos); err != nil {
		logger.Fatalf("spawn: %v", err)
	}

	rate := sp.TickRateHz
	if rate <= 0 {
		rate = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	var moves, received, evicted, blocked int
	for {
		select {
		case <-ctx.Done():
			logger.Printf("stopping moves=%d chunks_received=%d evicted=%d loaded=%d", moves, received, evicted, m.Len())
			return
		case err := <-readErr:
			logger.Printf("connection closed: %v", err)
			return
		case msg := <-chunks:
			if _, err := m.Apply(msg); err != nil {
				logger.Printf("drop CHUNK_DATA %v: %v", msg.Chunk, err)
				continue
			}
			received++
		case <-ticker.C:
			next := step(rng, pos)
			if !m.InBounds(next) {
				blocked++
				continue
			}
			if t, ok := m.TileAt(next); ok && t.Kind.Solid() {
				blocked++
				continue
			}
			if err := conn.SendMove(next); err != nil {
				logger.Printf("send MOVE: %v", err)
				return
			}
			pos = next
			moves++
			if err := m.SetPosition(pos); err != nil {
				logger.Printf("set position: %v", err)
				continue
			}
			evicted += len(m.Tick())
			if moves%100 == 0 {
				logger.Printf("pos=%v chunk=%v loaded=%d received=%d evicted=%d blocked=%d",
					[2]int{pos.Q, pos.R}, m.Grid().LocToChunk(pos), m.Len(), received, evicted, blocked)
			}
			if *steps > 0 && moves >= *steps {
				logger.Printf("done moves=%d chunks_received=%d evicted=%d loaded=%d", moves, received, evicted, m.Len())
				return
			}
		}
	}
}

// step moves one tile in a random axial direction.
func step(rng *rand.Rand, p terrain.Loc) terrain.Loc {
	dirs := [...][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, -1}, {-1, 1}}
	d := dirs[rng.Intn(len(dirs))]
	return terrain.Loc{Q: p.Q + d[0], R: p.R + d[1]}
}

func warnOnParamDrift(logger *log.Logger, path string, sp protocol.StreamParams) {
	local, err := tuning.Load(path)
	if err != nil {
		logger.Printf("local config: %v", err)
		return
	}
	if local.ChunkSize != sp.ChunkSize || local.FOVChunkRadius != sp.FOVChunkRadius || local.EvictionBuffer != sp.EvictionBuffer {
		logger.Printf("WARNING local %s disagrees with server: chunk_size=%d/%d fov_chunk_radius=%d/%d eviction_buffer=%d/%d (using server values)",
			path, local.ChunkSize, sp.ChunkSize, local.FOVChunkRadius, sp.FOVChunkRadius, local.EvictionBuffer, sp.EvictionBuffer)
	}
}
