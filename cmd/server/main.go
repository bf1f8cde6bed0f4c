package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	persistlog "tilestream.ai/internal/persistence/log"
	"tilestream.ai/internal/sim/tuning"
	"tilestream.ai/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configPath = flag.String("config", "./configs/streaming.yaml", "streaming config path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the discovery index")
		seed       = flag.Int64("seed", 0, "override the configured terrain seed (0 keeps the config value)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	// Missing .env is normal outside local development.
	_ = godotenv.Load(".env")

	tune, err := tuning.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	w, err := world.New(world.ConfigFromTuning(*worldID, tune))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	idx, err := openRuntimeIndex(worldDir, *worldID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig(tune); err != nil {
			logger.Printf("index config: %v", err)
		}
	}

	mirror, rotateLayout, err := buildArchiveMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("archive mirror: %v", err)
	}
	logOpts := persistlog.LoggerOptions{RotateLayout: rotateLayout}
	if mirror != nil {
		defer mirror.Close()
		logOpts.OnClose = mirror.Enqueue
	}
	discoveryLog := persistlog.NewDiscoveryLoggerWithOptions(worldDir, logOpts)
	defer discoveryLog.Close()

	var tickLoggers multiTickLogger
	tickLoggers = append(tickLoggers, discoveryLog)
	if idx != nil {
		tickLoggers = append(tickLoggers, idx)
	}
	w.SetTickLogger(tickLoggers)

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := newMux(httpDeps{
		world:       w,
		index:       idx,
		mirror:      mirror,
		logger:      logger,
		enableAdmin: envBool("TS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		enablePprof: envBool("TS_ENABLE_PPROF_HTTP", false),
	})
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("world=%s seed=%d chunk_size=%d fov_chunk_radius=%d eviction_buffer=%d max_cached_chunks=%d",
		*worldID, tune.Seed, tune.ChunkSize, tune.FOVChunkRadius, tune.EvictionBuffer, tune.MaxCachedChunks)
	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// Let the last tick log entry land before the deferred closes run.
	<-worldDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
