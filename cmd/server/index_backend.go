package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tilestream.ai/internal/persistence/indexdb"
	"tilestream.ai/internal/sim/tuning"
	"tilestream.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	Close() error
	UpsertConfig(tune tuning.Streaming) error
}

// discoveryQuerier is implemented by backends that can serve admin reads.
type discoveryQuerier interface {
	RecentTicks(ctx context.Context, limit int) ([]indexdb.TickRow, error)
	Sessions(ctx context.Context, clientID string) ([]indexdb.SessionRow, error)
}

func openRuntimeIndex(worldDir, worldID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(worldDir, "index", "discovery.sqlite"))
	case "d1":
		endpoint := strings.TrimSpace(os.Getenv("TS_INDEX_D1_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("TS_INDEX_BACKEND=d1 but TS_INDEX_D1_INGEST_URL is empty")
		}
		return indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("TS_INDEX_D1_TOKEN")),
			WorldID:       worldID,
			BatchSize:     envInt("TS_INDEX_D1_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("TS_INDEX_D1_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported TS_INDEX_BACKEND: %s", backend)
	}
}

type multiTickLogger []world.TickLogger

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteTick(entry)
		}
	}
	return nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
