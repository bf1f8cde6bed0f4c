package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"

	"tilestream.ai/internal/persistence/indexdb"
	"tilestream.ai/internal/persistence/r2s3"
	"tilestream.ai/internal/sim/world"
	"tilestream.ai/internal/sim/world/terrain"
	"tilestream.ai/internal/transport/ws"
)

type httpDeps struct {
	world  *world.World
	index  runtimeIndex
	mirror *r2s3.Mirror
	logger *log.Logger

	enableAdmin bool
	enablePprof bool
}

func newMux(d httpDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeWorldMetrics(rw, d.world)
		writeIndexMetrics(rw, d.world.ID(), d.index)
		writeMirrorMetrics(rw, d.mirror)
	})

	if d.enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, http.StatusOK, struct {
				WorldID string             `json:"world_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				WorldID: d.world.ID(),
				Tick:    d.world.CurrentTick(),
				Metrics: d.world.Metrics(),
			})
		}))
		mux.HandleFunc("/admin/v1/discovery", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			q, ok := d.index.(discoveryQuerier)
			if !ok || q == nil {
				http.Error(rw, "discovery index not queryable (TS_INDEX_BACKEND must be sqlite)", http.StatusNotImplemented)
				return
			}
			if clientID := strings.TrimSpace(r.URL.Query().Get("client_id")); clientID != "" {
				rows, err := q.Sessions(r.Context(), clientID)
				if err != nil {
					http.Error(rw, err.Error(), http.StatusInternalServerError)
					return
				}
				writeJSON(rw, http.StatusOK, map[string]any{"client_id": clientID, "sessions": nonNil(rows)})
				return
			}
			limit := 50
			if v := r.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
					limit = n
				}
			}
			rows, err := q.RecentTicks(r.Context(), limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ticks": nonNil(rows)})
		}))
		mux.HandleFunc("/admin/v1/cache/evict", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			q, errQ := strconv.ParseInt(r.URL.Query().Get("q"), 10, 16)
			rr, errR := strconv.ParseInt(r.URL.Query().Get("r"), 10, 16)
			if errQ != nil || errR != nil {
				http.Error(rw, "q and r must be int16 chunk coordinates", http.StatusBadRequest)
				return
			}
			id := terrain.ChunkID{Q: int16(q), R: int16(rr)}
			evicted := d.world.EvictChunk(id)
			writeJSON(rw, http.StatusOK, map[string]any{"chunk": [2]int{int(id.Q), int(id.R)}, "evicted": evicted})
		}))
	} else {
		d.logger.Printf("admin endpoints disabled (TS_ENABLE_ADMIN_HTTP=false)")
	}
	if d.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		d.logger.Printf("pprof endpoints disabled (TS_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(d.world, d.logger).Handler())
	return mux
}

func writeWorldMetrics(rw io.Writer, w *world.World) {
	id := w.ID()
	m := w.Metrics()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	gauge(rw, "tilestream_world_tick", "Current world tick.", id, float64(tick))
	gauge(rw, "tilestream_world_clients", "Connected streaming clients.", id, float64(m.Clients))
	counter(rw, "tilestream_world_joins_total", "Clients joined since start.", id, m.JoinTotal)
	counter(rw, "tilestream_world_leaves_total", "Clients left since start.", id, m.LeaveTotal)
	counter(rw, "tilestream_chunks_sent_total", "CHUNK_DATA payloads produced by discovery.", id, uint64(m.Totals.Sent))
	counter(rw, "tilestream_chunk_crossings_total", "Chunk boundary crossings processed.", id, uint64(m.Totals.Crossings))
	counter(rw, "tilestream_stale_updates_total", "Position updates skipped for departed clients.", id, uint64(m.Totals.Stale))
	counter(rw, "tilestream_send_drops_total", "Payloads dropped on full client queues.", id, m.SendDrops)

	gauge(rw, "tilestream_cache_size", "World discovery cache entries.", id, float64(m.Cache.Size))
	gauge(rw, "tilestream_cache_max", "World discovery cache capacity.", id, float64(m.Cache.Max))
	counter(rw, "tilestream_cache_hits_total", "Discovery cache hits.", id, m.Cache.Hits)
	counter(rw, "tilestream_cache_misses_total", "Discovery cache misses (chunk generations).", id, m.Cache.Misses)
	counter(rw, "tilestream_cache_evictions_total", "LRU evictions from the discovery cache.", id, m.Cache.Evictions)
	gauge(rw, "tilestream_store_tiles", "Tiles held by the authoritative terrain store.", id, float64(m.StoreTiles))

	fmt.Fprintf(rw, "# HELP tilestream_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE tilestream_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "tilestream_world_queue_depth{world=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "tilestream_world_queue_depth{world=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "tilestream_world_queue_depth{world=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP tilestream_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE tilestream_world_step_ms gauge\n")
	fmt.Fprintf(rw, "tilestream_world_step_ms{world=%q} %.3f\n", id, m.StepMS)
}

func writeIndexMetrics(rw io.Writer, id string, idx runtimeIndex) {
	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := x.Stats()
		gauge(rw, "tilestream_index_queue_depth", "Pending index writes.", id, float64(s.QueueDepth))
		counter(rw, "tilestream_index_dropped_total", "Tick entries dropped on a full index queue.", id, s.DropTickTotal)
		counter(rw, "tilestream_index_write_fail_total", "Failed index writes.", id, s.WriteFailTotal)
	case *indexdb.D1Index:
		s := x.Stats()
		gauge(rw, "tilestream_index_queue_depth", "Pending index writes.", id, float64(s.QueueDepth))
		counter(rw, "tilestream_index_dropped_total", "Tick entries dropped on a full index queue.", id, s.QueueDroppedTotal)
		counter(rw, "tilestream_index_write_fail_total", "Failed index batch flushes.", id, s.FlushFailTotal)
	}
}

func writeMirrorMetrics(rw io.Writer, m *r2s3.Mirror) {
	if m == nil {
		return
	}
	s := m.Stats()
	fmt.Fprintf(rw, "# HELP tilestream_archive_mirror_queue_depth Pending segment uploads.\n")
	fmt.Fprintf(rw, "# TYPE tilestream_archive_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "tilestream_archive_mirror_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(rw, "# HELP tilestream_archive_mirror_dropped_total Segments dropped because the queue stayed full.\n")
	fmt.Fprintf(rw, "# TYPE tilestream_archive_mirror_dropped_total counter\n")
	fmt.Fprintf(rw, "tilestream_archive_mirror_dropped_total %d\n", s.DroppedTotal)
	fmt.Fprintf(rw, "# HELP tilestream_archive_mirror_upload_success_total Uploaded segments.\n")
	fmt.Fprintf(rw, "# TYPE tilestream_archive_mirror_upload_success_total counter\n")
	fmt.Fprintf(rw, "tilestream_archive_mirror_upload_success_total %d\n", s.UploadSuccessTotal)
	fmt.Fprintf(rw, "# HELP tilestream_archive_mirror_upload_fail_total Segments that failed after retries.\n")
	fmt.Fprintf(rw, "# TYPE tilestream_archive_mirror_upload_fail_total counter\n")
	fmt.Fprintf(rw, "tilestream_archive_mirror_upload_fail_total %d\n", s.UploadFailTotal)
	fmt.Fprintf(rw, "# HELP tilestream_archive_mirror_last_success_unix Unix time of the last successful upload.\n")
	fmt.Fprintf(rw, "# TYPE tilestream_archive_mirror_last_success_unix gauge\n")
	fmt.Fprintf(rw, "tilestream_archive_mirror_last_success_unix %d\n", s.LastSuccessUnix)
}

func gauge(rw io.Writer, name, help, worldID string, v float64) {
	fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s gauge\n%s{world=%q} %g\n", name, help, name, name, worldID, v)
}

func counter(rw io.Writer, name, help, worldID string, v uint64) {
	fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s counter\n%s{world=%q} %d\n", name, help, name, name, worldID, v)
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
