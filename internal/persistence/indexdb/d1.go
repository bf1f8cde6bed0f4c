package indexdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tilestream.ai/internal/sim/tuning"
	"tilestream.ai/internal/sim/world"
)

// D1Config configures the remote ingest backend: batches of JSON events
// POSTed to an HTTP endpoint fronting a Cloudflare D1 database.
type D1Config struct {
	Endpoint      string
	Token         string
	WorldID       string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	flushFail    atomic.Uint64
	flushOK      atomic.Uint64
}

type D1Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	FlushOKTotal      uint64 `json:"flush_ok_total"`
}

type d1Event struct {
	Kind    string `json:"kind"`
	WorldID string `json:"world_id"`
	Payload any    `json:"payload"`
}

type d1ConfigPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &D1Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan d1Event, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) WriteTick(entry world.TickLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue(d1Event{Kind: "tick", WorldID: d.cfg.WorldID, Payload: entry})
	return nil
}

func (d *D1Index) UpsertConfig(tune tuning.Streaming) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	d.enqueue(d1Event{Kind: "config", WorldID: d.cfg.WorldID, Payload: d1ConfigPayload{
		Name:      "streaming",
		Digest:    hex.EncodeToString(sum[:]),
		JSON:      string(b),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return nil
}

func (d *D1Index) Stats() D1Stats {
	if d == nil {
		return D1Stats{}
	}
	return D1Stats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		FlushOKTotal:      d.flushOK.Load(),
	}
}

func (d *D1Index) enqueue(ev d1Event) {
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s world=%s", ev.Kind, ev.WorldID)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	// A failed batch is retained and retried on the next flush, up to
	// maxRetained events; beyond that the oldest are dropped.
	maxRetained := 8 * d.cfg.BatchSize
	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - maxRetained; over > 0 {
				d.queueDropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.flushOK.Add(1)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("x-ts-index-token", d.cfg.Token)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
