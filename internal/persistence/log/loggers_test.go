package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"tilestream.ai/internal/sim/world"
	"tilestream.ai/internal/sim/world/feature/discovery"
)

func readJSONL(t *testing.T, path string) []world.TickLogEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var out []world.TickLogEntry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line: %v", err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestDiscoveryLoggerRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewDiscoveryLogger(dir)
	clock := time.Date(2026, 3, 4, 5, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	if err := l.WriteTick(world.TickLogEntry{Tick: 1, Discovery: discovery.StepStats{Crossings: 1, Sent: 25}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.WriteTick(world.TickLogEntry{Tick: 2, Joins: []world.RecordedJoin{{ClientID: "c1", Name: "bot"}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WriteTick(world.TickLogEntry{Tick: 3, Leaves: []string{"c1"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readJSONL(t, filepath.Join(dir, "discovery", "discovery-2026-03-04-05.jsonl.zst"))
	if len(first) != 2 || first[0].Discovery.Sent != 25 || first[1].Joins[0].ClientID != "c1" {
		t.Fatalf("first hour=%+v", first)
	}
	second := readJSONL(t, filepath.Join(dir, "discovery", "discovery-2026-03-04-06.jsonl.zst"))
	if len(second) != 1 || second[0].Tick != 3 {
		t.Fatalf("second hour=%+v", second)
	}
}

func TestDiscoveryLoggerReportsClosedSegments(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	l := NewDiscoveryLoggerWithOptions(dir, LoggerOptions{
		RotateLayout: "2006-01-02-15-04",
		OnClose:      func(path string) { closed = append(closed, path) },
	})
	clock := time.Date(2026, 3, 4, 5, 6, 30, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for tick := uint64(1); tick <= 3; tick++ {
		if err := l.WriteTick(world.TickLogEntry{Tick: tick}); err != nil {
			t.Fatalf("write: %v", err)
		}
		clock = clock.Add(time.Minute)
	}
	if len(closed) != 2 {
		t.Fatalf("closed before Close=%v", closed)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(closed) != 3 {
		t.Fatalf("closed=%v", closed)
	}
	want := filepath.Join(dir, "discovery", "discovery-2026-03-04-05-06.jsonl.zst")
	if closed[0] != want {
		t.Fatalf("first segment=%s want %s", closed[0], want)
	}
	if got := readJSONL(t, closed[2]); len(got) != 1 || got[0].Tick != 3 {
		t.Fatalf("last segment=%+v", got)
	}
}
