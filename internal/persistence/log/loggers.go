package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"tilestream.ai/internal/sim/world"
)

const defaultRotateLayout = "2006-01-02-15"

// LoggerOptions tunes segment rotation. OnClose receives the path of every
// segment after it is fully flushed and closed.
type LoggerOptions struct {
	RotateLayout string
	OnClose      func(path string)
}

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	layout  string
	onClose func(path string)

	now func() time.Time

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, LoggerOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, opts LoggerOptions) *JSONLZstdWriter {
	layout := opts.RotateLayout
	if layout == "" {
		layout = defaultRotateLayout
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		layout:  layout,
		onClose: opts.OnClose,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(w.layout)
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.curPath = w.pathForHour(hour)
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.onClose != nil && w.curPath != "" {
			w.onClose(w.curPath)
		}
	}
	w.w = nil
	w.curPath = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// DiscoveryLogger writes one JSONL entry per active tick (compressed).
type DiscoveryLogger struct{ w *JSONLZstdWriter }

func NewDiscoveryLogger(worldDir string) *DiscoveryLogger {
	return NewDiscoveryLoggerWithOptions(worldDir, LoggerOptions{})
}

func NewDiscoveryLoggerWithOptions(worldDir string, opts LoggerOptions) *DiscoveryLogger {
	return &DiscoveryLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(worldDir, "discovery"), "discovery", opts)}
}

func (l *DiscoveryLogger) WriteTick(v world.TickLogEntry) error { return l.w.Write(v) }
func (l *DiscoveryLogger) Close() error                         { return l.w.Close() }
