package r2s3

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type MirrorOptions struct {
	// DataDir is the local root; object keys are paths relative to it.
	DataDir string
	Prefix  string
	Workers int
	// QueueCapacity bounds pending uploads. Enqueue waits up to EnqueueWait
	// for room, then drops the segment.
	QueueCapacity int
	EnqueueWait   time.Duration
	MaxAttempts   int
	Backoff       func(attempt int) time.Duration
	Logger        *log.Logger
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	EnqueuedTotal       uint64 `json:"enqueued_total"`
	QueueSaturatedTotal uint64 `json:"queue_saturated_total"`
	DroppedTotal        uint64 `json:"dropped_total"`
	UploadSuccessTotal  uint64 `json:"upload_success_total"`
	UploadFailTotal     uint64 `json:"upload_fail_total"`
	LastSuccessUnix     int64  `json:"last_success_unix"`
	LastErrorUnix       int64  `json:"last_error_unix"`
}

// Mirror copies closed discovery log segments to object storage in the
// background. Uploads never block the world tick beyond EnqueueWait.
type Mirror struct {
	up   Uploader
	opts MirrorOptions

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued  atomic.Uint64
	saturated atomic.Uint64
	dropped   atomic.Uint64
	okTotal   atomic.Uint64
	failTotal atomic.Uint64
	lastOK    atomic.Int64
	lastErr   atomic.Int64
}

func NewMirror(up Uploader, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 2048
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.Backoff == nil {
		opts.Backoff = func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		}
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")

	m := &Mirror{up: up, opts: opts, jobs: make(chan string, opts.QueueCapacity)}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	m.saturated.Add(1)
	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		n := m.dropped.Add(1)
		m.printf("archive mirror drop local=%s dropped_total=%d", localPath, n)
	}
}

// Close drains queued uploads and stops the workers.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueued.Load(),
		QueueSaturatedTotal: m.saturated.Load(),
		DroppedTotal:        m.dropped.Load(),
		UploadSuccessTotal:  m.okTotal.Load(),
		UploadFailTotal:     m.failTotal.Load(),
		LastSuccessUnix:     m.lastOK.Load(),
		LastErrorUnix:       m.lastErr.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.ObjectKey(localPath)
	if err != nil {
		m.failTotal.Add(1)
		m.lastErr.Store(time.Now().Unix())
		m.printf("archive mirror skip local=%s err=%v", localPath, err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.okTotal.Add(1)
			m.lastOK.Store(time.Now().Unix())
			return
		}
		if attempt >= m.opts.MaxAttempts {
			break
		}
		time.Sleep(m.opts.Backoff(attempt))
	}
	m.failTotal.Add(1)
	m.lastErr.Store(time.Now().Unix())
	m.printf("archive mirror upload failed key=%s err=%v", key, err)
}

// ObjectKey maps a local path under DataDir to its bucket key.
func (m *Mirror) ObjectKey(localPath string) (string, error) {
	base, err := filepath.Abs(m.opts.DataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.opts.Prefix != "" {
		rel = path.Join(m.opts.Prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}
