package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tilestream.ai/internal/sim/tuning"
	"tilestream.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index of discovery activity. The
// compressed JSONL discovery log stays the source of truth; the index drops
// writes when it falls behind.
type SQLiteIndex struct {
	db *sql.DB

	// Tick numbers restart at zero with every server process, so each open
	// is a new run and rows are keyed by (run, tick).
	runID  string
	runSeq int64

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick   atomic.Uint64
	writeFails atomic.Uint64
}

type req struct {
	tick world.TickLogEntry
}

type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropTickTotal  uint64 `json:"drop_tick_total"`
	WriteFailTotal uint64 `json:"write_fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	runID := uuid.NewString()
	res, err := db.Exec(`INSERT INTO runs(run_id,started_at) VALUES(?,?)`, runID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	runSeq, err := res.LastInsertId()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}

	s := &SQLiteIndex{
		db:     db,
		runID:  runID,
		runSeq: runSeq,
		ch:     make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

const schemaVersion = "2"

func initSchema(db *sql.DB) error {
	// Version 1 keyed ticks by tick alone. The discovery log is the source of
	// truth, so tables without a run column are dropped rather than migrated.
	if _, err := db.Exec(`SELECT run FROM ticks LIMIT 0`); err != nil {
		for _, s := range []string{`DROP TABLE IF EXISTS ticks;`, `DROP TABLE IF EXISTS sessions;`} {
			if _, err := db.Exec(s); err != nil {
				return err
			}
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			updates INTEGER NOT NULL,
			stale INTEGER NOT NULL,
			crossings INTEGER NOT NULL,
			chunks_sent INTEGER NOT NULL,
			cache_hits INTEGER NOT NULL,
			cache_misses INTEGER NOT NULL,
			pruned INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			cache_size INTEGER NOT NULL,
			store_tiles INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			run INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			client_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (run, tick, client_id, kind)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_client_tick ON sessions(client_id, run, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion)
	return err
}

// RunID identifies this open of the index; rows written through it carry it.
func (s *SQLiteIndex) RunID() string { return s.runID }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTickTotal:  s.dropTick.Load(),
		WriteFailTotal: s.writeFails.Load(),
	}
}

// UpsertConfig stores the streaming parameters the server actually runs with.
func (s *SQLiteIndex) UpsertConfig(tune tuning.Streaming) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('last_run_id',?)`, s.runID); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"streaming", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run,tick,updates,stale,crossings,chunks_sent,cache_hits,cache_misses,pruned,rejected,cache_size,store_tiles,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(run,tick,client_id,kind,name) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertSession != nil {
			_ = insertSession.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFails.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeFails.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil || insertTick == nil || insertSession == nil {
			s.writeFails.Add(1)
			continue
		}
		e := r.tick
		d := e.Discovery
		raw, _ := json.Marshal(e)
		if _, err := tx.Stmt(insertTick).Exec(
			s.runSeq, int64(e.Tick), d.Updates, d.Stale, d.Crossings, d.Sent, d.Hits, d.Misses, d.Pruned,
			e.Rejected, e.CacheSize, e.StoreTiles, string(raw),
		); err != nil {
			rollback()
			continue
		}
		opCount++
		ok := true
		for _, j := range e.Joins {
			if _, err := tx.Stmt(insertSession).Exec(s.runSeq, int64(e.Tick), j.ClientID, "join", j.Name); err != nil {
				ok = false
				break
			}
			opCount++
		}
		for _, id := range e.Leaves {
			if !ok {
				break
			}
			if _, err := tx.Stmt(insertSession).Exec(s.runSeq, int64(e.Tick), id, "leave", ""); err != nil {
				ok = false
				break
			}
			opCount++
		}
		if !ok {
			rollback()
			continue
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
