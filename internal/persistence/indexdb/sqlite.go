package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"iftsim.dev/internal/persistence/snapshot"
	"iftsim.dev/internal/sim/cell"
	"iftsim.dev/internal/sim/tuning"
)

// SQLiteIndex is a secondary, queryable index of runs and their per-step
// aggregates. Writes are queued and applied by one goroutine; the step log
// stays the source of truth when the queue overflows.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	// runWait bounds how long RecordRun waits for queue space.
	runWait time.Duration

	dropStep atomic.Uint64
	dropRun  atomic.Uint64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqRun
	reqTuning
)

type req struct {
	kind reqKind

	runID  string
	step   cell.StepRecord
	run    RunRow
	tuning tuningRow
	done   chan error
}

type tuningRow struct {
	Digest    string
	JSON      string
	UpdatedAt string
}

var errClosed = errors.New("index closed")

const (
	commitEvery   = 5000
	commitMaxWait = 2 * time.Second
	// idleCommit is how soon an open batch is committed once the queue is
	// empty; the database has a single connection, so readers wait on it.
	idleCommit     = 100 * time.Millisecond
	defaultRunWait = 5 * time.Second
)

// RunRow is one finished run.
type RunRow struct {
	RunID           string
	Name            string
	Seed            int64
	TuningDigest    string
	Steps           int
	Extensions      int
	Converged       bool
	SteadyLength    float64
	TimeToSteady    float64
	PredictedLength float64
	FinalLength     float64
	AvalancheEvents int
	SnapshotPath    string
	RecordedAt      string
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropStepTotal uint64
	DropRunTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
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

	s := &SQLiteIndex{
		db:      db,
		ch:      make(chan req, queue),
		runWait: defaultRunWait,
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
		"PRAGMA foreign_keys=ON;",
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

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tunings (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			seed INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			steps INTEGER NOT NULL,
			extensions INTEGER NOT NULL,
			converged INTEGER NOT NULL,
			steady_length REAL NOT NULL,
			time_to_steady REAL NOT NULL,
			predicted_length REAL NOT NULL,
			final_length REAL NOT NULL,
			avalanche_events INTEGER NOT NULL,
			snapshot_path TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_tuning ON runs(tuning_digest);`,
		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			length REAL NOT NULL,
			flux INTEGER NOT NULL,
			base INTEGER NOT NULL,
			diffusing INTEGER NOT NULL,
			active INTEGER NOT NULL,
			avalanche INTEGER NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue and closes the database.
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

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropStepTotal: s.dropStep.Load(),
		DropRunTotal:  s.dropRun.Load(),
	}
}

// StepSink returns a cell.StepSink that indexes every step under runID.
func (s *SQLiteIndex) StepSink(runID string) cell.StepSink {
	return stepSink{s: s, runID: runID}
}

type stepSink struct {
	s     *SQLiteIndex
	runID string
}

func (k stepSink) WriteStep(r cell.StepRecord) error {
	k.s.enqueueStep(k.runID, r)
	return nil
}

func (s *SQLiteIndex) enqueueStep(runID string, r cell.StepRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqStep, runID: runID, step: r}:
	default:
		// Drop if the indexer falls behind; the step log remains the source of truth.
		s.dropStep.Add(1)
	}
}

// RecordRun queues the summary row of a finished run.
func (s *SQLiteIndex) RecordRun(runID, name, snapshotPath string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	res := snap.Result
	r := RunRow{
		RunID:           runID,
		Name:            name,
		Seed:            snap.Tuning.Seed,
		TuningDigest:    snap.Header.Digest,
		Steps:           res.Steps,
		Extensions:      res.Extensions,
		Converged:       res.Converged,
		SteadyLength:    res.SteadyLength,
		TimeToSteady:    res.TimeToSteadyState,
		PredictedLength: res.PredictedLength,
		FinalLength:     res.FinalLength,
		AvalancheEvents: res.Avalanches.Events,
		SnapshotPath:    snapshotPath,
		RecordedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqRun, run: r}:
		return
	default:
	}
	// One row per run: wait for the writer to drain steps before giving up.
	wait := s.runWait
	if wait <= 0 {
		wait = defaultRunWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.ch <- req{kind: reqRun, run: r}:
	case <-timer.C:
		s.dropRun.Add(1)
	}
}

// UpsertTuning stores the canonical JSON of a tuning under its digest. It
// goes through the writer queue and returns once the row is committed.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	if s.closed.Load() {
		return errClosed
	}
	b, err := t.MarshalCanonical()
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	s.ch <- req{kind: reqTuning, done: done, tuning: tuningRow{
		Digest:    t.Digest(),
		JSON:      string(b),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}}
	return <-done
}

// Runs lists indexed runs, oldest first.
func (s *SQLiteIndex) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,name,seed,tuning_digest,steps,extensions,converged,
		steady_length,time_to_steady,predicted_length,final_length,avalanche_events,snapshot_path,recorded_at
		FROM runs ORDER BY recorded_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.Name, &r.Seed, &r.TuningDigest, &r.Steps, &r.Extensions, &r.Converged,
			&r.SteadyLength, &r.TimeToSteady, &r.PredictedLength, &r.FinalLength, &r.AvalancheEvents,
			&r.SnapshotPath, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StepCount returns how many steps of runID reached the index.
func (s *SQLiteIndex) StepCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps WHERE run_id=?`, runID).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(run_id,step,length,flux,base,diffusing,active,avalanche) VALUES(?,?,?,?,?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,name,seed,tuning_digest,steps,extensions,converged,steady_length,time_to_steady,predicted_length,final_length,avalanche_events,snapshot_path,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertStep != nil {
			_ = insertStep.Close()
		}
		if insertRun != nil {
			_ = insertRun.Close()
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() error {
		if tx != nil {
			return nil
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
		return nil
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		return err
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	handle := func(r req) {
		if err := begin(); err != nil {
			if r.done != nil {
				r.done <- err
			}
			time.Sleep(50 * time.Millisecond)
			return
		}
		switch r.kind {
		case reqStep:
			st := r.step
			if insertStep != nil {
				if _, err := tx.Stmt(insertStep).Exec(r.runID, st.Step, st.Length, st.Flux, st.Base, st.Diffusing, st.Active, st.Avalanche); err != nil {
					rollback()
					return
				}
				opCount++
			}

		case reqRun:
			ru := r.run
			if insertRun != nil {
				if _, err := tx.Stmt(insertRun).Exec(
					ru.RunID,
					ru.Name,
					ru.Seed,
					ru.TuningDigest,
					ru.Steps,
					ru.Extensions,
					ru.Converged,
					ru.SteadyLength,
					ru.TimeToSteady,
					ru.PredictedLength,
					ru.FinalLength,
					ru.AvalancheEvents,
					ru.SnapshotPath,
					ru.RecordedAt,
				); err != nil {
					rollback()
					return
				}
			}
			// Run rows are committed immediately.
			_ = commit()
			return

		case reqTuning:
			tu := r.tuning
			_, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
			if err == nil {
				_, err = tx.Exec(`INSERT OR REPLACE INTO tunings(digest,json,updated_at) VALUES(?,?,?)`, tu.Digest, tu.JSON, tu.UpdatedAt)
			}
			if err != nil {
				rollback()
			} else {
				err = commit()
			}
			r.done <- err
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			_ = commit()
		}
	}

	idle := time.NewTicker(idleCommit)
	defer idle.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				_ = commit()
				return
			}
			handle(r)
		case <-idle.C:
			if len(s.ch) == 0 {
				_ = commit()
			}
		}
	}
}
