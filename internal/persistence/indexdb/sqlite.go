package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"keepaway.dev/internal/persistence/snapshot"
	"keepaway.dev/internal/sim/troop"
)

var ErrClosed = errors.New("index closed")

// SQLiteIndex is a read model of finished runs and their round digests.
// Writes go through a single goroutine; the JSONL round logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRound    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqRound reqKind = iota + 1
	reqSnapshot
	reqRun
	reqReset
)

type req struct {
	kind reqKind

	runID    string
	round    troop.RoundLogEntry
	snapshot snapshotRow
	run      RunRecord
	done     chan error
}

type snapshotRow struct {
	RunID    string
	Round    uint64
	Path     string
	Encoding string
	Agents   int
	Items    int
}

// RunRecord is the summary of one finished (or aborted) run.
type RunRecord struct {
	RunID        string
	Encoding     string
	Relief       uint32
	Rounds       uint64
	ModulusBound uint32
	Score        uint64
	Digest       string
	Inspected    []uint64
	Error        string
	FinishedAt   string
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropRoundTotal    uint64
	DropSnapshotTotal uint64
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

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
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
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			encoding TEXT NOT NULL,
			relief INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			modulus_bound INTEGER NOT NULL,
			score INTEGER NOT NULL,
			digest TEXT NOT NULL,
			error TEXT,
			finished_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_agents (
			run_id TEXT NOT NULL,
			agent_id INTEGER NOT NULL,
			inspected INTEGER NOT NULL,
			PRIMARY KEY (run_id, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			relief INTEGER NOT NULL,
			digest TEXT NOT NULL,
			inspected_json TEXT NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			path TEXT NOT NULL,
			encoding TEXT NOT NULL,
			agents INTEGER NOT NULL,
			items INTEGER NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

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
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropRoundTotal:    s.dropRound.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// RoundWriter adapts the index to troop.RoundLogger for one run.
func (s *SQLiteIndex) RoundWriter(runID string) troop.RoundLogger {
	return roundWriter{s: s, runID: runID}
}

type roundWriter struct {
	s     *SQLiteIndex
	runID string
}

func (w roundWriter) WriteRound(e troop.RoundLogEntry) error {
	return w.s.WriteRound(w.runID, e)
}

// WriteRound never blocks the simulation: when the writer falls behind the
// entry is dropped and counted.
func (s *SQLiteIndex) WriteRound(runID string, e troop.RoundLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRound, runID: runID, round: e}:
	default:
		s.dropRound.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		RunID:    snap.Header.RunID,
		Round:    snap.Header.Round,
		Path:     path,
		Encoding: snap.Encoding,
		Agents:   len(snap.Agents),
	}
	for _, a := range snap.Agents {
		r.Items += len(a.Items) + len(a.Residues)
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// RecordRun stores a run summary and waits until it is committed.
func (s *SQLiteIndex) RecordRun(ctx context.Context, rec RunRecord) error {
	if s == nil {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if rec.FinishedAt == "" {
		rec.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return s.call(ctx, req{kind: reqRun, run: rec})
}

// ResetRun deletes every row stored for runID and waits until the delete is
// committed. Rows already queued for the run are written before the delete.
func (s *SQLiteIndex) ResetRun(ctx context.Context, runID string) error {
	if s == nil {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return s.call(ctx, req{kind: reqReset, runID: runID})
}

func (s *SQLiteIndex) call(ctx context.Context, r req) error {
	r.done = make(chan error, 1)
	select {
	case s.ch <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runs lists recorded runs ordered by run id.
func (s *SQLiteIndex) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,encoding,relief,rounds,modulus_bound,score,digest,COALESCE(error,''),finished_at FROM runs ORDER BY run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r      RunRecord
			rounds int64
			score  int64
		)
		if err := rows.Scan(&r.RunID, &r.Encoding, &r.Relief, &rounds, &r.ModulusBound, &score, &r.Digest, &r.Error, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Rounds, r.Score = uint64(rounds), uint64(score)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Release the single connection before the per-run queries.
	_ = rows.Close()
	for i := range out {
		counts, err := s.runAgents(ctx, out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].Inspected = counts
	}
	return out, nil
}

func (s *SQLiteIndex) runAgents(ctx context.Context, runID string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT inspected FROM run_agents WHERE run_id=? ORDER BY agent_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, uint64(n))
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(run_id,round,relief,digest,inspected_json) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,round,path,encoding,agents,items) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertRound != nil {
			_ = insertRound.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
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
		return nil
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		return err
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
			if !ok {
				_ = commit()
				return
			}
		case <-ticker.C:
			_ = commit()
			continue
		}

		if err := begin(); err != nil {
			if r.done != nil {
				r.done <- err
			}
			// Can't start a tx; back off a little.
			time.Sleep(50 * time.Millisecond)
			continue
		}

		switch r.kind {
		case reqRound:
			b, _ := json.Marshal(r.round.Inspected)
			if insertRound != nil {
				if _, err := tx.Stmt(insertRound).Exec(r.runID, int64(r.round.Round), int64(r.round.Relief), r.round.Digest, string(b)); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.RunID, int64(sn.Round), sn.Path, sn.Encoding, sn.Agents, sn.Items); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqRun, reqReset:
			var err error
			if r.kind == reqRun {
				err = writeRun(tx, r.run)
			} else {
				err = resetRun(tx, r.runID)
			}
			if err != nil {
				rollback()
			} else {
				err = commit()
			}
			r.done <- err
			continue
		}

		if opCount >= commitEvery {
			_ = commit()
		}
	}
}

func writeRun(tx *sql.Tx, rec RunRecord) error {
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO runs(run_id,encoding,relief,rounds,modulus_bound,score,digest,error,finished_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.Encoding, int64(rec.Relief), int64(rec.Rounds), int64(rec.ModulusBound), int64(rec.Score), rec.Digest, errText, rec.FinishedAt,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM run_agents WHERE run_id=?`, rec.RunID); err != nil {
		return err
	}
	for id, n := range rec.Inspected {
		if _, err := tx.Exec(`INSERT INTO run_agents(run_id,agent_id,inspected) VALUES(?,?,?)`, rec.RunID, id, int64(n)); err != nil {
			return err
		}
	}
	return nil
}

func resetRun(tx *sql.Tx, runID string) error {
	for _, table := range []string{"rounds", "snapshots", "run_agents", "runs"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE run_id=?`, runID); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}
