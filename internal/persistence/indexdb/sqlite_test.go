package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"keepaway.dev/internal/persistence/snapshot"
	"keepaway.dev/internal/sim/op"
	"keepaway.dev/internal/sim/troop"
	"keepaway.dev/internal/sim/worry"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqRound, round: troop.RoundLogEntry{Round: 1}}

	_ = s.WriteRound("r", troop.RoundLogEntry{Round: 2})
	_ = s.RoundWriter("r").WriteRound(troop.RoundLogEntry{Round: 3})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropRoundTotal != 2 {
		t.Fatalf("DropRoundTotal=%d want=2", st.DropRoundTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RecordsRunRoundsAndSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	tr, err := troop.New([]troop.Definition{
		{Items: []uint64{79, 98}, Op: op.Multiply(19), Divisor: 23, IfTrue: 2, IfFalse: 3},
		{Items: []uint64{54, 65, 75, 74}, Op: op.Add(6), Divisor: 19, IfTrue: 2, IfFalse: 0},
		{Items: []uint64{79, 60, 97}, Op: op.Square(), Divisor: 13, IfTrue: 1, IfFalse: 3},
		{Items: []uint64{74}, Op: op.Add(3), Divisor: 17, IfTrue: 0, IfFalse: 1},
	}, troop.Config{Encoding: worry.EncodingConcrete, Logger: idx.RoundWriter("part1")})
	if err != nil {
		t.Fatalf("troop.New: %v", err)
	}
	if err := tr.RunRounds(20, 3); err != nil {
		t.Fatalf("RunRounds: %v", err)
	}
	idx.RecordSnapshot("/data/part1/20.snap.zst", tr.ExportSnapshot("part1"))

	ctx := context.Background()
	if err := idx.RecordRun(ctx, RunRecord{
		RunID:     "part1",
		Encoding:  string(tr.Encoding()),
		Relief:    3,
		Rounds:    tr.Round(),
		Score:     tr.Score(),
		Digest:    tr.Digest(),
		Inspected: tr.InspectCounts(),
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := idx.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Score != 10605 || runs[0].Rounds != 20 || runs[0].Relief != 3 {
		t.Fatalf("runs: %+v", runs)
	}
	if got := runs[0].Inspected; len(got) != 4 || got[0] != 101 || got[3] != 105 {
		t.Fatalf("inspected: %v", got)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.RecordRun(ctx, RunRecord{RunID: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("RecordRun after Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM rounds WHERE run_id='part1'`).Scan(&n); err != nil {
		t.Fatalf("count rounds: %v", err)
	}
	if n != 20 {
		t.Fatalf("rounds rows: got %d want 20", n)
	}
	var digest string
	if err := db.QueryRow(`SELECT digest FROM rounds WHERE run_id='part1' AND round=20`).Scan(&digest); err != nil {
		t.Fatalf("round 20: %v", err)
	}
	if digest != tr.Digest() {
		t.Fatalf("round 20 digest: got %s want %s", digest, tr.Digest())
	}
	var items int
	if err := db.QueryRow(`SELECT items FROM snapshots WHERE run_id='part1' AND round=20`).Scan(&items); err != nil {
		t.Fatalf("snapshot row: %v", err)
	}
	if items != 10 {
		t.Fatalf("snapshot items: got %d want 10", items)
	}
}

func TestSQLiteIndex_RecordRunReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	for _, rec := range []RunRecord{
		{RunID: "a", Encoding: "residue", Relief: 1, Rounds: 5, Inspected: []uint64{1, 2, 3}, Error: "round 6 agent 0: boom"},
		{RunID: "a", Encoding: "residue", Relief: 1, Rounds: 10, Inspected: []uint64{4, 5}},
	} {
		if err := idx.RecordRun(ctx, rec); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	runs, err := idx.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Rounds != 10 || runs[0].Error != "" || len(runs[0].Inspected) != 2 {
		t.Fatalf("runs: %+v", runs)
	}
}

func TestSQLiteIndex_ResetRunDeletesOnlyThatRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	ctx := context.Background()
	for _, runID := range []string{"a", "b"} {
		for round := uint64(1); round <= 30; round++ {
			_ = idx.WriteRound(runID, troop.RoundLogEntry{Round: round, Relief: 1, Digest: "d", Inspected: []uint64{round}})
		}
		for _, round := range []uint64{0, 10, 20, 30} {
			idx.RecordSnapshot("/data/"+runID+".snap.zst", snapshot.SnapshotV1{
				Header:   snapshot.Header{Version: 1, RunID: runID, Round: round},
				Encoding: "residue",
			})
		}
		if err := idx.RecordRun(ctx, RunRecord{RunID: runID, Encoding: "residue", Relief: 1, Rounds: 30, Inspected: []uint64{7, 8}}); err != nil {
			t.Fatalf("RecordRun %s: %v", runID, err)
		}
	}

	if err := idx.ResetRun(ctx, "a"); err != nil {
		t.Fatalf("ResetRun: %v", err)
	}
	// New rows after the reset land in an empty run.
	_ = idx.WriteRound("a", troop.RoundLogEntry{Round: 1, Relief: 1, Digest: "fresh", Inspected: []uint64{1}})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.ResetRun(ctx, "a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("ResetRun after Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	count := func(table, runID string) int {
		t.Helper()
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE run_id=?`, runID).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		return n
	}
	for _, c := range []struct {
		table string
		runID string
		want  int
	}{
		{"rounds", "a", 1},
		{"snapshots", "a", 0},
		{"run_agents", "a", 0},
		{"runs", "a", 0},
		{"rounds", "b", 30},
		{"snapshots", "b", 4},
		{"run_agents", "b", 2},
		{"runs", "b", 1},
	} {
		if got := count(c.table, c.runID); got != c.want {
			t.Fatalf("%s rows for %s: got %d want %d", c.table, c.runID, got, c.want)
		}
	}
}
