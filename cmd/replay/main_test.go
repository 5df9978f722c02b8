package main

import (
	"context"
	"strings"
	"testing"

	persistlog "keepaway.dev/internal/persistence/log"
	"keepaway.dev/internal/persistence/snapshot"
	"keepaway.dev/internal/runner"
	"keepaway.dev/internal/sim/op"
	"keepaway.dev/internal/sim/troop"
	"keepaway.dev/internal/sim/tuning"
	"keepaway.dev/internal/sim/worry"
)

func replayDefs() []troop.Definition {
	return []troop.Definition{
		{Items: []uint64{79, 98}, Op: op.Multiply(19), Divisor: 23, IfTrue: 2, IfFalse: 3},
		{Items: []uint64{54, 65, 75, 74}, Op: op.Add(6), Divisor: 19, IfTrue: 2, IfFalse: 0},
		{Items: []uint64{79, 60, 97}, Op: op.Square(), Divisor: 13, IfTrue: 1, IfFalse: 3},
		{Items: []uint64{74}, Op: op.Add(3), Divisor: 17, IfTrue: 0, IfFalse: 1},
	}
}

func loadTroop(t *testing.T, path string) *troop.Troop {
	t.Helper()
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	tr, err := troop.FromSnapshot(snap, nil)
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	return tr
}

func TestVerify_FromFirstAndMiddleSnapshot(t *testing.T) {
	dataDir := t.TempDir()
	run := tuning.Run{Name: "part2", Encoding: worry.EncodingResidue, Relief: 1, Rounds: 60}
	if _, err := runner.Execute(context.Background(), replayDefs(), run, runner.Options{DataDir: dataDir, SnapshotEvery: 20}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	runDir := runner.RunDir(dataDir, "part2")
	if first := firstSnapshot(runDir); first != snapshot.Path(runDir, 0) {
		t.Fatalf("firstSnapshot: %s", first)
	}

	checked, err := verify(loadTroop(t, snapshot.Path(runDir, 0)), persistlog.RoundsPath(runDir), 0)
	if err != nil || checked != 60 {
		t.Fatalf("verify from 0: checked=%d err=%v", checked, err)
	}
	checked, err = verify(loadTroop(t, snapshot.Path(runDir, 20)), persistlog.RoundsPath(runDir), 45)
	if err != nil || checked != 25 {
		t.Fatalf("verify 20..45: checked=%d err=%v", checked, err)
	}
}

func TestVerify_DetectsTamperedDigest(t *testing.T) {
	dataDir := t.TempDir()
	run := tuning.Run{Name: "part1", Encoding: worry.EncodingConcrete, Relief: 3, Rounds: 5}
	if _, err := runner.Execute(context.Background(), replayDefs(), run, runner.Options{DataDir: dataDir}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	runDir := runner.RunDir(dataDir, "part1")

	var entries []troop.RoundLogEntry
	if err := persistlog.ReadRounds(persistlog.RoundsPath(runDir), func(e troop.RoundLogEntry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadRounds: %v", err)
	}
	entries[2].Digest = strings.Repeat("0", 64)

	tampered := t.TempDir()
	l := persistlog.NewRoundLogger(tampered)
	for _, e := range entries {
		if err := l.WriteRound(e); err != nil {
			t.Fatalf("WriteRound: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	checked, err := verify(loadTroop(t, snapshot.Path(runDir, 0)), persistlog.RoundsPath(tampered), 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at round 3") {
		t.Fatalf("expected mismatch at round 3, got checked=%d err=%v", checked, err)
	}
}

func TestVerify_AcceptsRepeatedRounds(t *testing.T) {
	dataDir := t.TempDir()
	run := tuning.Run{Name: "r", Encoding: worry.EncodingResidue, Relief: 1, Rounds: 10}
	if _, err := runner.Execute(context.Background(), replayDefs(), run, runner.Options{DataDir: dataDir, SnapshotEvery: 5}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	runDir := runner.RunDir(dataDir, "r")

	var entries []troop.RoundLogEntry
	_ = persistlog.ReadRounds(persistlog.RoundsPath(runDir), func(e troop.RoundLogEntry) error {
		entries = append(entries, e)
		return nil
	})

	// Rounds 6..8 logged again, as after a crash and resume from round 5.
	dup := t.TempDir()
	l := persistlog.NewRoundLogger(dup)
	for _, e := range append(append(append([]troop.RoundLogEntry{}, entries[:8]...), entries[5:8]...), entries[8:]...) {
		_ = l.WriteRound(e)
	}
	_ = l.Close()

	checked, err := verify(loadTroop(t, snapshot.Path(runDir, 0)), persistlog.RoundsPath(dup), 0)
	if err != nil || checked != 10 {
		t.Fatalf("verify: checked=%d err=%v", checked, err)
	}
}
