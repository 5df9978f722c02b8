// Package runner drives one configured run end to end: it builds (or resumes)
// a troop, streams round entries to the round log, index and any extra
// loggers, and writes periodic snapshots.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"keepaway.dev/internal/persistence/indexdb"
	persistlog "keepaway.dev/internal/persistence/log"
	"keepaway.dev/internal/persistence/snapshot"
	"keepaway.dev/internal/sim/troop"
	"keepaway.dev/internal/sim/tuning"
)

type Options struct {
	DataDir string
	// ModulusBound is passed through to residue runs. 0 derives it from the divisors.
	ModulusBound uint32
	// SnapshotEvery writes a snapshot every N rounds. 0 writes only the first and last.
	SnapshotEvery int
	// Resume continues from the newest snapshot of the run, if any.
	Resume bool
	// Pace sleeps between rounds (observer server). 0 runs flat out.
	Pace time.Duration

	// Opened, if set, is called once the troop is built or resumed, before any round runs.
	Opened func(Result)

	Index  *indexdb.SQLiteIndex
	Extra  troop.RoundLogger
	Logger *log.Logger
}

type Result struct {
	RunID     string
	Rounds    uint64
	Inspected []uint64
	Score     uint64
	Digest    string
	Resumed   bool

	// ModulusBound is the bound the troop actually runs with.
	ModulusBound uint32
}

// RunDir is the per-run data directory.
func RunDir(dataDir, runID string) string {
	return filepath.Join(dataDir, "runs", runID)
}

// Execute runs run against defs. The returned Result reflects the troop when
// the run stopped, even when err != nil. The run is always recorded in the
// index when one is configured. A canceled run still writes a snapshot at the
// round it stopped on, so it can be resumed.
func Execute(ctx context.Context, defs []troop.Definition, run tuning.Run, opts Options) (Result, error) {
	res := Result{RunID: run.Name}
	runDir := RunDir(opts.DataDir, run.Name)

	t, err := open(ctx, defs, run, opts, runDir, &res)
	if err != nil {
		return res, err
	}
	res.ModulusBound = t.Bound()
	if opts.Opened != nil {
		opened := res
		opened.Rounds = t.Round()
		opts.Opened(opened)
	}

	roundLog := persistlog.NewRoundLogger(runDir)
	defer roundLog.Close()

	loggers := troop.RoundLoggers{roundLog, opts.Extra}
	if opts.Index != nil {
		loggers = append(loggers, opts.Index.RoundWriter(run.Name))
	}
	t.SetLogger(loggers)

	if !res.Resumed {
		if err := writeSnapshot(t, run, runDir, opts); err != nil {
			return res, err
		}
	}

	runErr := drive(ctx, t, run, opts, runDir)

	res.Rounds = t.Round()
	res.Inspected = t.InspectCounts()
	res.Score = t.Score()
	res.Digest = t.Digest()

	if runErr == nil || IsCanceled(runErr) {
		if opts.SnapshotEvery <= 0 || t.Round()%uint64(opts.SnapshotEvery) != 0 {
			if err := writeSnapshot(t, run, runDir, opts); err != nil && runErr == nil {
				runErr = err
			}
		}
	}
	if opts.Index != nil {
		rec := indexdb.RunRecord{
			RunID:        run.Name,
			Encoding:     string(t.Encoding()),
			Relief:       run.Relief,
			Rounds:       res.Rounds,
			ModulusBound: t.Bound(),
			Score:        res.Score,
			Digest:       res.Digest,
			Inspected:    res.Inspected,
		}
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		if err := opts.Index.RecordRun(context.WithoutCancel(ctx), rec); err != nil && opts.Logger != nil {
			opts.Logger.Printf("index: record run %s: %v", run.Name, err)
		}
	}
	return res, runErr
}

func open(ctx context.Context, defs []troop.Definition, run tuning.Run, opts Options, runDir string, res *Result) (*troop.Troop, error) {
	if opts.Resume {
		if path := snapshot.Latest(runDir); path != "" {
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				return nil, fmt.Errorf("read snapshot: %w", err)
			}
			if snap.Encoding != string(run.Encoding) {
				return nil, fmt.Errorf("snapshot %s: encoding %s does not match run encoding %s", filepath.Base(path), snap.Encoding, run.Encoding)
			}
			if snap.Relief != run.Relief {
				return nil, fmt.Errorf("snapshot %s: relief %d does not match run relief %d", filepath.Base(path), snap.Relief, run.Relief)
			}
			t, err := troop.FromSnapshot(snap, nil)
			if err != nil {
				return nil, fmt.Errorf("import snapshot: %w", err)
			}
			res.Resumed = true
			if opts.Logger != nil {
				opts.Logger.Printf("run %s resumed from %s", run.Name, troop.Describe(snap))
			}
			return t, nil
		}
	}

	// A fresh run starts from an empty directory and an empty index entry so
	// the log, snapshots and index rows all describe the same run.
	if err := os.RemoveAll(runDir); err != nil {
		return nil, err
	}
	if err := opts.Index.ResetRun(context.WithoutCancel(ctx), run.Name); err != nil {
		return nil, fmt.Errorf("index reset: %w", err)
	}

	t, err := troop.New(defs, troop.Config{
		Encoding:     run.Encoding,
		ModulusBound: opts.ModulusBound,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func drive(ctx context.Context, t *troop.Troop, run tuning.Run, opts Options, runDir string) error {
	target := uint64(run.Rounds)
	if t.Round() > target {
		return fmt.Errorf("snapshot round %d is past the configured %d rounds", t.Round(), target)
	}

	if run.Rounds <= 0 {
		return fmt.Errorf("round count must be > 0, got %d", run.Rounds)
	}
	chunk := run.Rounds
	if opts.SnapshotEvery > 0 {
		chunk = opts.SnapshotEvery
	}
	if opts.Pace > 0 {
		chunk = 1
	}

	var ticker *time.Ticker
	if opts.Pace > 0 {
		ticker = time.NewTicker(opts.Pace)
		defer ticker.Stop()
	}

	for t.Round() < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}

		// Align chunks to snapshot boundaries so resumed runs snapshot at the same rounds.
		n := uint64(chunk) - t.Round()%uint64(chunk)
		if rem := target - t.Round(); n > rem {
			n = rem
		}
		if err := t.RunRounds(int(n), run.Relief); err != nil {
			return err
		}
		if opts.SnapshotEvery > 0 && t.Round()%uint64(opts.SnapshotEvery) == 0 {
			if err := writeSnapshot(t, run, runDir, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSnapshot(t *troop.Troop, run tuning.Run, runDir string, opts Options) error {
	snap := t.ExportSnapshot(run.Name)
	snap.Relief = run.Relief
	path := snapshot.Path(runDir, snap.Header.Round)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	if opts.Index != nil {
		opts.Index.RecordSnapshot(path, snap)
	}
	return nil
}

// IsCanceled reports whether err is a context cancellation rather than a run failure.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
