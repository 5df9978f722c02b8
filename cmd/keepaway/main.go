package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"keepaway.dev/internal/persistence/indexdb"
	"keepaway.dev/internal/runner"
	"keepaway.dev/internal/sim/ranking"
	"keepaway.dev/internal/sim/tuning"
)

func main() {
	var (
		inputPath  = flag.String("input", "", "path to agent notes in the text format")
		rosterPath = flag.String("roster", "", "path to a YAML roster (alternative to -input)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file uses defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite run index")
		runName    = flag.String("run", "", "run only this named run (default: all runs in tuning)")
		resume     = flag.Bool("resume", false, "resume each run from its latest snapshot if present")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[keepaway] ", log.LstdFlags|log.Lmicroseconds)

	defs, err := runner.LoadDefinitions(*inputPath, *rosterPath)
	if err != nil {
		logger.Fatalf("load agents: %v", err)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	runs := tune.Runs
	if name := strings.TrimSpace(*runName); name != "" {
		r, ok := tune.Run(name)
		if !ok {
			logger.Fatalf("unknown run %q", name)
		}
		runs = []tuning.Run{r}
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer func() {
			if err := idx.Close(); err != nil {
				logger.Printf("index close: %v", err)
			}
			if st := idx.Stats(); st.DropRoundTotal > 0 || st.DropSnapshotTotal > 0 {
				logger.Printf("index dropped rounds=%d snapshots=%d", st.DropRoundTotal, st.DropSnapshotTotal)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := false
	for _, r := range runs {
		logger.Printf("run %s: encoding=%s relief=%d rounds=%d", r.Name, r.Encoding, r.Relief, r.Rounds)
		res, err := runner.Execute(ctx, defs, r, runner.Options{
			DataDir:       *dataDir,
			ModulusBound:  tune.ModulusBound,
			SnapshotEvery: tune.SnapshotEveryRounds,
			Resume:        *resume,
			Index:         idx,
			Logger:        logger,
		})
		if err != nil {
			if runner.IsCanceled(err) {
				logger.Printf("run %s interrupted at round %d", r.Name, res.Rounds)
				break
			}
			logger.Printf("run %s failed after %d rounds: %v", r.Name, res.Rounds, err)
			failed = true
			continue
		}
		report(os.Stdout, r, res)
	}
	if failed {
		// os.Exit skips deferred calls.
		stop()
		if idx != nil {
			_ = idx.Close()
		}
		os.Exit(1)
	}
}

func report(w io.Writer, r tuning.Run, res runner.Result) {
	fmt.Fprintf(w, "== %s: after round %d ==\n", r.Name, res.Rounds)
	for id, n := range res.Inspected {
		fmt.Fprintf(w, "agent %d inspected items %d times.\n", id, n)
	}
	if top := ranking.Top(res.Inspected, 2); len(top) == 2 {
		fmt.Fprintf(w, "score: %d (%d * %d)\n", res.Score, top[0], top[1])
		return
	}
	fmt.Fprintf(w, "score: %d\n", res.Score)
}
