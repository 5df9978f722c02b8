package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"keepaway.dev/internal/observerproto"
	"keepaway.dev/internal/persistence/indexdb"
	"keepaway.dev/internal/runner"
	"keepaway.dev/internal/sim/troop"
	"keepaway.dev/internal/sim/tuning"
	"keepaway.dev/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8080", "http listen address")
		inputPath   = flag.String("input", "", "path to agent notes in the text format")
		rosterPath  = flag.String("roster", "", "path to a YAML roster (alternative to -input)")
		tuningPath  = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file uses defaults)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite run index")
		runName     = flag.String("run", "", "named run to stream (default: first run in tuning)")
		pace        = flag.Duration("pace", 100*time.Millisecond, "delay between rounds (0 runs flat out)")
		resume      = flag.Bool("resume", true, "resume from the latest snapshot of the run if present")
		allowRemote = flag.Bool("allow_remote", false, "serve observer endpoints to non-loopback clients")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

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
	run := tune.Runs[0]
	if name := strings.TrimSpace(*runName); name != "" {
		r, ok := tune.Run(name)
		if !ok {
			logger.Fatalf("unknown run %q", name)
		}
		run = r
	}

	// Validate the roster up front so a bad config fails before listening.
	tr, err := troop.New(defs, troop.Config{Encoding: run.Encoding, ModulusBound: tune.ModulusBound})
	if err != nil {
		logger.Fatalf("agents: %v", err)
	}
	// A resumed run takes its bound from the snapshot; Opened replaces this.
	var bound atomic.Uint32
	bound.Store(tr.Bound())

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	hub := observer.NewHub(run.Name)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		logger.Printf("run %s: encoding=%s relief=%d rounds=%d pace=%s", run.Name, run.Encoding, run.Relief, run.Rounds, *pace)
		res, err := runner.Execute(ctx, defs, run, runner.Options{
			DataDir:       *dataDir,
			ModulusBound:  tune.ModulusBound,
			SnapshotEvery: tune.SnapshotEveryRounds,
			Resume:        *resume,
			Pace:          *pace,
			Index:         idx,
			Opened:        func(r runner.Result) { bound.Store(r.ModulusBound) },
			Extra:         hub,
			Logger:        logger,
		})
		switch {
		case err == nil:
			logger.Printf("run %s finished: round=%d score=%d", run.Name, res.Rounds, res.Score)
		case runner.IsCanceled(err):
			logger.Printf("run %s stopped at round %d", run.Name, res.Rounds)
		default:
			logger.Printf("run %s failed at round %d: %v", run.Name, res.Rounds, err)
		}
		hub.Finish(err)
	}()

	obsSrv := observer.NewServer(hub, newBootstrap(run, defs, bound.Load, hub), logger)
	obsSrv.AllowRemote = *allowRemote

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, run.Name, hub, idx)
	})
	mux.HandleFunc("/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/ws", obsSrv.WSHandler())
	if envBool("KEEPAWAY_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (KEEPAWAY_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// Let the run record its final state before the index closes.
	<-runDone
}

// newBootstrap describes the streamed run. bound reports the modulus bound of the running troop.
func newBootstrap(run tuning.Run, defs []troop.Definition, bound func() uint32, hub *observer.Hub) func() observerproto.BootstrapResponse {
	agents := make([]observerproto.AgentInfo, len(defs))
	for i, d := range defs {
		agents[i] = observerproto.AgentInfo{ID: i, Operation: d.Op.String(), Divisor: d.Divisor, IfTrue: d.IfTrue, IfFalse: d.IfFalse}
	}
	return func() observerproto.BootstrapResponse {
		resp := observerproto.BootstrapResponse{
			RunID:        run.Name,
			Encoding:     string(run.Encoding),
			Relief:       run.Relief,
			Rounds:       run.Rounds,
			ModulusBound: bound(),
			Agents:       agents,
		}
		if last, ok := hub.Last(); ok {
			resp.Round = last.Round
		}
		return resp
	}
}

func writeMetrics(rw http.ResponseWriter, runID string, hub *observer.Hub, idx *indexdb.SQLiteIndex) {
	last, _ := hub.Last()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP keepaway_round Last completed round.\n")
	fmt.Fprintf(rw, "# TYPE keepaway_round gauge\n")
	fmt.Fprintf(rw, "keepaway_round{run=%q} %d\n", runID, last.Round)

	fmt.Fprintf(rw, "# HELP keepaway_score Product of the two largest inspection counts.\n")
	fmt.Fprintf(rw, "# TYPE keepaway_score gauge\n")
	fmt.Fprintf(rw, "keepaway_score{run=%q} %d\n", runID, last.Score)

	fmt.Fprintf(rw, "# HELP keepaway_inspected_total Items inspected per agent.\n")
	fmt.Fprintf(rw, "# TYPE keepaway_inspected_total counter\n")
	for id, n := range last.Inspected {
		fmt.Fprintf(rw, "keepaway_inspected_total{run=%q,agent=\"%d\"} %d\n", runID, id, n)
	}

	fmt.Fprintf(rw, "# HELP keepaway_observers Connected observer sessions.\n")
	fmt.Fprintf(rw, "# TYPE keepaway_observers gauge\n")
	fmt.Fprintf(rw, "keepaway_observers{run=%q} %d\n", runID, hub.Sessions())

	if idx == nil {
		return
	}
	st := idx.Stats()
	fmt.Fprintf(rw, "# HELP keepaway_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE keepaway_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "keepaway_index_queue_depth %d\n", st.QueueDepth)

	fmt.Fprintf(rw, "# HELP keepaway_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE keepaway_index_dropped_total counter\n")
	fmt.Fprintf(rw, "keepaway_index_dropped_total{kind=%q} %d\n", "round", st.DropRoundTotal)
	fmt.Fprintf(rw, "keepaway_index_dropped_total{kind=%q} %d\n", "snapshot", st.DropSnapshotTotal)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
