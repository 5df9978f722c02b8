package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"keepaway.dev/internal/persistence/snapshot"
	"keepaway.dev/internal/runner"
	"keepaway.dev/internal/sim/troop"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "runs"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		latest := snapshot.Latest(filepath.Join(*dataDir, "runs", e.Name()))
		if latest == "" {
			fmt.Println(e.Name())
			continue
		}
		fmt.Printf("%s\tlatest=%s\n", e.Name(), filepath.Base(latest))
	}
}

// snapshotCmd prints a snapshot summary and, with -agents, each agent's state.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (uses its latest snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (overrides -run)")
	agents := fs.Bool("agents", false, "print per-agent state")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -snapshot")
			os.Exit(2)
		}
		path = snapshot.Latest(runner.RunDir(*dataDir, *runID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Println(troop.Describe(snap))
	if !*agents {
		return
	}
	for _, a := range snap.Agents {
		fmt.Printf("agent %d: op=%q divisor=%d targets=%d/%d inspected=%d queued=%d\n",
			a.ID, a.Operation, a.Divisor, a.IfTrue, a.IfFalse, a.Inspected, len(a.Items)+len(a.Residues))
	}
}
