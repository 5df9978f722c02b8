package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index.sqlite)")
	runID := fs.String("run", "", "run id (required for rounds and agents)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if err := runQuery(db, q, strings.TrimSpace(*runID), *limit, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

type runRow struct {
	RunID        string `json:"run_id"`
	Encoding     string `json:"encoding"`
	Relief       uint32 `json:"relief"`
	Rounds       int64  `json:"rounds"`
	ModulusBound uint32 `json:"modulus_bound"`
	Score        int64  `json:"score"`
	Digest       string `json:"digest"`
	Error        string `json:"error,omitempty"`
	FinishedAt   string `json:"finished_at"`
}

type roundRow struct {
	Round     int64           `json:"round"`
	Relief    uint32          `json:"relief"`
	Digest    string          `json:"digest"`
	Inspected json.RawMessage `json:"inspected"`
}

type agentRow struct {
	AgentID   int   `json:"agent_id"`
	Inspected int64 `json:"inspected"`
}

type snapshotRow struct {
	RunID    string `json:"run_id"`
	Round    int64  `json:"round"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
	Agents   int    `json:"agents"`
	Items    int    `json:"items"`
}

func runQuery(db *sql.DB, q, runID string, limit int, emit func(any)) error {
	if (q == "rounds" || q == "agents") && runID == "" {
		return fmt.Errorf("missing -run")
	}

	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,encoding,relief,rounds,modulus_bound,score,digest,COALESCE(error,''),finished_at FROM runs ORDER BY run_id LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r runRow
			if err := rows.Scan(&r.RunID, &r.Encoding, &r.Relief, &r.Rounds, &r.ModulusBound, &r.Score, &r.Digest, &r.Error, &r.FinishedAt); err != nil {
				return err
			}
			emit(r)
		}
		return rows.Err()

	case "rounds":
		rows, err := db.Query(`SELECT round,relief,digest,inspected_json FROM rounds WHERE run_id=? ORDER BY round DESC LIMIT ?`, runID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r    roundRow
				insp string
			)
			if err := rows.Scan(&r.Round, &r.Relief, &r.Digest, &insp); err != nil {
				return err
			}
			r.Inspected = json.RawMessage(insp)
			emit(r)
		}
		return rows.Err()

	case "agents":
		rows, err := db.Query(`SELECT agent_id,inspected FROM run_agents WHERE run_id=? ORDER BY agent_id`, runID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r agentRow
			if err := rows.Scan(&r.AgentID, &r.Inspected); err != nil {
				return err
			}
			emit(r)
		}
		return rows.Err()

	case "snapshots":
		query := `SELECT run_id,round,path,encoding,agents,items FROM snapshots ORDER BY run_id, round DESC LIMIT ?`
		qargs := []any{limit}
		if runID != "" {
			query = `SELECT run_id,round,path,encoding,agents,items FROM snapshots WHERE run_id=? ORDER BY round DESC LIMIT ?`
			qargs = []any{runID, limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r snapshotRow
			if err := rows.Scan(&r.RunID, &r.Round, &r.Path, &r.Encoding, &r.Agents, &r.Items); err != nil {
				return err
			}
			emit(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (runs|rounds|agents|snapshots)", q)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
