package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Round   uint64 `json:"round"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Encoding     string `json:"encoding"`
	ModulusBound uint32 `json:"modulus_bound"`
	// Relief is the factor the run was started with; a resume must use the same one.
	Relief       uint32 `json:"relief"`

	Agents []AgentV1 `json:"agents"`
}

type AgentV1 struct {
	ID        int    `json:"id"`
	Operation string `json:"operation"`
	Divisor   uint32 `json:"divisor"`
	IfTrue    int    `json:"if_true"`
	IfFalse   int    `json:"if_false"`
	Inspected uint64 `json:"inspected"`

	// Exactly one of these is populated, depending on the encoding.
	// Residues[i][m-1] is item i mod m.
	Items    []uint64   `json:"items,omitempty"`
	Residues [][]uint32 `json:"residues,omitempty"`
}

// Path returns the conventional snapshot location for a run.
func Path(runDir string, round uint64) string {
	return filepath.Join(runDir, "snapshots", fmt.Sprintf("%010d.snap.zst", round))
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := encode(f, snap); err != nil {
		return err
	}
	return f.Sync()
}

func encode(w io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			_ = enc.Close()
		}
	}()

	bw := bufio.NewWriterSize(enc, 256*1024)
	// Header line stays readable with zstdcat.
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	closed = true
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// Latest returns the newest snapshot under runDir, or "" when there is none.
func Latest(runDir string) string {
	matches, _ := filepath.Glob(filepath.Join(runDir, "snapshots", "*.snap.zst"))
	if len(matches) == 0 {
		return ""
	}
	// Zero-padded names sort by round.
	latest := matches[0]
	for _, m := range matches[1:] {
		if m > latest {
			latest = m
		}
	}
	return latest
}
