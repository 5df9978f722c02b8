package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"keepaway.dev/internal/sim/worry"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := writeFile(t, `
modulus_bound: 29
snapshot_every_rounds: 1000
runs:
  - name: quick
    encoding: Concrete
    relief: 3
    rounds: 20
  - encoding: residue
    rounds: 500
`)
	tune, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tune.ModulusBound != 29 || tune.SnapshotEveryRounds != 1000 {
		t.Fatalf("scalars: %+v", tune)
	}
	quick, ok := tune.Run("quick")
	if !ok || quick.Encoding != worry.EncodingConcrete || quick.Relief != 3 || quick.Rounds != 20 {
		t.Fatalf("quick run: %+v (found=%v)", quick, ok)
	}
	second, ok := tune.Run("run2")
	if !ok || second.Relief != 1 || second.Encoding != worry.EncodingResidue {
		t.Fatalf("normalized run2: %+v (found=%v)", second, ok)
	}
}

func TestLoad_EmptyRunsUsesDefaults(t *testing.T) {
	tune, err := Load(writeFile(t, "modulus_bound: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tune.Runs) != 2 {
		t.Fatalf("runs: got %d want 2", len(tune.Runs))
	}
	p2, _ := tune.Run("part2")
	if p2.Rounds != 10000 || p2.Encoding != worry.EncodingResidue {
		t.Fatalf("part2: %+v", p2)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"residue relief": "runs:\n  - {name: a, encoding: residue, relief: 3, rounds: 10}\n",
		"bad encoding":   "runs:\n  - {name: a, encoding: bignum, rounds: 10}\n",
		"zero rounds":    "runs:\n  - {name: a, encoding: concrete, rounds: 0}\n",
		"duplicate":      "runs:\n  - {name: a, encoding: concrete, rounds: 1}\n  - {name: a, encoding: concrete, rounds: 1}\n",
		"path name":      "runs:\n  - {name: ../up, encoding: concrete, rounds: 1}\n",
		"negative every": "snapshot_every_rounds: -1\n",
		"huge bound":     "modulus_bound: 4000000000\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	_, err := Load(writeFile(t, cases["residue relief"]))
	if !errors.Is(err, worry.ErrBadRelief) {
		t.Fatalf("residue relief should wrap ErrBadRelief, got %v", err)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
