package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"keepaway.dev/internal/sim/worry"
)

type Tuning struct {
	// ModulusBound overrides the residue bound M. Zero derives it from the divisors.
	ModulusBound uint32 `yaml:"modulus_bound"`
	// SnapshotEveryRounds writes a snapshot every N rounds (0 = only at the end).
	SnapshotEveryRounds int `yaml:"snapshot_every_rounds"`

	Runs []Run `yaml:"runs"`
}

type Run struct {
	Name     string         `yaml:"name"`
	Encoding worry.Encoding `yaml:"encoding"`
	Relief   uint32         `yaml:"relief"`
	Rounds   int            `yaml:"rounds"`
}

// Defaults returns the two canonical runs.
func Defaults() Tuning {
	return Tuning{
		Runs: []Run{
			{Name: "part1", Encoding: worry.EncodingConcrete, Relief: 3, Rounds: 20},
			{Name: "part2", Encoding: worry.EncodingResidue, Relief: 1, Rounds: 10000},
		},
	}
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if len(t.Runs) == 0 {
		t.Runs = Defaults().Runs
	}
	for i := range t.Runs {
		r := &t.Runs[i]
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			r.Name = fmt.Sprintf("run%d", i+1)
		}
		r.Encoding = worry.Encoding(strings.ToLower(strings.TrimSpace(string(r.Encoding))))
		if r.Relief == 0 {
			r.Relief = 1
		}
	}
}

func (t Tuning) Validate() error {
	if t.SnapshotEveryRounds < 0 {
		return fmt.Errorf("snapshot_every_rounds must be >= 0")
	}
	if t.ModulusBound > worry.MaxBound {
		return fmt.Errorf("modulus_bound %d exceeds the limit %d", t.ModulusBound, worry.MaxBound)
	}
	seen := map[string]bool{}
	for _, r := range t.Runs {
		if seen[r.Name] {
			return fmt.Errorf("duplicate run name: %s", r.Name)
		}
		seen[r.Name] = true
		if !validRunName(r.Name) {
			return fmt.Errorf("run %q: name may only contain letters, digits, '-' and '_'", r.Name)
		}
		if !r.Encoding.Valid() {
			return fmt.Errorf("run %s: unknown encoding %q", r.Name, r.Encoding)
		}
		if r.Rounds <= 0 {
			return fmt.Errorf("run %s: rounds must be > 0", r.Name)
		}
		if err := r.Encoding.CheckRelief(r.Relief); err != nil {
			return fmt.Errorf("run %s: %w", r.Name, err)
		}
	}
	return nil
}

// Run names become directory names under <data>/runs.
func validRunName(name string) bool {
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return name != ""
}

// Run looks up a run by name.
func (t Tuning) Run(name string) (Run, bool) {
	for _, r := range t.Runs {
		if r.Name == name {
			return r, true
		}
	}
	return Run{}, false
}
