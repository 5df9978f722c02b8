package runner

import (
	"fmt"
	"os"
	"strings"

	"keepaway.dev/internal/notes"
	"keepaway.dev/internal/sim/roster"
	"keepaway.dev/internal/sim/troop"
)

// LoadDefinitions reads agents from exactly one of a notes file or a YAML roster.
func LoadDefinitions(notesPath, rosterPath string) ([]troop.Definition, error) {
	notesPath = strings.TrimSpace(notesPath)
	rosterPath = strings.TrimSpace(rosterPath)
	switch {
	case notesPath != "" && rosterPath != "":
		return nil, fmt.Errorf("use one of -input or -roster")
	case rosterPath != "":
		return roster.Load(rosterPath)
	case notesPath != "":
		f, err := os.Open(notesPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		defs, err := notes.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", notesPath, err)
		}
		return defs, nil
	default:
		return nil, fmt.Errorf("missing -input or -roster")
	}
}
