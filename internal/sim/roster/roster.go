// Package roster loads agent definitions from a YAML roster file.
// Files are checked against schemas/roster.schema.json before decoding.
package roster

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"keepaway.dev/internal/sim/op"
	"keepaway.dev/internal/sim/troop"
)

//go:embed schemas/roster.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("roster.schema.json", schemaJSON)

type File struct {
	Agents []AgentSpec `yaml:"agents"`
}

type AgentSpec struct {
	Items     []uint64 `yaml:"items,flow"`
	Operation op.Op    `yaml:"operation"`
	Divisor   uint32   `yaml:"divisor"`
	IfTrue    int      `yaml:"if_true"`
	IfFalse   int      `yaml:"if_false"`
}

func Load(path string) ([]troop.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

func Parse(raw []byte) ([]troop.Definition, error) {
	if err := validate(raw); err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	defs := make([]troop.Definition, len(f.Agents))
	for i, a := range f.Agents {
		defs[i] = troop.Definition{
			Items:   a.Items,
			Op:      a.Operation,
			Divisor: a.Divisor,
			IfTrue:  a.IfTrue,
			IfFalse: a.IfFalse,
		}
	}
	return defs, nil
}

// validate runs the schema against the YAML document. The document goes
// through JSON first so the validator only sees JSON value types.
func validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("roster schema: %w", err)
	}
	return nil
}

func Marshal(defs []troop.Definition) ([]byte, error) {
	f := File{Agents: make([]AgentSpec, len(defs))}
	for i, d := range defs {
		f.Agents[i] = AgentSpec{
			Items:     d.Items,
			Operation: d.Op,
			Divisor:   d.Divisor,
			IfTrue:    d.IfTrue,
			IfFalse:   d.IfFalse,
		}
	}
	return yaml.Marshal(f)
}
