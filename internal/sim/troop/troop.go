package troop

import (
	"keepaway.dev/internal/sim/op"
	"keepaway.dev/internal/sim/ranking"
	"keepaway.dev/internal/sim/worry"
)

// Definition is one parsed agent. Its id is its position in the slice.
type Definition struct {
	Items   []uint64
	Op      op.Op
	Divisor uint32
	IfTrue  int
	IfFalse int
}

type Config struct {
	Encoding worry.Encoding
	// ModulusBound is M for the residue encoding. Zero derives it from the divisors.
	ModulusBound uint32
	// Logger, if set, receives one entry after every completed round.
	Logger RoundLogger
}

// Troop is one simulation run: the agents, the chosen encoding and the
// number of completed rounds. It is not safe for concurrent use.
type Troop struct {
	agents []*Agent
	enc    worry.Encoding
	bound  uint32
	round  uint64
	logger RoundLogger
}

// New validates every definition and builds the troop. On error nothing is built.
func New(defs []Definition, cfg Config) (*Troop, error) {
	if len(defs) == 0 {
		return nil, configErr(-1, "agents", "at least one agent is required")
	}
	if !cfg.Encoding.Valid() {
		return nil, configErr(-1, "encoding", "unknown encoding %q", cfg.Encoding)
	}

	divisors := make([]uint32, len(defs))
	for i, d := range defs {
		if err := d.Op.Validate(); err != nil {
			return nil, configErr(i, "operation", "%v", err)
		}
		if d.Divisor == 0 {
			return nil, configErr(i, "divisor", "must be > 0")
		}
		if d.IfTrue < 0 || d.IfTrue >= len(defs) {
			return nil, configErr(i, "if_true", "target %d outside [0, %d)", d.IfTrue, len(defs))
		}
		if d.IfFalse < 0 || d.IfFalse >= len(defs) {
			return nil, configErr(i, "if_false", "target %d outside [0, %d)", d.IfFalse, len(defs))
		}
		divisors[i] = d.Divisor
	}

	bound := cfg.ModulusBound
	if bound == 0 {
		bound = worry.Bound(divisors)
	}
	if cfg.Encoding == worry.EncodingResidue {
		if bound > worry.MaxBound {
			return nil, configErr(-1, "modulus_bound", "%d exceeds the limit %d", bound, worry.MaxBound)
		}
		for i, d := range divisors {
			if d > bound {
				return nil, configErr(i, "divisor", "%d exceeds modulus bound %d", d, bound)
			}
		}
	}

	t := &Troop{
		agents: make([]*Agent, len(defs)),
		enc:    cfg.Encoding,
		bound:  bound,
		logger: cfg.Logger,
	}
	for i, d := range defs {
		a := &Agent{
			id:      i,
			op:      d.Op,
			divisor: d.Divisor,
			ifTrue:  d.IfTrue,
			ifFalse: d.IfFalse,
		}
		for _, n := range d.Items {
			a.queue.push(t.enc.FromInt(n, bound))
		}
		t.agents[i] = a
	}
	return t, nil
}

func (t *Troop) Len() int                 { return len(t.agents) }
func (t *Troop) Agent(id int) *Agent      { return t.agents[id] }
func (t *Troop) Encoding() worry.Encoding { return t.enc }
func (t *Troop) Bound() uint32            { return t.bound }

// Round is the number of completed rounds.
func (t *Troop) Round() uint64 { return t.round }

func (t *Troop) SetLogger(l RoundLogger) { t.logger = l }

func (t *Troop) InspectCounts() []uint64 {
	out := make([]uint64, len(t.agents))
	for i, a := range t.agents {
		out[i] = a.inspected
	}
	return out
}

// Score is the product of the two largest inspect counts.
func (t *Troop) Score() uint64 {
	return ranking.Score(t.InspectCounts())
}
