package troop

import (
	"fmt"

	"keepaway.dev/internal/persistence/snapshot"
	"keepaway.dev/internal/sim/op"
	"keepaway.dev/internal/sim/worry"
)

func (t *Troop) ExportSnapshot(runID string) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			RunID:   runID,
			Round:   t.round,
		},
		Encoding:     string(t.enc),
		ModulusBound: t.bound,
		Agents:       make([]snapshot.AgentV1, 0, len(t.agents)),
	}
	for _, a := range t.agents {
		av := snapshot.AgentV1{
			ID:        a.id,
			Operation: a.op.String(),
			Divisor:   a.divisor,
			IfTrue:    a.ifTrue,
			IfFalse:   a.ifFalse,
			Inspected: a.inspected,
		}
		for _, lv := range a.queue.items[a.queue.head:] {
			switch v := lv.(type) {
			case worry.Concrete:
				av.Items = append(av.Items, uint64(v))
			case worry.Residues:
				av.Residues = append(av.Residues, v.Remainders())
			}
		}
		snap.Agents = append(snap.Agents, av)
	}
	return snap
}

// FromSnapshot rebuilds a troop that continues exactly where the snapshot was taken.
func FromSnapshot(snap snapshot.SnapshotV1, logger RoundLogger) (*Troop, error) {
	enc, err := worry.ParseEncoding(snap.Encoding)
	if err != nil {
		return nil, configErr(-1, "encoding", "%v", err)
	}
	defs := make([]Definition, len(snap.Agents))
	for i, av := range snap.Agents {
		if av.ID != i {
			return nil, configErr(i, "id", "snapshot agent out of order (id %d)", av.ID)
		}
		o, err := op.Parse(av.Operation)
		if err != nil {
			return nil, configErr(i, "operation", "%v", err)
		}
		defs[i] = Definition{Op: o, Divisor: av.Divisor, IfTrue: av.IfTrue, IfFalse: av.IfFalse}
	}
	t, err := New(defs, Config{Encoding: enc, ModulusBound: snap.ModulusBound, Logger: logger})
	if err != nil {
		return nil, err
	}

	for i, av := range snap.Agents {
		a := t.agents[i]
		a.inspected = av.Inspected
		switch enc {
		case worry.EncodingConcrete:
			if len(av.Residues) > 0 {
				return nil, configErr(i, "residues", "concrete snapshot carries residues")
			}
			for _, n := range av.Items {
				a.queue.push(worry.Concrete(n))
			}
		case worry.EncodingResidue:
			if len(av.Items) > 0 {
				return nil, configErr(i, "items", "residue snapshot carries concrete items")
			}
			for j, rem := range av.Residues {
				if uint32(len(rem)) != t.bound {
					return nil, configErr(i, "residues", "item %d tracks %d moduli, want %d", j, len(rem), t.bound)
				}
				v, err := worry.ResiduesFromRemainders(rem)
				if err != nil {
					return nil, configErr(i, "residues", "item %d: %v", j, err)
				}
				a.queue.push(v)
			}
		}
	}
	t.round = snap.Header.Round
	return t, nil
}

// Describe is a short human-readable summary used by the CLIs.
func Describe(snap snapshot.SnapshotV1) string {
	items := 0
	for _, a := range snap.Agents {
		items += len(a.Items) + len(a.Residues)
	}
	return fmt.Sprintf("snapshot v%d run=%s round=%d encoding=%s relief=%d bound=%d agents=%d items=%d",
		snap.Header.Version, snap.Header.RunID, snap.Header.Round, snap.Encoding, snap.Relief, snap.ModulusBound, len(snap.Agents), items)
}
