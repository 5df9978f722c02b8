package worry

import (
	"fmt"

	"keepaway.dev/internal/sim/op"
)

// Residues stores r[m] = value mod m for every m in 1..=M. Index 0 is unused.
//
// Each op has a modular identity ((r+k) mod m, (r*k) mod m, (r*r) mod m), so the
// vector is updated in place of the magnitude and stays exact forever. All
// intermediates fit in 64 bits because r < m <= 2^32-1 and k < 2^32.
type Residues struct {
	r []uint32
}

func NewResidues(n uint64, bound uint32) Residues {
	r := make([]uint32, int(bound)+1)
	for m := 1; m < len(r); m++ {
		r[m] = uint32(n % uint64(m))
	}
	return Residues{r: r}
}

// ResiduesFromRemainders rebuilds a vector from stored remainders, where
// rem[i] is the remainder mod i+1.
func ResiduesFromRemainders(rem []uint32) (Residues, error) {
	r := make([]uint32, len(rem)+1)
	for i, v := range rem {
		m := uint32(i + 1)
		if v >= m {
			return Residues{}, fmt.Errorf("remainder %d out of range for modulus %d", v, m)
		}
		r[m] = v
	}
	return Residues{r: r}, nil
}

func (v Residues) Apply(o op.Op) (Level, error) {
	out := make([]uint32, len(v.r))
	k := uint64(o.K)
	switch o.Kind {
	case op.KindAdd:
		for m := 1; m < len(v.r); m++ {
			out[m] = uint32((uint64(v.r[m]) + k) % uint64(m))
		}
	case op.KindMultiply:
		for m := 1; m < len(v.r); m++ {
			out[m] = uint32((uint64(v.r[m]) * k) % uint64(m))
		}
	case op.KindSquare:
		for m := 1; m < len(v.r); m++ {
			x := uint64(v.r[m])
			out[m] = uint32((x * x) % uint64(m))
		}
	default:
		return v, op.ErrMalformed
	}
	return Residues{r: out}, nil
}

// Relieve is the identity. Division does not commute with residues, so runs
// using this encoding are rejected up front unless the factor is 1.
func (v Residues) Relieve(uint32) Level { return v }

func (v Residues) DivisibleBy(t uint32) bool {
	return v.r[t] == 0
}

func (v Residues) Encoding() Encoding { return EncodingResidue }

// Bound returns M.
func (v Residues) Bound() uint32 {
	if len(v.r) == 0 {
		return 0
	}
	return uint32(len(v.r) - 1)
}

// Remainder returns value mod m for 1 <= m <= M.
func (v Residues) Remainder(m uint32) uint32 { return v.r[m] }

// Remainders returns a copy of r[1..=M].
func (v Residues) Remainders() []uint32 {
	if len(v.r) == 0 {
		return nil
	}
	out := make([]uint32, len(v.r)-1)
	copy(out, v.r[1:])
	return out
}
